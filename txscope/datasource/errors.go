package datasource

import "errors"

var (
	// ErrNilProvider is returned by NewFactory without a DBProvider.
	ErrNilProvider = errors.New("database provider cannot be nil")
	// ErrNilFactory is returned when a nil *Factory is used.
	ErrNilFactory = errors.New("datasource factory cannot be nil")
	// ErrNilDB is returned when a provider yields a nil pool.
	ErrNilDB = errors.New("database provider returned a nil *sql.DB")
	// ErrUnexpectedHandle is returned when a factory binding holds a handle
	// this package did not create.
	ErrUnexpectedHandle = errors.New("bound handle is not a datasource connection")
	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("datasource connection is closed")
	// ErrTransactionActive is returned when a transaction is begun on a
	// connection that already runs one.
	ErrTransactionActive = errors.New("connection already has an active transaction")
	// ErrNoTransaction is returned when a transaction operation finds no
	// active transaction.
	ErrNoTransaction = errors.New("connection has no active transaction")
	// ErrSavepointName is returned for a savepoint object that is not a
	// name created by this package.
	ErrSavepointName = errors.New("invalid savepoint")
)
