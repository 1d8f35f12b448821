package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
)

// DBProvider yields the pool connections are taken from. *postgres.Client
// satisfies it.
type DBProvider interface {
	Primary(ctx context.Context) (*sql.DB, error)
}

// StaticDB adapts an already open pool to DBProvider.
type StaticDB struct {
	DB *sql.DB
}

func (s StaticDB) Primary(context.Context) (*sql.DB, error) {
	if s.DB == nil {
		return nil, ErrNilDB
	}

	return s.DB, nil
}

// Factory hands out connections from a DBProvider. A *Factory is the key
// its connections are bound under, so use one Factory per pool.
type Factory struct {
	provider DBProvider
	settings resource.Settings
	name     string

	single bool
	mu     sync.Mutex
	shared *Conn
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithQueryTimeout bounds statements run through a ConnProxy when the unit
// of work has no deadline of its own.
func WithQueryTimeout(timeout time.Duration) FactoryOption {
	return func(f *Factory) {
		if timeout > 0 {
			f.settings.QueryTimeout = timeout
		}
	}
}

// WithMaxRows caps the rows a ConnProxy query yields.
func WithMaxRows(maxRows int) FactoryOption {
	return func(f *Factory) {
		if maxRows > 0 {
			f.settings.MaxRows = maxRows
		}
	}
}

// WithName labels the factory in logs and errors.
func WithName(name string) FactoryOption {
	return func(f *Factory) {
		f.name = name
	}
}

// WithSingleConnection makes the factory hand out one shared connection
// for its whole life. Releasing it never closes it; Close does.
func WithSingleConnection() FactoryOption {
	return func(f *Factory) {
		f.single = true
	}
}

// NewFactory builds a Factory over provider.
func NewFactory(provider DBProvider, opts ...FactoryOption) (*Factory, error) {
	if nilcheck.Interface(provider) {
		return nil, ErrNilProvider
	}

	f := &Factory{provider: provider, name: "datasource"}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f, nil
}

// NewHandle takes a connection from the pool.
//
//nolint:ireturn
func (f *Factory) NewHandle(ctx context.Context) (resource.Handle, error) {
	if f == nil {
		return nil, ErrNilFactory
	}

	if f.single {
		return f.sharedConn(ctx)
	}

	return f.open(ctx)
}

func (f *Factory) open(ctx context.Context) (*Conn, error) {
	db, err := f.provider.Primary(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: resolving pool: %w", f.name, err)
	}

	if db == nil {
		return nil, ErrNilDB
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: taking connection from pool: %w", f.name, err)
	}

	return newConn(conn), nil
}

func (f *Factory) sharedConn(ctx context.Context) (*Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shared != nil && !f.shared.IsClosed() {
		return f.shared, nil
	}

	conn, err := f.open(ctx)
	if err != nil {
		return nil, err
	}

	f.shared = conn

	return conn, nil
}

// ShouldClose keeps the shared connection of a single connection factory
// open.
func (f *Factory) ShouldClose(h resource.Handle) bool {
	if f == nil || !f.single {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, ok := resource.Unwrap(h).(*Conn)

	return !ok || conn != f.shared
}

// Settings returns the limits proxies of this factory apply.
func (f *Factory) Settings() resource.Settings {
	return f.settings
}

func (f *Factory) String() string {
	return f.name
}

// Close closes the shared connection of a single connection factory.
func (f *Factory) Close() error {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	shared := f.shared
	f.shared = nil
	f.mu.Unlock()

	if shared == nil {
		return nil
	}

	return shared.Close()
}
