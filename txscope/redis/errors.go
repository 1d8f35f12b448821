package redis

import "errors"

var (
	ErrNilClient        = errors.New("redis client must not be nil")
	ErrNilFactory       = errors.New("redis factory must not be nil")
	ErrNilCallback      = errors.New("transaction callback must not be nil")
	ErrNilWrite         = errors.New("queued write must not be nil")
	ErrUnexpectedHandle = errors.New("handle was not produced by a redis factory")
	ErrConnClosed       = errors.New("redis connection is closed")
	ErrInvalidConfig    = errors.New("invalid redis configuration")
	ErrReadOnlyWrites   = errors.New("writes queued in a read-only transaction")
	ErrTxCompleted      = errors.New("redis transaction already completed")
	// ErrConflict is returned once every attempt lost its watched keys to
	// a concurrent writer. It also matches redis.TxFailedErr.
	ErrConflict = errors.New("watched keys kept changing")
)
