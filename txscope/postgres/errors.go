package postgres

import "errors"

var (
	// ErrInvalidConfig is returned when a Config cannot be used.
	ErrInvalidConfig = errors.New("invalid postgres config")
	// ErrNilContext is returned when a nil context reaches a blocking call.
	ErrNilContext = errors.New("context must not be nil")
	// ErrNilClient is returned by methods called on a nil *Client.
	ErrNilClient = errors.New("postgres client is nil")
	// ErrNoPrimary is returned when the resolver exposes no primary pool.
	ErrNoPrimary = errors.New("no primary database available")
)
