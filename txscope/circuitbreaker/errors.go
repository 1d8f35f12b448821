package circuitbreaker

import "errors"

var (
	ErrNilDelegate   = errors.New("delegate factory must not be nil")
	ErrInvalidConfig = errors.New("invalid circuit breaker configuration")
	// ErrOpen is returned without asking the delegate while the breaker is
	// open or probing at capacity.
	ErrOpen = errors.New("circuit breaker open")
)
