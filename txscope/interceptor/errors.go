package interceptor

import "errors"

var (
	// ErrNoTransaction is returned by CurrentStatus outside a transactional
	// operation.
	ErrNoTransaction        = errors.New("no transaction aspect-managed status in scope")
	ErrNilAttributeSource   = errors.New("attribute source cannot be nil")
	ErrNoManager            = errors.New("no transaction manager available")
	ErrNilOperation         = errors.New("operation body cannot be nil")
	ErrUnexpectedResultType = errors.New("unexpected operation result type")
)
