package txsync

import "errors"

var (
	ErrNoScope                 = errors.New("no transaction scope bound to context")
	ErrNilResource             = errors.New("resource key and value must not be nil")
	ErrNilSynchronization      = errors.New("synchronization must not be nil")
	ErrInvalidKey              = errors.New("resource key must be comparable")
	ErrAlreadyBound            = errors.New("resource already bound for key")
	ErrNotBound                = errors.New("no resource bound for key")
	ErrSynchronizationActive   = errors.New("transaction synchronization is already active")
	ErrSynchronizationInactive = errors.New("transaction synchronization is not active")
	ErrNoDeadline              = errors.New("no deadline specified for this resource holder")
	ErrDeadlineExceeded        = errors.New("transaction deadline exceeded")
)
