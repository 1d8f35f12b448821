package resource

import (
	"errors"
	"fmt"
)

// ErrAcquire is matched by every *AcquireError.
var ErrAcquire = errors.New("could not acquire resource handle")

// AcquireError reports a failure to obtain a handle from a factory.
type AcquireError struct {
	Factory string
	Err     error
}

func (e *AcquireError) Error() string {
	if e == nil {
		return ErrAcquire.Error()
	}

	return fmt.Sprintf("%s from %s: %v", ErrAcquire.Error(), e.Factory, e.Err)
}

func (e *AcquireError) Unwrap() []error {
	if e == nil {
		return nil
	}

	return []error{ErrAcquire, e.Err}
}

func newAcquireError(factory Factory, err error) *AcquireError {
	return &AcquireError{Factory: fmt.Sprintf("%T", factory), Err: err}
}
