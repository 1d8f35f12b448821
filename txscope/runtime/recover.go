package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

const redactedPanicMsg = "panic recovered (details redacted)"

// ErrPanic is matched by every *PanicError.
var ErrPanic = errors.New("panic recovered")

// PanicError carries a recovered panic value.
type PanicError struct {
	Source string
	Value  any
	Stack  []byte
}

// NewPanicError builds a PanicError. The stack is dropped in production mode.
func NewPanicError(source string, value any, stack []byte) *PanicError {
	if IsProductionMode() {
		stack = nil
	}

	return &PanicError{Source: source, Value: value, Stack: stack}
}

// Error returns the panic message, redacted in production mode.
func (e *PanicError) Error() string {
	if e == nil {
		return ErrPanic.Error()
	}

	if IsProductionMode() {
		return redactedPanicMsg
	}

	return fmt.Sprintf("panic in %s: %s", e.Source, formatPanicValue(e.Value))
}

// Unwrap exposes ErrPanic, and the panic value when it is an error.
func (e *PanicError) Unwrap() []error {
	if e == nil {
		return nil
	}

	if err, ok := e.Value.(error); ok {
		return []error{ErrPanic, err}
	}

	return []error{ErrPanic}
}

// SafeInvoke runs fn and turns a panic into a *PanicError, reported to the
// configured ErrorReporter.
func SafeInvoke(ctx context.Context, source string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			perr := NewPanicError(source, recovered, debug.Stack())
			reportPanic(ctx, perr)
			err = perr
		}
	}()

	return fn()
}

func formatPanicValue(value any) string {
	switch val := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", value)
	}
}
