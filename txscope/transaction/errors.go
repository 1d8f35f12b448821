package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrNoExistingTransaction is returned for PropagationMandatory outside a
	// transaction.
	ErrNoExistingTransaction = errors.New("no existing transaction found for transaction marked with propagation 'mandatory'")
	// ErrExistingTransaction is returned for PropagationNever inside a
	// transaction.
	ErrExistingTransaction     = errors.New("existing transaction found for transaction marked with propagation 'never'")
	ErrNestedNotSupported      = errors.New("transaction manager does not allow nested transactions")
	ErrInvalidTimeout          = errors.New("invalid transaction timeout")
	ErrUnexpectedRollback      = errors.New("transaction rolled back because it has been marked as rollback-only")
	ErrTransactionCompleted    = errors.New("transaction is already completed - do not call commit or rollback more than once per transaction")
	ErrIllegalTransactionState = errors.New("illegal transaction state")
	ErrUnsupportedManager      = errors.New("value is neither a plain nor a callback transaction manager")
	ErrInvalidAttributes       = errors.New("invalid transaction attributes")
	ErrTransactionSystem       = errors.New("transaction system failure")

	// ErrExpected marks business errors that must not roll back the
	// transaction by default. Wrap it or use Expected.
	ErrExpected = errors.New("expected error")
)

// SystemError wraps a failure of the underlying resource while beginning,
// committing or rolling back.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	if e == nil {
		return ErrTransactionSystem.Error()
	}

	return fmt.Sprintf("%s during %s: %v", ErrTransactionSystem.Error(), e.Op, e.Err)
}

func (e *SystemError) Unwrap() []error {
	if e == nil {
		return nil
	}

	return []error{ErrTransactionSystem, e.Err}
}

func systemError(op string, err error) error {
	if err == nil {
		return nil
	}

	var sysErr *SystemError
	if errors.As(err, &sysErr) {
		return err
	}

	return &SystemError{Op: op, Err: err}
}
