package transaction

import (
	"context"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// Driver performs the resource-specific steps Manager needs. Transaction
// objects are opaque to Manager and are passed back to the driver as is.
type Driver interface {
	// DoGetTransaction returns a transaction object describing the current
	// state of ctx. It must not begin anything.
	DoGetTransaction(ctx context.Context) (any, error)
	// IsExistingTransaction reports whether tx represents a transaction
	// already in progress.
	IsExistingTransaction(ctx context.Context, tx any) bool
	// DoBegin starts a physical transaction for tx according to def and
	// binds its resources to ctx.
	DoBegin(ctx context.Context, tx any, def *Definition) error
	// DoSuspend unbinds the resources of tx and returns them.
	DoSuspend(ctx context.Context, tx any) (any, error)
	// DoResume rebinds resources returned by DoSuspend. tx may be nil.
	DoResume(ctx context.Context, tx any, suspended any) error
	DoCommit(ctx context.Context, status *DefaultStatus) error
	DoRollback(ctx context.Context, status *DefaultStatus) error
	// DoSetRollbackOnly marks the transaction of a participating status
	// rollback-only.
	DoSetRollbackOnly(ctx context.Context, status *DefaultStatus) error
	// DoCleanupAfterCompletion releases the resources of a finished new
	// transaction.
	DoCleanupAfterCompletion(ctx context.Context, tx any)
}

// SavepointDriver is implemented by drivers supporting PropagationNested.
type SavepointDriver interface {
	CreateSavepoint(ctx context.Context, tx any) (any, error)
	RollbackToSavepoint(ctx context.Context, tx any, savepoint any) error
	ReleaseSavepoint(ctx context.Context, tx any, savepoint any) error
}

// AfterCompletionRegistrar is implemented by drivers that can defer
// after-completion callbacks of a participating scope to the outcome of the
// outer transaction. Without it those callbacks run immediately with
// txsync.StatusUnknown.
type AfterCompletionRegistrar interface {
	RegisterAfterCompletion(ctx context.Context, tx any, syncs []txsync.Synchronization) error
}

// SynchronizationMode controls when Manager activates synchronization.
type SynchronizationMode int

const (
	// SynchronizationAlways activates synchronization even for empty
	// transactions, such as PropagationSupports without a transaction.
	SynchronizationAlways SynchronizationMode = iota
	// SynchronizationOnActualTransaction activates it only for real
	// transactions.
	SynchronizationOnActualTransaction
	// SynchronizationNever never activates it.
	SynchronizationNever
)

func (m SynchronizationMode) String() string {
	switch m {
	case SynchronizationAlways:
		return "always"
	case SynchronizationOnActualTransaction:
		return "on_actual_transaction"
	case SynchronizationNever:
		return "never"
	default:
		return "unknown"
	}
}
