package txsync

import (
	"context"
	"slices"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/runtime"
)

const (
	phaseSuspend          = "suspend"
	phaseResume           = "resume"
	phaseBeforeCommit     = "before_commit"
	phaseBeforeCompletion = "before_completion"
	phaseAfterCommit      = "after_commit"
	phaseAfterCompletion  = "after_completion"
)

// dispatch runs call for every sync, recovering panics. Every sync is
// called; the first failure is returned and the rest are logged.
func dispatch(ctx context.Context, phase string, syncs []Synchronization, call func(Synchronization) error) error {
	var first error

	for _, s := range syncs {
		err := runtime.SafeInvoke(ctx, "txsync."+phase, func() error { return call(s) })
		if err == nil {
			continue
		}

		if first == nil {
			first = err
			continue
		}

		logCallbackFailure(ctx, phase, err)
	}

	return first
}

func logCallbackFailure(ctx context.Context, phase string, err error) {
	txscope.LoggerFromContext(ctx).Log(ctx, log.LevelError, "synchronization callback failed",
		log.String("phase", phase),
		log.String("scope_id", ScopeID(ctx)),
		log.Err(err),
	)
}

// TriggerBeforeCommit calls BeforeCommit on every CommitObserver. It stops
// at the first failure: the commit is abandoned at that point.
func TriggerBeforeCommit(ctx context.Context, readOnly bool) error {
	syncs, err := Synchronizations(ctx)
	if err != nil {
		return err
	}

	for _, s := range syncs {
		observer, ok := s.(CommitObserver)
		if !ok {
			continue
		}

		if err := runtime.SafeInvoke(ctx, "txsync."+phaseBeforeCommit, func() error {
			return observer.BeforeCommit(ctx, readOnly)
		}); err != nil {
			return err
		}
	}

	return nil
}

// TriggerBeforeCompletion calls BeforeCompletion on every synchronization.
func TriggerBeforeCompletion(ctx context.Context) error {
	syncs, err := Synchronizations(ctx)
	if err != nil {
		return err
	}

	return dispatch(ctx, phaseBeforeCompletion, syncs, func(s Synchronization) error {
		return s.BeforeCompletion(ctx)
	})
}

// TriggerAfterCommit calls AfterCommit on every CommitObserver.
func TriggerAfterCommit(ctx context.Context) error {
	syncs, err := Synchronizations(ctx)
	if err != nil {
		return err
	}

	return dispatch(ctx, phaseAfterCommit, syncs, func(s Synchronization) error {
		if observer, ok := s.(CommitObserver); ok {
			return observer.AfterCommit(ctx)
		}

		return nil
	})
}

// TriggerAfterCompletion calls AfterCompletion on every registered
// synchronization of the scope of ctx.
func TriggerAfterCompletion(ctx context.Context, status CompletionStatus) error {
	syncs, err := Synchronizations(ctx)
	if err != nil {
		return err
	}

	return InvokeAfterCompletion(ctx, syncs, status)
}

// InvokeAfterCompletion calls AfterCompletion on syncs, in their order.
// Each one is called exactly once regardless of failures.
func InvokeAfterCompletion(ctx context.Context, syncs []Synchronization, status CompletionStatus) error {
	return dispatch(ctx, phaseAfterCompletion, SortSynchronizations(slices.Clone(syncs)), func(s Synchronization) error {
		return s.AfterCompletion(ctx, status)
	})
}

// TriggerSuspend suspends every synchronization and deactivates
// synchronization. The returned list is what TriggerResume expects, even
// when an error is returned.
func TriggerSuspend(ctx context.Context) ([]Synchronization, error) {
	syncs, err := Synchronizations(ctx)
	if err != nil {
		return nil, err
	}

	first := dispatch(ctx, phaseSuspend, syncs, func(s Synchronization) error {
		return s.Suspend(ctx)
	})

	if err := ClearSynchronization(ctx); err != nil && first == nil {
		first = err
	}

	return syncs, first
}

// TriggerResume reactivates synchronization, resumes and re-registers
// syncs. A sync whose Resume fails is registered anyway so it still sees
// completion.
func TriggerResume(ctx context.Context, syncs []Synchronization) error {
	if err := InitSynchronization(ctx); err != nil {
		return err
	}

	first := dispatch(ctx, phaseResume, SortSynchronizations(slices.Clone(syncs)), func(s Synchronization) error {
		return s.Resume(ctx)
	})

	for _, s := range syncs {
		if err := RegisterSynchronization(ctx, s); err != nil && first == nil {
			first = err
		}
	}

	return first
}
