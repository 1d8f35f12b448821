package txsync

import (
	"context"
	"math"
)

// LowestPrecedence is the order of synchronizations that do not implement
// Ordered.
const LowestPrecedence = math.MaxInt32

// CompletionStatus is the outcome reported to AfterCompletion.
type CompletionStatus int

const (
	StatusCommitted CompletionStatus = iota
	StatusRolledBack
	StatusUnknown
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Synchronization receives the lifecycle events of a unit of work.
type Synchronization interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	BeforeCompletion(ctx context.Context) error
	AfterCompletion(ctx context.Context, status CompletionStatus) error
}

// Ordered lets a synchronization choose its position. Lower runs first.
type Ordered interface {
	Order() int
}

// CommitObserver is implemented by synchronizations that want to take part
// in the commit itself.
type CommitObserver interface {
	BeforeCommit(ctx context.Context, readOnly bool) error
	AfterCommit(ctx context.Context) error
}

// OrderOf returns the order of s.
func OrderOf(s Synchronization) int {
	if ordered, ok := s.(Ordered); ok {
		return ordered.Order()
	}

	return LowestPrecedence
}

// SynchronizationAdapter implements every callback as a no-op.
type SynchronizationAdapter struct{}

func (SynchronizationAdapter) Suspend(context.Context) error          { return nil }
func (SynchronizationAdapter) Resume(context.Context) error           { return nil }
func (SynchronizationAdapter) BeforeCompletion(context.Context) error { return nil }

func (SynchronizationAdapter) AfterCompletion(context.Context, CompletionStatus) error {
	return nil
}

// SynchronizationFuncs adapts closures to Synchronization, CommitObserver
// and Ordered. Nil funcs are skipped.
type SynchronizationFuncs struct {
	OrderValue         int
	OnSuspend          func(ctx context.Context) error
	OnResume           func(ctx context.Context) error
	OnBeforeCommit     func(ctx context.Context, readOnly bool) error
	OnBeforeCompletion func(ctx context.Context) error
	OnAfterCommit      func(ctx context.Context) error
	OnAfterCompletion  func(ctx context.Context, status CompletionStatus) error
}

// Order returns OrderValue. The zero value sorts before LowestPrecedence
// synchronizations.
func (f *SynchronizationFuncs) Order() int { return f.OrderValue }

func (f *SynchronizationFuncs) Suspend(ctx context.Context) error {
	if f.OnSuspend == nil {
		return nil
	}

	return f.OnSuspend(ctx)
}

func (f *SynchronizationFuncs) Resume(ctx context.Context) error {
	if f.OnResume == nil {
		return nil
	}

	return f.OnResume(ctx)
}

func (f *SynchronizationFuncs) BeforeCommit(ctx context.Context, readOnly bool) error {
	if f.OnBeforeCommit == nil {
		return nil
	}

	return f.OnBeforeCommit(ctx, readOnly)
}

func (f *SynchronizationFuncs) BeforeCompletion(ctx context.Context) error {
	if f.OnBeforeCompletion == nil {
		return nil
	}

	return f.OnBeforeCompletion(ctx)
}

func (f *SynchronizationFuncs) AfterCommit(ctx context.Context) error {
	if f.OnAfterCommit == nil {
		return nil
	}

	return f.OnAfterCommit(ctx)
}

func (f *SynchronizationFuncs) AfterCompletion(ctx context.Context, status CompletionStatus) error {
	if f.OnAfterCompletion == nil {
		return nil
	}

	return f.OnAfterCompletion(ctx, status)
}
