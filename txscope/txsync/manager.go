package txsync

import (
	"context"
	"database/sql"
	"slices"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
)

// IsSynchronizationActive reports whether the scope of ctx accepts
// synchronization registrations.
func IsSynchronizationActive(ctx context.Context) bool {
	scope, ok := FromContext(ctx)
	if !ok {
		return false
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	return scope.synchronizations != nil
}

// InitSynchronization activates synchronization for the scope of ctx.
func InitSynchronization(ctx context.Context) error {
	scope, ok := FromContext(ctx)
	if !ok {
		return ErrNoScope
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if scope.synchronizations != nil {
		return ErrSynchronizationActive
	}

	scope.synchronizations = make([]Synchronization, 0, 4)

	return nil
}

// RegisterSynchronization adds s to the active synchronizations.
func RegisterSynchronization(ctx context.Context, s Synchronization) error {
	if nilcheck.Interface(s) {
		return ErrNilSynchronization
	}

	scope, ok := FromContext(ctx)
	if !ok {
		return ErrNoScope
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if scope.synchronizations == nil {
		return ErrSynchronizationInactive
	}

	scope.synchronizations = append(scope.synchronizations, s)

	return nil
}

// Synchronizations returns the registered synchronizations sorted by
// ascending order, ties kept in registration order.
func Synchronizations(ctx context.Context) ([]Synchronization, error) {
	scope, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoScope
	}

	scope.mu.Lock()
	snapshot := slices.Clone(scope.synchronizations)
	active := scope.synchronizations != nil
	scope.mu.Unlock()

	if !active {
		return nil, ErrSynchronizationInactive
	}

	return SortSynchronizations(snapshot), nil
}

// SortSynchronizations sorts syncs in place by ascending order, stable for
// equal orders, and returns it.
func SortSynchronizations(syncs []Synchronization) []Synchronization {
	slices.SortStableFunc(syncs, func(a, b Synchronization) int {
		oa, ob := OrderOf(a), OrderOf(b)

		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		default:
			return 0
		}
	})

	return syncs
}

// ClearSynchronization deactivates synchronization for the scope of ctx.
func ClearSynchronization(ctx context.Context) error {
	scope, ok := FromContext(ctx)
	if !ok {
		return ErrNoScope
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if scope.synchronizations == nil {
		return ErrSynchronizationInactive
	}

	scope.synchronizations = nil

	return nil
}

// Clear resets synchronizations and transaction metadata of the scope of
// ctx. Resource bindings are kept.
func Clear(ctx context.Context) {
	scope, ok := FromContext(ctx)
	if !ok {
		return
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	scope.synchronizations = nil
	scope.name = ""
	scope.readOnly = false
	scope.isolation = sql.LevelDefault
	scope.actualActive = false
}

func withScope(ctx context.Context, fn func(*Scope)) {
	scope, ok := FromContext(ctx)
	if !ok {
		return
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	fn(scope)
}

// SetCurrentTransactionName exposes the name of the current transaction.
func SetCurrentTransactionName(ctx context.Context, name string) {
	withScope(ctx, func(s *Scope) { s.name = name })
}

// CurrentTransactionName returns the name of the current transaction.
func CurrentTransactionName(ctx context.Context) string {
	var name string

	withScope(ctx, func(s *Scope) { name = s.name })

	return name
}

func SetCurrentTransactionReadOnly(ctx context.Context, readOnly bool) {
	withScope(ctx, func(s *Scope) { s.readOnly = readOnly })
}

func IsCurrentTransactionReadOnly(ctx context.Context) bool {
	var readOnly bool

	withScope(ctx, func(s *Scope) { readOnly = s.readOnly })

	return readOnly
}

func SetCurrentTransactionIsolation(ctx context.Context, level sql.IsolationLevel) {
	withScope(ctx, func(s *Scope) { s.isolation = level })
}

func CurrentTransactionIsolation(ctx context.Context) sql.IsolationLevel {
	level := sql.LevelDefault

	withScope(ctx, func(s *Scope) { level = s.isolation })

	return level
}

// SetActualTransactionActive records whether a real transaction, as opposed
// to an empty synchronization-only scope, is running.
func SetActualTransactionActive(ctx context.Context, active bool) {
	withScope(ctx, func(s *Scope) { s.actualActive = active })
}

func IsActualTransactionActive(ctx context.Context) bool {
	var active bool

	withScope(ctx, func(s *Scope) { active = s.actualActive })

	return active
}
