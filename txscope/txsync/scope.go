package txsync

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
)

type scopeContextKey struct{}

// Scope is the per-logical-thread state of a unit of work: resource
// bindings, registered synchronizations and current transaction metadata.
type Scope struct {
	id uuid.UUID

	mu        sync.Mutex
	resources map[any]any

	// synchronizations is nil while synchronization is inactive.
	synchronizations []Synchronization

	name         string
	readOnly     bool
	isolation    sql.IsolationLevel
	actualActive bool
}

func newScope() *Scope {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &Scope{id: id}
}

// ID identifies the scope in logs and spans.
func (s *Scope) ID() uuid.UUID {
	return s.id
}

// NewContext returns a context carrying a fresh Scope.
func NewContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, scopeContextKey{}, newScope())
}

// EnsureContext returns ctx when it already carries a Scope, otherwise a
// context carrying a fresh one.
func EnsureContext(ctx context.Context) context.Context {
	if _, ok := FromContext(ctx); ok {
		return ctx
	}

	return NewContext(ctx)
}

// Detach returns a context carrying a fresh Scope, hiding the scope of ctx.
// Use it before handing ctx to a goroutine that runs its own unit of work.
func Detach(ctx context.Context) context.Context {
	return NewContext(ctx)
}

// FromContext returns the Scope carried by ctx.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}

	scope, ok := ctx.Value(scopeContextKey{}).(*Scope)

	return scope, ok && scope != nil
}

// ScopeID returns the scope id as a string, or "" when ctx has no scope.
func ScopeID(ctx context.Context) string {
	scope, ok := FromContext(ctx)
	if !ok {
		return ""
	}

	return scope.id.String()
}
