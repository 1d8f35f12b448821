package transaction

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
)

// PlainManager begins a transaction, returns its status, and is called back
// to commit or roll it back.
type PlainManager interface {
	// GetTransaction returns the context the transactional work must use,
	// which carries the transaction scope.
	GetTransaction(ctx context.Context, def *Definition) (context.Context, Status, error)
	Commit(ctx context.Context, status Status) error
	Rollback(ctx context.Context, status Status) error
}

// TransactionCallback is the unit of work run by a CallbackManager.
type TransactionCallback func(ctx context.Context, status Status) (any, error)

// CallbackManager runs a callback inside a transaction it controls. It
// rolls back when the callback returns an error and commits otherwise.
type CallbackManager interface {
	Execute(ctx context.Context, def *Definition, callback TransactionCallback) (any, error)
}

// ManagerKind is a manager classified once by capability.
type ManagerKind struct {
	plain    PlainManager
	callback CallbackManager
}

// Classify probes m. A manager offering both capabilities is treated as a
// callback manager.
func Classify(m any) (ManagerKind, error) {
	if nilcheck.Interface(m) {
		return ManagerKind{}, fmt.Errorf("%w: <nil>", ErrUnsupportedManager)
	}

	if callback, ok := m.(CallbackManager); ok {
		return ManagerKind{callback: callback}, nil
	}

	if plain, ok := m.(PlainManager); ok {
		return ManagerKind{plain: plain}, nil
	}

	return ManagerKind{}, fmt.Errorf("%w: %T", ErrUnsupportedManager, m)
}

// Plain returns the manager when it is of the plain kind.
//
//nolint:ireturn
func (k ManagerKind) Plain() (PlainManager, bool) {
	return k.plain, k.plain != nil
}

// Callback returns the manager when it is of the callback kind.
//
//nolint:ireturn
func (k ManagerKind) Callback() (CallbackManager, bool) {
	return k.callback, k.callback != nil
}

// IsZero reports whether k holds no manager.
func (k ManagerKind) IsZero() bool {
	return k.plain == nil && k.callback == nil
}

// Manager returns the classified value.
func (k ManagerKind) Manager() any {
	if k.callback != nil {
		return k.callback
	}

	if k.plain != nil {
		return k.plain
	}

	return nil
}

func (k ManagerKind) String() string {
	switch {
	case k.callback != nil:
		return fmt.Sprintf("callback(%T)", k.callback)
	case k.plain != nil:
		return fmt.Sprintf("plain(%T)", k.plain)
	default:
		return "none"
	}
}
