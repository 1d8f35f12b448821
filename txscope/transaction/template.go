package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/runtime"
)

// ErrNilManager is returned when a template has no manager.
var ErrNilManager = errors.New("transaction manager cannot be nil")

// Template runs callbacks in transactions of a PlainManager. Any error or
// panic from the callback rolls back; use the interceptor for rule-based
// decisions. Template satisfies CallbackManager.
type Template struct {
	manager PlainManager
}

// NewTemplate returns a Template over manager.
func NewTemplate(manager PlainManager) (*Template, error) {
	if nilcheck.Interface(manager) {
		return nil, ErrNilManager
	}

	return &Template{manager: manager}, nil
}

// Execute runs callback in a transaction described by def.
func (t *Template) Execute(ctx context.Context, def *Definition, callback TransactionCallback) (result any, err error) {
	if t == nil || nilcheck.Interface(t.manager) {
		return nil, ErrNilManager
	}

	txCtx, status, err := t.manager.GetTransaction(ctx, def)
	if err != nil {
		return nil, err
	}

	panicked := true

	defer func() {
		if !panicked {
			return
		}

		recovered := recover()
		if recovered == nil {
			// runtime.Goexit unwinds without a panic value; roll back and let it continue.
			if err := t.manager.Rollback(txCtx, status); err != nil {
				txscope.LoggerFromContext(txCtx).Log(txCtx, log.LevelError, "rollback after goroutine exit failed", log.Err(err))
			}

			return
		}

		perr := runtime.NewPanicError("transaction.template", recovered, nil)
		t.rollbackOnError(txCtx, status, perr)

		panic(recovered)
	}()

	result, err = callback(txCtx, status)
	panicked = false

	if err != nil {
		return nil, t.rollbackOnError(txCtx, status, err)
	}

	if err := t.manager.Commit(txCtx, status); err != nil {
		return nil, err
	}

	return result, nil
}

func (t *Template) rollbackOnError(ctx context.Context, status Status, cause error) error {
	if err := t.manager.Rollback(ctx, status); err != nil {
		txscope.LoggerFromContext(ctx).Log(ctx, log.LevelError, "application error overridden by rollback error",
			log.NamedErr("superseded_error", cause),
			log.Err(err),
		)

		return fmt.Errorf("rollback after application error: %w", err)
	}

	return cause
}

// InTransaction runs fn through t with a typed result. t is usually a
// Template, but any CallbackManager will do.
func InTransaction[T any](ctx context.Context, t CallbackManager, def *Definition, fn func(ctx context.Context, status Status) (T, error)) (T, error) {
	var zero T

	if nilcheck.Interface(t) {
		return zero, ErrNilManager
	}

	result, err := t.Execute(ctx, def, func(ctx context.Context, status Status) (any, error) {
		return fn(ctx, status)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("%w: unexpected result type %T", ErrIllegalTransactionState, result)
	}

	return typed, nil
}
