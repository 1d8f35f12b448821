package interceptor

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/runtime"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation is the body of an intercepted call.
type Operation func(ctx context.Context) (any, error)

// Invoke runs body as operation, inside a transaction when the attribute
// source has attributes for it.
//
// A panic in body completes the transaction as a rollback-worthy failure
// and is then re-raised. runtime.Goexit rolls back and is left to unwind.
func (i *Interceptor) Invoke(ctx context.Context, operation string, body Operation) (any, error) {
	if body == nil {
		return nil, ErrNilOperation
	}

	if ctx == nil {
		ctx = context.Background()
	}

	attrs, ok := i.source.Resolve(operation)
	if !ok || attrs == nil {
		return body(withInfo(ctx, &Info{identifier: operation}))
	}

	kind, err := i.determineManager(attrs)
	if err != nil {
		return nil, err
	}

	tracking := i.tracking(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.interceptor.invoke", trace.WithAttributes(
		attribute.String("txscope.operation", operation),
		attribute.String("txscope.qualifier", attrs.Qualifier),
		attribute.String("txscope.propagation", attrs.Propagation.String()),
	))
	defer span.End()

	var result any

	if cm, ok := kind.Callback(); ok {
		result, err = i.invokeWithCallback(ctx, tracking, cm, attrs, operation, body)
	} else {
		pm, _ := kind.Plain()
		result, err = i.invokeWithPlain(ctx, tracking, pm, attrs, operation, body)
	}

	if err != nil {
		opentelemetry.HandleSpanError(&span, "transactional operation failed", err)
	}

	return result, err
}

func definitionFor(attrs *transaction.Attributes, operation string) *transaction.Definition {
	def := attrs.Definition
	if def.Name == "" {
		def.Name = operation
	}

	return &def
}

func (i *Interceptor) invokeWithPlain(ctx context.Context, tracking txscope.TrackingComponents, pm transaction.PlainManager,
	attrs *transaction.Attributes, operation string, body Operation,
) (result any, err error) {
	txCtx, info, err := i.createIfNecessary(ctx, pm, attrs, operation)
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
			// runtime.Goexit: nothing to re-raise, but the transaction must not stay open.
			i.rollbackAfterGoexit(txCtx, tracking, info)

			return
		}

		perr := runtime.NewPanicError("interceptor."+operation, recovered, nil)
		_ = i.completeAfterThrowing(txCtx, tracking, info, perr)

		panic(recovered)
	}()

	result, err = body(txCtx)
	panicked = false

	if err != nil {
		return nil, i.completeAfterThrowing(txCtx, tracking, info, err)
	}

	if err := i.commitAfterReturning(txCtx, tracking, info); err != nil {
		return nil, err
	}

	return result, nil
}

func (i *Interceptor) rollbackAfterGoexit(ctx context.Context, tracking txscope.TrackingComponents, info *Info) {
	if info == nil || info.status == nil {
		return
	}

	if err := info.manager.Rollback(ctx, info.status); err != nil {
		tracking.Logger.Log(ctx, log.LevelError, "rollback after goroutine exit failed",
			log.String("operation", info.identifier), log.Err(err))

		return
	}

	i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsRolledBack)
}

func (i *Interceptor) createIfNecessary(ctx context.Context, pm transaction.PlainManager, attrs *transaction.Attributes,
	operation string,
) (context.Context, *Info, error) {
	txCtx, status, err := pm.GetTransaction(ctx, definitionFor(attrs, operation))
	if err != nil {
		return ctx, nil, err
	}

	info := &Info{manager: pm, attributes: attrs, identifier: operation, status: status}

	return withInfo(txCtx, info), info, nil
}

// completeAfterThrowing rolls back or commits after body failed with cause,
// as the attributes decide, and returns the error the caller should see.
func (i *Interceptor) completeAfterThrowing(ctx context.Context, tracking txscope.TrackingComponents, info *Info, cause error) error {
	if info == nil || info.status == nil {
		return cause
	}

	if info.attributes.RollbackOn(cause) {
		tracking.Logger.Log(ctx, log.LevelDebug, "completing transaction after error, rolling back",
			log.String("operation", info.identifier), log.Err(cause))

		if err := info.manager.Rollback(ctx, info.status); err != nil {
			i.superseded(ctx, tracking, info, "application error overridden by rollback error", cause, err)

			return err
		}

		i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsRolledBack)

		return cause
	}

	tracking.Logger.Log(ctx, log.LevelDebug, "completing transaction after expected error, committing",
		log.String("operation", info.identifier), log.Err(cause))

	rolledBack := info.status.IsRollbackOnly()

	if err := info.manager.Commit(ctx, info.status); err != nil {
		i.superseded(ctx, tracking, info, "application error overridden by commit error", cause, err)

		return err
	}

	i.countCommit(ctx, tracking, info, rolledBack)

	return cause
}

func (i *Interceptor) commitAfterReturning(ctx context.Context, tracking txscope.TrackingComponents, info *Info) error {
	if info == nil || info.status == nil {
		return nil
	}

	rolledBack := info.status.IsRollbackOnly()

	if err := info.manager.Commit(ctx, info.status); err != nil {
		i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsRolledBack)

		return err
	}

	i.countCommit(ctx, tracking, info, rolledBack)

	return nil
}

// invokeWithCallback hands body to a manager that runs it itself. Errors
// that must not roll back are held aside so the manager commits, and are
// returned once it has.
func (i *Interceptor) invokeWithCallback(ctx context.Context, tracking txscope.TrackingComponents, cm transaction.CallbackManager,
	attrs *transaction.Attributes, operation string, body Operation,
) (any, error) {
	var held error

	result, err := cm.Execute(ctx, definitionFor(attrs, operation), func(txCtx context.Context, status transaction.Status) (any, error) {
		// Managers may run the callback again; only the last attempt's error counts.
		held = nil

		txCtx = withInfo(txCtx, &Info{attributes: attrs, identifier: operation, status: status})

		value, bodyErr := body(txCtx)
		if bodyErr == nil {
			return value, nil
		}

		if attrs.RollbackOn(bodyErr) {
			return nil, bodyErr
		}

		held = bodyErr

		return nil, nil
	})

	info := &Info{attributes: attrs, identifier: operation}

	if err != nil {
		if held != nil {
			i.superseded(ctx, tracking, info, "application error overridden by commit error", held, err)
		}

		i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsRolledBack)

		return nil, err
	}

	i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsCommitted)

	if held != nil {
		return nil, held
	}

	return result, nil
}

func (i *Interceptor) superseded(ctx context.Context, tracking txscope.TrackingComponents, info *Info, msg string,
	original, replacement error,
) {
	tracking.Logger.Log(ctx, log.LevelError, msg,
		log.String("operation", info.identifier),
		log.String("scope_id", txsync.ScopeID(ctx)),
		log.NamedErr("superseded_error", original),
		log.Err(replacement),
	)

	if i.supersededHook != nil {
		i.supersededHook(original, replacement)
	}
}

func (i *Interceptor) countCommit(ctx context.Context, tracking txscope.TrackingComponents, info *Info, rolledBack bool) {
	if rolledBack {
		i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsRolledBack)

		return
	}

	i.countOutcome(ctx, tracking, info, metrics.MetricTransactionsCommitted)
}

func (i *Interceptor) countOutcome(ctx context.Context, tracking txscope.TrackingComponents, info *Info, m metrics.Metric) {
	qualifier := ""
	if info.attributes != nil {
		qualifier = info.attributes.Qualifier
	}

	tracking.MetricFactory.AddOne(ctx, m,
		attribute.String("operation", info.identifier),
		attribute.String("qualifier", qualifier),
	)
}

// Call is Invoke with a typed result.
func Call[T any](ctx context.Context, i *Interceptor, operation string, body func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if body == nil {
		return zero, ErrNilOperation
	}

	result, err := i.Invoke(ctx, operation, func(ctx context.Context) (any, error) {
		return body(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResultType, result)
	}

	return typed, nil
}
