package resource

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Acquire returns the handle bound for factory in the unit of work of ctx,
// or a new one. When synchronization is active a new handle is bound and
// released automatically at completion.
//
//nolint:ireturn
func Acquire(ctx context.Context, factory Factory) (Handle, error) {
	if nilcheck.Interface(factory) {
		return nil, newAcquireError(factory, txsync.ErrNilResource)
	}

	tracking := txscope.NewTrackingFromContext(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.resource.acquire",
		trace.WithAttributes(attribute.String("txscope.factory", fmt.Sprintf("%T", factory))))
	defer span.End()

	h, err := doAcquire(ctx, factory, tracking)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "failed to acquire resource", err)

		return nil, err
	}

	return h, nil
}

//nolint:ireturn
func doAcquire(ctx context.Context, factory Factory, tracking txscope.TrackingComponents) (Handle, error) {
	holder := HolderFor(ctx, factory)
	if holder != nil && (holder.HasHandle() || holder.IsSynchronizedWithTransaction()) {
		holder.Requested()

		if !holder.HasHandle() {
			tracking.Logger.Log(ctx, log.LevelDebug, "fetching resumed handle",
				log.String("scope_id", txsync.ScopeID(ctx)))

			h, err := newHandle(ctx, factory, tracking)
			if err != nil {
				holder.Released()

				return nil, err
			}

			holder.SetHandle(h)
		}

		return holder.Handle(), nil
	}

	h, err := newHandle(ctx, factory, tracking)
	if err != nil {
		return nil, err
	}

	if !txsync.IsSynchronizationActive(ctx) {
		return h, nil
	}

	if err := bindForSynchronization(ctx, factory, holder, h); err != nil {
		if closeErr := CloseHandle(ctx, h, factory); closeErr != nil {
			tracking.Logger.Log(ctx, log.LevelWarn, "failed to close handle after registration error",
				log.Err(closeErr))
		}

		return nil, newAcquireError(factory, err)
	}

	return h, nil
}

func bindForSynchronization(ctx context.Context, factory Factory, holder *Holder, h Handle) error {
	holderToUse := holder
	if holderToUse == nil {
		holderToUse = NewHolder(h)
	} else {
		holderToUse.SetHandle(h)
	}

	holderToUse.Requested()

	err := txsync.RegisterSynchronization(ctx, newResourceSynchronization(holderToUse, factory))
	if err == nil {
		holderToUse.SetSynchronizedWithTransaction(true)

		if holderToUse != holder {
			err = txsync.BindResource(ctx, factory, holderToUse)
		}
	}

	if err != nil {
		// h is closed by the caller; the holder must not hand it out.
		holderToUse.SetHandle(nil)
		holderToUse.Released()

		return err
	}

	return nil
}

//nolint:ireturn
func newHandle(ctx context.Context, factory Factory, tracking txscope.TrackingComponents) (Handle, error) {
	h, err := factory.NewHandle(ctx)
	if err != nil {
		return nil, newAcquireError(factory, err)
	}

	if nilcheck.Interface(h) {
		return nil, newAcquireError(factory, fmt.Errorf("factory %T returned a nil handle", factory))
	}

	tracking.MetricFactory.AddOne(ctx, metrics.MetricResourcesAcquired,
		attribute.String("factory", fmt.Sprintf("%T", factory)))

	return h, nil
}

// Release gives h back. A handle bound to the unit of work only drops a
// reference; any other handle is closed. Close failures are logged, never
// returned.
func Release(ctx context.Context, h Handle, factory Factory) {
	if nilcheck.Interface(h) {
		return
	}

	if !nilcheck.Interface(factory) {
		if holder := HolderFor(ctx, factory); holder != nil && sameHandle(h, holder.Handle()) {
			holder.Released()

			return
		}
	}

	if err := CloseHandle(ctx, h, factory); err != nil {
		txscope.LoggerFromContext(ctx).Log(ctx, log.LevelWarn, "failed to close resource handle",
			log.String("handle", fmt.Sprintf("%T", h)),
			log.Err(err),
		)
	}
}

// CloseHandle closes h unless factory vetoes it.
func CloseHandle(ctx context.Context, h Handle, factory Factory) error {
	if nilcheck.Interface(h) {
		return nil
	}

	if vetoer, ok := factory.(CloseVetoer); ok && !vetoer.ShouldClose(h) {
		return nil
	}

	h = Unwrap(h)

	if err := h.Close(); err != nil {
		return fmt.Errorf("closing %T: %w", h, err)
	}

	txscope.NewTrackingFromContext(ctx).MetricFactory.AddOne(ctx, metrics.MetricResourcesClosed,
		attribute.String("factory", fmt.Sprintf("%T", factory)))

	return nil
}

// IsTransactional reports whether h is the handle bound to the unit of work
// of ctx for factory.
func IsTransactional(ctx context.Context, h Handle, factory Factory) bool {
	if nilcheck.Interface(factory) {
		return false
	}

	holder := HolderFor(ctx, factory)

	return holder != nil && sameHandle(h, holder.Handle())
}
