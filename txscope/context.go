package txscope

import (
	"context"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"go.opentelemetry.io/otel/trace"
)

type customContextKey string

// CustomContextKey is the context key used to store CustomContextKeyValue.
var CustomContextKey = customContextKey("txscope_context")

// CustomContextKeyValue holds the facilities attached to a context.
type CustomContextKeyValue struct {
	Logger        log.Logger
	Tracer        trace.Tracer
	MetricFactory *metrics.MetricsFactory
}

// TrackingComponents is the resolved set of facilities for a call.
type TrackingComponents struct {
	Logger        log.Logger
	Tracer        trace.Tracer
	MetricFactory *metrics.MetricsFactory
}

func valuesFrom(ctx context.Context) CustomContextKeyValue {
	if ctx == nil {
		return CustomContextKeyValue{}
	}

	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		return *values
	}

	return CustomContextKeyValue{}
}

func withValues(ctx context.Context, mutate func(*CustomContextKeyValue)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	values := valuesFrom(ctx)
	mutate(&values)

	return context.WithValue(ctx, CustomContextKey, &values)
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	return withValues(ctx, func(v *CustomContextKeyValue) { v.Logger = logger })
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return withValues(ctx, func(v *CustomContextKeyValue) { v.Tracer = tracer })
}

// ContextWithMetricFactory returns a context carrying factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.MetricsFactory) context.Context {
	return withValues(ctx, func(v *CustomContextKeyValue) { v.MetricFactory = factory })
}

// LoggerFromContext returns the context logger or a NopLogger.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if logger := valuesFrom(ctx).Logger; !nilcheck.Interface(logger) {
		return logger
	}

	return log.NewNop()
}

// NewTrackingFromContext resolves the context facilities, substituting
// no-op implementations for anything missing.
func NewTrackingFromContext(ctx context.Context) TrackingComponents {
	values := valuesFrom(ctx)

	tracking := TrackingComponents{
		Logger:        values.Logger,
		Tracer:        opentelemetry.TracerOrNoop(values.Tracer),
		MetricFactory: values.MetricFactory,
	}

	if nilcheck.Interface(tracking.Logger) {
		tracking.Logger = log.NewNop()
	}

	if tracking.MetricFactory == nil {
		tracking.MetricFactory = metrics.NewNopFactory()
	}

	return tracking
}
