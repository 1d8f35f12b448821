package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// ErrNilCounter is returned when a builder has no instrument.
var ErrNilCounter = errors.New("counter instrument is nil")

// MeterName is the instrumentation scope used by txscope packages.
const MeterName = "github.com/LerianStudio/lib-txscope"

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
}

// Instruments recorded by the coordination packages.
var (
	MetricResourcesAcquired = Metric{
		Name:        "txscope_resource_acquired",
		Unit:        "1",
		Description: "Counts physical resource handles obtained from a factory.",
	}

	MetricResourcesClosed = Metric{
		Name:        "txscope_resource_closed",
		Unit:        "1",
		Description: "Counts physical resource handles returned to their factory.",
	}

	MetricTransactionsCommitted = Metric{
		Name:        "txscope_transactions_committed",
		Unit:        "1",
		Description: "Counts units of work committed by the interception layer.",
	}

	MetricTransactionsRolledBack = Metric{
		Name:        "txscope_transactions_rolled_back",
		Unit:        "1",
		Description: "Counts units of work rolled back by the interception layer.",
	}

	MetricWatchConflicts = Metric{
		Name:        "txscope_redis_watch_conflicts",
		Unit:        "1",
		Description: "Counts optimistic Redis transactions aborted by a concurrent write.",
	}

	MetricOutboxDispatched = Metric{
		Name:        "txscope_outbox_dispatched",
		Unit:        "1",
		Description: "Counts outbox events delivered to their handler.",
	}

	MetricOutboxFailed = Metric{
		Name:        "txscope_outbox_failed",
		Unit:        "1",
		Description: "Counts outbox deliveries that returned an error.",
	}

	MetricMessagesPublished = Metric{
		Name:        "txscope_rabbitmq_published",
		Unit:        "1",
		Description: "Counts messages handed to a RabbitMQ channel.",
	}
)

// MetricsFactory creates counters on first use and caches them.
type MetricsFactory struct {
	meter    metric.Meter
	counters sync.Map // string -> metric.Int64Counter
}

// NewMetricsFactory creates a factory bound to meter.
func NewMetricsFactory(meter metric.Meter) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &MetricsFactory{meter: meter}, nil
}

// NewFactoryFromProvider creates a factory from provider, falling back to a
// no-op provider when provider is nil.
func NewFactoryFromProvider(provider metric.MeterProvider) *MetricsFactory {
	if provider == nil {
		return NewNopFactory()
	}

	return &MetricsFactory{meter: provider.Meter(MeterName)}
}

// NewNopFactory returns a factory backed by the no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{meter: noop.NewMeterProvider().Meter("nop")}
}

// Counter returns a builder for m, creating the instrument if needed.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		return &CounterBuilder{counter: cached.(metric.Int64Counter)}, nil
	}

	counter, err := f.meter.Int64Counter(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", m.Name, err)
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return &CounterBuilder{counter: actual.(metric.Int64Counter)}, nil
}

// AddOne increments the counter for m with attrs, ignoring instrument
// errors. Recording metrics must never fail a unit of work.
func (f *MetricsFactory) AddOne(ctx context.Context, m Metric, attrs ...attribute.KeyValue) {
	if f == nil {
		return
	}

	builder, err := f.Counter(m)
	if err != nil {
		return
	}

	_ = builder.WithAttributes(attrs...).AddOne(ctx)
}

// CounterBuilder records counter increments with optional attributes.
type CounterBuilder struct {
	counter metric.Int64Counter
	attrs   []attribute.KeyValue
}

// WithAttributes returns a builder carrying additional attributes.
func (c *CounterBuilder) WithAttributes(attrs ...attribute.KeyValue) *CounterBuilder {
	merged := make([]attribute.KeyValue, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)

	return &CounterBuilder{counter: c.counter, attrs: merged}
}

// Add records value.
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}
