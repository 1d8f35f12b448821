package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/runtime"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 10
)

// DispatcherConfig controls polling and retry.
type DispatcherConfig struct {
	// PollInterval is the time between cycles when nothing wakes the
	// dispatcher.
	PollInterval time.Duration
	// BatchSize is the max number of events claimed per cycle.
	BatchSize int
	// MaxAttempts is the number of deliveries after which a failing event
	// becomes INVALID.
	MaxAttempts int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
	}
}

func (cfg *DispatcherConfig) normalize() {
	defaults := DefaultDispatcherConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
}

// DispatchResult summarizes one cycle.
type DispatchResult struct {
	Claimed   int
	Published int
	Failed    int
}

// Dispatcher delivers stored events. Claims and status updates each run in
// a new transaction of manager; handlers run outside any transaction.
type Dispatcher struct {
	manager transaction.CallbackManager
	repo    Repository
	handler EventHandler
	cfg     DispatcherConfig
	wake    chan struct{}
	running atomic.Bool

	logger  log.Logger
	tracer  trace.Tracer
	metrics *metrics.MetricsFactory
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

func WithLogger(logger log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if !nilcheck.Interface(logger) {
			d.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if !nilcheck.Interface(tracer) {
			d.tracer = tracer
		}
	}
}

func WithMeterProvider(provider metric.MeterProvider) DispatcherOption {
	return func(d *Dispatcher) {
		if !nilcheck.Interface(provider) {
			d.metrics = metrics.NewFactoryFromProvider(provider)
		}
	}
}

func NewDispatcher(manager transaction.CallbackManager, repo Repository, handler EventHandler,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if nilcheck.Interface(manager) {
		return nil, ErrManagerRequired
	}

	if nilcheck.Interface(repo) {
		return nil, ErrRepositoryRequired
	}

	if handler == nil {
		return nil, ErrHandlerRequired
	}

	d := &Dispatcher{
		manager: manager,
		repo:    repo,
		handler: handler,
		cfg:     DefaultDispatcherConfig(),
		wake:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.cfg.normalize()

	return d, nil
}

func (d *Dispatcher) tracking(ctx context.Context) txscope.TrackingComponents {
	tracking := txscope.NewTrackingFromContext(ctx)

	if d.logger != nil {
		tracking.Logger = d.logger
	}

	if d.tracer != nil {
		tracking.Tracer = d.tracer
	}

	if d.metrics != nil {
		tracking.MetricFactory = d.metrics
	}

	return tracking
}

// Wake asks a running dispatcher to start a cycle now. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is done, every PollInterval and whenever Wake is
// called. Only one Run may be active per Dispatcher.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrDispatcherRunning
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.DispatchOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce claims one batch and delivers it.
func (d *Dispatcher) DispatchOnce(ctx context.Context) DispatchResult {
	tracking := d.tracking(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.outbox.dispatch")
	defer span.End()

	var result DispatchResult

	events, err := transaction.InTransaction(ctx, d.manager, d.definition("outbox.claim"),
		func(ctx context.Context, _ transaction.Status) ([]*Event, error) {
			return d.repo.ClaimPending(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts)
		})
	if err != nil {
		opentelemetry.HandleSpanError(&span, "claiming outbox events failed", err)
		tracking.Logger.Log(ctx, log.LevelError, "claiming outbox events failed", log.Err(err))

		return result
	}

	result.Claimed = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		if d.deliver(ctx, tracking, event) {
			result.Published++
		} else {
			result.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.claimed", result.Claimed),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
	)

	return result
}

func (d *Dispatcher) definition(name string) *transaction.Definition {
	return &transaction.Definition{Propagation: transaction.PropagationRequiresNew, Name: name}
}

func (d *Dispatcher) deliver(ctx context.Context, tracking txscope.TrackingComponents, event *Event) bool {
	attrs := attribute.String("event_type", event.EventType)

	handleErr := runtime.SafeInvoke(ctx, "outbox.handler", func() error {
		return d.handler(ctx, event)
	})

	var update func(ctx context.Context, _ transaction.Status) (any, error)

	if handleErr == nil {
		tracking.MetricFactory.AddOne(ctx, metrics.MetricOutboxDispatched, attrs)

		update = func(ctx context.Context, _ transaction.Status) (any, error) {
			return nil, d.repo.MarkPublished(ctx, event.ID, time.Now())
		}
	} else {
		tracking.MetricFactory.AddOne(ctx, metrics.MetricOutboxFailed, attrs)
		tracking.Logger.Log(ctx, log.LevelWarn, "outbox event delivery failed",
			log.String("event_id", event.ID.String()),
			log.String("event_type", event.EventType),
			log.Int("attempts", event.Attempts),
			log.Err(handleErr),
		)

		update = func(ctx context.Context, _ transaction.Status) (any, error) {
			return nil, d.repo.MarkFailed(ctx, event.ID, handleErr.Error(), d.cfg.MaxAttempts)
		}
	}

	if _, err := d.manager.Execute(ctx, d.definition("outbox.mark"), update); err != nil {
		tracking.Logger.Log(ctx, log.LevelError, "updating outbox event status failed",
			log.String("event_id", event.ID.String()), log.Err(err))
	}

	return handleErr == nil
}
