package interceptor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// defaultManagerKey caches the unqualified manager. It cannot collide with
// any qualifier string.
type defaultManagerKey struct{}

// ManagerResolver looks up a manager by qualifier. The empty qualifier asks
// for the default manager.
type ManagerResolver func(qualifier string) (any, error)

// SupersededHook observes an operation error that was replaced by a
// transaction manager error.
type SupersededHook func(original, replacement error)

// Interceptor runs operations inside transactions.
type Interceptor struct {
	source         AttributeSource
	defaultManager any
	managers       map[string]any
	resolver       ManagerResolver
	managerCache   sync.Map // qualifier string or defaultManagerKey -> transaction.ManagerKind

	logger         log.Logger
	tracer         trace.Tracer
	metrics        *metrics.MetricsFactory
	supersededHook SupersededHook
}

// Option mutates interceptor configuration at construction.
type Option func(*Interceptor)

// WithAttributeSource sets where operation attributes come from.
func WithAttributeSource(source AttributeSource) Option {
	return func(i *Interceptor) {
		if nilcheck.Interface(source) {
			i.source = nil

			return
		}

		i.source = source
	}
}

// WithDefaultManager sets the manager used for attributes without a
// qualifier. m must be a transaction.PlainManager or
// transaction.CallbackManager.
func WithDefaultManager(m any) Option {
	return func(i *Interceptor) {
		if nilcheck.Interface(m) {
			i.defaultManager = nil

			return
		}

		i.defaultManager = m
	}
}

// WithManager registers m under qualifier.
func WithManager(qualifier string, m any) Option {
	return func(i *Interceptor) {
		qualifier = strings.TrimSpace(qualifier)
		if qualifier == "" || nilcheck.Interface(m) {
			return
		}

		if i.managers == nil {
			i.managers = make(map[string]any)
		}

		i.managers[qualifier] = m
	}
}

// WithManagerResolver sets the fallback lookup for qualifiers not
// registered with WithManager.
func WithManagerResolver(resolver ManagerResolver) Option {
	return func(i *Interceptor) {
		i.resolver = resolver
	}
}

// WithLogger sets the logger. Without one the context logger is used.
func WithLogger(logger log.Logger) Option {
	return func(i *Interceptor) {
		if nilcheck.Interface(logger) {
			i.logger = nil

			return
		}

		i.logger = logger
	}
}

// WithTracer sets the tracer. Without one the context tracer is used.
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Interceptor) {
		if nilcheck.Interface(tracer) {
			i.tracer = nil

			return
		}

		i.tracer = tracer
	}
}

// WithMeterProvider sets the provider for transaction outcome counters.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(i *Interceptor) {
		if nilcheck.Interface(provider) {
			i.metrics = nil

			return
		}

		i.metrics = metrics.NewFactoryFromProvider(provider)
	}
}

// WithSupersededHook sets a hook called whenever a manager error replaces
// the operation's own error.
func WithSupersededHook(hook SupersededHook) Option {
	return func(i *Interceptor) {
		i.supersededHook = hook
	}
}

// New builds an Interceptor. An attribute source is required.
func New(opts ...Option) (*Interceptor, error) {
	i := &Interceptor{}

	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}

	if i.source == nil {
		return nil, ErrNilAttributeSource
	}

	return i, nil
}

func (i *Interceptor) tracking(ctx context.Context) txscope.TrackingComponents {
	tracking := txscope.NewTrackingFromContext(ctx)

	if i.logger != nil {
		tracking.Logger = i.logger
	}

	if i.tracer != nil {
		tracking.Tracer = i.tracer
	}

	if i.metrics != nil {
		tracking.MetricFactory = i.metrics
	}

	return tracking
}

// determineManager resolves and caches the manager for attrs.
func (i *Interceptor) determineManager(attrs *transaction.Attributes) (transaction.ManagerKind, error) {
	qualifier := ""
	if attrs != nil {
		qualifier = strings.TrimSpace(attrs.Qualifier)
	}

	var key any = defaultManagerKey{}
	if qualifier != "" {
		key = qualifier
	}

	if cached, ok := i.managerCache.Load(key); ok {
		return cached.(transaction.ManagerKind), nil
	}

	m, err := i.lookupManager(qualifier)
	if err != nil {
		return transaction.ManagerKind{}, err
	}

	kind, err := transaction.Classify(m)
	if err != nil {
		return transaction.ManagerKind{}, err
	}

	actual, _ := i.managerCache.LoadOrStore(key, kind)

	return actual.(transaction.ManagerKind), nil
}

func (i *Interceptor) lookupManager(qualifier string) (any, error) {
	if qualifier == "" && i.defaultManager != nil {
		return i.defaultManager, nil
	}

	if m, ok := i.managers[qualifier]; ok {
		return m, nil
	}

	if i.resolver != nil {
		m, err := i.resolver(qualifier)
		if err != nil {
			return nil, fmt.Errorf("resolving transaction manager %q: %w", qualifier, err)
		}

		if !nilcheck.Interface(m) {
			return m, nil
		}
	}

	if qualifier == "" {
		return nil, ErrNoManager
	}

	return nil, fmt.Errorf("%w: no manager registered for qualifier %q", ErrNoManager, qualifier)
}
