package rabbitmq

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Channel is the part of *amqp.Channel a Publisher needs.
type Channel interface {
	Tx() error
	TxCommit() error
	TxRollback() error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener opens a new channel.
type ChannelOpener func(ctx context.Context) (Channel, error)

// FromConnection opens channels on conn.
func FromConnection(conn *amqp.Connection) (ChannelOpener, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	return func(context.Context) (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}

		return ch, nil
	}, nil
}

// Publisher sends messages, transactionally inside a unit of work. A
// *Publisher is the registry key its channel is bound under.
type Publisher struct {
	open ChannelOpener

	logger  log.Logger
	tracer  trace.Tracer
	metrics *metrics.MetricsFactory
}

type PublisherOption func(*Publisher)

func WithLogger(logger log.Logger) PublisherOption {
	return func(p *Publisher) {
		if !nilcheck.Interface(logger) {
			p.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) PublisherOption {
	return func(p *Publisher) {
		if !nilcheck.Interface(tracer) {
			p.tracer = tracer
		}
	}
}

func WithMeterProvider(provider metric.MeterProvider) PublisherOption {
	return func(p *Publisher) {
		if !nilcheck.Interface(provider) {
			p.metrics = metrics.NewFactoryFromProvider(provider)
		}
	}
}

func NewPublisher(open ChannelOpener, opts ...PublisherOption) (*Publisher, error) {
	if open == nil {
		return nil, ErrNilOpener
	}

	p := &Publisher{open: open}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

func (p *Publisher) tracking(ctx context.Context) txscope.TrackingComponents {
	tracking := txscope.NewTrackingFromContext(ctx)

	if p.logger != nil {
		tracking.Logger = p.logger
	}

	if p.tracer != nil {
		tracking.Tracer = p.tracer
	}

	if p.metrics != nil {
		tracking.MetricFactory = p.metrics
	}

	return tracking
}

// Publish sends msg to exchange with routingKey. The trace context of ctx
// is added to the message headers.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if exchange == "" && routingKey == "" {
		return ErrEmptyRoute
	}

	tracking := p.tracking(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.rabbitmq.publish", trace.WithAttributes(
		attribute.String("messaging.destination.name", exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
	))
	defer span.End()

	msg.Headers = opentelemetry.InjectQueueHeaders(ctx, msg.Headers)

	transactional := txsync.IsSynchronizationActive(ctx)

	var err error
	if transactional {
		err = p.publishInUnit(ctx, tracking, exchange, routingKey, msg)
	} else {
		err = p.publishNow(ctx, exchange, routingKey, msg)
	}

	if err != nil {
		opentelemetry.HandleSpanError(&span, "publish failed", err)

		return err
	}

	tracking.MetricFactory.AddOne(ctx, metrics.MetricMessagesPublished,
		attribute.String("exchange", exchange),
		attribute.Bool("transactional", transactional),
	)

	return nil
}

func (p *Publisher) publishNow(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (p *Publisher) publishInUnit(ctx context.Context, tracking txscope.TrackingComponents, exchange, routingKey string,
	msg amqp.Publishing,
) error {
	holder, err := p.boundChannel(ctx, tracking)
	if err != nil {
		return err
	}

	holder.Requested()
	defer holder.Released()

	return holder.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// channelHolder is the transactional channel of one unit of work.
type channelHolder struct {
	txsync.HolderSupport
	ch        Channel
	committed atomic.Bool
}

func (p *Publisher) boundChannel(ctx context.Context, tracking txscope.TrackingComponents) (*channelHolder, error) {
	switch bound := txsync.GetResource(ctx, p).(type) {
	case nil:
	case *channelHolder:
		return bound, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedBind, bound)
	}

	ch, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.Tx(); err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("%w: %w", ErrTxSelect, err)
	}

	holder := &channelHolder{ch: ch}
	holder.SetSynchronizedWithTransaction(true)

	if err := txsync.BindResource(ctx, p, holder); err != nil {
		_ = ch.Close()

		return nil, err
	}

	if err := txsync.RegisterSynchronization(ctx, p.synchronization(holder, tracking.Logger)); err != nil {
		txsync.UnbindResourceIfPossible(ctx, p)
		_ = ch.Close()

		return nil, err
	}

	tracking.Logger.Log(ctx, log.LevelDebug, "bound transactional channel",
		log.String("scope_id", txsync.ScopeID(ctx)))

	return holder, nil
}

func (p *Publisher) synchronization(holder *channelHolder, logger log.Logger) txsync.Synchronization {
	return &txsync.SynchronizationFuncs{
		OrderValue: resource.DefaultSynchronizationOrder,
		OnSuspend: func(ctx context.Context) error {
			txsync.UnbindResourceIfPossible(ctx, p)

			return nil
		},
		OnResume: func(ctx context.Context) error {
			return txsync.BindResource(ctx, p, holder)
		},
		OnAfterCommit: func(ctx context.Context) error {
			if err := holder.ch.TxCommit(); err != nil {
				logger.Log(ctx, log.LevelError, "unit of work committed but its messages were not",
					log.String("scope_id", txsync.ScopeID(ctx)), log.Err(err))

				return fmt.Errorf("%w: %w", ErrChannelCommit, err)
			}

			holder.committed.Store(true)

			return nil
		},
		OnAfterCompletion: func(ctx context.Context, status txsync.CompletionStatus) error {
			txsync.UnbindResourceIfPossible(ctx, p)

			if !holder.committed.Load() {
				if err := holder.ch.TxRollback(); err != nil {
					logger.Log(ctx, log.LevelWarn, "channel rollback failed",
						log.String("status", status.String()), log.Err(err))
				}
			}

			holder.Unbound()

			return holder.ch.Close()
		},
	}
}
