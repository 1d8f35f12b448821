package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/backoff"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry/metrics"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 10 * time.Millisecond
	defaultRetryMax    = 500 * time.Millisecond
)

// WatchManager runs callbacks in optimistic Redis transactions.
type WatchManager struct {
	client         *redis.Client
	policy         backoff.Policy
	defaultTimeout time.Duration

	logger  log.Logger
	tracer  trace.Tracer
	metrics *metrics.MetricsFactory
}

var _ transaction.CallbackManager = (*WatchManager)(nil)

// WatchOption configures a WatchManager.
type WatchOption func(*WatchManager)

// WithMaxAttempts bounds how often a callback runs when its watched keys
// keep changing.
func WithMaxAttempts(attempts int) WatchOption {
	return func(m *WatchManager) {
		if attempts > 0 {
			m.policy.MaxAttempts = attempts
		}
	}
}

// WithRetryBackoff sets the delay ceiling of the first retry and the cap
// for later ones.
func WithRetryBackoff(base, ceiling time.Duration) WatchOption {
	return func(m *WatchManager) {
		m.policy.Base = max(base, 0)
		m.policy.Max = max(ceiling, 0)
	}
}

// WithDefaultTimeout bounds transactions whose definition has no timeout.
func WithDefaultTimeout(timeout time.Duration) WatchOption {
	return func(m *WatchManager) {
		m.defaultTimeout = max(timeout, 0)
	}
}

func WithLogger(logger log.Logger) WatchOption {
	return func(m *WatchManager) {
		if !nilcheck.Interface(logger) {
			m.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) WatchOption {
	return func(m *WatchManager) {
		if !nilcheck.Interface(tracer) {
			m.tracer = tracer
		}
	}
}

func WithMeterProvider(provider metric.MeterProvider) WatchOption {
	return func(m *WatchManager) {
		if !nilcheck.Interface(provider) {
			m.metrics = metrics.NewFactoryFromProvider(provider)
		}
	}
}

func NewWatchManager(client *redis.Client, opts ...WatchOption) (*WatchManager, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	m := &WatchManager{
		client: client,
		policy: backoff.Policy{Base: defaultRetryBase, Max: defaultRetryMax, MaxAttempts: defaultMaxAttempts},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m, nil
}

func (m *WatchManager) tracking(ctx context.Context) txscope.TrackingComponents {
	tracking := txscope.NewTrackingFromContext(ctx)

	if m.logger != nil {
		tracking.Logger = m.logger
	}

	if m.tracer != nil {
		tracking.Tracer = m.tracer
	}

	if m.metrics != nil {
		tracking.MetricFactory = m.metrics
	}

	return tracking
}

// Execute runs callback as def describes. A callback error rolls back and
// is returned as is. Only writes queued on the bound Tx reach Redis.
func (m *WatchManager) Execute(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}

	if ctx == nil {
		ctx = context.Background()
	}

	effective := transaction.Definition{}
	if def != nil {
		effective = *def
	}

	if err := effective.Validate(); err != nil {
		return nil, err
	}

	if effective.Timeout == 0 {
		effective.Timeout = m.defaultTimeout
	}

	ctx = txsync.EnsureContext(ctx)

	if existing, ok := TxFromContext(ctx, m); ok {
		return m.handleExisting(ctx, &effective, existing, callback)
	}

	switch effective.Propagation {
	case transaction.PropagationMandatory:
		return nil, transaction.ErrNoExistingTransaction
	case transaction.PropagationSupports, transaction.PropagationNotSupported, transaction.PropagationNever:
		return m.runEmpty(ctx, &effective, callback)
	default:
		return m.runNew(ctx, &effective, callback)
	}
}

func (m *WatchManager) handleExisting(ctx context.Context, def *transaction.Definition, existing *Tx,
	callback transaction.TransactionCallback,
) (any, error) {
	switch def.Propagation {
	case transaction.PropagationNever:
		return nil, transaction.ErrExistingTransaction
	case transaction.PropagationNested:
		return nil, transaction.ErrNestedNotSupported
	case transaction.PropagationNotSupported:
		return m.runEmpty(txsync.Detach(ctx), def, callback)
	case transaction.PropagationRequiresNew:
		return m.runNew(txsync.Detach(ctx), def, callback)
	default:
		return m.participate(ctx, def, existing, callback)
	}
}

// participate runs callback in the caller's transaction. A failure or a
// rollback-only mark dooms the whole transaction.
func (m *WatchManager) participate(ctx context.Context, def *transaction.Definition, existing *Tx,
	callback transaction.TransactionCallback,
) (any, error) {
	if def.ReadOnly && !existing.IsReadOnly() {
		m.tracking(ctx).Logger.Log(ctx, log.LevelDebug, "read-only definition joins a read-write redis transaction",
			log.String("name", def.Name))
	}

	status := &watchStatus{tx: existing, name: def.Name}
	defer status.setCompleted()

	result, err := callback(ctx, status)
	if err != nil {
		existing.SetRollbackOnly()

		return nil, err
	}

	if status.isLocalRollbackOnly() {
		existing.SetRollbackOnly()
	}

	return result, nil
}

// runEmpty runs callback without a Redis transaction, still giving it a
// synchronization scope of its own when none is active.
func (m *WatchManager) runEmpty(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	status := &watchStatus{name: def.Name}
	owned := m.beginSynchronization(ctx, def)

	completed := false

	defer func() {
		status.setCompleted()

		if !completed {
			m.rollback(ctx, owned, nil)
		}
	}()

	result, err := callback(ctx, status)
	if err != nil || status.IsRollbackOnly() {
		completed = true

		m.rollback(ctx, owned, nil)

		return nil, err
	}

	completed = true

	if err := m.finishCommit(ctx, owned, def.ReadOnly, nil); err != nil {
		return nil, err
	}

	return result, nil
}

// runNew starts a transaction, retrying the callback when its watched keys
// change before EXEC.
func (m *WatchManager) runNew(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	tracking := m.tracking(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.redis.watch", trace.WithAttributes(
		attribute.String("txscope.transaction", def.Name),
		attribute.Bool("txscope.read_only", def.ReadOnly),
	))
	defer span.End()

	if def.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	keys := watchKeys(ctx)

	for attempt := 0; ; attempt++ {
		result, err := m.attempt(ctx, def, keys, callback)
		if err == nil {
			span.SetAttributes(attribute.Int("txscope.attempts", attempt+1))

			return result, nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			opentelemetry.HandleSpanError(&span, "redis transaction failed", err)

			return nil, err
		}

		tracking.MetricFactory.AddOne(ctx, metrics.MetricWatchConflicts, attribute.String("transaction", def.Name))

		if !m.policy.Allows(attempt + 1) {
			err = fmt.Errorf("%w after %d attempts: %w", ErrConflict, attempt+1, err)
			opentelemetry.HandleSpanError(&span, "redis transaction kept conflicting", err)

			return nil, err
		}

		delay := m.policy.Delay(attempt)

		tracking.Logger.Log(ctx, log.LevelDebug, "watched keys changed, retrying redis transaction",
			log.String("name", def.Name),
			log.Int("attempt", attempt+1),
			log.Duration("delay", delay),
		)

		if err := backoff.Wait(ctx, delay); err != nil {
			opentelemetry.HandleSpanError(&span, "redis transaction retry interrupted", err)

			return nil, err
		}
	}
}

// attempt is one WATCH round: bind a Tx, run callback, EXEC its writes.
func (m *WatchManager) attempt(ctx context.Context, def *transaction.Definition, keys []string,
	callback transaction.TransactionCallback,
) (any, error) {
	var result any

	err := m.client.Watch(ctx, func(rtx *redis.Tx) error {
		var err error

		result, err = m.runBound(ctx, def, newTx(rtx, def.ReadOnly), callback)

		return err
	}, keys...)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (m *WatchManager) runBound(ctx context.Context, def *transaction.Definition, tx *Tx,
	callback transaction.TransactionCallback,
) (any, error) {
	if def.Timeout > 0 {
		tx.SetTimeout(def.Timeout)
	}

	if err := txsync.BindResource(ctx, m, tx); err != nil {
		return nil, err
	}
	defer txsync.UnbindResourceIfPossible(ctx, m)

	owned := m.beginSynchronization(ctx, def)
	status := &watchStatus{tx: tx, newTransaction: true, name: def.Name}

	completed := false

	defer func() {
		status.setCompleted()

		if !completed {
			m.rollback(ctx, owned, tx)
		}
	}()

	result, err := callback(ctx, status)

	completed = true

	switch {
	case err != nil:
		m.rollback(ctx, owned, tx)

		return nil, err
	case status.IsRollbackOnly():
		m.rollback(ctx, owned, tx)

		if !status.isLocalRollbackOnly() {
			return nil, transaction.ErrUnexpectedRollback
		}

		return nil, nil
	}

	if tx.HasTimeout() {
		if _, err := tx.TimeToLive(); err != nil {
			m.rollback(ctx, owned, tx)

			return nil, err
		}
	}

	if err := m.finishCommit(ctx, owned, def.ReadOnly, tx); err != nil {
		return nil, err
	}

	return result, nil
}

// finishCommit runs the commit phase: before-commit callbacks, EXEC of the
// queued writes when tx is set, then after-commit callbacks.
func (m *WatchManager) finishCommit(ctx context.Context, owned, readOnly bool, tx *Tx) error {
	if owned {
		if err := txsync.TriggerBeforeCommit(ctx, readOnly); err != nil {
			m.rollback(ctx, owned, tx)

			return err
		}
	}

	m.beforeCompletion(ctx, owned)

	if tx != nil {
		if completion, err := m.exec(ctx, tx); err != nil {
			m.afterCompletion(ctx, owned, completion)

			return err
		}
	}

	var afterCommitErr error
	if owned {
		afterCommitErr = txsync.TriggerAfterCommit(ctx)
	}

	m.afterCompletion(ctx, owned, txsync.StatusCommitted)

	return afterCommitErr
}

// exec sends the queued writes in one MULTI/EXEC. On failure it also
// reports whether Redis applied none of them.
func (m *WatchManager) exec(ctx context.Context, tx *Tx) (txsync.CompletionStatus, error) {
	writes := tx.drain()
	if len(writes) == 0 {
		return txsync.StatusCommitted, nil
	}

	queueFailed := false

	_, err := tx.reader.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, w := range writes {
			if err := w(p); err != nil {
				queueFailed = true

				return err
			}
		}

		return nil
	})

	switch {
	case err == nil:
		return txsync.StatusCommitted, nil
	case queueFailed, errors.Is(err, redis.TxFailedErr):
		return txsync.StatusRolledBack, err
	default:
		return txsync.StatusUnknown, err
	}
}

func (m *WatchManager) rollback(ctx context.Context, owned bool, tx *Tx) {
	if tx != nil {
		tx.drain()
	}

	m.beforeCompletion(ctx, owned)
	m.afterCompletion(ctx, owned, txsync.StatusRolledBack)
}

// beginSynchronization activates synchronization unless an outer unit of
// work already did, and reports whether this call owns it.
func (m *WatchManager) beginSynchronization(ctx context.Context, def *transaction.Definition) bool {
	if txsync.IsSynchronizationActive(ctx) {
		return false
	}

	if err := txsync.InitSynchronization(ctx); err != nil {
		m.tracking(ctx).Logger.Log(ctx, log.LevelWarn, "could not activate synchronization", log.Err(err))

		return false
	}

	txsync.SetActualTransactionActive(ctx, true)
	txsync.SetCurrentTransactionName(ctx, def.Name)
	txsync.SetCurrentTransactionReadOnly(ctx, def.ReadOnly)

	return true
}

func (m *WatchManager) beforeCompletion(ctx context.Context, owned bool) {
	if !owned {
		return
	}

	if err := txsync.TriggerBeforeCompletion(ctx); err != nil {
		m.tracking(ctx).Logger.Log(ctx, log.LevelError, "before-completion synchronization failed", log.Err(err))
	}
}

// afterCompletion deactivates synchronization, then notifies what was
// registered. Failures are logged.
func (m *WatchManager) afterCompletion(ctx context.Context, owned bool, completion txsync.CompletionStatus) {
	if !owned {
		return
	}

	syncs, err := txsync.Synchronizations(ctx)
	if err != nil {
		return
	}

	txsync.Clear(ctx)

	if err := txsync.InvokeAfterCompletion(ctx, syncs, completion); err != nil {
		m.tracking(ctx).Logger.Log(ctx, log.LevelError, "after-completion synchronization failed",
			log.String("completion", completion.String()),
			log.Err(err),
		)
	}
}
