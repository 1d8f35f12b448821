package mongodb

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultCommitAttempts = 3

// TransactionManager runs MongoDB transactions for one Factory. Required,
// RequiresNew, Supports, Mandatory, NotSupported and Never behave as for
// SQL; Nested fails with transaction.ErrNestedNotSupported.
type TransactionManager struct {
	*transaction.Manager
	factory *Factory
}

// NewTransactionManager builds a manager over factory. txOpts carries the
// read concern, write concern and read preference every transaction
// starts with; nil keeps the client defaults.
func NewTransactionManager(factory *Factory, txOpts *options.TransactionOptions, opts ...transaction.ManagerOption) (*TransactionManager, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	driver := &sessionDriver{factory: factory, defaults: txOpts, commitAttempts: defaultCommitAttempts}

	manager, err := transaction.NewManager(driver, opts...)
	if err != nil {
		return nil, err
	}

	return &TransactionManager{Manager: manager, factory: factory}, nil
}

// Factory returns the factory whose sessions the manager binds.
func (m *TransactionManager) Factory() *Factory {
	return m.factory
}

type sessionTransaction struct {
	holder    *resource.Holder
	newHolder bool
}

func (t *sessionTransaction) IsRollbackOnly() bool {
	return t.holder != nil && t.holder.IsRollbackOnly()
}

func (t *sessionTransaction) session() (*SessionHandle, error) {
	if t.holder == nil {
		return nil, ErrNoTransaction
	}

	sh, ok := t.holder.Handle().(*SessionHandle)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedHandle, t.holder.Handle())
	}

	return sh, nil
}

type sessionDriver struct {
	factory        *Factory
	defaults       *options.TransactionOptions
	commitAttempts int
}

func (d *sessionDriver) logger(ctx context.Context) log.Logger {
	return txscope.LoggerFromContext(ctx)
}

func (d *sessionDriver) DoGetTransaction(ctx context.Context) (any, error) {
	return &sessionTransaction{holder: resource.HolderFor(ctx, d.factory)}, nil
}

func (d *sessionDriver) IsExistingTransaction(_ context.Context, tx any) bool {
	stx := tx.(*sessionTransaction)

	return stx.holder != nil && stx.holder.IsTransactionActive()
}

// transactionOptions layers the definition over the manager defaults.
// Timeout becomes the server-side commit time limit.
func (d *sessionDriver) transactionOptions(def *transaction.Definition) *options.TransactionOptions {
	opts := options.Transaction()

	if d.defaults != nil {
		opts.ReadConcern = d.defaults.ReadConcern
		opts.WriteConcern = d.defaults.WriteConcern
		opts.ReadPreference = d.defaults.ReadPreference
		opts.MaxCommitTime = d.defaults.MaxCommitTime
	}

	if def.Timeout > 0 {
		timeout := def.Timeout
		opts.SetMaxCommitTime(&timeout)
	}

	return opts
}

func (d *sessionDriver) DoBegin(ctx context.Context, tx any, def *transaction.Definition) error {
	if def.Isolation != transaction.IsolationDefault {
		return fmt.Errorf("%w: %s", ErrIsolationUnsupported, def.Isolation)
	}

	stx := tx.(*sessionTransaction)

	if stx.holder == nil || stx.holder.IsSynchronizedWithTransaction() {
		h, err := d.factory.NewHandle(ctx)
		if err != nil {
			return err
		}

		d.logger(ctx).Log(ctx, log.LevelDebug, "started session for transaction",
			log.String("factory", d.factory.String()),
			log.String("scope_id", txsync.ScopeID(ctx)))

		stx.holder = resource.NewHolder(h)
		stx.newHolder = true
	}

	holder := stx.holder
	holder.SetSynchronizedWithTransaction(true)

	sh, err := stx.session()
	if err != nil {
		return d.abortBegin(ctx, stx, err)
	}

	if err := sh.begin(d.transactionOptions(def)); err != nil {
		return d.abortBegin(ctx, stx, err)
	}

	holder.SetTransactionActive(true)

	if def.Timeout > 0 {
		holder.SetTimeout(def.Timeout)
	}

	if stx.newHolder {
		if err := txsync.BindResource(ctx, d.factory, holder); err != nil {
			_ = sh.abort(ctx)

			return d.abortBegin(ctx, stx, err)
		}
	}

	return nil
}

func (d *sessionDriver) abortBegin(ctx context.Context, stx *sessionTransaction, cause error) error {
	if stx.newHolder {
		if err := resource.CloseHandle(ctx, stx.holder.Handle(), d.factory); err != nil {
			d.logger(ctx).Log(ctx, log.LevelWarn, "failed to end session after begin failure", log.Err(err))
		}

		stx.holder = nil
		stx.newHolder = false
	} else {
		stx.holder.SetSynchronizedWithTransaction(false)
	}

	return cause
}

func (d *sessionDriver) DoSuspend(ctx context.Context, tx any) (any, error) {
	tx.(*sessionTransaction).holder = nil

	return txsync.UnbindResource(ctx, d.factory)
}

func (d *sessionDriver) DoResume(ctx context.Context, _ any, suspended any) error {
	return txsync.BindResource(ctx, d.factory, suspended)
}

func (d *sessionDriver) DoCommit(ctx context.Context, status *transaction.DefaultStatus) error {
	sh, err := status.Transaction().(*sessionTransaction).session()
	if err != nil {
		return err
	}

	logger := d.logger(ctx)
	logger.Log(ctx, log.LevelDebug, "committing mongodb transaction", log.String("name", status.Name()))

	return sh.commit(ctx, d.commitAttempts, func(attempt int, err error) {
		logger.Log(ctx, log.LevelWarn, "mongodb commit result unknown, retrying",
			log.String("name", status.Name()),
			log.Int("attempt", attempt),
			log.Err(err))
	})
}

func (d *sessionDriver) DoRollback(ctx context.Context, status *transaction.DefaultStatus) error {
	sh, err := status.Transaction().(*sessionTransaction).session()
	if err != nil {
		return err
	}

	d.logger(ctx).Log(ctx, log.LevelDebug, "aborting mongodb transaction", log.String("name", status.Name()))

	return sh.abort(ctx)
}

func (d *sessionDriver) DoSetRollbackOnly(_ context.Context, status *transaction.DefaultStatus) error {
	stx := status.Transaction().(*sessionTransaction)
	if stx.holder == nil {
		return ErrNoTransaction
	}

	stx.holder.SetRollbackOnly()

	return nil
}

func (d *sessionDriver) DoCleanupAfterCompletion(ctx context.Context, tx any) {
	stx := tx.(*sessionTransaction)
	if stx.holder == nil {
		return
	}

	if stx.newHolder {
		txsync.UnbindResourceIfPossible(ctx, d.factory)
	}

	holder := stx.holder
	h := holder.Handle()

	if sh, ok := h.(*SessionHandle); ok && sh.InTransaction() {
		if err := sh.abort(context.WithoutCancel(ctx)); err != nil {
			d.logger(ctx).Log(ctx, log.LevelWarn, "failed to abort dangling mongodb transaction", log.Err(err))
		}
	}

	if stx.newHolder {
		holder.SetHandle(nil)
		resource.Release(ctx, h, d.factory)
	}

	holder.Clear()
}
