package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// TransactionManager runs database/sql transactions for one Factory with
// full propagation support, including savepoint-based nesting.
type TransactionManager struct {
	*transaction.Manager
	factory *Factory
}

// NewTransactionManager builds a manager over factory.
func NewTransactionManager(factory *Factory, opts ...transaction.ManagerOption) (*TransactionManager, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	manager, err := transaction.NewManager(&sqlDriver{factory: factory}, opts...)
	if err != nil {
		return nil, err
	}

	return &TransactionManager{Manager: manager, factory: factory}, nil
}

// Factory returns the factory whose connections the manager binds.
func (m *TransactionManager) Factory() *Factory {
	return m.factory
}

// CurrentTx returns the transaction bound for factory in ctx, if any.
func CurrentTx(ctx context.Context, factory *Factory) (*sql.Tx, bool) {
	if factory == nil {
		return nil, false
	}

	holder := resource.HolderFor(ctx, factory)
	if holder == nil || !holder.IsTransactionActive() {
		return nil, false
	}

	conn, ok := holder.Handle().(*Conn)
	if !ok {
		return nil, false
	}

	tx := conn.Tx()

	return tx, tx != nil
}

// sqlTransaction is the transaction object the driver hands to
// transaction.Manager.
type sqlTransaction struct {
	holder    *resource.Holder
	newHolder bool
}

func (t *sqlTransaction) IsRollbackOnly() bool {
	return t.holder != nil && t.holder.IsRollbackOnly()
}

func (t *sqlTransaction) conn() (*Conn, error) {
	if t.holder == nil {
		return nil, ErrNoTransaction
	}

	conn, ok := t.holder.Handle().(*Conn)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedHandle, t.holder.Handle())
	}

	return conn, nil
}

type sqlDriver struct {
	factory *Factory
}

func (d *sqlDriver) logger(ctx context.Context) log.Logger {
	return txscope.LoggerFromContext(ctx)
}

func (d *sqlDriver) DoGetTransaction(ctx context.Context) (any, error) {
	return &sqlTransaction{holder: resource.HolderFor(ctx, d.factory)}, nil
}

func (d *sqlDriver) IsExistingTransaction(_ context.Context, tx any) bool {
	stx := tx.(*sqlTransaction)

	return stx.holder != nil && stx.holder.IsTransactionActive()
}

func (d *sqlDriver) DoBegin(ctx context.Context, tx any, def *transaction.Definition) error {
	stx := tx.(*sqlTransaction)

	if stx.holder == nil || stx.holder.IsSynchronizedWithTransaction() {
		h, err := d.factory.NewHandle(ctx)
		if err != nil {
			return err
		}

		d.logger(ctx).Log(ctx, log.LevelDebug, "acquired connection for transaction",
			log.String("factory", d.factory.String()),
			log.String("scope_id", txsync.ScopeID(ctx)))

		stx.holder = resource.NewHolder(h)
		stx.newHolder = true
	}

	holder := stx.holder
	holder.SetSynchronizedWithTransaction(true)

	conn, err := stx.conn()
	if err != nil {
		return d.abortBegin(ctx, stx, err)
	}

	opts := &sql.TxOptions{Isolation: def.Isolation.SQLLevel(), ReadOnly: def.ReadOnly}
	if err := conn.begin(ctx, opts); err != nil {
		return d.abortBegin(ctx, stx, err)
	}

	holder.SetTransactionActive(true)

	if def.Timeout > 0 {
		holder.SetTimeout(def.Timeout)
	}

	if stx.newHolder {
		if err := txsync.BindResource(ctx, d.factory, holder); err != nil {
			_ = conn.rollback()

			return d.abortBegin(ctx, stx, err)
		}
	}

	return nil
}

func (d *sqlDriver) abortBegin(ctx context.Context, stx *sqlTransaction, cause error) error {
	if stx.newHolder {
		if err := resource.CloseHandle(ctx, stx.holder.Handle(), d.factory); err != nil {
			d.logger(ctx).Log(ctx, log.LevelWarn, "failed to close connection after begin failure", log.Err(err))
		}

		stx.holder = nil
		stx.newHolder = false
	} else {
		stx.holder.SetSynchronizedWithTransaction(false)
	}

	return cause
}

func (d *sqlDriver) DoSuspend(ctx context.Context, tx any) (any, error) {
	tx.(*sqlTransaction).holder = nil

	return txsync.UnbindResource(ctx, d.factory)
}

func (d *sqlDriver) DoResume(ctx context.Context, _ any, suspended any) error {
	return txsync.BindResource(ctx, d.factory, suspended)
}

func (d *sqlDriver) DoCommit(ctx context.Context, status *transaction.DefaultStatus) error {
	conn, err := status.Transaction().(*sqlTransaction).conn()
	if err != nil {
		return err
	}

	d.logger(ctx).Log(ctx, log.LevelDebug, "committing transaction", log.String("name", status.Name()))

	return conn.commit()
}

func (d *sqlDriver) DoRollback(ctx context.Context, status *transaction.DefaultStatus) error {
	conn, err := status.Transaction().(*sqlTransaction).conn()
	if err != nil {
		return err
	}

	d.logger(ctx).Log(ctx, log.LevelDebug, "rolling back transaction", log.String("name", status.Name()))

	return conn.rollback()
}

func (d *sqlDriver) DoSetRollbackOnly(_ context.Context, status *transaction.DefaultStatus) error {
	stx := status.Transaction().(*sqlTransaction)
	if stx.holder == nil {
		return ErrNoTransaction
	}

	stx.holder.SetRollbackOnly()

	return nil
}

func (d *sqlDriver) DoCleanupAfterCompletion(ctx context.Context, tx any) {
	stx := tx.(*sqlTransaction)
	if stx.holder == nil {
		return
	}

	if stx.newHolder {
		txsync.UnbindResourceIfPossible(ctx, d.factory)
	}

	holder := stx.holder
	h := holder.Handle()

	if conn, ok := h.(*Conn); ok && conn.InTransaction() {
		// Completion failed half way; never hand out a connection with a
		// dangling transaction.
		if err := conn.rollback(); err != nil {
			d.logger(ctx).Log(ctx, log.LevelWarn, "failed to roll back dangling transaction", log.Err(err))
		}
	}

	if stx.newHolder {
		holder.SetHandle(nil)
		resource.Release(ctx, h, d.factory)
	}

	holder.Clear()
}

func (d *sqlDriver) CreateSavepoint(ctx context.Context, tx any) (any, error) {
	stx := tx.(*sqlTransaction)

	conn, err := stx.conn()
	if err != nil {
		return nil, err
	}

	name := stx.holder.NextSavepointName()
	if err := execOnTx(ctx, conn, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("creating savepoint %s: %w", name, err)
	}

	return name, nil
}

func (d *sqlDriver) RollbackToSavepoint(ctx context.Context, tx any, savepoint any) error {
	stx := tx.(*sqlTransaction)

	name, conn, err := savepointTarget(stx, savepoint)
	if err != nil {
		return err
	}

	if err := execOnTx(ctx, conn, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rolling back to savepoint %s: %w", name, err)
	}

	stx.holder.ResetRollbackOnly()

	return nil
}

func (d *sqlDriver) ReleaseSavepoint(ctx context.Context, tx any, savepoint any) error {
	name, conn, err := savepointTarget(tx.(*sqlTransaction), savepoint)
	if err != nil {
		return err
	}

	if err := execOnTx(ctx, conn, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("releasing savepoint %s: %w", name, err)
	}

	return nil
}

func savepointTarget(stx *sqlTransaction, savepoint any) (string, *Conn, error) {
	name, ok := savepoint.(string)
	if !ok || !strings.HasPrefix(name, resource.SavepointPrefix) {
		return "", nil, fmt.Errorf("%w: %v", ErrSavepointName, savepoint)
	}

	conn, err := stx.conn()
	if err != nil {
		return "", nil, err
	}

	return name, conn, nil
}

func execOnTx(ctx context.Context, conn *Conn, statement string) error {
	tx := conn.Tx()
	if tx == nil {
		return ErrNoTransaction
	}

	_, err := tx.ExecContext(ctx, statement)

	return err
}
