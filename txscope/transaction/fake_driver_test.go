//go:build unit

package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

type fakeHolder struct {
	txsync.HolderSupport
	id     int
	active bool
}

type fakeTx struct {
	holder    *fakeHolder
	newHolder bool
}

func (tx *fakeTx) IsRollbackOnly() bool {
	return tx.holder != nil && tx.holder.IsRollbackOnly()
}

type fakeDriver struct {
	mu          sync.Mutex
	events      []string
	nextID      int
	savepoints  int
	beginErr    error
	commitErr   error
	rollbackErr error
	lastTimeout time.Duration
}

func (d *fakeDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.events...)
}

func (d *fakeDriver) DoGetTransaction(ctx context.Context) (any, error) {
	holder, _ := txsync.GetResource(ctx, d).(*fakeHolder)

	return &fakeTx{holder: holder}, nil
}

func (d *fakeDriver) IsExistingTransaction(_ context.Context, tx any) bool {
	ftx := tx.(*fakeTx)

	return ftx.holder != nil && ftx.holder.active
}

func (d *fakeDriver) DoBegin(ctx context.Context, tx any, def *Definition) error {
	if d.beginErr != nil {
		return d.beginErr
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.lastTimeout = def.Timeout
	d.mu.Unlock()

	holder := &fakeHolder{id: id, active: true}
	holder.SetSynchronizedWithTransaction(true)
	holder.SetTimeout(def.Timeout)

	ftx := tx.(*fakeTx)
	ftx.holder = holder
	ftx.newHolder = true

	d.record("begin:%d", id)

	return txsync.BindResource(ctx, d, holder)
}

func (d *fakeDriver) DoSuspend(ctx context.Context, tx any) (any, error) {
	tx.(*fakeTx).holder = nil

	return txsync.UnbindResource(ctx, d)
}

func (d *fakeDriver) DoResume(ctx context.Context, _ any, suspended any) error {
	return txsync.BindResource(ctx, d, suspended)
}

func (d *fakeDriver) DoCommit(_ context.Context, status *DefaultStatus) error {
	d.record("commit:%d", status.Transaction().(*fakeTx).holder.id)

	return d.commitErr
}

func (d *fakeDriver) DoRollback(_ context.Context, status *DefaultStatus) error {
	d.record("rollback:%d", status.Transaction().(*fakeTx).holder.id)

	return d.rollbackErr
}

func (d *fakeDriver) DoSetRollbackOnly(_ context.Context, status *DefaultStatus) error {
	holder := status.Transaction().(*fakeTx).holder
	holder.SetRollbackOnly()
	d.record("set_rollback_only:%d", holder.id)

	return nil
}

func (d *fakeDriver) DoCleanupAfterCompletion(ctx context.Context, tx any) {
	ftx := tx.(*fakeTx)
	if ftx.newHolder {
		txsync.UnbindResourceIfPossible(ctx, d)
	}

	ftx.holder.active = false
	ftx.holder.Reset()
	d.record("cleanup:%d", ftx.holder.id)
}

func (d *fakeDriver) CreateSavepoint(_ context.Context, _ any) (any, error) {
	d.mu.Lock()
	d.savepoints++
	name := fmt.Sprintf("sp%d", d.savepoints)
	d.mu.Unlock()

	d.record("savepoint:%s", name)

	return name, nil
}

func (d *fakeDriver) RollbackToSavepoint(_ context.Context, tx any, savepoint any) error {
	tx.(*fakeTx).holder.ResetRollbackOnly()
	d.record("rollback_to:%s", savepoint)

	return nil
}

func (d *fakeDriver) ReleaseSavepoint(_ context.Context, _ any, savepoint any) error {
	d.record("release:%s", savepoint)

	return nil
}

// noSavepointDriver exposes only the Driver methods of its embedded driver.
type noSavepointDriver struct {
	Driver
}
