//go:build unit

package datasource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exec(t *testing.T, ctx context.Context, factory *Factory, query string) {
	t.Helper()

	proxy, err := GetConn(ctx, factory)
	require.NoError(t, err)

	defer ReleaseConn(ctx, proxy, factory)

	_, err = proxy.ExecContext(ctx, query)
	require.NoError(t, err)
}

func TestTransactionManager_CommitRunsStatementsOnTx(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)
	assert.Same(t, factory, tm.Factory())

	ctx, status, err := tm.GetTransaction(context.Background(), &transaction.Definition{
		Isolation: transaction.IsolationSerializable,
		ReadOnly:  true,
	})
	require.NoError(t, err)
	assert.True(t, status.IsNewTransaction())

	tx, ok := CurrentTx(ctx, factory)
	require.True(t, ok)
	assert.NotNil(t, tx)

	exec(t, ctx, factory, "SELECT balance FROM accounts")
	exec(t, ctx, factory, "SELECT owner FROM accounts")

	require.NoError(t, tm.Commit(ctx, status))

	assert.Equal(t, []string{
		"begin:1:Serializable:ro=true",
		"exec:1:tx:SELECT balance FROM accounts",
		"exec:1:tx:SELECT owner FROM accounts",
		"commit:1",
	}, fake.Events())
	assert.Equal(t, 0, db.Stats().InUse)
	assert.False(t, txsync.HasResource(ctx, factory))

	_, ok = CurrentTx(ctx, factory)
	assert.False(t, ok)
}

func TestTransactionManager_Rollback(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, status, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	exec(t, ctx, factory, "INSERT INTO ledger VALUES (1)")

	require.NoError(t, tm.Rollback(ctx, status))
	assert.Equal(t, []string{
		"begin:1:Default:ro=false",
		"exec:1:tx:INSERT INTO ledger VALUES (1)",
		"rollback:1",
	}, fake.Events())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestTransactionManager_ParticipationSharesConnection(t *testing.T) {
	t.Parallel()

	fake, _, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, outer, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	ctx, inner, err := tm.GetTransaction(ctx, &transaction.Definition{Propagation: transaction.PropagationMandatory})
	require.NoError(t, err)
	assert.False(t, inner.IsNewTransaction())

	exec(t, ctx, factory, "UPDATE accounts SET balance = 0")

	require.NoError(t, tm.Rollback(ctx, inner))

	err = tm.Commit(ctx, outer)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)

	assert.Equal(t, []string{
		"begin:1:Default:ro=false",
		"exec:1:tx:UPDATE accounts SET balance = 0",
		"rollback:1",
	}, fake.Events())
}

func TestTransactionManager_RequiresNewUsesSecondConnection(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, outer, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	ctx, inner, err := tm.GetTransaction(ctx, &transaction.Definition{Propagation: transaction.PropagationRequiresNew})
	require.NoError(t, err)
	assert.Equal(t, 2, db.Stats().InUse)

	exec(t, ctx, factory, "INSERT INTO audit VALUES (1)")
	require.NoError(t, tm.Commit(ctx, inner))
	assert.Equal(t, 1, db.Stats().InUse)

	exec(t, ctx, factory, "INSERT INTO ledger VALUES (1)")
	require.NoError(t, tm.Commit(ctx, outer))
	assert.Equal(t, 0, db.Stats().InUse)

	assert.Equal(t, []string{
		"begin:1:Default:ro=false",
		"begin:2:Default:ro=false",
		"exec:2:tx:INSERT INTO audit VALUES (1)",
		"commit:2",
		"exec:1:tx:INSERT INTO ledger VALUES (1)",
		"commit:1",
	}, fake.Events())
}

func TestTransactionManager_NestedUsesSavepoints(t *testing.T) {
	t.Parallel()

	fake, _, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	nested := &transaction.Definition{Propagation: transaction.PropagationNested}

	ctx, outer, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	ctx, first, err := tm.GetTransaction(ctx, nested)
	require.NoError(t, err)
	assert.True(t, first.HasSavepoint())

	exec(t, ctx, factory, "INSERT INTO ledger VALUES (1)")
	require.NoError(t, tm.Rollback(ctx, first))

	ctx, second, err := tm.GetTransaction(ctx, nested)
	require.NoError(t, err)

	exec(t, ctx, factory, "INSERT INTO ledger VALUES (2)")
	require.NoError(t, tm.Commit(ctx, second))

	require.NoError(t, tm.Commit(ctx, outer))

	assert.Equal(t, []string{
		"begin:1:Default:ro=false",
		"exec:1:tx:SAVEPOINT SAVEPOINT_1",
		"exec:1:tx:INSERT INTO ledger VALUES (1)",
		"exec:1:tx:ROLLBACK TO SAVEPOINT SAVEPOINT_1",
		"exec:1:tx:RELEASE SAVEPOINT SAVEPOINT_1",
		"exec:1:tx:SAVEPOINT SAVEPOINT_2",
		"exec:1:tx:INSERT INTO ledger VALUES (2)",
		"exec:1:tx:RELEASE SAVEPOINT SAVEPOINT_2",
		"commit:1",
	}, fake.Events())
}

func TestTransactionManager_DeadlineMarksRollbackOnly(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, status, err := tm.GetTransaction(context.Background(), &transaction.Definition{Timeout: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	proxy, err := GetConn(ctx, factory)
	require.NoError(t, err)

	_, err = proxy.ExecContext(ctx, "UPDATE accounts SET balance = 0")
	require.ErrorIs(t, err, txsync.ErrDeadlineExceeded)
	ReleaseConn(ctx, proxy, factory)

	err = tm.Commit(ctx, status)
	require.ErrorIs(t, err, transaction.ErrUnexpectedRollback)

	assert.Equal(t, []string{"begin:1:Default:ro=false", "rollback:1"}, fake.Events())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestTransactionManager_DefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	_, _, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory, transaction.WithDefaultTimeout(time.Minute))
	require.NoError(t, err)

	ctx, status, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	holder := resource.HolderFor(ctx, factory)
	require.NotNil(t, holder)
	assert.True(t, holder.HasTimeout())

	require.NoError(t, tm.Commit(ctx, status))
}

func TestTransactionManager_BeginFailureReleasesConnection(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)
	errBegin := errors.New("too many transactions")
	fake.beginErr = errBegin

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, _, err := tm.GetTransaction(context.Background(), nil)
	require.ErrorIs(t, err, errBegin)
	require.ErrorIs(t, err, transaction.ErrTransactionSystem)

	assert.Equal(t, 0, db.Stats().InUse)
	assert.False(t, txsync.HasResource(ctx, factory))
	assert.False(t, txsync.IsSynchronizationActive(ctx))
}

func TestTransactionManager_CommitFailureReleasesConnection(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)
	errCommit := errors.New("serialization failure")
	fake.commitErr = errCommit

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, status, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	err = tm.Commit(ctx, status)
	require.ErrorIs(t, err, errCommit)

	assert.Equal(t, 0, db.Stats().InUse)
	assert.False(t, txsync.HasResource(ctx, factory))
}

func TestTransactionManager_SavepointFailure(t *testing.T) {
	t.Parallel()

	fake, _, factory := newTestFactory(t)
	errSavepoint := errors.New("savepoints disabled")
	fake.execErr = map[string]error{"SAVEPOINT SAVEPOINT_1": errSavepoint}

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	ctx, outer, err := tm.GetTransaction(context.Background(), nil)
	require.NoError(t, err)

	_, _, err = tm.GetTransaction(ctx, &transaction.Definition{Propagation: transaction.PropagationNested})
	require.ErrorIs(t, err, errSavepoint)

	require.NoError(t, tm.Rollback(ctx, outer))
}

func TestTransactionManager_WithTemplate(t *testing.T) {
	t.Parallel()

	fake, db, factory := newTestFactory(t)

	tm, err := NewTransactionManager(factory)
	require.NoError(t, err)

	tmpl, err := transaction.NewTemplate(tm)
	require.NoError(t, err)

	errInsufficient := errors.New("insufficient funds")

	_, err = tmpl.Execute(context.Background(), nil, func(ctx context.Context, _ transaction.Status) (any, error) {
		exec(t, ctx, factory, "UPDATE accounts SET balance = balance - 10")

		return nil, errInsufficient
	})
	require.ErrorIs(t, err, errInsufficient)

	total, err := transaction.InTransaction(context.Background(), tmpl, nil, func(ctx context.Context, _ transaction.Status) (int64, error) {
		proxy, err := GetConn(ctx, factory)
		if err != nil {
			return 0, err
		}
		defer ReleaseConn(ctx, proxy, factory)

		var n int64
		err = proxy.QueryRowContext(ctx, "SELECT n FROM totals").Scan(&n)

		return n, err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	assert.Equal(t, []string{
		"begin:1:Default:ro=false",
		"exec:1:tx:UPDATE accounts SET balance = balance - 10",
		"rollback:1",
		"begin:1:Default:ro=false",
		"query:1:tx:SELECT n FROM totals",
		"commit:1",
	}, fake.Events())
	assert.Equal(t, 0, db.Stats().InUse)
}
