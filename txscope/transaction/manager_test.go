//go:build unit

package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errBeginFailed    = errors.New("begin failed")
	errCommitFailed   = errors.New("commit failed")
	errRollbackFailed = errors.New("rollback failed")
	errHookFailed     = errors.New("hook failed")
)

func newTestManager(t *testing.T, driver Driver, opts ...ManagerOption) *Manager {
	t.Helper()

	m, err := NewManager(driver, opts...)
	require.NoError(t, err)

	return m
}

func begin(t *testing.T, m *Manager, ctx context.Context, def *Definition) (context.Context, *DefaultStatus) {
	t.Helper()

	txCtx, status, err := m.GetTransaction(ctx, def)
	require.NoError(t, err)

	return txCtx, status.(*DefaultStatus)
}

func recordingSync(driver *fakeDriver, name string) *txsync.SynchronizationFuncs {
	return &txsync.SynchronizationFuncs{
		OnSuspend:          func(context.Context) error { driver.record("%s:suspend", name); return nil },
		OnResume:           func(context.Context) error { driver.record("%s:resume", name); return nil },
		OnBeforeCommit:     func(context.Context, bool) error { driver.record("%s:before_commit", name); return nil },
		OnBeforeCompletion: func(context.Context) error { driver.record("%s:before_completion", name); return nil },
		OnAfterCommit:      func(context.Context) error { driver.record("%s:after_commit", name); return nil },
		OnAfterCompletion: func(_ context.Context, status txsync.CompletionStatus) error {
			driver.record("%s:after_completion:%s", name, status)
			return nil
		},
	}
}

func TestNewManager_NilDriver(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil)
	require.ErrorIs(t, err, ErrNilDriver)
}

func TestManager_RequiredCreatesAndCommits(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), &Definition{Name: "svc.Transfer", ReadOnly: true})

	assert.True(t, status.IsNewTransaction())
	assert.True(t, txsync.IsSynchronizationActive(ctx))
	assert.True(t, txsync.IsActualTransactionActive(ctx))
	assert.True(t, txsync.IsCurrentTransactionReadOnly(ctx))
	assert.Equal(t, "svc.Transfer", txsync.CurrentTransactionName(ctx))
	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

	require.NoError(t, m.Commit(ctx, status))

	assert.Equal(t, []string{
		"begin:1",
		"s:before_commit",
		"s:before_completion",
		"commit:1",
		"s:after_commit",
		"s:after_completion:committed",
		"cleanup:1",
	}, driver.Events())

	assert.True(t, status.IsCompleted())
	assert.False(t, txsync.IsSynchronizationActive(ctx))
	assert.False(t, txsync.IsActualTransactionActive(ctx))
	assert.Empty(t, txsync.CurrentTransactionName(ctx))
	assert.False(t, txsync.HasResource(ctx, driver))

	require.ErrorIs(t, m.Commit(ctx, status), ErrTransactionCompleted)
	require.ErrorIs(t, m.Rollback(ctx, status), ErrTransactionCompleted)
}

func TestManager_RequiredJoinsExisting(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), nil)
	ctx, inner := begin(t, m, ctx, &Definition{Propagation: PropagationRequired})

	assert.False(t, inner.IsNewTransaction())
	assert.False(t, inner.IsNewSynchronization())

	require.NoError(t, m.Commit(ctx, inner))
	assert.True(t, txsync.IsSynchronizationActive(ctx))

	require.NoError(t, m.Commit(ctx, outer))

	assert.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, driver.Events())
}

func TestManager_ParticipantRollbackMakesOuterCommitFail(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), nil)
	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

	ctx, inner := begin(t, m, ctx, nil)
	require.NoError(t, m.Rollback(ctx, inner))

	assert.True(t, outer.IsGlobalRollbackOnly())

	err := m.Commit(ctx, outer)
	require.ErrorIs(t, err, ErrUnexpectedRollback)

	assert.Equal(t, []string{
		"begin:1",
		"set_rollback_only:1",
		"s:before_completion",
		"rollback:1",
		"s:after_completion:rolled_back",
		"cleanup:1",
	}, driver.Events())
}

func TestManager_ParticipantRollbackWithoutGlobalMarking(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver, WithGlobalRollbackOnParticipationFailure(false))

	ctx, outer := begin(t, m, context.Background(), nil)
	ctx, inner := begin(t, m, ctx, nil)

	require.NoError(t, m.Rollback(ctx, inner))
	require.NoError(t, m.Commit(ctx, outer))

	assert.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, driver.Events())
}

func TestManager_FailEarlyOnGlobalRollbackOnly(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver, WithFailEarlyOnGlobalRollbackOnly(true))

	ctx, outer := begin(t, m, context.Background(), nil)
	ctx, first := begin(t, m, ctx, nil)
	require.NoError(t, m.Rollback(ctx, first))

	ctx, second := begin(t, m, ctx, nil)
	require.ErrorIs(t, m.Commit(ctx, second), ErrUnexpectedRollback)

	require.ErrorIs(t, m.Commit(ctx, outer), ErrUnexpectedRollback)
}

func TestManager_LocalRollbackOnlyRollsBackSilently(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), nil)
	status.SetRollbackOnly()

	require.NoError(t, m.Commit(ctx, status))
	assert.Equal(t, []string{"begin:1", "rollback:1", "cleanup:1"}, driver.Events())
}

func TestManager_Mandatory(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	_, _, err := m.GetTransaction(context.Background(), &Definition{Propagation: PropagationMandatory})
	require.ErrorIs(t, err, ErrNoExistingTransaction)

	ctx, outer := begin(t, m, context.Background(), nil)
	ctx, inner := begin(t, m, ctx, &Definition{Propagation: PropagationMandatory})

	assert.False(t, inner.IsNewTransaction())
	require.NoError(t, m.Commit(ctx, inner))
	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_Never(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), &Definition{Propagation: PropagationNever})
	assert.False(t, status.HasTransaction())
	assert.True(t, txsync.IsSynchronizationActive(ctx))
	assert.False(t, txsync.IsActualTransactionActive(ctx))
	require.NoError(t, m.Commit(ctx, status))
	assert.False(t, txsync.IsSynchronizationActive(ctx))

	ctx, outer := begin(t, m, context.Background(), nil)
	_, _, err := m.GetTransaction(ctx, &Definition{Propagation: PropagationNever})
	require.ErrorIs(t, err, ErrExistingTransaction)
	require.NoError(t, m.Commit(ctx, outer))

	assert.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, driver.Events())
}

func TestManager_SupportsWithoutTransaction(t *testing.T) {
	t.Parallel()

	t.Run("synchronization always", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(t, &fakeDriver{})
		ctx, status := begin(t, m, context.Background(), &Definition{Propagation: PropagationSupports})

		assert.False(t, status.IsNewTransaction())
		assert.True(t, status.IsNewSynchronization())
		assert.True(t, txsync.IsSynchronizationActive(ctx))
		require.NoError(t, m.Rollback(ctx, status))
	})

	t.Run("synchronization on actual transaction", func(t *testing.T) {
		t.Parallel()

		m := newTestManager(t, &fakeDriver{}, WithSynchronization(SynchronizationOnActualTransaction))
		ctx, status := begin(t, m, context.Background(), &Definition{Propagation: PropagationSupports})

		assert.False(t, txsync.IsSynchronizationActive(ctx))
		require.NoError(t, m.Commit(ctx, status))
	})
}

func TestManager_SynchronizationNever(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver, WithSynchronization(SynchronizationNever))

	ctx, status := begin(t, m, context.Background(), nil)
	assert.True(t, status.IsNewTransaction())
	assert.False(t, txsync.IsSynchronizationActive(ctx))

	require.NoError(t, m.Commit(ctx, status))
	assert.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, driver.Events())
}

func TestManager_RequiresNewSuspendsOuter(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), &Definition{Name: "outer"})
	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "outer")))

	outerHolder := txsync.GetResource(ctx, driver)

	ctx, inner := begin(t, m, ctx, &Definition{Propagation: PropagationRequiresNew, Name: "inner"})

	assert.True(t, inner.IsNewTransaction())
	assert.Equal(t, "inner", txsync.CurrentTransactionName(ctx))
	assert.NotSame(t, outerHolder, txsync.GetResource(ctx, driver))

	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "inner")))
	require.NoError(t, m.Commit(ctx, inner))

	assert.Same(t, outerHolder, txsync.GetResource(ctx, driver))
	assert.Equal(t, "outer", txsync.CurrentTransactionName(ctx))
	assert.True(t, txsync.IsActualTransactionActive(ctx))

	require.NoError(t, m.Commit(ctx, outer))

	assert.Equal(t, []string{
		"begin:1",
		"outer:suspend",
		"begin:2",
		"inner:before_commit",
		"inner:before_completion",
		"commit:2",
		"inner:after_commit",
		"inner:after_completion:committed",
		"cleanup:2",
		"outer:resume",
		"outer:before_commit",
		"outer:before_completion",
		"commit:1",
		"outer:after_commit",
		"outer:after_completion:committed",
		"cleanup:1",
	}, driver.Events())
}

func TestManager_RequiresNewBeginFailureResumesOuter(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), &Definition{Name: "outer"})
	outerHolder := txsync.GetResource(ctx, driver)

	driver.beginErr = errBeginFailed

	_, _, err := m.GetTransaction(ctx, &Definition{Propagation: PropagationRequiresNew})
	require.ErrorIs(t, err, ErrTransactionSystem)
	require.ErrorIs(t, err, errBeginFailed)

	var sysErr *SystemError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, "begin", sysErr.Op)

	assert.Same(t, outerHolder, txsync.GetResource(ctx, driver))
	assert.True(t, txsync.IsSynchronizationActive(ctx))
	assert.Equal(t, "outer", txsync.CurrentTransactionName(ctx))

	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_NotSupportedSuspendsOuter(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), nil)
	ctx, inner := begin(t, m, ctx, &Definition{Propagation: PropagationNotSupported})

	assert.False(t, inner.HasTransaction())
	assert.False(t, txsync.HasResource(ctx, driver))
	assert.False(t, txsync.IsActualTransactionActive(ctx))
	assert.True(t, txsync.IsSynchronizationActive(ctx))

	require.NoError(t, m.Commit(ctx, inner))

	assert.True(t, txsync.HasResource(ctx, driver))
	assert.True(t, txsync.IsActualTransactionActive(ctx))

	require.NoError(t, m.Commit(ctx, outer))
	assert.Equal(t, []string{"begin:1", "commit:1", "cleanup:1"}, driver.Events())
}

func TestManager_NestedUsesSavepoints(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, outer := begin(t, m, context.Background(), nil)

	ctx, committed := begin(t, m, ctx, &Definition{Propagation: PropagationNested})
	assert.True(t, committed.HasSavepoint())
	assert.True(t, committed.IsNested())
	require.NoError(t, m.Commit(ctx, committed))

	ctx, rolledBack := begin(t, m, ctx, &Definition{Propagation: PropagationNested})
	require.NoError(t, m.Rollback(ctx, rolledBack))

	require.NoError(t, m.Commit(ctx, outer))

	assert.Equal(t, []string{
		"begin:1",
		"savepoint:sp1",
		"release:sp1",
		"savepoint:sp2",
		"rollback_to:sp2",
		"release:sp2",
		"commit:1",
		"cleanup:1",
	}, driver.Events())
}

func TestManager_NestedWithoutTransactionBeginsNew(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), &Definition{Propagation: PropagationNested})
	assert.True(t, status.IsNewTransaction())
	assert.False(t, status.HasSavepoint())
	require.NoError(t, m.Commit(ctx, status))
}

func TestManager_NestedNotSupported(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, noSavepointDriver{Driver: driver})

	ctx, outer := begin(t, m, context.Background(), nil)

	_, _, err := m.GetTransaction(ctx, &Definition{Propagation: PropagationNested})
	require.ErrorIs(t, err, ErrNestedNotSupported)

	require.NoError(t, m.Commit(ctx, outer))
}

func TestManager_InvalidDefinition(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{})

	_, _, err := m.GetTransaction(context.Background(), &Definition{Timeout: -time.Second})
	require.ErrorIs(t, err, ErrInvalidTimeout)

	_, _, err = m.GetTransaction(context.Background(), &Definition{Propagation: Propagation(99)})
	require.ErrorIs(t, err, ErrInvalidAttributes)
}

func TestManager_DefaultTimeout(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver, WithDefaultTimeout(30*time.Second))

	ctx, status := begin(t, m, context.Background(), nil)
	assert.Equal(t, 30*time.Second, driver.lastTimeout)
	require.NoError(t, m.Commit(ctx, status))

	ctx, status = begin(t, m, context.Background(), &Definition{Timeout: time.Second})
	assert.Equal(t, time.Second, driver.lastTimeout)
	require.NoError(t, m.Commit(ctx, status))
}

func TestManager_CommitFailure(t *testing.T) {
	t.Parallel()

	t.Run("reports unknown outcome", func(t *testing.T) {
		t.Parallel()

		driver := &fakeDriver{commitErr: errCommitFailed}
		m := newTestManager(t, driver)

		ctx, status := begin(t, m, context.Background(), nil)
		require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

		err := m.Commit(ctx, status)
		require.ErrorIs(t, err, errCommitFailed)
		require.ErrorIs(t, err, ErrTransactionSystem)

		assert.Contains(t, driver.Events(), "s:after_completion:unknown")
		assert.True(t, status.IsCompleted())
	})

	t.Run("rolls back when configured", func(t *testing.T) {
		t.Parallel()

		driver := &fakeDriver{commitErr: errCommitFailed}
		m := newTestManager(t, driver, WithRollbackOnCommitFailure(true))

		ctx, status := begin(t, m, context.Background(), nil)
		require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

		require.ErrorIs(t, m.Commit(ctx, status), errCommitFailed)
		assert.Contains(t, driver.Events(), "rollback:1")
		assert.Contains(t, driver.Events(), "s:after_completion:rolled_back")
	})
}

func TestManager_BeforeCommitFailureRollsBack(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), nil)
	sync := recordingSync(driver, "s")
	sync.OnBeforeCommit = func(context.Context, bool) error { return errHookFailed }
	require.NoError(t, txsync.RegisterSynchronization(ctx, sync))

	err := m.Commit(ctx, status)
	require.ErrorIs(t, err, errHookFailed)

	assert.Equal(t, []string{
		"begin:1",
		"s:before_completion",
		"rollback:1",
		"s:after_completion:rolled_back",
		"cleanup:1",
	}, driver.Events())
}

func TestManager_AfterCompletionFailureDoesNotFailCommit(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), nil)

	calls := 0
	failing := &txsync.SynchronizationFuncs{OnAfterCompletion: func(context.Context, txsync.CompletionStatus) error {
		calls++
		return errHookFailed
	}}
	require.NoError(t, txsync.RegisterSynchronization(ctx, failing))
	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

	require.NoError(t, m.Commit(ctx, status))
	assert.Equal(t, 1, calls)
	assert.Contains(t, driver.Events(), "s:after_completion:committed")
}

func TestManager_RollbackFailure(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{rollbackErr: errRollbackFailed}
	m := newTestManager(t, driver)

	ctx, status := begin(t, m, context.Background(), nil)
	require.NoError(t, txsync.RegisterSynchronization(ctx, recordingSync(driver, "s")))

	err := m.Rollback(ctx, status)
	require.ErrorIs(t, err, errRollbackFailed)
	require.ErrorIs(t, err, ErrTransactionSystem)
	assert.Contains(t, driver.Events(), "s:after_completion:unknown")
	assert.Contains(t, driver.Events(), "cleanup:1")
}

func TestManager_ValidateExistingTransaction(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{}, WithValidateExistingTransaction(true))

	ctx, outer := begin(t, m, context.Background(), &Definition{ReadOnly: true, Isolation: IsolationSerializable})

	_, _, err := m.GetTransaction(ctx, &Definition{ReadOnly: false})
	require.ErrorIs(t, err, ErrIllegalTransactionState)

	_, _, err = m.GetTransaction(ctx, &Definition{ReadOnly: true, Isolation: IsolationReadCommitted})
	require.ErrorIs(t, err, ErrIllegalTransactionState)

	ctx, inner := begin(t, m, ctx, &Definition{ReadOnly: true, Isolation: IsolationSerializable})
	require.NoError(t, m.Commit(ctx, inner))
	require.NoError(t, m.Commit(ctx, outer))
}

type foreignStatus struct{ DefaultStatus }

func TestManager_RejectsForeignStatus(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{})

	require.ErrorIs(t, m.Commit(context.Background(), &foreignStatus{}), ErrIllegalTransactionState)
	require.ErrorIs(t, m.Rollback(context.Background(), nil), ErrIllegalTransactionState)
}

func TestManager_ConcurrentScopes(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	m := newTestManager(t, driver)

	const workers = 32

	errs := make(chan error, workers)

	for range workers {
		go func() {
			ctx, status, err := m.GetTransaction(context.Background(), nil)
			if err != nil {
				errs <- err
				return
			}

			innerCtx, inner, err := m.GetTransaction(ctx, nil)
			if err != nil {
				errs <- err
				return
			}

			if inner.IsNewTransaction() {
				errs <- errors.New("inner call did not join its own scope's transaction")
				return
			}

			if err := m.Commit(innerCtx, inner); err != nil {
				errs <- err
				return
			}

			errs <- m.Commit(ctx, status)
		}()
	}

	for range workers {
		require.NoError(t, <-errs)
	}

	assert.Len(t, driver.Events(), workers*3)
}
