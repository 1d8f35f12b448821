//go:build unit

package interceptor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

type fakeStatus struct {
	name         string
	rollbackOnly bool
	completed    bool
}

func (s *fakeStatus) IsNewTransaction() bool { return true }
func (s *fakeStatus) HasSavepoint() bool     { return false }
func (s *fakeStatus) SetRollbackOnly()       { s.rollbackOnly = true }
func (s *fakeStatus) IsRollbackOnly() bool   { return s.rollbackOnly }
func (s *fakeStatus) IsCompleted() bool      { return s.completed }
func (s *fakeStatus) Name() string           { return s.name }

// fakeManager is a plain manager recording what it was asked to do.
type fakeManager struct {
	mu          sync.Mutex
	events      []string
	beginErr    error
	commitErr   error
	rollbackErr error
}

func (m *fakeManager) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, fmt.Sprintf(format, args...))
}

func (m *fakeManager) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.events...)
}

func (m *fakeManager) GetTransaction(ctx context.Context, def *transaction.Definition) (context.Context, transaction.Status, error) {
	if m.beginErr != nil {
		return ctx, nil, m.beginErr
	}

	m.record("begin:%s", def.Name)

	return txsync.EnsureContext(ctx), &fakeStatus{name: def.Name}, nil
}

func (m *fakeManager) Commit(_ context.Context, status transaction.Status) error {
	fs := status.(*fakeStatus)
	fs.completed = true

	if fs.rollbackOnly {
		m.record("rollback:%s", fs.name)

		return nil
	}

	m.record("commit:%s", fs.name)

	return m.commitErr
}

func (m *fakeManager) Rollback(_ context.Context, status transaction.Status) error {
	fs := status.(*fakeStatus)
	fs.completed = true
	m.record("rollback:%s", fs.name)

	return m.rollbackErr
}

// fakeCallbackManager runs callbacks itself and commits unless the callback
// returned an error.
type fakeCallbackManager struct {
	fakeManager
}

func (m *fakeCallbackManager) Execute(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	ctx, status, err := m.GetTransaction(ctx, def)
	if err != nil {
		return nil, err
	}

	result, err := callback(ctx, status)
	if err != nil {
		_ = m.Rollback(ctx, status)

		return nil, err
	}

	if err := m.Commit(ctx, status); err != nil {
		return nil, err
	}

	return result, nil
}

// retryingCallbackManager runs the callback again after each simulated
// conflict, like an optimistic manager whose watched keys changed.
type retryingCallbackManager struct {
	fakeManager
	conflicts int
	attempts  atomic.Int32
}

func (m *retryingCallbackManager) Execute(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	for {
		attempt := int(m.attempts.Add(1))

		txCtx, status, err := m.GetTransaction(ctx, def)
		if err != nil {
			return nil, err
		}

		result, err := callback(txCtx, status)
		if err != nil {
			_ = m.Rollback(txCtx, status)

			return nil, err
		}

		if attempt <= m.conflicts {
			m.record("conflict:%d", attempt)

			continue
		}

		if err := m.Commit(txCtx, status); err != nil {
			return nil, err
		}

		return result, nil
	}
}
