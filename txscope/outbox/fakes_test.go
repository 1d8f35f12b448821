//go:build unit

package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"github.com/google/uuid"
)

// unitManager runs callbacks in a fresh synchronized scope and drives the
// completion callbacks the way a real manager does.
type unitManager struct {
	mu       sync.Mutex
	executed []string
}

func (m *unitManager) Execute(ctx context.Context, def *transaction.Definition, callback transaction.TransactionCallback) (any, error) {
	readOnly := false
	if def != nil {
		readOnly = def.ReadOnly

		m.mu.Lock()
		m.executed = append(m.executed, def.Name)
		m.mu.Unlock()
	}

	ctx = txsync.Detach(ctx)
	if err := txsync.InitSynchronization(ctx); err != nil {
		return nil, err
	}

	complete := func(status txsync.CompletionStatus) {
		syncs, _ := txsync.Synchronizations(ctx)
		txsync.Clear(ctx)
		_ = txsync.InvokeAfterCompletion(ctx, syncs, status)
	}

	result, err := callback(ctx, nil)
	if err != nil {
		_ = txsync.TriggerBeforeCompletion(ctx)
		complete(txsync.StatusRolledBack)

		return nil, err
	}

	if err := txsync.TriggerBeforeCommit(ctx, readOnly); err != nil {
		_ = txsync.TriggerBeforeCompletion(ctx)
		complete(txsync.StatusRolledBack)

		return nil, err
	}

	_ = txsync.TriggerBeforeCompletion(ctx)
	_ = txsync.TriggerAfterCommit(ctx)
	complete(txsync.StatusCommitted)

	return result, nil
}

func (m *unitManager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.executed)
}

type memRepository struct {
	mu        sync.Mutex
	events    []*Event
	inserts   int
	insertErr error
	claimErr  error
}

func (r *memRepository) Insert(_ context.Context, events []*Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insertErr != nil {
		return r.insertErr
	}

	r.inserts++

	for _, event := range events {
		stored := *event
		stored.Status = StatusPending
		r.events = append(r.events, &stored)
	}

	return nil
}

func (r *memRepository) ClaimPending(_ context.Context, limit, maxAttempts int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.claimErr != nil {
		return nil, r.claimErr
	}

	var claimed []*Event

	for _, event := range r.events {
		if len(claimed) == limit {
			break
		}

		if (event.Status == StatusPending || event.Status == StatusFailed) && event.Attempts < maxAttempts {
			event.Status = StatusProcessing
			event.Attempts++

			copied := *event
			claimed = append(claimed, &copied)
		}
	}

	return claimed, nil
}

func (r *memRepository) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(event *Event) {
		event.Status = StatusPublished
		event.PublishedAt = &at
	})
}

func (r *memRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	return r.update(id, func(event *Event) {
		event.LastError = errMsg
		event.Status = StatusFailed

		if event.Attempts >= maxAttempts {
			event.Status = StatusInvalid
		}
	})
}

func (r *memRepository) update(id uuid.UUID, fn func(*Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range r.events {
		if event.ID == id {
			fn(event)
		}
	}

	return nil
}

func (r *memRepository) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Status)
	}

	return out
}

func (r *memRepository) insertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inserts
}
