package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// WriterOrder places the writer's synchronization ahead of resource
// synchronizations, so events are inserted while the connection is bound.
const WriterOrder = 0

// Writer buffers events for the unit of work of ctx and inserts them when
// it commits. Events enqueued in a unit of work that rolls back are
// dropped.
type Writer struct {
	repo        Repository
	afterCommit func()
	logger      log.Logger
}

type WriterOption func(*Writer)

// WithAfterCommit sets a hook run once the unit of work that stored events
// has committed. Dispatcher.Wake is the usual choice.
func WithAfterCommit(hook func()) WriterOption {
	return func(w *Writer) {
		w.afterCommit = hook
	}
}

func WithWriterLogger(logger log.Logger) WriterOption {
	return func(w *Writer) {
		if !nilcheck.Interface(logger) {
			w.logger = logger
		}
	}
}

func NewWriter(repo Repository, opts ...WriterOption) (*Writer, error) {
	if nilcheck.Interface(repo) {
		return nil, ErrRepositoryRequired
	}

	w := &Writer{repo: repo}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	return w, nil
}

// pending is the per-unit buffer, bound under its Writer.
type pending struct {
	mu     sync.Mutex
	events []*Event
}

func (p *pending) add(events []*Event) {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
}

func (p *pending) take() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := p.events
	p.events = nil

	return events
}

// Enqueue adds events to the unit of work of ctx. It fails with
// ErrNoUnitOfWork when synchronization is not active.
func (w *Writer) Enqueue(ctx context.Context, events ...*Event) error {
	for _, event := range events {
		if event == nil {
			return ErrEventRequired
		}
	}

	if !txsync.IsSynchronizationActive(ctx) {
		return ErrNoUnitOfWork
	}

	if buffer, ok := txsync.GetResource(ctx, w).(*pending); ok {
		buffer.add(events)

		return nil
	}

	buffer := &pending{}
	buffer.add(events)

	if err := txsync.BindResource(ctx, w, buffer); err != nil {
		return err
	}

	if err := txsync.RegisterSynchronization(ctx, w.synchronization(buffer)); err != nil {
		txsync.UnbindResourceIfPossible(ctx, w)

		return err
	}

	return nil
}

func (w *Writer) loggerFor(ctx context.Context) log.Logger {
	if w.logger != nil {
		return w.logger
	}

	return txscope.LoggerFromContext(ctx)
}

func (w *Writer) synchronization(buffer *pending) txsync.Synchronization {
	var stored int

	return &txsync.SynchronizationFuncs{
		OrderValue: WriterOrder,
		OnSuspend: func(ctx context.Context) error {
			txsync.UnbindResourceIfPossible(ctx, w)

			return nil
		},
		OnResume: func(ctx context.Context) error {
			return txsync.BindResource(ctx, w, buffer)
		},
		OnBeforeCommit: func(ctx context.Context, readOnly bool) error {
			events := buffer.take()
			if len(events) == 0 {
				return nil
			}

			if readOnly {
				return fmt.Errorf("%w: %d events", ErrReadOnlyUnitOfWork, len(events))
			}

			if err := w.repo.Insert(ctx, events); err != nil {
				return err
			}

			stored = len(events)

			return nil
		},
		OnAfterCommit: func(ctx context.Context) error {
			if stored == 0 || w.afterCommit == nil {
				return nil
			}

			w.loggerFor(ctx).Log(ctx, log.LevelDebug, "outbox events committed", log.Int("events", stored))
			w.afterCommit()

			return nil
		},
		OnAfterCompletion: func(ctx context.Context, _ txsync.CompletionStatus) error {
			txsync.UnbindResourceIfPossible(ctx, w)
			buffer.take()

			return nil
		},
	}
}
