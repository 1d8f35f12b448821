package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const labelUnknownCommitResult = "UnknownTransactionCommitResult"

// Session is the part of mongo.Session the transaction driver uses.
type Session interface {
	StartTransaction(opts ...*options.TransactionOptions) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// SessionStarter opens a client session.
type SessionStarter func(ctx context.Context) (Session, error)

// FromClient starts sessions on client.
func FromClient(client *mongo.Client, opts ...*options.SessionOptions) (SessionStarter, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return func(context.Context) (Session, error) {
		s, err := client.StartSession(opts...)
		if err != nil {
			return nil, fmt.Errorf("starting mongodb session: %w", err)
		}

		return s, nil
	}, nil
}

// SessionHandle is a client session and the transaction running on it, if
// any. It is the resource.Handle this package binds.
type SessionHandle struct {
	mu      sync.Mutex
	session Session
	inTx    bool
	ended   bool
}

// Session returns the underlying session.
//
//nolint:ireturn
func (h *SessionHandle) Session() Session {
	return h.session
}

// InTransaction reports whether a transaction is running on the session.
func (h *SessionHandle) InTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.inTx
}

func (h *SessionHandle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ended
}

func (h *SessionHandle) begin(opts *options.TransactionOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ended {
		return ErrSessionEnded
	}

	if err := h.session.StartTransaction(opts); err != nil {
		return fmt.Errorf("starting mongodb transaction: %w", err)
	}

	h.inTx = true

	return nil
}

// commit retries while the server cannot tell whether the commit applied.
// The transaction counts as finished after the last attempt either way:
// aborting after a commit attempt is refused by the driver.
func (h *SessionHandle) commit(ctx context.Context, attempts int, onRetry func(attempt int, err error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.inTx {
		return ErrNoTransaction
	}

	defer func() { h.inTx = false }()

	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		err = h.session.CommitTransaction(ctx)
		if err == nil || !hasErrorLabel(err, labelUnknownCommitResult) || ctx.Err() != nil {
			break
		}

		if attempt < attempts && onRetry != nil {
			onRetry(attempt, err)
		}
	}

	if err != nil {
		return fmt.Errorf("committing mongodb transaction: %w", err)
	}

	return nil
}

func (h *SessionHandle) abort(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.inTx {
		return ErrNoTransaction
	}

	h.inTx = false

	if err := h.session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("aborting mongodb transaction: %w", err)
	}

	return nil
}

// Close ends the session. A transaction still running is aborted by the
// server.
func (h *SessionHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ended {
		return nil
	}

	h.ended = true
	h.inTx = false
	h.session.EndSession(context.Background())

	return nil
}

type labeledError interface {
	HasErrorLabel(label string) bool
}

func hasErrorLabel(err error, label string) bool {
	var labeled labeledError
	if errors.As(err, &labeled) {
		return labeled.HasErrorLabel(label)
	}

	return false
}

// Factory starts sessions. A *Factory is the key its sessions are bound
// under, so use one Factory per client.
type Factory struct {
	start SessionStarter
	name  string
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithName labels the factory in logs and errors.
func WithName(name string) FactoryOption {
	return func(f *Factory) {
		f.name = name
	}
}

func NewFactory(start SessionStarter, opts ...FactoryOption) (*Factory, error) {
	if start == nil {
		return nil, ErrNilStarter
	}

	f := &Factory{start: start, name: "mongodb"}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f, nil
}

// NewHandle starts a session.
//
//nolint:ireturn
func (f *Factory) NewHandle(ctx context.Context) (resource.Handle, error) {
	if f == nil {
		return nil, ErrNilFactory
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := f.start(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	if s == nil {
		return nil, fmt.Errorf("%s: %w", f.name, ErrNilClient)
	}

	return &SessionHandle{session: s}, nil
}

func (f *Factory) String() string {
	return f.name
}

// GetSession returns the session bound for factory in ctx, or starts one.
// Inside an active unit of work without a transaction the session is bound
// until the unit completes, so reads within it are causally consistent.
// Pair every call with ReleaseSession.
func GetSession(ctx context.Context, factory *Factory) (*SessionHandle, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	h, err := resource.Acquire(ctx, factory)
	if err != nil {
		return nil, err
	}

	sh, ok := resource.Unwrap(h).(*SessionHandle)
	if !ok {
		resource.Release(ctx, h, factory)

		return nil, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}

	return sh, nil
}

// ReleaseSession ends sh unless it is bound to the unit of work in ctx.
func ReleaseSession(ctx context.Context, sh *SessionHandle, factory *Factory) {
	if sh == nil || factory == nil {
		return
	}

	resource.Release(ctx, sh, factory)
}

// CurrentSession returns the session bound for factory in ctx, if any.
//
//nolint:ireturn
func CurrentSession(ctx context.Context, factory *Factory) (Session, bool) {
	if factory == nil {
		return nil, false
	}

	holder := resource.HolderFor(ctx, factory)
	if holder == nil || !holder.HasHandle() {
		return nil, false
	}

	sh, ok := resource.Unwrap(holder.Handle()).(*SessionHandle)
	if !ok {
		return nil, false
	}

	return sh.session, true
}

// WithSession prepares ctx for driver calls. When a mongo session is bound
// for factory, operations given the returned context run in it and in its
// transaction. Otherwise ctx comes back unchanged.
func WithSession(ctx context.Context, factory *Factory) context.Context {
	s, ok := CurrentSession(ctx, factory)
	if !ok {
		return ctx
	}

	ms, ok := s.(mongo.Session)
	if !ok {
		return ctx
	}

	return mongo.NewSessionContext(ctx, ms)
}
