package redis

import (
	"context"
	"slices"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
	"github.com/redis/go-redis/v9"
)

// Write is a command queued for the EXEC of a Tx.
type Write func(p redis.Pipeliner) error

// Tx is the optimistic transaction bound while a WatchManager callback
// runs. Reads go through Reader; writes are queued and only sent when the
// transaction commits.
type Tx struct {
	txsync.HolderSupport

	reader   *redis.Tx
	readOnly bool

	mu        sync.Mutex
	writes    []Write
	completed bool
}

func newTx(reader *redis.Tx, readOnly bool) *Tx {
	tx := &Tx{reader: reader, readOnly: readOnly}
	tx.SetSynchronizedWithTransaction(true)

	return tx
}

// Reader returns the watching connection. Commands sent on it run
// immediately, outside MULTI.
func (t *Tx) Reader() *redis.Tx {
	return t.reader
}

// Watch adds keys to the watched set. A key changed by someone else before
// EXEC aborts the attempt.
func (t *Tx) Watch(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return t.reader.Watch(ctx, keys...).Err()
}

// Queue appends w to the writes executed at commit.
func (t *Tx) Queue(w Write) error {
	if w == nil {
		return ErrNilWrite
	}

	if t.readOnly {
		return ErrReadOnlyWrites
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return ErrTxCompleted
	}

	t.writes = append(t.writes, w)

	return nil
}

// Queued returns how many writes wait for commit.
func (t *Tx) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.writes)
}

func (t *Tx) IsReadOnly() bool {
	return t.readOnly
}

// drain completes the transaction and hands over its writes.
func (t *Tx) drain() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()

	writes := t.writes
	t.writes = nil
	t.completed = true

	return writes
}

// TxFromContext returns the transaction bound by manager in ctx.
func TxFromContext(ctx context.Context, manager *WatchManager) (*Tx, bool) {
	if manager == nil {
		return nil, false
	}

	tx, ok := txsync.GetResource(ctx, manager).(*Tx)

	return tx, ok && tx != nil
}

type watchKeysKey struct{}

// WithWatchKeys returns a context naming keys to WATCH when a WatchManager
// starts a transaction. Keys accumulate across calls.
func WithWatchKeys(ctx context.Context, keys ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	merged := slices.Concat(watchKeys(ctx), keys)

	return context.WithValue(ctx, watchKeysKey{}, merged)
}

func watchKeys(ctx context.Context) []string {
	keys, _ := ctx.Value(watchKeysKey{}).([]string)

	return keys
}

// watchStatus is the transaction.Status handed to callbacks.
type watchStatus struct {
	tx             *Tx
	newTransaction bool
	name           string

	mu           sync.Mutex
	rollbackOnly bool
	completed    bool
}

func (s *watchStatus) IsNewTransaction() bool {
	return s.tx != nil && s.newTransaction
}

func (s *watchStatus) HasSavepoint() bool {
	return false
}

func (s *watchStatus) SetRollbackOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollbackOnly = true
}

func (s *watchStatus) isLocalRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollbackOnly
}

// IsRollbackOnly also reports a participant having doomed the transaction.
func (s *watchStatus) IsRollbackOnly() bool {
	return s.isLocalRollbackOnly() || (s.tx != nil && s.tx.IsRollbackOnly())
}

func (s *watchStatus) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completed
}

func (s *watchStatus) setCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = true
}

func (s *watchStatus) Name() string {
	return s.name
}
