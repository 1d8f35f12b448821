package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/opentelemetry"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxLockTries = 1000

var (
	ErrEmptyLockKey     = errors.New("lock key cannot be empty")
	ErrLockTaken        = errors.New("lock is held by someone else")
	ErrLockNotHeld      = errors.New("lock was not held or already expired")
	ErrInvalidLockOpts  = errors.New("invalid lock options")
	ErrUnexpectedLock   = errors.New("handle is not a lock")
	ErrLockFactoryOwner = errors.New("lock belongs to another locker")
)

// LockOptions tune how a lock is taken.
type LockOptions struct {
	// Expiry is how long Redis keeps the lock if it is never released.
	Expiry time.Duration
	// Tries bounds acquisition attempts, 1 meaning no retry.
	Tries      int
	RetryDelay time.Duration
	// DriftFactor accounts for clock drift, in [0, 1).
	DriftFactor float64
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       3,
		RetryDelay:  500 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

func (o LockOptions) validate() error {
	switch {
	case o.Expiry <= 0:
		return fmt.Errorf("%w: expiry must be positive", ErrInvalidLockOpts)
	case o.Tries < 1 || o.Tries > maxLockTries:
		return fmt.Errorf("%w: tries must be within [1, %d]", ErrInvalidLockOpts, maxLockTries)
	case o.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidLockOpts)
	case o.DriftFactor < 0 || o.DriftFactor >= 1:
		return fmt.Errorf("%w: drift factor must be within [0, 1)", ErrInvalidLockOpts)
	}

	return nil
}

// Locker hands out distributed locks as resources. Taken inside a unit of
// work, a lock is held until the unit completes, and taking it again in
// the same unit returns the lock already held.
type Locker struct {
	rs        *redsync.Redsync
	opts      LockOptions
	factories sync.Map // key -> *LockFactory
}

func NewLocker(client *redis.Client, opts LockOptions) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Locker{rs: redsync.New(goredis.NewPool(client)), opts: opts}, nil
}

// Factory returns the factory of key. The same key always yields the same
// factory, so it can serve as the registry key of the lock.
func (l *Locker) Factory(key string) (*LockFactory, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyLockKey
	}

	if f, ok := l.factories.Load(key); ok {
		return f.(*LockFactory), nil
	}

	f, _ := l.factories.LoadOrStore(key, &LockFactory{locker: l, key: key})

	return f.(*LockFactory), nil
}

// Lock takes the lock of key, or joins the one the unit of work of ctx
// already holds.
func (l *Locker) Lock(ctx context.Context, key string) (*Lock, error) {
	f, err := l.Factory(key)
	if err != nil {
		return nil, err
	}

	h, err := resource.Acquire(ctx, f)
	if err != nil {
		return nil, err
	}

	lock, ok := resource.Unwrap(h).(*Lock)
	if !ok {
		resource.Release(ctx, h, f)

		return nil, fmt.Errorf("%w: %T", ErrUnexpectedLock, h)
	}

	return lock, nil
}

// Unlock gives lock back. A lock bound to a unit of work stays held until
// the unit completes.
func (l *Locker) Unlock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}

	if lock.factory.locker != l {
		return ErrLockFactoryOwner
	}

	resource.Release(ctx, lock, lock.factory)

	return nil
}

// LockFactory takes the lock of one key.
type LockFactory struct {
	locker *Locker
	key    string
}

func (f *LockFactory) Key() string {
	return f.key
}

// NewHandle blocks until the lock is taken or its tries run out.
//
//nolint:ireturn
func (f *LockFactory) NewHandle(ctx context.Context) (resource.Handle, error) {
	tracking := txscope.NewTrackingFromContext(ctx)

	ctx, span := tracking.Tracer.Start(ctx, "txscope.redis.lock", trace.WithAttributes(
		attribute.String("txscope.lock_key", f.key),
	))
	defer span.End()

	opts := f.locker.opts
	mutex := f.locker.rs.NewMutex(f.key,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
		redsync.WithDriftFactor(opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			err = fmt.Errorf("%w: %s: %w", ErrLockTaken, f.key, err)
		}

		opentelemetry.HandleSpanError(&span, "failed to take lock", err)

		return nil, err
	}

	tracking.Logger.Log(ctx, log.LevelDebug, "lock taken", log.String("lock_key", f.key))

	return &Lock{mutex: mutex, factory: f, logger: tracking.Logger}, nil
}

// isContention tells lock contention from transport failures. redsync
// reports contention both as ErrFailed and as ErrTaken values.
func isContention(err error) bool {
	return errors.Is(err, redsync.ErrFailed) ||
		strings.Contains(err.Error(), "lock already taken") ||
		strings.Contains(err.Error(), "failed to acquire lock")
}

// Lock is a held distributed lock. Closing it releases the lock.
type Lock struct {
	mutex   *redsync.Mutex
	factory *LockFactory
	logger  log.Logger

	mu       sync.Mutex
	released bool
}

func (l *Lock) Key() string {
	return l.factory.key
}

// Until returns when Redis drops the lock unless it is extended.
func (l *Lock) Until() time.Time {
	return l.mutex.Until()
}

// Extend resets the expiry of a held lock.
func (l *Lock) Extend(ctx context.Context) error {
	if ok, err := l.mutex.ExtendContext(ctx); !ok {
		return errors.Join(fmt.Errorf("%w: %s", ErrLockNotHeld, l.Key()), err)
	}

	return nil
}

// Close releases the lock. Closing twice is a no-op.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}

	l.released = true

	ok, err := l.mutex.UnlockContext(context.Background())
	if ok {
		return nil
	}

	l.logger.Log(context.Background(), log.LevelWarn, "lock lost before release",
		log.String("lock_key", l.Key()), log.Err(err))

	return errors.Join(fmt.Errorf("%w: %s", ErrLockNotHeld, l.Key()), err)
}
