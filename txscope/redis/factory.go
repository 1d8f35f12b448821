package redis

import (
	"context"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/redis/go-redis/v9"
)

// Factory hands out dedicated connections of a client. A *Factory is the
// key its connections are bound under.
type Factory struct {
	client   *redis.Client
	settings resource.Settings
	name     string
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithCommandTimeout bounds commands run through a ConnProxy when the unit
// of work has no deadline.
func WithCommandTimeout(timeout time.Duration) FactoryOption {
	return func(f *Factory) {
		if timeout > 0 {
			f.settings.QueryTimeout = timeout
		}
	}
}

// WithName labels the factory in logs and errors.
func WithName(name string) FactoryOption {
	return func(f *Factory) {
		f.name = name
	}
}

func NewFactory(client *redis.Client, opts ...FactoryOption) (*Factory, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	f := &Factory{client: client, name: "redis"}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f, nil
}

// NewHandle reserves a connection from the client pool.
//
//nolint:ireturn
func (f *Factory) NewHandle(ctx context.Context) (resource.Handle, error) {
	if f == nil {
		return nil, ErrNilFactory
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Conn{conn: f.client.Conn()}, nil
}

func (f *Factory) Settings() resource.Settings {
	return f.settings
}

func (f *Factory) String() string {
	return f.name
}

// Conn is a connection reserved from the pool until closed. Commands on it
// see per-connection state such as SELECT and CLIENT SETNAME.
type Conn struct {
	mu     sync.Mutex
	conn   *redis.Conn
	closed bool
}

// Raw returns the go-redis connection, or nil once closed.
func (c *Conn) Raw() *redis.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	return c.conn
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Close gives the connection back to the pool. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.conn.Close()
}
