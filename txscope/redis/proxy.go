package redis

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/redis/go-redis/v9"
)

// ConnProxy is the connection repositories work with. Close does nothing;
// give it back with ReleaseConn.
type ConnProxy struct {
	*resource.SuppressingHandle
	conn *Conn
}

// GetConn returns a proxy for the connection of factory in the unit of work
// of ctx, reserving one if needed.
func GetConn(ctx context.Context, factory *Factory) (*ConnProxy, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	h, err := resource.Acquire(ctx, factory)
	if err != nil {
		return nil, err
	}

	conn, ok := resource.Unwrap(h).(*Conn)
	if !ok {
		resource.Release(ctx, h, factory)

		return nil, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}

	var holder *resource.Holder
	if resource.IsTransactional(ctx, conn, factory) {
		holder = resource.HolderFor(ctx, factory)
	}

	return &ConnProxy{
		SuppressingHandle: resource.Suppress(conn, holder, factory.Settings()),
		conn:              conn,
	}, nil
}

// ReleaseConn gives back a proxy obtained from GetConn.
func ReleaseConn(ctx context.Context, proxy *ConnProxy, factory *Factory) {
	if proxy == nil || factory == nil {
		return
	}

	resource.Release(ctx, proxy.conn, factory)
}

// Raw returns the go-redis connection. Commands run on it directly ignore
// the unit-of-work deadline.
func (p *ConnProxy) Raw() *redis.Conn {
	return p.conn.Raw()
}

// Do runs fn on the connection with the unit-of-work deadline, or the
// factory command timeout, applied to ctx.
func (p *ConnProxy) Do(ctx context.Context, fn func(ctx context.Context, conn *redis.Conn) error) error {
	conn := p.conn.Raw()
	if conn == nil {
		return ErrConnClosed
	}

	cmdCtx, cancel, err := p.Context(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return fn(cmdCtx, conn)
}
