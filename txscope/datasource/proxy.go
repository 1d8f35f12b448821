package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/resource"
)

// ConnProxy is what repositories use. Close does nothing; give the proxy
// back with ReleaseConn. Statements run on the unit-of-work transaction when
// there is one, bounded by the unit's deadline or the factory query timeout.
type ConnProxy struct {
	*resource.SuppressingHandle
	conn *Conn
}

// GetConn returns a proxy for the connection of factory in the unit of work
// of ctx, acquiring one if needed.
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

// ReleaseConn gives back a proxy obtained from GetConn. Connections bound
// to a unit of work stay open until it completes.
func ReleaseConn(ctx context.Context, proxy *ConnProxy, factory *Factory) {
	if proxy == nil || factory == nil {
		return
	}

	resource.Release(ctx, proxy.conn, factory)
}

// Conn returns the connection behind the proxy.
func (p *ConnProxy) Conn() *Conn {
	return p.conn
}

// Raw returns the underlying *sql.Conn. Statements run on it directly
// bypass the unit-of-work transaction.
func (p *ConnProxy) Raw() *sql.Conn {
	return p.conn.Raw()
}

// Tx returns the unit-of-work transaction, or nil.
func (p *ConnProxy) Tx() *sql.Tx {
	return p.conn.Tx()
}

func (p *ConnProxy) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	exec, err := p.conn.executor()
	if err != nil {
		return nil, err
	}

	ctx, cancel, err := p.Context(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return exec.ExecContext(ctx, query, args...)
}

// QueryContext runs query. The returned Rows stop after the factory MaxRows
// and must be closed.
func (p *ConnProxy) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	exec, err := p.conn.executor()
	if err != nil {
		return nil, err
	}

	ctx, cancel, err := p.Context(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()

		return nil, err
	}

	return &Rows{Rows: rows, maxRows: p.Settings().MaxRows, cancel: cancel}, nil
}

func (p *ConnProxy) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	exec, err := p.conn.executor()
	if err != nil {
		return &Row{err: err}
	}

	ctx, cancel, err := p.Context(ctx)
	if err != nil {
		return &Row{err: err}
	}

	return &Row{row: exec.QueryRowContext(ctx, query, args...), cancel: cancel}
}

// PrepareContext prepares query on the unit-of-work transaction or the
// connection. Each execution of the statement applies the proxy settings.
func (p *ConnProxy) PrepareContext(ctx context.Context, query string) (*Stmt, error) {
	exec, err := p.conn.executor()
	if err != nil {
		return nil, err
	}

	prepareCtx, cancel, err := p.Context(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	stmt, err := exec.PrepareContext(prepareCtx, query)
	if err != nil {
		return nil, err
	}

	return &Stmt{Stmt: stmt, proxy: p}, nil
}

func (p *ConnProxy) PingContext(ctx context.Context) error {
	if p.conn.IsClosed() {
		return ErrConnClosed
	}

	ctx, cancel, err := p.Context(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return p.conn.Raw().PingContext(ctx)
}

// Rows caps iteration at the factory MaxRows.
type Rows struct {
	*sql.Rows
	maxRows int
	seen    int
	cancel  context.CancelFunc
}

func (r *Rows) Next() bool {
	if r.maxRows > 0 && r.seen >= r.maxRows {
		return false
	}

	if !r.Rows.Next() {
		return false
	}

	r.seen++

	return true
}

func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.cancel()

	return err
}

// Row is a single-row result. Its context is released by Scan, or by Err
// when the query failed; a row that succeeded must be scanned.
type Row struct {
	row     *sql.Row
	cancel  context.CancelFunc
	release sync.Once
	err     error
}

func (r *Row) done() {
	r.release.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	defer r.done()

	return r.row.Scan(dest...)
}

func (r *Row) Err() error {
	if r.err != nil {
		return r.err
	}

	err := r.row.Err()
	if err != nil {
		r.done()
	}

	return err
}

// Stmt is a prepared statement applying the proxy settings per execution.
type Stmt struct {
	*sql.Stmt
	proxy *ConnProxy
}

func (s *Stmt) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	ctx, cancel, err := s.proxy.Context(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return s.Stmt.ExecContext(ctx, args...)
}

func (s *Stmt) QueryContext(ctx context.Context, args ...any) (*Rows, error) {
	ctx, cancel, err := s.proxy.Context(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.Stmt.QueryContext(ctx, args...)
	if err != nil {
		cancel()

		return nil, err
	}

	return &Rows{Rows: rows, maxRows: s.proxy.Settings().MaxRows, cancel: cancel}, nil
}

func (s *Stmt) QueryRowContext(ctx context.Context, args ...any) *Row {
	ctx, cancel, err := s.proxy.Context(ctx)
	if err != nil {
		return &Row{err: err}
	}

	return &Row{row: s.Stmt.QueryRowContext(ctx, args...), cancel: cancel}
}
