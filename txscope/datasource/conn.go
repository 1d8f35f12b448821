package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// executor is what *sql.Conn and *sql.Tx have in common.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn is a pooled connection and the transaction running on it, if any.
// It is the resource.Handle this package binds.
type Conn struct {
	mu     sync.Mutex
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

func newConn(conn *sql.Conn) *Conn {
	return &Conn{conn: conn}
}

// Raw returns the underlying connection.
func (c *Conn) Raw() *sql.Conn {
	return c.conn
}

// Tx returns the active transaction, or nil.
func (c *Conn) Tx() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tx
}

// InTransaction reports whether a transaction is active.
func (c *Conn) InTransaction() bool {
	return c.Tx() != nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// executor routes statements to the transaction when there is one.
//
//nolint:ireturn
func (c *Conn) executor() (executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnClosed
	}

	if c.tx != nil {
		return c.tx, nil
	}

	return c.conn, nil
}

func (c *Conn) begin(ctx context.Context, opts *sql.TxOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	if c.tx != nil {
		return ErrTransactionActive
	}

	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	c.tx = tx

	return nil
}

func (c *Conn) takeTx() (*sql.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return nil, ErrNoTransaction
	}

	tx := c.tx
	c.tx = nil

	return tx, nil
}

func (c *Conn) commit() error {
	tx, err := c.takeTx()
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// rollback tolerates a transaction the database/sql layer already rolled
// back because its context ended.
func (c *Conn) rollback() error {
	tx, err := c.takeTx()
	if err != nil {
		return err
	}

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}

	return nil
}

// Close rolls back a transaction left open and returns the connection to
// its pool.
func (c *Conn) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()

	var rollbackErr error

	if tx != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			rollbackErr = fmt.Errorf("rolling back abandoned transaction: %w", err)
		}
	}

	return errors.Join(rollbackErr, c.conn.Close())
}
