//go:build unit

package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDB is an in-memory database/sql driver recording what reaches it.
type fakeDB struct {
	mu        sync.Mutex
	events    []string
	nextConn  int
	rowCount  int
	beginErr  error
	commitErr error
	execErr   map[string]error
	queryErr  map[string]error
}

func (f *fakeDB) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, fmt.Sprintf(format, args...))
}

func (f *fakeDB) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.events...)
}

func (f *fakeDB) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = nil
}

func (f *fakeDB) Connect(context.Context) (driver.Conn, error) {
	f.mu.Lock()
	f.nextConn++
	id := f.nextConn
	f.mu.Unlock()

	return &fakeDriverConn{db: f, id: id}, nil
}

func (f *fakeDB) Driver() driver.Driver {
	return fakeDriver{}
}

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("use the connector")
}

type fakeDriverConn struct {
	db   *fakeDB
	id   int
	inTx bool
}

func (c *fakeDriverConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeDriverConn) Close() error { return nil }

func (c *fakeDriverConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeDriverConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.db.beginErr != nil {
		return nil, c.db.beginErr
	}

	c.inTx = true
	c.db.record("begin:%d:%s:ro=%t", c.id, sql.IsolationLevel(opts.Isolation), opts.ReadOnly)

	return &fakeTx{conn: c}, nil
}

func (c *fakeDriverConn) label() string {
	if c.inTx {
		return fmt.Sprintf("%d:tx", c.id)
	}

	return fmt.Sprintf("%d", c.id)
}

func (c *fakeDriverConn) ExecContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.db.record("exec:%s:%s", c.label(), query)

	if err := c.db.execErr[query]; err != nil {
		return nil, err
	}

	return driver.RowsAffected(1), nil
}

func (c *fakeDriverConn) QueryContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.db.record("query:%s:%s", c.label(), query)

	if err := c.db.queryErr[query]; err != nil {
		return nil, err
	}

	return &fakeRows{total: c.db.rowCount}, nil
}

func (c *fakeDriverConn) Ping(ctx context.Context) error {
	return ctx.Err()
}

type fakeTx struct {
	conn *fakeDriverConn
}

func (t *fakeTx) Commit() error {
	t.conn.inTx = false
	t.conn.db.record("commit:%d", t.conn.id)

	return t.conn.db.commitErr
}

func (t *fakeTx) Rollback() error {
	t.conn.inTx = false
	t.conn.db.record("rollback:%d", t.conn.id)

	return nil
}

type fakeStmt struct {
	conn  *fakeDriverConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, nil)
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, nil)
}

type fakeRows struct {
	total int
	next  int
}

func (r *fakeRows) Columns() []string { return []string{"n"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= r.total {
		return io.EOF
	}

	r.next++
	dest[0] = int64(r.next)

	return nil
}

func openFakeDB(t *testing.T) (*fakeDB, *sql.DB) {
	t.Helper()

	fake := &fakeDB{rowCount: 3}
	db := sql.OpenDB(fake)

	t.Cleanup(func() { _ = db.Close() })

	return fake, db
}

func newTestFactory(t *testing.T, opts ...FactoryOption) (*fakeDB, *sql.DB, *Factory) {
	t.Helper()

	fake, db := openFakeDB(t)

	factory, err := NewFactory(StaticDB{DB: db}, opts...)
	require.NoError(t, err)

	return fake, db, factory
}
