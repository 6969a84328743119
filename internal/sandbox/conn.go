package sandbox

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
)

// Releaser takes a raw connection back when its Conn is closed.
type Releaser interface {
	Return(key string, raw *RawConn) error
}

// Conn is the handle callers get for a sandbox database. Closing it hands
// the underlying connection back to its owner instead of closing it.
type Conn struct {
	raw    *RawConn
	owner  Releaser
	once   sync.Once
	closed atomic.Bool
}

func NewConn(raw *RawConn, owner Releaser) *Conn {
	return &Conn{raw: raw, owner: owner}
}

func (c *Conn) Key() string { return c.raw.key }

// ID identifies the underlying connection, stable across borrows.
func (c *Conn) ID() string { return c.raw.id }

func (c *Conn) Namespace() string { return c.raw.namespace }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.raw.conn.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.raw.conn.QueryContext(ctx, query, args...)
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.raw.conn.PrepareContext(ctx, query)
}

func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	return c.raw.conn.BeginTx(ctx, opts)
}

func (c *Conn) PingContext(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.raw.conn.PingContext(ctx)
}

// Raw runs f with the driver connection.
func (c *Conn) Raw(f func(driverConn any) error) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.raw.conn.Raw(f)
}

// Close returns the connection to its owner. Only the first call does;
// later calls report ErrConnClosed.
func (c *Conn) Close() error {
	err := ErrConnClosed
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.owner.Return(c.raw.key, c.raw)
	})
	return err
}
