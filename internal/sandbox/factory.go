package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const driverName = "sqlite"

// DefaultConnectTimeout bounds opening one sandbox connection.
const DefaultConnectTimeout = 5 * time.Second

// Registry records sandbox lifecycle events. Failures are logged, never
// surfaced to the pool.
type Registry interface {
	RecordOpen(key, namespace, url string) error
	RecordDrop(key string, dropErr error) error
}

// RawConn is one physical connection pinned to a sandbox database.
type RawConn struct {
	id        string
	key       string
	namespace string
	db        *sql.DB
	conn      *sql.Conn
	openedAt  time.Time
	closed    atomic.Bool
}

func (r *RawConn) ID() string { return r.id }
func (r *RawConn) Key() string { return r.key }
func (r *RawConn) Namespace() string { return r.namespace }
func (r *RawConn) OpenedAt() time.Time { return r.openedAt }

// SQLConn exposes the pinned connection.
func (r *RawConn) SQLConn() *sql.Conn { return r.conn }

// Factory opens and tears down sandbox databases. It implements
// pool.Factory[*RawConn].
type Factory struct {
	locator        atomic.Pointer[Locator]
	registry       Registry
	logger         *zap.Logger
	connectTimeout atomic.Int64
}

func NewFactory(locator Locator, registry Registry, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		registry: registry,
		logger:   logger,
	}
	f.locator.Store(&locator)
	f.connectTimeout.Store(int64(DefaultConnectTimeout))
	return f
}

func (f *Factory) Locator() Locator {
	return *f.locator.Load()
}

// SetLocator points subsequent Creates at a new engine address. Open
// connections keep the address they were created with.
func (f *Factory) SetLocator(locator Locator) {
	f.locator.Store(&locator)
}

// SetConnectTimeout bounds each Create. Zero or negative means no bound
// beyond the caller's context.
func (f *Factory) SetConnectTimeout(d time.Duration) {
	f.connectTimeout.Store(int64(d))
}

func (f *Factory) ConnectTimeout() time.Duration {
	return time.Duration(f.connectTimeout.Load())
}

// Create opens a connection to key's database. The first connection for a
// key materializes an empty database.
func (f *Factory) Create(ctx context.Context, key string) (*RawConn, error) {
	if err := ValidateKey(key); err != nil {
		return nil, &CreateError{Key: key, Op: "validate key", Err: err}
	}
	if d := f.ConnectTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	loc := f.Locator()
	url := loc.URL(key)
	f.logger.Info("opening sandbox database", zap.String("key", key), zap.String("url", url))

	db, err := sql.Open(driverName, loc.DSN(key))
	if err != nil {
		return nil, &CreateError{Key: key, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &CreateError{Key: key, Op: "connect", Err: err}
	}
	// A sandbox sees only its own database: no ATTACH of other keys or
	// host files.
	if _, err := sqlite.Limit(conn, sqlitelib.SQLITE_LIMIT_ATTACHED, 0); err != nil {
		conn.Close()
		db.Close()
		return nil, &CreateError{Key: key, Op: "provision", Err: err}
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		conn.Close()
		db.Close()
		return nil, &CreateError{Key: key, Op: "provision", Err: err}
	}

	raw := &RawConn{
		id:        uuid.New().String(),
		key:       key,
		namespace: loc.Namespace(key),
		db:        db,
		conn:      conn,
		openedAt:  time.Now(),
	}

	if f.registry != nil {
		if err := f.registry.RecordOpen(key, raw.namespace, url); err != nil {
			f.logger.Warn("registry: record open", zap.String("key", key), zap.Error(err))
		}
	}
	return raw, nil
}

// Destroy drops every object in key's database, then closes the
// connection. The close runs even when the drop fails or panics. A
// connection that is already closed is treated as destroyed.
func (f *Factory) Destroy(ctx context.Context, key string, raw *RawConn) (err error) {
	if raw == nil || !raw.closed.CompareAndSwap(false, true) {
		f.logger.Debug("sandbox connection already destroyed", zap.String("key", key))
		return nil
	}

	var dropErr error
	defer func() {
		closeErr := errors.Join(raw.conn.Close(), raw.db.Close())
		if dropErr != nil || closeErr != nil {
			err = &DestroyError{Key: key, Drop: dropErr, Close: closeErr}
		}
		if f.registry != nil {
			if rerr := f.registry.RecordDrop(key, dropErr); rerr != nil {
				f.logger.Debug("registry: record drop", zap.String("key", key), zap.Error(rerr))
			}
		}
	}()

	dropErr = dropAll(ctx, raw.conn)
	if dropErr == nil {
		f.logger.Info("dropped sandbox database", zap.String("key", key), zap.String("namespace", raw.namespace))
	}
	return nil
}

// dropAll removes every user object with foreign key enforcement off, so
// tables drop regardless of references between them.
func dropAll(ctx context.Context, conn *sql.Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT type, name FROM sqlite_schema
		 WHERE type IN ('view', 'table') AND name NOT LIKE 'sqlite_%'
		 ORDER BY CASE type WHEN 'view' THEN 0 ELSE 1 END, name`)
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	var stmts []string
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			rows.Close()
			return fmt.Errorf("scan object: %w", err)
		}
		stmts = append(stmts, fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(typ), quoteIdent(name)))
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list objects: %w", err)
	}

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Validate reports whether raw is open, still belongs to key and answers a
// ping.
func (f *Factory) Validate(ctx context.Context, key string, raw *RawConn) bool {
	if raw == nil || raw.key != key || raw.closed.Load() {
		return false
	}
	return raw.conn.PingContext(ctx) == nil
}

func (f *Factory) Activate(ctx context.Context, key string, raw *RawConn) error {
	return nil
}

// Passivate rolls back a transaction the borrower left open, so the next
// borrower starts in autocommit mode.
func (f *Factory) Passivate(ctx context.Context, key string, raw *RawConn) error {
	if raw == nil || raw.closed.Load() {
		return nil
	}
	if _, err := raw.conn.ExecContext(ctx, "ROLLBACK"); err != nil && !isNoTransaction(err) {
		return fmt.Errorf("rollback open transaction: %w", err)
	}
	return nil
}

func isNoTransaction(err error) bool {
	return strings.Contains(err.Error(), "no transaction is active")
}
