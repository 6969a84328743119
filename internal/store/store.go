package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

const (
	StatusOpen    = "open"
	StatusDropped = "dropped"
)

// Sandbox is the registry record of one sandbox namespace. Opened and
// Dropped count connection creations and namespace drops over its life.
type Sandbox struct {
	Key          string     `json:"key"`
	Namespace    string     `json:"namespace"`
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	Opened       int        `json:"opened"`
	Dropped      int        `json:"dropped"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastOpenedAt time.Time  `json:"last_opened_at"`
	DroppedAt    *time.Time `json:"dropped_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sandboxes (
	key            TEXT PRIMARY KEY,
	namespace      TEXT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'open',
	opened         INTEGER NOT NULL DEFAULT 0,
	dropped        INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	last_opened_at DATETIME NOT NULL,
	dropped_at     DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sandboxes_status ON sandboxes(status);
`

// DefaultMaxOpenConns is the connection pool size for file-backed registries.
const DefaultMaxOpenConns = 4

// dsnWithPragmas applies busy_timeout and perf pragmas to every new
// connection. WAL only makes sense for a file.
func dsnWithPragmas(dbPath string) string {
	dsn := dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
	if !isMemory(dbPath) {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	return dsn
}

func isMemory(dbPath string) bool {
	return dbPath == "" || dbPath == ":memory:"
}

// New opens the registry at dbPath. An empty path or ":memory:" keeps it in
// process memory on a single connection, since every new connection to
// ":memory:" would see its own empty database.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxOpenConns := DefaultMaxOpenConns
	if isMemory(dbPath) {
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordOpen notes that a connection to the sandbox was opened, creating
// the record on first use.
func (s *Store) RecordOpen(key, namespace, url string) error {
	now := time.Now().UTC()
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sandboxes (key, namespace, url, status, opened, created_at, last_opened_at)
			 VALUES (?, ?, ?, 'open', 1, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				namespace = excluded.namespace,
				url = excluded.url,
				status = 'open',
				opened = opened + 1,
				last_opened_at = excluded.last_opened_at`,
			key, namespace, url, now, now,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("recording sandbox open: %w", err)
	}
	return nil
}

// RecordDrop notes a namespace drop. A nil dropErr marks the sandbox
// dropped; otherwise the status is left alone and the error kept.
func (s *Store) RecordDrop(key string, dropErr error) error {
	now := time.Now().UTC()
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		if dropErr == nil {
			result, e = s.db.Exec(
				`UPDATE sandboxes SET status = 'dropped', dropped = dropped + 1, dropped_at = ?, last_error = ''
				 WHERE key = ?`, now, key,
			)
		} else {
			result, e = s.db.Exec(
				`UPDATE sandboxes SET last_error = ? WHERE key = ?`, dropErr.Error(), key,
			)
		}
		return e
	})
	if err != nil {
		return fmt.Errorf("recording sandbox drop: %w", err)
	}
	return checkRowAffected(result, key)
}

func (s *Store) GetSandbox(key string) (*Sandbox, error) {
	row := s.db.QueryRow(
		`SELECT key, namespace, url, status, opened, dropped, last_error, created_at, last_opened_at, dropped_at
		 FROM sandboxes WHERE key = ?`, key,
	)
	return scanSandbox(row)
}

func (s *Store) ListSandboxes() ([]*Sandbox, error) {
	rows, err := s.db.Query(
		`SELECT key, namespace, url, status, opened, dropped, last_error, created_at, last_opened_at, dropped_at
		 FROM sandboxes ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w", err)
	}
	defer rows.Close()
	return scanSandboxes(rows)
}

func (s *Store) DeleteSandbox(key string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM sandboxes WHERE key = ?`, key)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting sandbox: %w", err)
	}
	return checkRowAffected(result, key)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSandbox(row scannable) (*Sandbox, error) {
	var sb Sandbox
	var droppedAt sql.NullTime
	err := row.Scan(
		&sb.Key, &sb.Namespace, &sb.URL, &sb.Status, &sb.Opened, &sb.Dropped, &sb.LastError,
		&sb.CreatedAt, &sb.LastOpenedAt, &droppedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sandbox: %w", err)
	}
	if droppedAt.Valid {
		t := droppedAt.Time
		sb.DroppedAt = &t
	}
	return &sb, nil
}

func scanSandboxes(rows *sql.Rows) ([]*Sandbox, error) {
	var sandboxes []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		sandboxes = append(sandboxes, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sandboxes: %w", err)
	}
	return sandboxes, nil
}

func checkRowAffected(result sql.Result, key string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sandbox %s: %w", key, ErrNotFound)
	}
	return nil
}
