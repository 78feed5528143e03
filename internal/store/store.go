// Package store persists findings, relations, snapshots, analysis runs and
// annotations in a single SQLite database with a sqlite-vec vector table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Reader holds the read operations shared by Store and Tx.
type Reader struct {
	q queryer
}

// Store is the on-disk memory of one repository. Reads run concurrently;
// writes are serialised through Update.
type Store struct {
	Reader
	db       *sql.DB
	path     string
	inMemory bool
	now      func() time.Time

	writeMu sync.Mutex
}

// Tx is a write transaction opened by Store.Update.
type Tx struct {
	Reader
	tx  *sql.Tx
	now time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the database at path. The special path ":memory:"
// opens a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	dsn := path
	if path == ":memory:" {
		s.inMemory = true
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, storageErr("open", err)
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("open db: %w", err))
	}
	if s.inMemory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, storageErr("init schema", err)
	}

	s.db = db
	s.Reader = Reader{q: db}
	return s, nil
}

// ensureDir creates the hidden store directory and keeps it out of version
// control.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if !strings.HasPrefix(filepath.Base(dir), ".") {
		return nil
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		return os.WriteFile(ignore, []byte("*\n"), 0o644)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

// InMemory reports whether the store has a single shared connection. Such a
// store must not be read outside a transaction while Update is running.
func (s *Store) InMemory() bool { return s.inMemory }

func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.now() }

// Update runs fn inside a single write transaction. The transaction commits
// if fn returns nil and rolls back otherwise, so a failed call leaves the
// store unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	tx := &Tx{Reader: Reader{q: sqlTx}, tx: sqlTx, now: s.now()}

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Now is the timestamp applied to every row written in this transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// GetMeta returns a metadata value, or "" if unset.
func (r Reader) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, storageErr("get meta", err)
}

func (tx *Tx) SetMeta(ctx context.Context, key, value string) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return storageErr("set meta", err)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
