// Package store owns the SQLite database holding death records and the
// import log.
//
// Two handle kinds exist. A writer (OpenWriter) holds a single connection and
// is the only way rows enter the store. Readers (OpenReader) set
// query_only, so the presentation layer can never mutate data. The database
// runs in WAL mode: readers neither block the writer nor get blocked by it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const openAttempts = 3

var (
	// busyTimeout is SQLite's per-statement lock wait in ms. Each open
	// attempt already waits this long before reporting SQLITE_BUSY, so a
	// store locked throughout fails after roughly
	// openAttempts*busyTimeout plus the backoff delays.
	busyTimeout = 5000

	// retryBaseDelay is the wait before the second open attempt; it doubles
	// on each further attempt.
	retryBaseDelay = 100 * time.Millisecond
)

// ErrStoreBusy is matched (errors.Is) by errors returned once every open
// attempt hit a locked database.
var ErrStoreBusy = errors.New("store busy")

// BusyError reports that the database stayed locked across all attempts.
type BusyError struct {
	Attempts int
	Err      error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("store busy after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BusyError) Unwrap() error { return e.Err }

func (e *BusyError) Is(target error) bool { return target == ErrStoreBusy }

// DB is an open handle on the store.
type DB struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// OpenWriter opens the store for import, creating the file and schema if
// needed. The handle is limited to one connection so that staging tables
// live on the connection that merges them.
func OpenWriter(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)&_pragma=synchronous(normal)", path, busyTimeout)
	db, err := openWithRetry(ctx, dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	d := &DB{db: db, path: path}
	if err := d.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// OpenReader opens a query-only handle. A store that does not exist yet is
// initialized first, so queries against a fresh deployment see an empty
// store rather than an error.
func OpenReader(ctx context.Context, path string) (*DB, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		w, err := OpenWriter(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close init handle: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=query_only(1)", path, busyTimeout)
	db, err := openWithRetry(ctx, dsn, 0)
	if err != nil {
		return nil, fmt.Errorf("open store %s read-only: %w", path, err)
	}
	return &DB{db: db, path: path, readOnly: true}, nil
}

// openWithRetry opens dsn and pings it, retrying busy/locked failures with a
// doubling delay. maxConns <= 0 leaves the pool unbounded.
func openWithRetry(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay << uint(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		if maxConns > 0 {
			db.SetMaxOpenConns(maxConns)
		}

		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		db.Close()
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &BusyError{Attempts: openAttempts, Err: lastErr}
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// extended codes.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Close releases every connection of the handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// ReadOnly reports whether the handle was opened with OpenReader.
func (d *DB) ReadOnly() bool { return d.readOnly }

// QueryContext runs a read query. Exposed for the query layer.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read query.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// Count returns the number of stored death records.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deces: %w", err)
	}
	return n, nil
}
