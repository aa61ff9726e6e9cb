package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ImportLogEntry is one row of the append-only import history.
type ImportLogEntry struct {
	ID             int64     `json:"id"`
	Filename       string    `json:"filename"`
	ImportedAt     time.Time `json:"imported_at"`
	RowsAdded      int       `json:"rows_added"`
	RowsDuplicates int       `json:"rows_duplicates"`
	Status         string    `json:"status"`
}

// DefaultHistoryLimit bounds ImportHistory when limit <= 0.
const DefaultHistoryLimit = 50

func appendImportLog(ctx context.Context, tx *sql.Tx, e ImportLogEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO import_logs (filename, imported_at, rows_added, rows_duplicates, status)
		VALUES (?, ?, ?, ?, ?)`,
		e.Filename, e.ImportedAt.Unix(), e.RowsAdded, e.RowsDuplicates, e.Status,
	)
	if err != nil {
		return fmt.Errorf("append import log: %w", err)
	}
	return nil
}

// ImportHistory returns the most recent import log entries, newest first.
func (d *DB) ImportHistory(ctx context.Context, limit int) ([]ImportLogEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, filename, imported_at, rows_added, rows_duplicates, status
		FROM import_logs ORDER BY imported_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list import logs: %w", err)
	}
	defer rows.Close()

	entries := []ImportLogEntry{}
	for rows.Next() {
		var e ImportLogEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Filename, &ts, &e.RowsAdded, &e.RowsDuplicates, &e.Status); err != nil {
			return nil, fmt.Errorf("scan import log: %w", err)
		}
		e.ImportedAt = time.Unix(ts, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportCount returns the number of import log entries.
func (d *DB) ImportCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count import logs: %w", err)
	}
	return n, nil
}
