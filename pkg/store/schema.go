package store

import (
	"context"
	"fmt"
)

const ddlDeces = `CREATE TABLE IF NOT EXISTS deces (
	full_name          TEXT NOT NULL DEFAULT '',
	sex                INTEGER NOT NULL DEFAULT 0,
	birth_date         TEXT,
	birth_place        TEXT NOT NULL DEFAULT '',
	birth_municipality TEXT NOT NULL DEFAULT '',
	birth_country      TEXT NOT NULL DEFAULT '',
	death_date         TEXT NOT NULL,
	death_place        TEXT NOT NULL DEFAULT '',
	death_act_id       TEXT NOT NULL DEFAULT '',
	death_year         INTEGER NOT NULL,
	death_month        INTEGER NOT NULL,
	death_day          INTEGER NOT NULL,
	age_at_death       REAL CHECK (age_at_death IS NULL OR age_at_death >= 0),
	department         TEXT NOT NULL DEFAULT '00',
	identity_hash      TEXT PRIMARY KEY
) WITHOUT ROWID`

const ddlImportLogs = `CREATE TABLE IF NOT EXISTS import_logs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	filename        TEXT NOT NULL,
	imported_at     INTEGER NOT NULL DEFAULT (CAST(strftime('%s', 'now') AS INTEGER)),
	rows_added      INTEGER NOT NULL,
	rows_duplicates INTEGER NOT NULL,
	status          TEXT NOT NULL
)`

var ddlIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_deces_year ON deces(death_year)`,
	`CREATE INDEX IF NOT EXISTS idx_deces_month ON deces(death_month)`,
	`CREATE INDEX IF NOT EXISTS idx_deces_dept ON deces(department)`,
	`CREATE INDEX IF NOT EXISTS idx_deces_sex ON deces(sex)`,
	`CREATE INDEX IF NOT EXISTS idx_deces_date ON deces(death_date)`,
}

// Init creates tables and indexes if absent. A deces table from an older
// layout (surrogate id column, or no identity_hash key) is dropped together
// with the import log and recreated empty.
func (d *DB) Init(ctx context.Context) error {
	legacy, err := d.hasLegacyLayout(ctx)
	if err != nil {
		return err
	}
	if legacy {
		if err := d.Reset(ctx); err != nil {
			return fmt.Errorf("migrate legacy layout: %w", err)
		}
	}

	stmts := append([]string{ddlDeces, ddlImportLogs}, ddlIndexes...)
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (d *DB) hasLegacyLayout(ctx context.Context) (bool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('deces')`)
	if err != nil {
		return false, fmt.Errorf("inspect deces: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, nil
	}
	return cols["id"] || !cols["identity_hash"], nil
}

// Reset drops every table. All stored records and import history are lost.
func (d *DB) Reset(ctx context.Context) error {
	if d.readOnly {
		return fmt.Errorf("reset: read-only handle")
	}
	for _, s := range []string{
		`DROP TABLE IF EXISTS deces`,
		`DROP TABLE IF EXISTS import_logs`,
	} {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return nil
}
