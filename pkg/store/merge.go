package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/mortalite/pkg/insee"
)

const recordColumns = `full_name, sex, birth_date, birth_place, birth_municipality, birth_country,
	death_date, death_place, death_act_id,
	death_year, death_month, death_day, age_at_death, department, identity_hash`

const ddlStaging = `CREATE TEMP TABLE staging_deces (
	full_name TEXT, sex INTEGER, birth_date TEXT, birth_place TEXT,
	birth_municipality TEXT, birth_country TEXT, death_date TEXT,
	death_place TEXT, death_act_id TEXT, death_year INTEGER,
	death_month INTEGER, death_day INTEGER, age_at_death REAL,
	department TEXT, identity_hash TEXT
)`

// StatusSuccess is the import log status of a committed batch.
const StatusSuccess = "success"

// MergeResult carries the store row counts around one merge.
type MergeResult struct {
	Before int64
	After  int64
	Staged int
}

// Added is the number of rows the merge inserted.
func (r MergeResult) Added() int { return int(r.After - r.Before) }

// Duplicates is the number of staged rows whose identity hash was already
// stored, or appeared earlier in the same batch.
func (r MergeResult) Duplicates() int { return r.Staged - r.Added() }

// Merge inserts records whose identity hash is not stored yet and appends
// one import log entry for filename, all in one transaction. Existing rows
// are never updated. Added and duplicate counts come from the row count
// delta inside the transaction. On error nothing is committed.
//
// Records are first written to a temporary staging table, which is dropped
// before commit.
func (d *DB) Merge(ctx context.Context, records []insee.Record, filename string, at time.Time) (MergeResult, error) {
	var res MergeResult
	if d.readOnly {
		return res, fmt.Errorf("merge: read-only handle")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM deces`).Scan(&res.Before); err != nil {
		return res, fmt.Errorf("count before: %w", err)
	}

	if _, err := tx.ExecContext(ctx, ddlStaging); err != nil {
		return res, fmt.Errorf("create staging: %w", err)
	}
	if err := stage(ctx, tx, records); err != nil {
		return res, err
	}
	res.Staged = len(records)

	// WHERE true disambiguates the upsert clause from a join constraint.
	if _, err := tx.ExecContext(ctx, `INSERT INTO deces (`+recordColumns+`)
		SELECT `+recordColumns+` FROM staging_deces WHERE true
		ON CONFLICT(identity_hash) DO NOTHING`); err != nil {
		return res, fmt.Errorf("merge staging: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM deces`).Scan(&res.After); err != nil {
		return res, fmt.Errorf("count after: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE staging_deces`); err != nil {
		return res, fmt.Errorf("drop staging: %w", err)
	}

	if err := appendImportLog(ctx, tx, ImportLogEntry{
		Filename:       filename,
		ImportedAt:     at,
		RowsAdded:      res.Added(),
		RowsDuplicates: res.Duplicates(),
		Status:         StatusSuccess,
	}); err != nil {
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit merge: %w", err)
	}
	return res, nil
}

func stage(ctx context.Context, tx *sql.Tx, records []insee.Record) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO staging_deces (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare staging insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		if _, err := stmt.ExecContext(ctx,
			r.FullName, r.Sex, nullString(r.BirthDate), r.BirthPlace,
			r.BirthMunicipality, r.BirthCountry, r.DeathDate,
			r.DeathPlace, r.DeathActID, r.DeathYear,
			r.DeathMonth, r.DeathDay, nullFloat(r.AgeAtDeath),
			r.Department, r.IdentityHash,
		); err != nil {
			return fmt.Errorf("stage record %d: %w", i, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
