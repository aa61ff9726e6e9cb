// Package importer runs bulk imports of INSEE death record files into the
// store: decode, parse, derive, then merge as one atomic batch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/mortalite/pkg/insee"
	"github.com/hazyhaar/mortalite/pkg/metrics"
	"github.com/hazyhaar/mortalite/pkg/store"
)

// ProgressFunc receives advisory progress: fraction in [0, 1], non-decreasing
// across calls of one import, and the number of rows seen so far (0 when not
// yet known). A panicking callback is ignored.
type ProgressFunc func(fraction float64, rowsSeen int)

// Result reports one import. Added and Duplicates are zero whenever Err is
// set. Skipped counts malformed lines and rows dropped by the transformer;
// they are part of neither Added nor Duplicates.
type Result struct {
	ImportID   string `json:"import_id"`
	Filename   string `json:"filename"`
	Added      int    `json:"rows_added"`
	Duplicates int    `json:"rows_duplicates"`
	Skipped    int    `json:"rows_skipped"`
	Encoding   string `json:"encoding,omitempty"`
	// Absent lists optional source columns the file lacks.
	Absent  []string `json:"absent_columns,omitempty"`
	Message string   `json:"message"`
	Err     error    `json:"-"`
}

// OK reports whether the batch was committed.
func (r Result) OK() bool { return r.Err == nil }

// Engine serializes imports into the store at dbPath. Each import opens its
// own writer and closes it before returning.
type Engine struct {
	dbPath string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewEngine returns an engine writing to the store at dbPath.
func NewEngine(dbPath string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dbPath: dbPath, logger: logger, now: time.Now}
}

// DBPath returns the path of the target store.
func (e *Engine) DBPath() string { return e.dbPath }

// ImportBatch imports one file. It never panics and never returns a partial
// merge: on any failure the store is left as it was and the Result carries
// zero counts, a human-readable Message and Err.
//
// An import in flight is not interrupted by ctx cancellation.
func (e *Engine) ImportBatch(ctx context.Context, data []byte, filename string, progress ProgressFunc) (res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res = Result{ImportID: uuid.NewString(), Filename: filename}
	log := e.logger.With("import_id", res.ImportID, "filename", filename)
	report := safeProgress(progress, log)

	defer func() {
		if p := recover(); p != nil {
			res = failure(res, fmt.Errorf("panic: %v", p))
		}
		status := metrics.StatusSuccess
		switch {
		case res.Err == nil:
		case errors.As(res.Err, new(*insee.DecodeError)):
			status = metrics.StatusDecode
		case errors.As(res.Err, new(*insee.SchemaError)):
			status = metrics.StatusSchema
		default:
			status = metrics.StatusFailed
		}
		elapsed := time.Since(start)
		metrics.RecordImport(status, res.Added, res.Duplicates, res.Skipped, elapsed)
		if res.Err != nil {
			log.Error("import failed", "status", status, "error", res.Err, "duration", elapsed)
			return
		}
		log.Info("import done",
			"added", res.Added, "duplicates", res.Duplicates, "skipped", res.Skipped,
			"encoding", res.Encoding, "duration", elapsed)
	}()

	report(0.05, 0)

	text, enc, err := insee.Decode(data)
	if err != nil {
		return failure(res, err)
	}
	res.Encoding = enc
	report(0.1, 0)

	batch, err := insee.Parse(text)
	if err != nil {
		return failure(res, err)
	}
	seen := len(batch.Records)
	if len(batch.Mapping.Unmapped) > 0 {
		log.Debug("ignoring unknown columns", "columns", batch.Mapping.Unmapped)
	}
	for _, c := range insee.Columns {
		if !c.Required && !batch.Mapping.Has(c.Field) {
			res.Absent = append(res.Absent, c.Source)
		}
	}
	if len(res.Absent) > 0 {
		log.Info("optional columns absent, stored empty", "columns", res.Absent)
	}
	report(0.3, seen)

	w, err := store.OpenWriter(ctx, e.dbPath)
	if err != nil {
		return failure(res, err)
	}
	defer w.Close()
	report(0.4, seen)

	recs := insee.Transform(batch.Records)
	report(0.6, seen)

	mr, err := w.Merge(ctx, recs, filename, e.now())
	if err != nil {
		return failure(res, err)
	}
	report(0.9, seen)

	res.Added = mr.Added()
	res.Duplicates = mr.Duplicates()
	res.Skipped = batch.Malformed + seen - len(recs)
	res.Message = fmt.Sprintf("Import réussi: %d lignes ajoutées, %d doublons ignorés", res.Added, res.Duplicates)
	report(1.0, seen)
	return res
}

func failure(res Result, err error) Result {
	res.Added, res.Duplicates, res.Skipped = 0, 0, 0
	res.Err = err
	res.Message = Message(err)
	return res
}

// Message renders an import error for display.
func Message(err error) string {
	var de *insee.DecodeError
	var se *insee.SchemaError
	switch {
	case errors.As(err, &de):
		return "Erreur: Impossible de décoder le fichier"
	case errors.As(err, &se):
		return "Colonnes manquantes: " + strings.Join(se.Missing, ", ")
	default:
		return "Erreur lors de l'import: " + err.Error()
	}
}

// safeProgress wraps fn so a nil or panicking callback cannot affect the
// import. Fractions never decrease.
func safeProgress(fn ProgressFunc, log *slog.Logger) ProgressFunc {
	var last float64
	return func(fraction float64, rowsSeen int) {
		if fraction < last {
			fraction = last
		}
		last = fraction
		log.Debug("import progress", "fraction", fraction, "rows", rowsSeen)
		if fn == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				log.Warn("progress callback panicked", "panic", p)
			}
		}()
		fn(fraction, rowsSeen)
	}
}
