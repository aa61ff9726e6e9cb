package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntrySize bounds one uncompressed archive entry.
const maxEntrySize = 1 << 30

// ImportFile imports a file from disk through ImportData. The error reports
// only failures to read the file itself; per-batch failures are in the
// results.
func (e *Engine) ImportFile(ctx context.Context, path string, progress ProgressFunc) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return e.ImportData(ctx, data, filepath.Base(path), progress)
}

// ImportData imports an uploaded file. A ZIP archive (detected by content)
// is expanded in memory and each .csv or .txt entry imported as its own
// batch, in archive order, named "<name>/<entry>". Anything else is a
// single batch. The error reports an unreadable archive.
func (e *Engine) ImportData(ctx context.Context, data []byte, name string, progress ProgressFunc) ([]Result, error) {
	if !isZip(data) {
		return []Result{e.ImportBatch(ctx, data, name, progress)}, nil
	}

	entries, err := unzipEntries(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	results := make([]Result, 0, len(entries))
	for _, ent := range entries {
		results = append(results, e.ImportBatch(ctx, ent.data, name+"/"+ent.name, progress))
	}
	return results, nil
}

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

type zipEntry struct {
	name string
	data []byte
}

// unzipEntries reads the data files of a ZIP archive held in memory.
// Directories and files other than .csv/.txt are skipped.
func unzipEntries(data []byte) ([]zipEntry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var out []zipEntry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".csv", ".txt":
		default:
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if len(b) > maxEntrySize {
			return nil, fmt.Errorf("extract %s: entry larger than %d bytes", f.Name, maxEntrySize)
		}
		out = append(out, zipEntry{name: filepath.Base(f.Name), data: b})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .csv or .txt entry in archive")
	}
	return out, nil
}
