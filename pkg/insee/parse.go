package insee

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Batch is a parsed import file: the declared-schema mapping of its header
// and one RawRecord per well-formed line.
type Batch struct {
	Mapping   *Mapping
	Records   []RawRecord
	Malformed int
}

// Parse reads semicolon-delimited text with a mandatory header row.
// Lines that fail to parse, or whose field count differs from the header,
// are counted in Malformed and skipped. A header lacking mandatory columns
// yields a *SchemaError.
func Parse(text string) (*Batch, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = ';'
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		header = nil
	} else if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	m, err := MapHeader(header)
	if err != nil {
		return nil, err
	}

	b := &Batch{Mapping: m}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.Malformed++
			continue
		}
		b.Records = append(b.Records, m.Record(row))
	}
	return b, nil
}
