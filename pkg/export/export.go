// Package export renders age trend aggregates as an Excel workbook.
package export

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/hazyhaar/mortalite/pkg/query"
)

// Sheet names of the age trends workbook.
const (
	SheetDeaths = "Décès par âge"
	SheetRates  = "Taux par âge"
	SheetRaw    = "Données brutes"
	SheetEmpty  = "Données"
)

// ContentType is the MIME type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const ageHeader = "Tranche d'âge"

// AgeTrends builds a workbook from ByAgeBucketAndYear rows: deaths pivoted
// by year, rates pivoted by year, and the raw rows. Every sheet has an
// auto-filter over its data. No rows yields a workbook with one empty sheet.
func AgeTrends(rows []query.AgeYearRow, bucketSize int) ([]byte, error) {
	f := excelize.NewFile()
	// Note: don't defer Close(), WriteTo needs the file open.

	if len(rows) == 0 {
		if err := f.SetSheetName("Sheet1", SheetEmpty); err != nil {
			f.Close()
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
		return write(f)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	p := pivot(rows)
	label := func(bucket int) string {
		return fmt.Sprintf("%d-%d ans", bucket, bucket+bucketSize-1)
	}

	deaths := [][]any{header(ageHeader, "Décès", p.years)}
	rates := [][]any{header(ageHeader, "Taux", p.years)}
	for _, b := range p.buckets {
		dr := []any{label(b)}
		rr := []any{label(b)}
		for _, y := range p.years {
			cell := p.cells[cellKey{b, y}]
			dr = append(dr, cell.Deaths)
			if cell.Rate != nil {
				rr = append(rr, *cell.Rate)
			} else {
				rr = append(rr, 0)
			}
		}
		deaths = append(deaths, dr)
		rates = append(rates, rr)
	}

	raw := [][]any{{ageHeader, "Année", "Décès", "Population", "Taux (/100k)"}}
	for _, r := range rows {
		row := []any{label(r.AgeBucket), r.Year, r.Deaths, nil, nil}
		if r.Population != nil {
			row[3] = *r.Population
		}
		if r.Rate != nil {
			row[4] = *r.Rate
		}
		raw = append(raw, row)
	}

	for _, s := range []struct {
		name string
		data [][]any
	}{
		{SheetDeaths, deaths},
		{SheetRates, rates},
		{SheetRaw, raw},
	} {
		if err := writeSheet(f, s.name, s.data, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(SheetDeaths); err == nil {
		f.SetActiveSheet(idx)
	}
	return write(f)
}

func header(first, prefix string, years []int) []any {
	h := []any{first}
	for _, y := range years {
		h = append(h, fmt.Sprintf("%s %d", prefix, y))
	}
	return h
}

func writeSheet(f *excelize.File, name string, data [][]any, headerStyle int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	for i, row := range data {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, i+1, err)
		}
	}

	cols := len(data[0])
	last, err := excelize.CoordinatesToCellName(cols, len(data))
	if err != nil {
		return err
	}
	lastHeader, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", name, err)
	}
	if err := f.AutoFilter(name, "A1:"+last, nil); err != nil {
		return fmt.Errorf("auto filter %s: %w", name, err)
	}
	lastCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if err := f.SetColWidth(name, "A", lastCol, 16); err != nil {
		return fmt.Errorf("column width %s: %w", name, err)
	}
	return nil
}

func write(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type cellKey struct{ bucket, year int }

type pivoted struct {
	buckets []int
	years   []int
	cells   map[cellKey]query.AgeYearRow
}

func pivot(rows []query.AgeYearRow) pivoted {
	p := pivoted{cells: make(map[cellKey]query.AgeYearRow, len(rows))}
	for _, r := range rows {
		p.cells[cellKey{r.AgeBucket, r.Year}] = r
		p.buckets = append(p.buckets, r.AgeBucket)
		p.years = append(p.years, r.Year)
	}
	slices.Sort(p.buckets)
	p.buckets = slices.Compact(p.buckets)
	slices.Sort(p.years)
	p.years = slices.Compact(p.years)
	return p
}
