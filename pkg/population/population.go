// Package population serves reference population figures used to turn death
// counts into mortality rates.
//
// Figures come from two static CSV files, read once per process on first use:
//
//	population_dept.csv  annee,departement,population
//	population_age.csv   annee,age_min,age_max,population
//
// A missing or unreadable file yields an empty table; lookups then report
// "not found" rather than an error.
package population

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

type deptKey struct {
	year int
	code string
}

// AgeRow is one row of the age table: population aged [Min, Max] in Year.
type AgeRow struct {
	Year       int
	Min, Max   int
	Population int64
}

// Cache holds both tables. It is safe for concurrent use; the zero value is
// not usable, build one with New.
type Cache struct {
	deptPath string
	agePath  string
	logger   *slog.Logger

	deptOnce sync.Once
	dept     map[deptKey]int64
	yearTot  map[int]int64

	ageOnce sync.Once
	age     []AgeRow
}

// New returns a cache over the two files. Empty paths disable the
// corresponding table.
func New(deptPath, agePath string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{deptPath: deptPath, agePath: agePath, logger: logger}
}

func (c *Cache) loadDept() {
	c.deptOnce.Do(func() {
		c.dept = make(map[deptKey]int64)
		c.yearTot = make(map[int]int64)
		rows, err := readTable(c.deptPath, "annee", "departement", "population")
		if err != nil {
			c.logger.Warn("population by department unavailable", "path", c.deptPath, "error", err)
			return
		}
		for _, r := range rows {
			year, err1 := strconv.Atoi(r[0])
			pop, err2 := parseCount(r[2])
			code := strings.TrimSpace(r[1])
			if err1 != nil || err2 != nil || code == "" {
				continue
			}
			k := deptKey{year, code}
			if _, dup := c.dept[k]; dup {
				continue
			}
			c.dept[k] = pop
			c.yearTot[year] += pop
		}
		c.logger.Debug("population by department loaded", "rows", len(c.dept))
	})
}

func (c *Cache) loadAge() {
	c.ageOnce.Do(func() {
		rows, err := readTable(c.agePath, "annee", "age_min", "age_max", "population")
		if err != nil {
			c.logger.Warn("population by age unavailable", "path", c.agePath, "error", err)
			return
		}
		for _, r := range rows {
			year, err1 := strconv.Atoi(r[0])
			lo, err2 := strconv.Atoi(r[1])
			hi, err3 := strconv.Atoi(r[2])
			pop, err4 := parseCount(r[3])
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				continue
			}
			c.age = append(c.age, AgeRow{Year: year, Min: lo, Max: hi, Population: pop})
		}
		c.logger.Debug("population by age loaded", "rows", len(c.age))
	})
}

// Department returns the population of department code in year.
func (c *Cache) Department(year int, code string) (int64, bool) {
	c.loadDept()
	p, ok := c.dept[deptKey{year, code}]
	return p, ok
}

// TotalForYear sums every department of year. Zero means unknown.
func (c *Cache) TotalForYear(year int) (int64, bool) {
	c.loadDept()
	p := c.yearTot[year]
	return p, p > 0
}

// AgeRange returns the population aged [lo, hi] in year. An exact row wins;
// otherwise every row lying entirely inside the range is summed, so 10-year
// buckets can be served from 5-year source rows.
func (c *Cache) AgeRange(year, lo, hi int) (int64, bool) {
	c.loadAge()
	var sum int64
	found := false
	for _, r := range c.age {
		if r.Year != year {
			continue
		}
		if r.Min == lo && r.Max == hi {
			return r.Population, true
		}
		if r.Min >= lo && r.Max <= hi {
			sum += r.Population
			found = true
		}
	}
	return sum, found
}

// Empty reports whether neither table holds any row.
func (c *Cache) Empty() bool {
	c.loadDept()
	c.loadAge()
	return len(c.dept) == 0 && len(c.age) == 0
}

// readTable reads a comma-separated file with a header, returning the
// requested columns of each data row in order.
func readTable(path string, cols ...string) ([][]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		j, ok := colIdx[c]
		if !ok {
			return nil, fmt.Errorf("column %q not found in header %v", c, header)
		}
		idx[i] = j
	}

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, err
		}
		row := make([]string, len(idx))
		for i, j := range idx {
			if j < len(rec) {
				row[i] = strings.TrimSpace(rec[j])
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// parseCount accepts integers and float renderings such as "65432.0".
func parseCount(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
