package query

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/hazyhaar/mortalite/pkg/store"
)

// AvailableYears lists death years present in the store, newest first.
func (s *Service) AvailableYears(ctx context.Context) (out []int, err error) {
	defer observe("available_years", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT death_year FROM deces ORDER BY death_year DESC`)
	if err != nil {
		return nil, fmt.Errorf("available years: %w", err)
	}
	defer rows.Close()

	out = []int{}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan year: %w", err)
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

// AvailableDepartments lists known department codes in ascending order.
func (s *Service) AvailableDepartments(ctx context.Context) (out []string, err error) {
	defer observe("available_departments", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT department FROM deces WHERE department != '00' ORDER BY department`)
	if err != nil {
		return nil, fmt.Errorf("available departments: %w", err)
	}
	defer rows.Close()

	out = []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// YearCount is the number of deaths in one year. Population and Rate are
// set when a population figure covers the filtered scope.
type YearCount struct {
	Year       int      `json:"year"`
	Count      int64    `json:"count"`
	Population *int64   `json:"population"`
	Rate       *float64 `json:"rate"`
}

// DeathsByYear returns counts per year in ascending order. f.Year is ignored.
// Rates use the national total, or the department figure when f.Department
// is set; filters on month, sex or age leave them unset.
func (s *Service) DeathsByYear(ctx context.Context, f Filters) (out []YearCount, err error) {
	defer observe("deaths_by_year", time.Now(), &err)

	f.Year = 0
	var w where
	w.filters(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT death_year, COUNT(*) FROM deces`+w.String()+` GROUP BY death_year ORDER BY death_year`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("deaths by year: %w", err)
	}
	defer rows.Close()

	out = []YearCount{}
	for rows.Next() {
		var c YearCount
		if err := rows.Scan(&c.Year, &c.Count); err != nil {
			return nil, fmt.Errorf("scan deaths by year: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.pop != nil && f.Month == 0 && f.Sex == 0 && f.Ages == nil {
		for i := range out {
			var p int64
			var ok bool
			if f.Department != "" {
				p, ok = s.pop.Department(out[i].Year, f.Department)
			} else {
				p, ok = s.pop.TotalForYear(out[i].Year)
			}
			if ok {
				out[i].Population = &p
				out[i].Rate = MortalityRate(out[i].Count, p, RatePer)
			}
		}
	}
	return out, nil
}

// MonthCount is the number of deaths in one month.
type MonthCount struct {
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

// MonthlyCounts returns twelve entries for year, months without a death
// included with a zero count. f.Year and f.Month are ignored.
func (s *Service) MonthlyCounts(ctx context.Context, year int, f Filters) (out []MonthCount, err error) {
	defer observe("monthly_counts", time.Now(), &err)

	f.Month = 0
	var w where
	w.filters(f.WithYear(year))
	rows, err := s.db.QueryContext(ctx,
		`SELECT death_month, COUNT(*) FROM deces`+w.String()+` GROUP BY death_month`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("monthly counts: %w", err)
	}
	defer rows.Close()

	out = make([]MonthCount, 12)
	for i := range out {
		out[i].Month = i + 1
	}
	for rows.Next() {
		var m int
		var n int64
		if err := rows.Scan(&m, &n); err != nil {
			return nil, fmt.Errorf("scan monthly counts: %w", err)
		}
		if m >= 1 && m <= 12 {
			out[m-1].Count = n
		}
	}
	return out, rows.Err()
}

// SexCounts splits a total between men (sex 1) and women (sex 2). Records of
// unknown sex are counted in neither.
type SexCounts struct {
	Male   int64 `json:"male"`
	Female int64 `json:"female"`
}

// SexSplit counts men and women matching f. f.Sex is ignored.
func (s *Service) SexSplit(ctx context.Context, f Filters) (out SexCounts, err error) {
	defer observe("sex_split", time.Now(), &err)

	f.Sex = 0
	var w where
	w.filters(f)
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(sex = 1), 0), COALESCE(SUM(sex = 2), 0) FROM deces`+w.String(), w.args...).
		Scan(&out.Male, &out.Female)
	if err != nil {
		return SexCounts{}, fmt.Errorf("sex split: %w", err)
	}
	return out, nil
}

// MedianAge is the median age at death of one year.
type MedianAge struct {
	Year   int     `json:"year"`
	Median float64 `json:"median_age"`
	Deaths int64   `json:"total_deaths"`
}

// MedianAgeByYear returns the median age at death per year, interpolating
// between the two middle values of an even-sized year. Records of unknown
// age are ignored. A non-empty years overrides f.Year.
func (s *Service) MedianAgeByYear(ctx context.Context, years []int, f Filters) (out []MedianAge, err error) {
	defer observe("median_age_by_year", time.Now(), &err)

	var w where
	w.add("age_at_death IS NOT NULL")
	if len(years) > 0 {
		f.Year = 0
		w.in("death_year", years)
	}
	w.filters(f)

	// rn picks the middle row of odd groups twice, the two middle rows of
	// even groups once each.
	q := `WITH ranked AS (
		SELECT death_year, age_at_death,
			ROW_NUMBER() OVER (PARTITION BY death_year ORDER BY age_at_death) AS rn,
			COUNT(*) OVER (PARTITION BY death_year) AS n
		FROM deces` + w.String() + `
	)
	SELECT death_year, AVG(age_at_death), MAX(n) FROM ranked
	WHERE rn IN ((n + 1) / 2, (n + 2) / 2)
	GROUP BY death_year ORDER BY death_year`

	rows, err := s.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("median age by year: %w", err)
	}
	defer rows.Close()

	out = []MedianAge{}
	for rows.Next() {
		var m MedianAge
		if err := rows.Scan(&m.Year, &m.Median, &m.Deaths); err != nil {
			return nil, fmt.Errorf("scan median age: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AgeGroupCount is the death count of one age bucket.
type AgeGroupCount struct {
	AgeBucket int   `json:"age_bucket"`
	Deaths    int64 `json:"deaths"`
}

// MostAffectedAgeGroup returns the bucket with the most deaths in year, the
// youngest on ties. It is nil when year has no record of known age.
func (s *Service) MostAffectedAgeGroup(ctx context.Context, year, bucketSize int, f Filters) (*AgeGroupCount, error) {
	rows, err := s.ByAgeBucketAndYear(ctx, bucketSize, []int{year}, f)
	if err != nil {
		return nil, err
	}
	var best *AgeGroupCount
	for _, r := range rows {
		if best == nil || r.Deaths > best.Deaths {
			best = &AgeGroupCount{AgeBucket: r.AgeBucket, Deaths: r.Deaths}
		}
	}
	return best, nil
}

// AgeTrend summarizes one age bucket across the requested years.
type AgeTrend struct {
	AgeBucket int           `json:"age_bucket"`
	Deaths    map[int]int64 `json:"deaths"`
	// Evolution is the percentage change between the last two requested
	// years; nil with fewer than two years or no death in the earlier one.
	Evolution *float64 `json:"evolution_pct"`
}

// AgeTrendsSummary pivots ByAgeBucketAndYear over years, one entry per
// bucket in ascending order. Every requested year is present in Deaths,
// zero-filled.
func (s *Service) AgeTrendsSummary(ctx context.Context, years []int, bucketSize int) ([]AgeTrend, error) {
	rows, err := s.ByAgeBucketAndYear(ctx, bucketSize, years, Filters{})
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(years)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := []AgeTrend{}
	idx := make(map[int]int)
	for _, r := range rows {
		i, ok := idx[r.AgeBucket]
		if !ok {
			t := AgeTrend{AgeBucket: r.AgeBucket, Deaths: make(map[int]int64, len(sorted))}
			for _, y := range sorted {
				t.Deaths[y] = 0
			}
			out = append(out, t)
			i = len(out) - 1
			idx[r.AgeBucket] = i
		}
		out[i].Deaths[r.Year] = r.Deaths
	}

	if len(sorted) >= 2 {
		last, prev := sorted[len(sorted)-1], sorted[len(sorted)-2]
		for i := range out {
			cur, before := out[i].Deaths[last], out[i].Deaths[prev]
			if before > 0 {
				e := round(float64(cur-before)/float64(before)*100, 1)
				out[i].Evolution = &e
			}
		}
	}
	return out, nil
}

// Stats describes the store as a whole.
type Stats struct {
	TotalRecords int64  `json:"total_records"`
	FirstDeath   string `json:"first_death,omitempty"`
	LastDeath    string `json:"last_death,omitempty"`
	Departments  int64  `json:"departments_count"`
	Imports      int64  `json:"imports_count"`
}

// DatabaseStats returns record, department and import counts together with
// the death date range.
func (s *Service) DatabaseStats(ctx context.Context) (st Stats, err error) {
	defer observe("database_stats", time.Now(), &err)

	var first, last sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(death_date), MAX(death_date),
		(SELECT COUNT(DISTINCT department) FROM deces WHERE department != '00')
		FROM deces`).Scan(&st.TotalRecords, &first, &last, &st.Departments)
	if err != nil {
		return Stats{}, fmt.Errorf("database stats: %w", err)
	}
	st.FirstDeath, st.LastDeath = first.String, last.String

	if st.Imports, err = s.db.ImportCount(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ImportHistory returns the latest import log entries, newest first. A limit
// below one means store.DefaultHistoryLimit.
func (s *Service) ImportHistory(ctx context.Context, limit int) (out []store.ImportLogEntry, err error) {
	defer observe("import_history", time.Now(), &err)
	return s.db.ImportHistory(ctx, limit)
}
