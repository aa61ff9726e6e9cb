// Package query computes the dashboard aggregates over the death record
// store.
//
// Every function reads through a query-only store handle and tolerates an
// empty store: no matching rows yields zero, an empty slice or nil, never an
// error. Errors are reserved for store failures.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hazyhaar/mortalite/pkg/metrics"
	"github.com/hazyhaar/mortalite/pkg/population"
	"github.com/hazyhaar/mortalite/pkg/store"
)

// DefaultBucketSize is the age bucket width of pyramids and trends.
const DefaultBucketSize = 5

// RatePer is the scale of every mortality rate.
const RatePer = 100000

// Service runs aggregates against one read-only store handle.
type Service struct {
	db  *store.DB
	pop *population.Cache
}

// New returns a Service over db, which must come from store.OpenReader.
// pop may be nil, in which case no rate is ever computed.
func New(db *store.DB, pop *population.Cache) (*Service, error) {
	if db == nil {
		return nil, errors.New("query: nil store")
	}
	if !db.ReadOnly() {
		return nil, errors.New("query: store handle must be read-only")
	}
	return &Service{db: db, pop: pop}, nil
}

// observe records the duration and outcome of a query. Use it deferred with
// a pointer to the named error result.
func observe(name string, start time.Time, err *error) {
	metrics.RecordQuery(name, time.Since(start), *err)
}

// TotalCount returns the number of records matching f.
func (s *Service) TotalCount(ctx context.Context, f Filters) (n int64, err error) {
	defer observe("total_count", time.Now(), &err)

	var w where
	w.filters(f)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deces`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("total count: %w", err)
	}
	return n, nil
}

// AverageAge returns the mean age at death over records with a known age,
// rounded to one decimal. It is nil when no such record matches.
func (s *Service) AverageAge(ctx context.Context, f Filters) (avg *float64, err error) {
	defer observe("average_age", time.Now(), &err)

	var w where
	w.add("age_at_death IS NOT NULL")
	w.filters(f)
	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(age_at_death) FROM deces`+w.String(), w.args...).Scan(&v); err != nil {
		return nil, fmt.Errorf("average age: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	r := round(v.Float64, 1)
	return &r, nil
}

// YearOverYearDelta returns the percentage change of the count of year over
// the count of year-1, rounded to one decimal. f.Year is ignored. The result
// is nil when the previous year has no record.
func (s *Service) YearOverYearDelta(ctx context.Context, year int, f Filters) (*float64, error) {
	cur, err := s.TotalCount(ctx, f.WithYear(year))
	if err != nil {
		return nil, err
	}
	prev, err := s.TotalCount(ctx, f.WithYear(year-1))
	if err != nil {
		return nil, err
	}
	if prev == 0 {
		return nil, nil
	}
	d := round(float64(cur-prev)/float64(prev)*100, 1)
	return &d, nil
}

// DayCount is the number of deaths on one date.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// DailySeries returns per-day counts of year in date order. Days without a
// death are absent. f.Year is ignored.
func (s *Service) DailySeries(ctx context.Context, year int, f Filters) (out []DayCount, err error) {
	defer observe("daily_series", time.Now(), &err)

	var w where
	w.filters(f.WithYear(year))
	rows, err := s.db.QueryContext(ctx,
		`SELECT death_date, COUNT(*) FROM deces`+w.String()+` GROUP BY death_date ORDER BY death_date`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}
	defer rows.Close()

	out = []DayCount{}
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan daily series: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MonthDayCount is one cell of the calendar heatmap.
type MonthDayCount struct {
	Month int   `json:"month"`
	Day   int   `json:"day"`
	Count int64 `json:"count"`
}

// MonthDayMatrix returns counts of year grouped by month and day, ordered.
// f.Year is ignored.
func (s *Service) MonthDayMatrix(ctx context.Context, year int, f Filters) (out []MonthDayCount, err error) {
	defer observe("month_day_matrix", time.Now(), &err)

	var w where
	w.filters(f.WithYear(year))
	rows, err := s.db.QueryContext(ctx,
		`SELECT death_month, death_day, COUNT(*) FROM deces`+w.String()+
			` GROUP BY death_month, death_day ORDER BY death_month, death_day`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("month day matrix: %w", err)
	}
	defer rows.Close()

	out = []MonthDayCount{}
	for rows.Next() {
		var c MonthDayCount
		if err := rows.Scan(&c.Month, &c.Day, &c.Count); err != nil {
			return nil, fmt.Errorf("scan month day matrix: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PyramidBucket counts deaths of one sex within a five-year age bucket
// starting at AgeBucket.
type PyramidBucket struct {
	AgeBucket int   `json:"age_bucket"`
	Sex       int   `json:"sex"`
	Count     int64 `json:"count"`
}

// AgePyramid returns counts by five-year age bucket and sex, for records of
// known age and sex, ordered by bucket then sex.
func (s *Service) AgePyramid(ctx context.Context, f Filters) (out []PyramidBucket, err error) {
	defer observe("age_pyramid", time.Now(), &err)

	var w where
	w.add("age_at_death IS NOT NULL AND sex IN (1, 2)")
	w.filters(f)
	args := append([]any{DefaultBucketSize, DefaultBucketSize}, w.args...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(age_at_death / ? AS INTEGER) * ? AS bucket, sex, COUNT(*) FROM deces`+w.String()+
			` GROUP BY bucket, sex ORDER BY bucket, sex`, args...)
	if err != nil {
		return nil, fmt.Errorf("age pyramid: %w", err)
	}
	defer rows.Close()

	out = []PyramidBucket{}
	for rows.Next() {
		var b PyramidBucket
		if err := rows.Scan(&b.AgeBucket, &b.Sex, &b.Count); err != nil {
			return nil, fmt.Errorf("scan age pyramid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DepartmentCount is the number of deaths in one department. Population and
// Rate are set only when a year is selected and a population figure exists.
type DepartmentCount struct {
	Code       string   `json:"code"`
	Count      int64    `json:"count"`
	Population *int64   `json:"population"`
	Rate       *float64 `json:"rate"`
}

// ByDepartment returns counts per department code, ordered by code. Records
// of unknown department ("00") are excluded.
func (s *Service) ByDepartment(ctx context.Context, f Filters) (out []DepartmentCount, err error) {
	defer observe("by_department", time.Now(), &err)

	var w where
	w.add("department != '00'")
	w.filters(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT department, COUNT(*) FROM deces`+w.String()+` GROUP BY department ORDER BY department`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("by department: %w", err)
	}
	defer rows.Close()

	out = []DepartmentCount{}
	for rows.Next() {
		var d DepartmentCount
		if err := rows.Scan(&d.Code, &d.Count); err != nil {
			return nil, fmt.Errorf("scan by department: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if f.Year != 0 && s.pop != nil {
		for i := range out {
			if p, ok := s.pop.Department(f.Year, out[i].Code); ok {
				out[i].Population = &p
				out[i].Rate = MortalityRate(out[i].Count, p, RatePer)
			}
		}
	}
	return out, nil
}

// AgeYearRow counts deaths of one age bucket [AgeBucket, AgeMax] in Year.
type AgeYearRow struct {
	AgeBucket  int      `json:"age_bucket"`
	AgeMax     int      `json:"age_max"`
	Year       int      `json:"year"`
	Deaths     int64    `json:"deaths"`
	Population *int64   `json:"population"`
	Rate       *float64 `json:"rate"`
}

// ByAgeBucketAndYear returns deaths of known age grouped by age bucket of
// bucketSize years and by year, ordered by bucket then year. A non-empty
// years restricts the result to those years and overrides f.Year. A
// bucketSize below one falls back to DefaultBucketSize.
func (s *Service) ByAgeBucketAndYear(ctx context.Context, bucketSize int, years []int, f Filters) (out []AgeYearRow, err error) {
	defer observe("by_age_bucket_and_year", time.Now(), &err)

	if bucketSize < 1 {
		bucketSize = DefaultBucketSize
	}
	var w where
	w.add("age_at_death IS NOT NULL")
	if len(years) > 0 {
		f.Year = 0
		w.in("death_year", years)
	}
	w.filters(f)
	args := append([]any{bucketSize, bucketSize}, w.args...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(age_at_death / ? AS INTEGER) * ? AS bucket, death_year, COUNT(*) FROM deces`+w.String()+
			` GROUP BY bucket, death_year ORDER BY bucket, death_year`, args...)
	if err != nil {
		return nil, fmt.Errorf("by age bucket and year: %w", err)
	}
	defer rows.Close()

	out = []AgeYearRow{}
	for rows.Next() {
		var r AgeYearRow
		if err := rows.Scan(&r.AgeBucket, &r.Year, &r.Deaths); err != nil {
			return nil, fmt.Errorf("scan by age bucket and year: %w", err)
		}
		r.AgeMax = r.AgeBucket + bucketSize - 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.pop != nil {
		for i := range out {
			r := &out[i]
			if p, ok := s.pop.AgeRange(r.Year, r.AgeBucket, r.AgeMax); ok && p > 0 {
				r.Population = &p
				r.Rate = MortalityRate(r.Deaths, p, RatePer)
			}
		}
	}
	return out, nil
}

// MortalityRate returns deaths per `per` inhabitants, rounded to two
// decimals, or nil for a zero population.
func MortalityRate(deaths, population int64, per int) *float64 {
	if population == 0 {
		return nil
	}
	r := round(float64(deaths)/float64(population)*float64(per), 2)
	return &r
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
