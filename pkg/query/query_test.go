package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/mortalite/pkg/insee"
	"github.com/hazyhaar/mortalite/pkg/population"
	"github.com/hazyhaar/mortalite/pkg/store"
)

type fixture struct {
	name  string
	death string // YYYY-MM-DD
	age   float64
	sex   int
	dept  string
}

func (f fixture) record() insee.Record {
	var year, month, day int
	fmt.Sscanf(f.death, "%d-%d-%d", &year, &month, &day)
	r := insee.Record{
		FullName:     f.name,
		Sex:          f.sex,
		DeathDate:    f.death,
		DeathYear:    year,
		DeathMonth:   month,
		DeathDay:     day,
		Department:   f.dept,
		IdentityHash: insee.ComputeIdentity(f.name, "", f.death, f.dept),
	}
	if f.age >= 0 {
		a := f.age
		r.AgeAtDeath = &a
	}
	return r
}

// openService stores rows and returns a Service over a read-only handle.
func openService(t *testing.T, pop *population.Cache, rows ...fixture) *Service {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "deces.db")

	w, err := store.OpenWriter(ctx, path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	recs := make([]insee.Record, len(rows))
	for i, f := range rows {
		recs[i] = f.record()
	}
	if len(recs) > 0 {
		if _, err := w.Merge(ctx, recs, "fixture.csv", time.Now()); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close writer: %v", err)
	}

	r, err := store.OpenReader(ctx, path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	s, err := New(r, pop)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sample() []fixture {
	return []fixture{
		{"A", "2023-01-05", 70, 1, "75"},
		{"B", "2023-01-05", 80.5, 2, "75"},
		{"C", "2023-02-10", 90, 2, "13"},
		{"D", "2023-03-15", 86, 1, "974"},
		{"E", "2023-12-31", -1, 0, "00"},
		{"F", "2022-06-01", 60, 1, "75"},
		{"G", "2022-07-01", 70, 2, "13"},
	}
}

func TestEmptyStore(t *testing.T) {
	s := openService(t, nil)
	ctx := context.Background()

	if n, err := s.TotalCount(ctx, Filters{}); err != nil || n != 0 {
		t.Errorf("TotalCount = %d, %v", n, err)
	}
	if avg, err := s.AverageAge(ctx, Filters{}); err != nil || avg != nil {
		t.Errorf("AverageAge = %v, %v", avg, err)
	}
	if d, err := s.YearOverYearDelta(ctx, 2023, Filters{}); err != nil || d != nil {
		t.Errorf("YearOverYearDelta = %v, %v", d, err)
	}
	if rows, err := s.DailySeries(ctx, 2023, Filters{}); err != nil || len(rows) != 0 {
		t.Errorf("DailySeries = %v, %v", rows, err)
	}
	if rows, err := s.MonthDayMatrix(ctx, 2023, Filters{}); err != nil || len(rows) != 0 {
		t.Errorf("MonthDayMatrix = %v, %v", rows, err)
	}
	if rows, err := s.AgePyramid(ctx, Filters{}); err != nil || len(rows) != 0 {
		t.Errorf("AgePyramid = %v, %v", rows, err)
	}
	if rows, err := s.ByDepartment(ctx, Filters{Year: 2023}); err != nil || len(rows) != 0 {
		t.Errorf("ByDepartment = %v, %v", rows, err)
	}
	if rows, err := s.ByAgeBucketAndYear(ctx, 10, nil, Filters{}); err != nil || len(rows) != 0 {
		t.Errorf("ByAgeBucketAndYear = %v, %v", rows, err)
	}
	if rows, err := s.MedianAgeByYear(ctx, nil, Filters{}); err != nil || len(rows) != 0 {
		t.Errorf("MedianAgeByYear = %v, %v", rows, err)
	}
	if g, err := s.MostAffectedAgeGroup(ctx, 2023, 5, Filters{}); err != nil || g != nil {
		t.Errorf("MostAffectedAgeGroup = %v, %v", g, err)
	}
	if st, err := s.DatabaseStats(ctx); err != nil || st.TotalRecords != 0 || st.FirstDeath != "" {
		t.Errorf("DatabaseStats = %+v, %v", st, err)
	}
	if ys, err := s.AvailableYears(ctx); err != nil || len(ys) != 0 {
		t.Errorf("AvailableYears = %v, %v", ys, err)
	}
	if sc, err := s.SexSplit(ctx, Filters{}); err != nil || sc != (SexCounts{}) {
		t.Errorf("SexSplit = %+v, %v", sc, err)
	}
}

func TestTotalCountByYear(t *testing.T) {
	s := openService(t, nil, sample()...)
	ctx := context.Background()

	n, err := s.TotalCount(ctx, Filters{Year: 2023})
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if n != 5 {
		t.Errorf("TotalCount(2023) = %d, want 5", n)
	}

	n, err = s.TotalCount(ctx, Filters{Year: 2023, Sex: 2, Department: "75"})
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if n != 1 {
		t.Errorf("TotalCount(2023, women, 75) = %d, want 1", n)
	}

	n, err = s.TotalCount(ctx, Filters{Ages: &AgeRange{Min: 80, Max: 90}})
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if n != 3 {
		t.Errorf("TotalCount(80-90) = %d, want 3", n)
	}
}

func TestYearOverYearDelta(t *testing.T) {
	s := openService(t, nil, sample()...)
	ctx := context.Background()

	d, err := s.YearOverYearDelta(ctx, 2023, Filters{})
	if err != nil {
		t.Fatalf("YearOverYearDelta: %v", err)
	}
	if d == nil || *d != 150 {
		t.Errorf("delta = %v, want 150", d)
	}

	d, err = s.YearOverYearDelta(ctx, 2022, Filters{})
	if err != nil {
		t.Fatalf("YearOverYearDelta: %v", err)
	}
	if d != nil {
		t.Errorf("delta with empty previous year = %v, want nil", *d)
	}
}

func TestAverageAge(t *testing.T) {
	s := openService(t, nil, sample()...)
	avg, err := s.AverageAge(context.Background(), Filters{Year: 2023})
	if err != nil {
		t.Fatalf("AverageAge: %v", err)
	}
	// (70 + 80.5 + 90 + 86) / 4 = 81.625
	if avg == nil || *avg != 81.6 {
		t.Errorf("AverageAge = %v, want 81.6", avg)
	}
}

func TestDailySeriesAndMatrix(t *testing.T) {
	s := openService(t, nil, sample()...)
	ctx := context.Background()

	days, err := s.DailySeries(ctx, 2023, Filters{})
	if err != nil {
		t.Fatalf("DailySeries: %v", err)
	}
	want := []DayCount{{"2023-01-05", 2}, {"2023-02-10", 1}, {"2023-03-15", 1}, {"2023-12-31", 1}}
	if len(days) != len(want) {
		t.Fatalf("DailySeries = %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("day %d = %v, want %v", i, days[i], want[i])
		}
	}

	cells, err := s.MonthDayMatrix(ctx, 2023, Filters{Year: 1999})
	if err != nil {
		t.Fatalf("MonthDayMatrix: %v", err)
	}
	if len(cells) != 4 || cells[0] != (MonthDayCount{1, 5, 2}) || cells[3] != (MonthDayCount{12, 31, 1}) {
		t.Errorf("MonthDayMatrix = %v", cells)
	}
}

func TestAgePyramid(t *testing.T) {
	s := openService(t, nil, sample()...)
	got, err := s.AgePyramid(context.Background(), Filters{Year: 2023})
	if err != nil {
		t.Fatalf("AgePyramid: %v", err)
	}
	want := []PyramidBucket{{70, 1, 1}, {80, 2, 1}, {85, 1, 1}, {90, 2, 1}}
	if len(got) != len(want) {
		t.Fatalf("AgePyramid = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func writePopulation(t *testing.T) *population.Cache {
	t.Helper()
	dir := t.TempDir()
	dept := filepath.Join(dir, "population_dept.csv")
	age := filepath.Join(dir, "population_age.csv")
	if err := os.WriteFile(dept, []byte("annee,departement,population\n2023,75,200000\n2023,13,100000\n"), 0o644); err != nil {
		t.Fatalf("write dept: %v", err)
	}
	if err := os.WriteFile(age, []byte("annee,age_min,age_max,population\n2023,70,74,50000\n2023,75,79,50000\n2023,80,84,40000\n"), 0o644); err != nil {
		t.Fatalf("write age: %v", err)
	}
	return population.New(dept, age, nil)
}

func TestByDepartment(t *testing.T) {
	s := openService(t, writePopulation(t), sample()...)
	ctx := context.Background()

	got, err := s.ByDepartment(ctx, Filters{Year: 2023})
	if err != nil {
		t.Fatalf("ByDepartment: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ByDepartment = %+v, want 3 departments", got)
	}
	if got[0].Code != "13" || got[1].Code != "75" || got[2].Code != "974" {
		t.Errorf("codes = %s %s %s", got[0].Code, got[1].Code, got[2].Code)
	}
	if got[1].Count != 2 || got[1].Rate == nil || *got[1].Rate != 1 {
		t.Errorf("75 = %+v, want count 2 rate 1", got[1])
	}
	if got[2].Population != nil || got[2].Rate != nil {
		t.Errorf("974 without population figure = %+v", got[2])
	}

	all, err := s.ByDepartment(ctx, Filters{})
	if err != nil {
		t.Fatalf("ByDepartment: %v", err)
	}
	for _, d := range all {
		if d.Rate != nil {
			t.Errorf("rate set without a year: %+v", d)
		}
	}
}

func TestByAgeBucketAndYear(t *testing.T) {
	s := openService(t, writePopulation(t), sample()...)
	got, err := s.ByAgeBucketAndYear(context.Background(), 10, []int{2023}, Filters{})
	if err != nil {
		t.Fatalf("ByAgeBucketAndYear: %v", err)
	}
	// 2023 ages 70, 80.5, 90, 86 -> buckets 70 (1), 80 (2), 90 (1)
	if len(got) != 3 {
		t.Fatalf("rows = %+v", got)
	}
	r := got[0]
	if r.AgeBucket != 70 || r.AgeMax != 79 || r.Deaths != 1 || r.Population == nil || *r.Population != 100000 {
		t.Errorf("70-79 = %+v", r)
	}
	if r.Rate == nil || *r.Rate != 1 {
		t.Errorf("70-79 rate = %v, want 1", r.Rate)
	}
	if got[2].Population != nil {
		t.Errorf("90-99 has no population data: %+v", got[2])
	}
}

func TestMedianAgeByYear(t *testing.T) {
	s := openService(t, nil, sample()...)
	got, err := s.MedianAgeByYear(context.Background(), nil, Filters{})
	if err != nil {
		t.Fatalf("MedianAgeByYear: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %+v", got)
	}
	// 2022: 60, 70 -> 65. 2023: 70, 80.5, 86, 90 -> 83.25.
	if got[0] != (MedianAge{2022, 65, 2}) {
		t.Errorf("2022 = %+v", got[0])
	}
	if got[1] != (MedianAge{2023, 83.25, 4}) {
		t.Errorf("2023 = %+v", got[1])
	}

	odd, err := s.MedianAgeByYear(context.Background(), []int{2023}, Filters{Sex: 2})
	if err != nil {
		t.Fatalf("MedianAgeByYear: %v", err)
	}
	if len(odd) != 1 || odd[0].Median != 85.25 {
		t.Errorf("women 2023 = %+v, want median 85.25", odd)
	}
}

func TestMonthlyCountsAndSexSplit(t *testing.T) {
	s := openService(t, nil, sample()...)
	ctx := context.Background()

	months, err := s.MonthlyCounts(ctx, 2023, Filters{Month: 5})
	if err != nil {
		t.Fatalf("MonthlyCounts: %v", err)
	}
	if len(months) != 12 {
		t.Fatalf("months = %d, want 12", len(months))
	}
	if months[0].Count != 2 || months[4].Count != 0 || months[11].Count != 1 {
		t.Errorf("months = %+v", months)
	}

	sc, err := s.SexSplit(ctx, Filters{Year: 2023})
	if err != nil {
		t.Fatalf("SexSplit: %v", err)
	}
	if sc != (SexCounts{Male: 2, Female: 2}) {
		t.Errorf("SexSplit = %+v", sc)
	}
}

func TestAgeTrendsSummary(t *testing.T) {
	s := openService(t, nil, sample()...)
	got, err := s.AgeTrendsSummary(context.Background(), []int{2023, 2022}, 10)
	if err != nil {
		t.Fatalf("AgeTrendsSummary: %v", err)
	}
	// buckets: 60 (2022:1), 70 (2022:1, 2023:1), 80 (2023:2), 90 (2023:1)
	if len(got) != 4 {
		t.Fatalf("trends = %+v", got)
	}
	if got[0].AgeBucket != 60 || got[0].Deaths[2023] != 0 || got[0].Evolution == nil || *got[0].Evolution != -100 {
		t.Errorf("60 = %+v", got[0])
	}
	if got[1].Evolution == nil || *got[1].Evolution != 0 {
		t.Errorf("70 = %+v", got[1])
	}
	if got[2].Evolution != nil {
		t.Errorf("80 has no 2022 death, evolution = %v", *got[2].Evolution)
	}

	g, err := s.MostAffectedAgeGroup(context.Background(), 2023, 10, Filters{})
	if err != nil {
		t.Fatalf("MostAffectedAgeGroup: %v", err)
	}
	if g == nil || *g != (AgeGroupCount{80, 2}) {
		t.Errorf("MostAffectedAgeGroup = %v", g)
	}
}

func TestStatsAndLists(t *testing.T) {
	s := openService(t, nil, sample()...)
	ctx := context.Background()

	st, err := s.DatabaseStats(ctx)
	if err != nil {
		t.Fatalf("DatabaseStats: %v", err)
	}
	want := Stats{TotalRecords: 7, FirstDeath: "2022-06-01", LastDeath: "2023-12-31", Departments: 3, Imports: 1}
	if st != want {
		t.Errorf("DatabaseStats = %+v, want %+v", st, want)
	}

	years, err := s.AvailableYears(ctx)
	if err != nil {
		t.Fatalf("AvailableYears: %v", err)
	}
	if len(years) != 2 || years[0] != 2023 || years[1] != 2022 {
		t.Errorf("AvailableYears = %v", years)
	}

	depts, err := s.AvailableDepartments(ctx)
	if err != nil {
		t.Fatalf("AvailableDepartments: %v", err)
	}
	if len(depts) != 3 || depts[0] != "13" {
		t.Errorf("AvailableDepartments = %v", depts)
	}

	hist, err := s.ImportHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].RowsAdded != 7 {
		t.Errorf("ImportHistory = %+v", hist)
	}

	byYear, err := s.DeathsByYear(ctx, Filters{Year: 2023})
	if err != nil {
		t.Fatalf("DeathsByYear: %v", err)
	}
	if len(byYear) != 2 || byYear[0].Year != 2022 || byYear[0].Count != 2 || byYear[1].Year != 2023 || byYear[1].Count != 5 {
		t.Errorf("DeathsByYear = %+v", byYear)
	}
	for _, y := range byYear {
		if y.Rate != nil {
			t.Errorf("rate without population data: %+v", y)
		}
	}
}

func TestDeathsByYear_Rates(t *testing.T) {
	s := openService(t, writePopulation(t), sample()...)
	ctx := context.Background()

	got, err := s.DeathsByYear(ctx, Filters{})
	if err != nil {
		t.Fatalf("DeathsByYear: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("DeathsByYear = %+v", got)
	}
	if got[0].Year != 2022 || got[0].Population != nil || got[0].Rate != nil {
		t.Errorf("2022 without population = %+v", got[0])
	}
	// 5 deaths over the 300000 national total.
	if r := got[1]; r.Population == nil || *r.Population != 300000 || r.Rate == nil || *r.Rate != 1.67 {
		t.Errorf("2023 = %+v, want population 300000 rate 1.67", r)
	}

	paris, err := s.DeathsByYear(ctx, Filters{Department: "75"})
	if err != nil {
		t.Fatalf("DeathsByYear(75): %v", err)
	}
	if len(paris) != 2 || paris[1].Count != 2 || paris[1].Rate == nil || *paris[1].Rate != 1 {
		t.Errorf("DeathsByYear(75) = %+v, want 2023 count 2 rate 1", paris)
	}

	women, err := s.DeathsByYear(ctx, Filters{Sex: 2})
	if err != nil {
		t.Fatalf("DeathsByYear(sex 2): %v", err)
	}
	for _, y := range women {
		if y.Rate != nil {
			t.Errorf("rate on a sex-filtered count: %+v", y)
		}
	}
}

func TestNewRequiresReader(t *testing.T) {
	w, err := store.OpenWriter(context.Background(), filepath.Join(t.TempDir(), "deces.db"))
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	if _, err := New(w, nil); err == nil {
		t.Error("expected New to reject a writable handle")
	}
}

func TestMortalityRate(t *testing.T) {
	if r := MortalityRate(10, 0, RatePer); r != nil {
		t.Errorf("zero population = %v, want nil", *r)
	}
	if r := MortalityRate(3, 70000, RatePer); r == nil || *r != 4.29 {
		t.Errorf("rate = %v, want 4.29", r)
	}
}

func TestFiltersValidate(t *testing.T) {
	cases := []struct {
		f  Filters
		ok bool
	}{
		{Filters{}, true},
		{Filters{Month: 12, Sex: 2}, true},
		{Filters{Month: 13}, false},
		{Filters{Sex: 3}, false},
		{Filters{Ages: &AgeRange{Min: 90, Max: 10}}, false},
	}
	for _, c := range cases {
		if err := c.f.Validate(); (err == nil) != c.ok {
			t.Errorf("Validate(%+v) = %v", c.f, err)
		}
	}
}
