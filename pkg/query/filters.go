package query

import (
	"fmt"
	"strings"
)

// AgeRange bounds age at death, both ends inclusive.
type AgeRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Filters narrows an aggregate. Zero fields are unset: Year 0, Month 0,
// Department "", Sex 0 and a nil Ages apply no restriction.
type Filters struct {
	Year       int       `json:"year,omitempty"`
	Month      int       `json:"month,omitempty"`
	Department string    `json:"department,omitempty"`
	Sex        int       `json:"sex,omitempty"`
	Ages       *AgeRange `json:"ages,omitempty"`
}

// Validate rejects values no stored row could match in a meaningful way.
func (f Filters) Validate() error {
	if f.Month < 0 || f.Month > 12 {
		return fmt.Errorf("month %d out of range", f.Month)
	}
	if f.Sex < 0 || f.Sex > 2 {
		return fmt.Errorf("sex %d out of range", f.Sex)
	}
	if f.Ages != nil && f.Ages.Min > f.Ages.Max {
		return fmt.Errorf("age range %v-%v is empty", f.Ages.Min, f.Ages.Max)
	}
	return nil
}

// WithYear returns a copy of f restricted to year.
func (f Filters) WithYear(year int) Filters {
	f.Year = year
	return f
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) in(col string, vals []int) {
	if len(vals) == 0 {
		return
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	w.conds = append(w.conds, col+" IN ("+ph+")")
	for _, v := range vals {
		w.args = append(w.args, v)
	}
}

func (w *where) filters(f Filters) {
	if f.Year != 0 {
		w.add("death_year = ?", f.Year)
	}
	if f.Month != 0 {
		w.add("death_month = ?", f.Month)
	}
	if f.Department != "" {
		w.add("department = ?", f.Department)
	}
	if f.Sex != 0 {
		w.add("sex = ?", f.Sex)
	}
	if f.Ages != nil {
		w.add("age_at_death >= ? AND age_at_death <= ?", f.Ages.Min, f.Ages.Max)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
