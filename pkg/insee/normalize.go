package insee

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// UnknownDepartment is stored when the death place is empty or too short to
// carry a department prefix.
const UnknownDepartment = "00"

const (
	minYear = 1800
	maxYear = 2100

	isoLayout = "2006-01-02"

	// daysPerYear is the fixed year length used for ages at death.
	daysPerYear = 365.25
)

// NormalizeDate converts an INSEE compact date to ISO YYYY-MM-DD.
//
// Accepted shapes are YYYYMMDD, YYYYMM (day 1) and YYYY (January 1st).
// The year must be in [1800, 2100], the month in [1, 12] and the day in
// [1, 31]; day counts are not checked against the calendar. Any other input
// yields ok == false.
func NormalizeDate(raw string) (iso string, ok bool) {
	s := strings.TrimSpace(raw)
	if !isDigits(s) {
		return "", false
	}

	var y, m, d int
	switch len(s) {
	case 8:
		y, m, d = atoi(s[:4]), atoi(s[4:6]), atoi(s[6:8])
	case 6:
		y, m, d = atoi(s[:4]), atoi(s[4:6]), 1
	case 4:
		y, m, d = atoi(s), 1, 1
	default:
		return "", false
	}

	if y < minYear || y > maxYear || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

// NormalizeDepartment extracts the department code from an INSEE place code
// (COG commune code): three characters for overseas departments (97x), two
// otherwise, Corsica included (2A, 2B).
func NormalizeDepartment(place string) string {
	p := strings.TrimSpace(place)
	if len(p) < 2 {
		return UnknownDepartment
	}
	if strings.HasPrefix(p, "97") && len(p) >= 3 {
		return p[:3]
	}
	return p[:2]
}

// ComputeAge returns the age in years between two ISO dates, using a
// 365.25-day year and rounded to two decimals. It reports false when either
// date is missing or unparseable, or when the birth is after the death.
func ComputeAge(birthISO, deathISO string) (float64, bool) {
	if birthISO == "" || deathISO == "" {
		return 0, false
	}
	birth, err := time.Parse(isoLayout, birthISO)
	if err != nil {
		return 0, false
	}
	death, err := time.Parse(isoLayout, deathISO)
	if err != nil {
		return 0, false
	}

	// Unix seconds rather than time.Sub: Duration saturates after ~292 years.
	days := float64((death.Unix() - birth.Unix()) / 86400)
	age := days / daysPerYear
	if age < 0 {
		return 0, false
	}
	return math.Round(age*100) / 100, true
}

// NormalizeSex coerces the raw sexe field to 1 (male), 2 (female) or 0.
func NormalizeSex(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	switch n {
	case 1, 2:
		return n
	default:
		return 0
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// atoi parses a string already checked by isDigits.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
