package insee

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field identifies a logical column of the INSEE death record file.
type Field int

const (
	FullName Field = iota
	Sex
	BirthDate
	BirthPlace
	BirthMunicipality
	BirthCountry
	DeathDate
	DeathPlace
	DeathActID

	numFields
)

// Column declares one expected column: its logical name, the header it is
// published under, and whether an import without it must be rejected.
type Column struct {
	Field    Field
	Name     string
	Source   string
	Required bool
}

// Columns is the declared schema, in file order.
var Columns = [numFields]Column{
	{FullName, "full_name", "nomprenom", true},
	{Sex, "sex", "sexe", true},
	{BirthDate, "birth_date", "datenaiss", true},
	{BirthPlace, "birth_place", "lieunaiss", false},
	{BirthMunicipality, "birth_municipality", "commnaiss", false},
	{BirthCountry, "birth_country", "paysnaiss", false},
	{DeathDate, "death_date", "datedeces", true},
	{DeathPlace, "death_place", "lieudeces", true},
	{DeathActID, "death_act_id", "actedeces", false},
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return Columns[f].Name
}

// stripAccents builds a fresh chain per call: transform.Chain is stateful
// and not safe for concurrent use.
func stripAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeHeader maps raw header text to the form used for matching:
// byte order mark, surrounding whitespace and double quotes removed,
// lowercased, accents stripped ("DateDécès" -> "datedeces").
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ReplaceAll(h, `"`, "")
	h = strings.ToLower(strings.TrimSpace(h))
	out, _, err := transform.String(stripAccents(), h)
	if err != nil {
		return h
	}
	return out
}

// Mapping resolves each declared field to its index in a source header.
// Fields absent from the header map to -1; header columns matching no
// declared field are listed in Unmapped and never read.
type Mapping struct {
	index    [numFields]int
	Unmapped []string
}

// MapHeader matches a header row against the declared schema. It returns a
// *SchemaError naming every required source column that is missing.
func MapHeader(header []string) (*Mapping, error) {
	m := &Mapping{}
	for i := range m.index {
		m.index[i] = -1
	}

	bySource := make(map[string]Field, len(Columns))
	for _, c := range Columns {
		bySource[c.Source] = c.Field
	}

	for i, h := range header {
		name := NormalizeHeader(h)
		f, ok := bySource[name]
		if !ok {
			m.Unmapped = append(m.Unmapped, name)
			continue
		}
		// First occurrence wins.
		if m.index[f] < 0 {
			m.index[f] = i
		}
	}

	var missing []string
	for _, c := range Columns {
		if c.Required && m.index[c.Field] < 0 {
			missing = append(missing, c.Source)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return m, nil
}

// Has reports whether the source header carries f.
func (m *Mapping) Has(f Field) bool {
	return m.index[f] >= 0
}

// Record extracts a RawRecord from a parsed row. Missing columns and short
// rows yield empty strings.
func (m *Mapping) Record(row []string) RawRecord {
	var r RawRecord
	for f, idx := range m.index {
		if idx >= 0 && idx < len(row) {
			r[f] = row[idx]
		}
	}
	return r
}

// RawRecord holds the source text of one row, indexed by Field.
type RawRecord [numFields]string
