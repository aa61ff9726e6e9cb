package insee

import (
	"strings"
)

// Record is one fully derived death record, ready for storage.
type Record struct {
	FullName          string
	Sex               int
	BirthDate         string // ISO date, empty when unknown
	BirthPlace        string
	BirthMunicipality string
	BirthCountry      string
	DeathDate         string // ISO date, always set
	DeathPlace        string
	DeathActID        string

	DeathYear  int
	DeathMonth int
	DeathDay   int
	AgeAtDeath *float64
	Department string

	IdentityHash string
}

// Transform derives the stored columns for every raw record at once.
//
// A record is dropped when its death date has fewer than eight digits or
// fails range validation; no partially derived record is ever returned.
// Output order is not guaranteed to follow input order.
func Transform(raws []RawRecord) []Record {
	out := make([]Record, 0, len(raws))
	for i := range raws {
		rec, ok := transformOne(&raws[i])
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func transformOne(raw *RawRecord) (Record, bool) {
	rawDeath := raw[DeathDate]
	if len(strings.TrimSpace(rawDeath)) < 8 {
		return Record{}, false
	}
	death, ok := NormalizeDate(rawDeath)
	if !ok {
		return Record{}, false
	}
	birth, _ := NormalizeDate(raw[BirthDate])

	rec := Record{
		FullName:          raw[FullName],
		Sex:               NormalizeSex(raw[Sex]),
		BirthDate:         birth,
		BirthPlace:        raw[BirthPlace],
		BirthMunicipality: raw[BirthMunicipality],
		BirthCountry:      raw[BirthCountry],
		DeathDate:         death,
		DeathPlace:        raw[DeathPlace],
		DeathActID:        raw[DeathActID],
		// death is YYYY-MM-DD, validated above.
		DeathYear:    atoi(death[:4]),
		DeathMonth:   atoi(death[5:7]),
		DeathDay:     atoi(death[8:10]),
		Department:   NormalizeDepartment(raw[DeathPlace]),
		IdentityHash: ComputeIdentity(raw[FullName], raw[BirthDate], rawDeath, raw[DeathPlace]),
	}
	if age, ok := ComputeAge(birth, death); ok {
		rec.AgeAtDeath = &age
	}
	return rec, true
}
