package insee

import "testing"

func raw(name, sex, birth, death, place string) RawRecord {
	var r RawRecord
	r[FullName] = name
	r[Sex] = sex
	r[BirthDate] = birth
	r[DeathDate] = death
	r[DeathPlace] = place
	return r
}

func TestTransform(t *testing.T) {
	out := Transform([]RawRecord{raw("DUPONT*JEAN/", "1", "19400101", "20200101", "97411")})
	if len(out) != 1 {
		t.Fatalf("records = %d, want 1", len(out))
	}
	r := out[0]
	if r.DeathDate != "2020-01-01" || r.BirthDate != "1940-01-01" {
		t.Errorf("dates = %q / %q", r.BirthDate, r.DeathDate)
	}
	if r.DeathYear != 2020 || r.DeathMonth != 1 || r.DeathDay != 1 {
		t.Errorf("date parts = %d-%d-%d", r.DeathYear, r.DeathMonth, r.DeathDay)
	}
	if r.AgeAtDeath == nil || *r.AgeAtDeath != 80 {
		t.Errorf("age = %v, want 80", r.AgeAtDeath)
	}
	if r.Department != "974" {
		t.Errorf("department = %q, want 974", r.Department)
	}
	if r.Sex != 1 {
		t.Errorf("sex = %d, want 1", r.Sex)
	}
	if want := ComputeIdentity("DUPONT*JEAN/", "19400101", "20200101", "97411"); r.IdentityHash != want {
		t.Errorf("hash = %s, want %s", r.IdentityHash, want)
	}
}

func TestTransform_DropsShortDeathDates(t *testing.T) {
	var batch []RawRecord
	for i := 0; i < 7; i++ {
		batch = append(batch, raw("A", "1", "19400101", "2023011"+string(rune('1'+i)), "75112"))
	}
	batch = append(batch,
		raw("B", "1", "19400101", "202301", "75112"),
		raw("C", "1", "19400101", "2023", "75112"),
		raw("D", "1", "19400101", "", "75112"),
	)

	out := Transform(batch)
	if len(out) != 7 {
		t.Errorf("records = %d, want 7", len(out))
	}
}

func TestTransform_DropsInvalidDeathDates(t *testing.T) {
	out := Transform([]RawRecord{
		raw("A", "1", "19400101", "20231301", "75112"),
		raw("B", "1", "19400101", "20230100", "75112"),
		raw("C", "1", "19400101", "2023011x", "75112"),
	})
	if len(out) != 0 {
		t.Errorf("records = %d, want 0", len(out))
	}
}

func TestTransform_Defaults(t *testing.T) {
	out := Transform([]RawRecord{raw("X", "?", "19300000", "20230115", "")})
	if len(out) != 1 {
		t.Fatalf("records = %d, want 1", len(out))
	}
	r := out[0]
	if r.Sex != 0 {
		t.Errorf("sex = %d, want 0", r.Sex)
	}
	if r.BirthDate != "" || r.AgeAtDeath != nil {
		t.Errorf("birth = %q age = %v, want both empty", r.BirthDate, r.AgeAtDeath)
	}
	if r.Department != UnknownDepartment {
		t.Errorf("department = %q, want %q", r.Department, UnknownDepartment)
	}
}

func TestTransform_BirthAfterDeath(t *testing.T) {
	out := Transform([]RawRecord{raw("X", "2", "20240101", "20230115", "75112")})
	if len(out) != 1 {
		t.Fatalf("records = %d, want 1", len(out))
	}
	if out[0].AgeAtDeath != nil {
		t.Errorf("age = %v, want nil", *out[0].AgeAtDeath)
	}
}
