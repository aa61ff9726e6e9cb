package insee

import "testing"

func TestComputeIdentity_Stable(t *testing.T) {
	a := ComputeIdentity("DUPONT*JEAN/", "19400101", "20230115", "75112")
	for i := 0; i < 5; i++ {
		if b := ComputeIdentity("DUPONT*JEAN/", "19400101", "20230115", "75112"); b != a {
			t.Fatalf("run %d: %s != %s", i, b, a)
		}
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32 hex chars", len(a))
	}
}

func TestComputeIdentity_Empty(t *testing.T) {
	// MD5 of the empty string.
	const want = "d41d8cd98f00b204e9800998ecf8427e"
	if got := ComputeIdentity("", "", "", ""); got != want {
		t.Errorf("ComputeIdentity(empty) = %s, want %s", got, want)
	}
}

func TestComputeIdentity_KnownValue(t *testing.T) {
	// md5("abc"): fields are concatenated without separator.
	const want = "900150983cd24fb0d6963f7d28e17f72"
	if got := ComputeIdentity("a", "b", "c", ""); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := ComputeIdentity("", "ab", "", "c"); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestComputeIdentity_FieldsMatter(t *testing.T) {
	base := ComputeIdentity("MARTIN*ANNE/", "19300505", "20220101", "13055")
	variants := []string{
		ComputeIdentity("MARTIN*ANNE/", "19300506", "20220101", "13055"),
		ComputeIdentity("MARTIN*ANNE/", "19300505", "20220102", "13055"),
		ComputeIdentity("MARTIN*ANNE/", "19300505", "20220101", "13056"),
		ComputeIdentity("MARTIN*ANNIE/", "19300505", "20220101", "13055"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collides with base", i)
		}
	}
}
