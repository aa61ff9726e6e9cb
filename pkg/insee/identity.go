package insee

import (
	"crypto/md5"
	"encoding/hex"
)

// ComputeIdentity returns the deduplication key of a death record: the hex
// MD5 of full name, birth date, death date and death place, concatenated in
// that order with missing fields as empty strings. The raw source values are
// hashed, before any date normalization.
//
// Every stored row is keyed by this value. Changing the field order, the
// separator (none) or the digest makes previously stored hashes
// unreproducible and breaks deduplication against existing data.
func ComputeIdentity(fullName, birthDate, deathDate, deathPlace string) string {
	h := md5.New()
	h.Write([]byte(fullName))
	h.Write([]byte(birthDate))
	h.Write([]byte(deathDate))
	h.Write([]byte(deathPlace))
	return hex.EncodeToString(h.Sum(nil))
}
