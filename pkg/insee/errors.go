package insee

import (
	"fmt"
	"strings"
)

// DecodeError reports that no candidate text encoding could decode a file.
type DecodeError struct {
	Tried []string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: no matching encoding (tried %s)", strings.Join(e.Tried, ", "))
}

// SchemaError reports mandatory columns missing from a header row.
// Missing holds the source column names (e.g. "sexe").
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}
