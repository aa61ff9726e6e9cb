package insee

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fallbackEncodings are tried in order once strict UTF-8 has failed.
var fallbackEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"latin-1", charmap.ISO8859_1},
	{"windows-1252", charmap.Windows1252},
}

// Decode converts raw file bytes to text, trying UTF-8, then Latin-1, then
// Windows-1252. It returns the decoded text and the name of the encoding that
// succeeded, or a *DecodeError.
func Decode(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8", nil
	}

	tried := []string{"utf-8"}
	for _, c := range fallbackEncodings {
		out, err := c.enc.NewDecoder().Bytes(data)
		if err == nil {
			return string(out), c.name, nil
		}
		tried = append(tried, c.name)
	}
	return "", "", &DecodeError{Tried: tried}
}
