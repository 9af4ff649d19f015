package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ID is an opaque backend identifier. The backend serialises some ids as numbers and
// others as strings; both decode to the same textual form.
type ID string

// String returns the id text.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("models: id must be a string or number")
	}
	*id = ID(n.String())
	return nil
}

// NormalizeVehicleNumber strips every whitespace rune and upper-cases the plate so that
// "dl 01 ab 1234" and "DL01AB1234" compare equal.
func NormalizeVehicleNumber(raw string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	// Casers keep state between calls, so each normalisation gets its own.
	return cases.Upper(language.Und).String(stripped)
}
