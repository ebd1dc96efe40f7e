package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errBadID = errors.New("id must be a string or a number")

// ID is an identifier that clients send either as a JSON number or as a
// JSON string. It is written back in the shape it arrived in. String
// returns the normalized form, so 5 and "5" name the same room.
type ID struct {
	s   string
	num bool
}

// StringID returns an id that encodes as a JSON string.
func StringID(s string) ID { return ID{s: s} }

// NumberID returns an id that encodes as a JSON number. A literal that is
// not a valid JSON number falls back to a string.
func NumberID(lit string) ID { return ID{s: lit, num: isNumber(lit)} }

func (id ID) String() string { return id.s }

func (id ID) IsZero() bool { return id.s == "" }

// Numeric reports whether the id arrived as a JSON number.
func (id ID) Numeric() bool { return id.num }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ID{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errBadID
	}
	*id = ID{s: n.String(), num: true}
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.num {
		return []byte(id.s), nil
	}
	return json.Marshal(id.s)
}

func isNumber(lit string) bool {
	if lit == "" || !(lit[0] == '-' || lit[0] >= '0' && lit[0] <= '9') {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(lit), &n) == nil
}
