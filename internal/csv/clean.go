package csv

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Cell is one cleaned header→value pair.
type Cell struct {
	Name  string
	Value string
}

// Record is a RawRow after key/value cleanup and encoding normalization.
// Immutable once produced.
type Record []Cell

// Get returns the cleaned value for a header name. The second return is false
// when the record does not carry the name.
func (r Record) Get(name string) (string, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Normalize cleans a raw row into a Record. Best-effort only, no failure
// path. Keys are trimmed and stripped of control and non-ASCII bytes; values
// are trimmed and re-encoded to UTF-8. A nil raw value (row shorter than the
// header) normalizes to the empty string.
func Normalize(row RawRow) Record {
	rec := make(Record, len(row))
	for i, f := range row {
		var val string
		if f.Value != nil {
			val = *f.Value
		}
		rec[i] = Cell{
			Name:  CleanHeader(f.Name),
			Value: DecodeUTF8(strings.TrimSpace(val)),
		}
	}
	return rec
}

// CleanHeader trims a header cell and strips every byte in 0x00–0x1F and
// 0x80–0xFF. The stripping is byte-wise on purpose: stray Windows-1252 bytes
// in header names must go regardless of whether they happen to form valid
// UTF-8 sequences.
func CleanHeader(s string) string {
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x80 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeUTF8 re-encodes a cell to UTF-8 with best-effort source detection:
// valid UTF-8 passes through, anything else is decoded as Windows-1252 (the
// encoding B3 export tools actually produce when it is not UTF-8).
func DecodeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		// Decoder failure leaves replacement characters in place.
		return strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return decoded
}
