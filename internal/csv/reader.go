// Package csv reads B3 instrument CSV exports.
//
// Exported files start with a banner/title line, followed by a header row and
// data rows. The field delimiter varies between comma and semicolon depending
// on the export tool, and text may arrive as Windows-1252 instead of UTF-8.
// This package hides all of that: callers get a lazy sequence of header-keyed
// rows in clean UTF-8.
package csv

import (
	"bufio"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoHeader is returned when the file ends before a header row is found.
var ErrNoHeader = errors.New("missing CSV header row")

// Field is one header→value pair from a data line. Value is nil when the row
// was shorter than the header at this position.
type Field struct {
	Name  string
	Value *string
}

// RawRow is one CSV data line as ordered header-keyed raw strings,
// pre-cleaning. It is handed to the caller once and not retained.
type RawRow []Field

// Get returns the raw value for a header name. The second return is false
// when the header does not contain the name at all.
func (r RawRow) Get(name string) (*string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// DetectDelimiter inspects the first line of the file: if it contains a
// semicolon the delimiter is ';', otherwise ','. Single-pass heuristic; the
// rest of the file is not validated against the choice.
func DetectDelimiter(path string) (rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read first line of %s: %w", path, err)
	}

	if strings.ContainsRune(line, ';') {
		return ';', nil
	}
	return ',', nil
}

// Reader is a lazy, single-pass, non-restartable row source over one file.
// Close must be called on every path, including early abandonment.
type Reader struct {
	f      *os.File
	cr     *stdcsv.Reader
	header []string
}

// Open prepares a Reader for the file at path. The first line is discarded
// unconditionally (title/banner line), the second line becomes the header.
// Header cells are re-encoded to UTF-8 before use.
func Open(path string) (*Reader, error) {
	sep, err := DetectDelimiter(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	cr := stdcsv.NewReader(f)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	// Banner line. An empty file has no header either.
	if _, err := cr.Read(); err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", path, ErrNoHeader)
		}
		return nil, fmt.Errorf("read banner line of %s: %w", path, err)
	}

	header, err := cr.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", path, ErrNoHeader)
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	for i := range header {
		header[i] = DecodeUTF8(header[i])
	}

	return &Reader{f: f, cr: cr, header: header}, nil
}

// Header returns the decoded header row.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next data line zipped positionally against the header.
// Rows shorter than the header yield nil values for the unmatched trailing
// names. io.EOF ends the sequence.
func (r *Reader) Next() (RawRow, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv row: %w", err)
	}

	row := make(RawRow, len(r.header))
	for i, name := range r.header {
		if i < len(rec) {
			v := rec[i]
			row[i] = Field{Name: name, Value: &v}
		} else {
			row[i] = Field{Name: name}
		}
	}
	return row, nil
}

// Close releases the file handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
