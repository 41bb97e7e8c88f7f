// Package table holds the in-memory CSV representation shared by the loader
// and the emitter, plus the key and value normalization rules.
package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Table is a header plus rectangular rows of raw cell text.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseError reports a CSV syntax or shape problem with its position.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrEmpty is returned by Read when the input has no header row.
var ErrEmpty = errors.New("no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read parses CSV with a header row. Rows shorter than the header are padded
// with empty cells (pandas treats them as NA); longer rows are an error.
// Fully blank lines are skipped.
func Read(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: ErrEmpty}
	}
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	t := &Table{Header: trimAll(header)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		line, _ := reader.FieldPos(0)
		if len(record) > len(t.Header) {
			if !blankTail(record[len(t.Header):]) {
				return nil, &ParseError{Line: line, Err: fmt.Errorf("%d fields, header has %d", len(record), len(t.Header))}
			}
			record = record[:len(t.Header)]
		}
		for len(record) < len(t.Header) {
			record = append(record, "")
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

// Write encodes t as CSV with a trailing newline and LF line endings.
func Write(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Encode returns the CSV bytes for t.
func Encode(t *Table) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := Write(buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ColumnIndex returns the index of the header cell equal to name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns the cells of column i.
func (t *Table) Column(i int) []string {
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Transpose swaps rows and columns. The first header cell stays in place as
// the corner label; the first column becomes the new header.
func (t *Table) Transpose() *Table {
	out := &Table{Header: make([]string, 0, len(t.Rows)+1)}
	if len(t.Header) == 0 {
		return out
	}
	out.Header = append(out.Header, t.Header[0])
	for _, row := range t.Rows {
		out.Header = append(out.Header, row[0])
	}
	for c := 1; c < len(t.Header); c++ {
		row := make([]string, 0, len(t.Rows)+1)
		row = append(row, t.Header[c])
		for _, r := range t.Rows {
			row = append(row, r[c])
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func blankTail(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
