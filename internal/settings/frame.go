package settings

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Frame is a small table of float values with an explicit index column.
// Corner geometry uses one row per corner and one column per coordinate.
type Frame struct {
	IndexName string
	Columns   []string
	Index     []string
	Rows      [][]float64
}

// Validate checks the frame is rectangular and has at least one column.
func (f *Frame) Validate() error {
	if len(f.Columns) == 0 {
		return fmt.Errorf("frame has no columns")
	}
	if len(f.Index) != len(f.Rows) {
		return fmt.Errorf("frame has %d index labels for %d rows", len(f.Index), len(f.Rows))
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(f.Columns))
		}
	}
	return nil
}

// Equal reports whether two frames hold the same labels and values.
// NaN cells compare equal to each other.
func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.IndexName != o.IndexName || !equalStrings(f.Columns, o.Columns) || !equalStrings(f.Index, o.Index) {
		return false
	}
	if len(f.Rows) != len(o.Rows) {
		return false
	}
	for i := range f.Rows {
		if len(f.Rows[i]) != len(o.Rows[i]) {
			return false
		}
		for j, v := range f.Rows[i] {
			w := o.Rows[i][j]
			if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
				return false
			}
		}
	}
	return true
}

// CSV renders the frame with a header row and the index as first column.
// Missing values (NaN) are written as empty cells.
func (f *Frame) CSV() (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{f.IndexName}, f.Columns...)); err != nil {
		return "", err
	}
	for i, row := range f.Rows {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, f.Index[i])
		for _, v := range row {
			rec = append(rec, formatFloat(v))
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseFrameCSV reads a frame written by CSV. The first column is the index.
// When data rows are one field wider than the header, the header names only
// the value columns and the index is unnamed.
func ParseFrameCSV(text string) (*Frame, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}

	f := &Frame{}
	width := len(header)
	if len(records) > 0 && len(records[0]) == len(header)+1 {
		f.Columns = append([]string(nil), header...)
		width = len(header) + 1
	} else {
		f.IndexName = header[0]
		f.Columns = append([]string(nil), header[1:]...)
	}
	if len(f.Columns) == 0 {
		return nil, fmt.Errorf("csv has no value columns")
	}

	for i, rec := range records {
		if len(rec) != width {
			return nil, fmt.Errorf("csv line %d has %d fields, want %d", i+2, len(rec), width)
		}
		row := make([]float64, len(rec)-1)
		for j, cell := range rec[1:] {
			v, err := parseFloat(cell)
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %q: %w", i+2, f.Columns[j], err)
			}
			row[j] = v
		}
		f.Index = append(f.Index, rec[0])
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

type splitFrame struct {
	IndexName string       `json:"index_name,omitempty"`
	Columns   []string     `json:"columns"`
	Index     []string     `json:"index"`
	Data      [][]*float64 `json:"data"`
}

// MarshalJSON encodes the frame in split orientation. NaN becomes null.
func (f *Frame) MarshalJSON() ([]byte, error) {
	s := splitFrame{
		IndexName: f.IndexName,
		Columns:   nonNil(f.Columns),
		Index:     nonNil(f.Index),
		Data:      make([][]*float64, len(f.Rows)),
	}
	for i, row := range f.Rows {
		out := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				v := row[j]
				out[j] = &v
			}
		}
		s.Data[i] = out
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes a split-orientation frame.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var s splitFrame
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	out := Frame{IndexName: s.IndexName, Columns: s.Columns, Index: s.Index}
	for _, row := range s.Data {
		vals := make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				vals[j] = math.NaN()
			} else {
				vals[j] = *v
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*f = out
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
