package settings

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Series is an ordered label to value sequence. The null series means
// "no assigned value" and is distinct from an empty series.
type Series struct {
	null   bool
	labels []string
	values map[string]json.RawMessage
}

// NullSeries returns the explicit absent value.
func NullSeries() *Series {
	return &Series{null: true}
}

// NewSeries returns an empty, present series.
func NewSeries() *Series {
	return &Series{values: make(map[string]json.RawMessage)}
}

// IsNull reports whether s is the absent value.
func (s *Series) IsNull() bool {
	return s == nil || s.null
}

// Len returns the number of labels.
func (s *Series) Len() int {
	if s.IsNull() {
		return 0
	}
	return len(s.labels)
}

// Labels returns the labels in insertion order.
func (s *Series) Labels() []string {
	if s.IsNull() {
		return nil
	}
	return append([]string(nil), s.labels...)
}

// Get returns the raw JSON value stored under label.
func (s *Series) Get(label string) (json.RawMessage, bool) {
	if s.IsNull() {
		return nil, false
	}
	v, ok := s.values[label]
	return v, ok
}

// Set stores value under label, keeping the label's first position.
// Setting a value on the null series makes it present.
func (s *Series) Set(label string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", label, err)
	}
	s.setRaw(label, raw)
	return nil
}

func (s *Series) setRaw(label string, raw []byte) {
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	s.null = false
	if _, ok := s.values[label]; !ok {
		s.labels = append(s.labels, label)
	}
	s.values[label] = raw
}

// Equal reports whether both series are null, or hold the same labels in
// the same order with equal values.
func (s *Series) Equal(o *Series) bool {
	if s.IsNull() || o.IsNull() {
		return s.IsNull() == o.IsNull()
	}
	if !equalStrings(s.labels, o.labels) {
		return false
	}
	for _, l := range s.labels {
		if !bytes.Equal(s.values[l], o.values[l]) {
			return false
		}
	}
	return true
}

// ParseSeries parses JSON text into a series. Objects keep their key
// order; arrays are labelled by position.
func ParseSeries(text string) (*Series, error) {
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("invalid json")
	}
	res := gjson.Parse(text)

	s := NewSeries()
	switch {
	case res.IsObject():
		var err error
		res.ForEach(func(key, value gjson.Result) bool {
			var raw []byte
			raw, err = compact(value.Raw)
			if err != nil {
				return false
			}
			s.setRaw(key.String(), raw)
			return true
		})
		if err != nil {
			return nil, err
		}
	case res.IsArray():
		var err error
		i := 0
		res.ForEach(func(_, value gjson.Result) bool {
			var raw []byte
			raw, err = compact(value.Raw)
			if err != nil {
				return false
			}
			s.setRaw(strconv.Itoa(i), raw)
			i++
			return true
		})
		if err != nil {
			return nil, err
		}
	case res.Type == gjson.Null:
		return NullSeries(), nil
	default:
		return nil, fmt.Errorf("expected a json object or array, got %s", res.Type)
	}
	return s, nil
}

// Text renders the series as a JSON object, or "" for the null series.
func (s *Series) Text() (string, error) {
	if s.IsNull() {
		return "", nil
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MarshalJSON writes an ordered JSON object, or null for the null series.
func (s *Series) MarshalJSON() ([]byte, error) {
	if s.IsNull() {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range s.labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(s.values[l])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the forms ParseSeries does.
func (s *Series) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSeries(string(data))
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func compact(raw string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
