package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Field names of a news record. Any other key is a producer field that is
// carried through untouched.
const (
	FieldTitle        = "title"
	FieldURL          = "url"
	FieldCanonicalURL = "canonical_url"
	FieldSource       = "source"
	FieldPublishedAt  = "published_at"
	FieldSummary      = "summary"
	FieldScrapedAt    = "scraped_at"
)

// TextFields are the known fields whose values must be strings. A value of
// any other type in one of these fields is treated as absent.
var TextFields = []string{
	FieldTitle,
	FieldURL,
	FieldCanonicalURL,
	FieldSource,
	FieldPublishedAt,
	FieldSummary,
	FieldScrapedAt,
}

// Record is a single news article as stored in a day partition. It is an open
// mapping so that fields unknown to this package survive a round trip.
type Record map[string]any

// Text returns the string value of field, or "" when the field is absent or
// holds something other than a string.
func (r Record) Text(field string) string {
	s, _ := r[field].(string)
	return s
}

// Has reports whether field holds a non-empty value.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && !IsEmptyValue(v)
}

// EffectiveTime is the timestamp a partition is ordered by: published_at,
// falling back to scraped_at, falling back to "".
func (r Record) EffectiveTime() string {
	if ts := r.Text(FieldPublishedAt); ts != "" {
		return ts
	}
	return r.Text(FieldScrapedAt)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsEmptyValue reports whether v counts as "not supplied" when merging:
// null, the empty string, and empty arrays or objects.
func IsEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case Record:
		return len(val) == 0
	}
	return false
}

// DecodeRecords parses a JSON array of objects. Numbers are kept as
// json.Number so opaque producer values are re-encoded exactly.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	// More() reports false before a stray ']' or '}', so read to the end.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON array")
	}
	if raw == nil {
		return nil, fmt.Errorf("expected a JSON array, got null")
	}

	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is %s, not an object", i, jsonKind(item))
		}
		records = append(records, Record(obj))
	}
	return records, nil
}

// EncodeRecords renders records as an indented JSON array without HTML
// escaping, the on-disk partition format.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case json.Number, float64:
		return "a number"
	case bool:
		return "a boolean"
	case []any:
		return "an array"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
