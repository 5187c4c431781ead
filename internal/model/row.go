package model

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Row is one record of a batch, a mapping from field name to value
type Row map[string]any

// With returns a copy of r with key set to value. r is left untouched.
func (r Row) With(key string, value any) Row {
	return lo.Assign(r, Row{key: value})
}

// String returns the value of field as a string, or "" when it is absent
func (r Row) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether field is present with a usable value.
// nil values and blank strings count as missing.
func (r Row) Has(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// KeyField is one component of a LookupKey
type KeyField struct {
	Field string
	Value any
}

// LookupKey is the ordered field subset used to find an existing resource
type LookupKey []KeyField

// BuildLookupKey extracts fields from r in order. ok is false when any field is missing.
func BuildLookupKey(r Row, fields []string) (key LookupKey, ok bool) {
	if len(fields) == 0 {
		return nil, false
	}
	key = make(LookupKey, 0, len(fields))
	for _, f := range fields {
		if !r.Has(f) {
			return nil, false
		}
		key = append(key, KeyField{Field: f, Value: r[f]})
	}
	return key, true
}

// Filters renders the key as a search filter mapping
func (k LookupKey) Filters() map[string]any {
	filters := make(map[string]any, len(k))
	for _, kf := range k {
		filters[kf.Field] = kf.Value
	}
	return filters
}

// Equal compares two keys field by field
func (k LookupKey) Equal(other LookupKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i].Field != other[i].Field || fmt.Sprint(k[i].Value) != fmt.Sprint(other[i].Value) {
			return false
		}
	}
	return true
}

func (k LookupKey) String() string {
	parts := lo.Map(k, func(kf KeyField, _ int) string {
		return fmt.Sprintf("%s=%v", kf.Field, kf.Value)
	})
	return strings.Join(parts, ",")
}

// Record is a resource returned by a resource service
type Record map[string]any

// ID returns the record identifier, or "" when the record carries none
func (r Record) ID() string {
	return Row(r).String("id")
}
