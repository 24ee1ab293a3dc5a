package models

import (
	"bytes"
	"encoding/json"
)

// Field is one extracted name/value pair.
type Field struct {
	Name  string
	Value string
}

// Record is one extracted item: an ordered, immutable mapping of field name to value.
// Fields whose selector matched nothing are absent rather than empty.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a Record from fields in order. A repeated name keeps its first position
// and takes the last value.
func NewRecord(fields ...Field) Record {
	r := Record{
		keys:   make([]string, 0, len(fields)),
		values: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		if _, exists := r.values[f.Name]; !exists {
			r.keys = append(r.keys, f.Name)
		}
		r.values[f.Name] = f.Value
	}
	return r
}

// Get returns the value of a field and whether it is present.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns a field's value, or "" when absent.
func (r Record) Value(name string) string {
	return r.values[name]
}

// Keys returns the field names in extraction order.
func (r Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of present fields.
func (r Record) Len() int { return len(r.keys) }

// IsEmpty reports whether the record has no fields.
func (r Record) IsEmpty() bool { return len(r.keys) == 0 }

// Values projects the record onto columns; absent fields become "".
func (r Record) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r.values[c]
	}
	return out
}

// Fields returns the record as an ordered slice.
func (r Record) Fields() []Field {
	out := make([]Field, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, Field{Name: k, Value: r.values[k]})
	}
	return out
}

// MarshalJSON writes the record as a JSON object with keys in extraction order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
