package core

import (
	"bytes"

	gojson "github.com/goccy/go-json"
)

// Record is one extracted row: an insertion-ordered map of field name to Value.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord creates an empty record with room for n fields
func NewRecord(n int) *Record {
	return &Record{
		keys:   make([]string, 0, n),
		values: make(map[string]Value, n),
	}
}

// Set assigns a field, keeping the original position when it already exists
func (r *Record) Set(key string, v Value) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the field value
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Delete removes a field
func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields
func (r *Record) Len() int { return len(r.keys) }

// Range calls fn for each field in order until fn returns false
func (r *Record) Range(fn func(key string, v Value) bool) {
	for _, k := range r.keys {
		if !fn(k, r.values[k]) {
			return
		}
	}
}

// MarshalJSON writes the record as a JSON object in field order
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordFromMap builds a record from a flat map with keys in the given order.
// Keys missing from order are appended in map iteration order.
func RecordFromMap(m map[string]interface{}, order ...string) *Record {
	r := NewRecord(len(m))
	for _, k := range order {
		if v, ok := m[k]; ok {
			r.Set(k, FromAny(v))
		}
	}
	for k, v := range m {
		if _, ok := r.values[k]; !ok {
			r.Set(k, FromAny(v))
		}
	}
	return r
}
