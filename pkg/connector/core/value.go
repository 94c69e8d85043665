package core

import (
	"fmt"
	"math"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

// Kind enumerates the closed set of value shapes a record field can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindJSON
)

// String returns the lowercase kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "timestamp"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single field value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	j    []byte
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float. NaN and infinities become null since no store accepts them.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindFloat, f: f}
}

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// Time wraps a timestamp, normalized to UTC
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// JSON wraps an already-serialized JSON document
func JSON(raw []byte) Value {
	if len(raw) == 0 {
		return Null()
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Value{kind: KindJSON, j: cp}
}

// JSONOf serializes v and wraps the result
func JSONOf(v interface{}) Value {
	raw, err := gojson.Marshal(v)
	if err != nil {
		return String(fmt.Sprint(v))
	}
	return Value{kind: KindJSON, j: raw}
}

// Kind returns the value's kind
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload; integers widen
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string payload
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the timestamp payload
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsJSON returns the serialized JSON payload
func (v Value) AsJSON() ([]byte, bool) { return v.j, v.kind == KindJSON }

// Interface returns the payload as a plain Go value suitable for a SQL
// driver argument. JSON is returned as a string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindJSON:
		return string(v.j)
	default:
		return nil
	}
}

// Text renders the value as display text
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindJSON:
		return string(v.j)
	}
	return ""
}

// Equal reports whether two values have the same kind and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindJSON:
		return string(v.j) == string(o.j)
	}
	return false
}

// MarshalJSON encodes the payload as plain JSON
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindJSON:
		return v.j, nil
	case KindTime:
		return gojson.Marshal(v.t.Format(time.RFC3339Nano))
	default:
		return gojson.Marshal(v.Interface())
	}
}

// FromAny converts a decoded JSON value (or common Go scalar) into a Value.
// Numbers decoded with UseNumber keep integer precision. Maps and slices
// become JSON values.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t))
		}
		return Float(t)
	case gojson.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case string:
		return String(t)
	case time.Time:
		return Time(t)
	case []byte:
		return String(string(t))
	case map[string]interface{}, []interface{}:
		return JSONOf(t)
	default:
		return String(fmt.Sprint(t))
	}
}
