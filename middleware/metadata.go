package middleware

import (
	"maps"
	"time"
)

// ValueKind enumerates the value types a Metadata entry may hold
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindDuration
	KindTime
)

// Value is a single typed metadata entry
type Value struct {
	kind ValueKind
	str  string
	num  int64
	flt  float64
	at   time.Time
}

// Kind returns the value's type tag
func (v Value) Kind() ValueKind { return v.kind }

func StringValue(s string) Value          { return Value{kind: KindString, str: s} }
func IntValue(i int64) Value              { return Value{kind: KindInt, num: i} }
func FloatValue(f float64) Value          { return Value{kind: KindFloat, flt: f} }
func DurationValue(d time.Duration) Value { return Value{kind: KindDuration, num: int64(d)} }
func TimeValue(t time.Time) Value         { return Value{kind: KindTime, at: t} }

// BoolValue wraps a bool
func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Any returns the value as its natural Go type, for logging
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.num == 1
	case KindDuration:
		return time.Duration(v.num)
	case KindTime:
		return v.at
	default:
		return nil
	}
}

// Metadata is the key/value bag interceptors use to pass information along a call.
// The zero value is ready to use; a nil Metadata reads as empty.
type Metadata map[string]Value

// Clone returns an independent copy
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// Get returns the raw value stored under key
func (m Metadata) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// Delete removes key
func (m Metadata) Delete(key string) { delete(m, key) }

func (m Metadata) SetString(key, value string)             { m[key] = StringValue(value) }
func (m Metadata) SetInt(key string, value int64)          { m[key] = IntValue(value) }
func (m Metadata) SetFloat(key string, value float64)      { m[key] = FloatValue(value) }
func (m Metadata) SetBool(key string, value bool)          { m[key] = BoolValue(value) }
func (m Metadata) SetDuration(key string, d time.Duration) { m[key] = DurationValue(d) }
func (m Metadata) SetTime(key string, t time.Time)         { m[key] = TimeValue(t) }

// String returns the string stored under key; ok is false if absent or of another kind
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Int returns the integer stored under key
func (m Metadata) Int(key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

// Float returns the float stored under key
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindFloat {
		return 0, false
	}
	return v.flt, true
}

// Bool returns the bool stored under key
func (m Metadata) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindBool {
		return false, false
	}
	return v.num == 1, true
}

// Duration returns the duration stored under key
func (m Metadata) Duration(key string) (time.Duration, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindDuration {
		return 0, false
	}
	return time.Duration(v.num), true
}

// Time returns the time stored under key
func (m Metadata) Time(key string) (time.Time, bool) {
	v, ok := m[key]
	if !ok || v.kind != KindTime {
		return time.Time{}, false
	}
	return v.at, true
}

// Fields converts the bag into a plain map, e.g. for structured logging
func (m Metadata) Fields() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}
