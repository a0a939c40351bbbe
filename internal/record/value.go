// Package record decodes property-list style configuration records into a
// typed value tree.
package record

import (
	"fmt"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindData
	KindDate
	KindUID
	KindArray
	KindMapping
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindBool:    "bool",
	KindInteger: "integer",
	KindReal:    "real",
	KindString:  "string",
	KindData:    "data",
	KindDate:    "date",
	KindUID:     "uid",
	KindArray:   "array",
	KindMapping: "mapping",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a decoded record node. Only the field matching Kind is meaningful.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	data    []byte
	t       time.Time
	items   []Value
	mapping *Mapping
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Integer wraps a signed integer.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Real wraps a floating point number.
func Real(f float64) Value { return Value{kind: KindReal, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Data wraps an opaque byte blob. The slice is copied.
func Data(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindData, data: cp}
}

// Date wraps a timestamp.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

// UID wraps a keyed-archiver object reference.
func UID(u uint64) Value { return Value{kind: KindUID, i: int64(u)} }

// Array wraps an ordered sequence.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, items: cp}
}

// MappingValue wraps a mapping.
func MappingValue(m *Mapping) Value {
	if m == nil {
		m = NewMapping()
	}
	return Value{kind: KindMapping, mapping: m}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInteger returns the integer and whether v is an Integer.
func (v Value) AsInteger() (int64, bool) { return v.i, v.kind == KindInteger }

// AsReal returns the float and whether v is a Real.
func (v Value) AsReal() (float64, bool) { return v.f, v.kind == KindReal }

// AsString returns the string and whether v is a String. Data blobs are not
// converted; use BlobToDisplayString for that.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsData returns a copy of the blob and whether v is Data.
func (v Value) AsData() ([]byte, bool) {
	if v.kind != KindData {
		return nil, false
	}
	cp := make([]byte, len(v.data))
	copy(cp, v.data)
	return cp, true
}

// AsDate returns the timestamp and whether v is a Date.
func (v Value) AsDate() (time.Time, bool) { return v.t, v.kind == KindDate }

// AsUID returns the reference and whether v is a UID.
func (v Value) AsUID() (uint64, bool) { return uint64(v.i), v.kind == KindUID }

// Len returns the number of elements of an Array or entries of a Mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindMapping:
		return v.mapping.Len()
	}
	return 0
}

// Items returns a copy of the Array elements, or nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Mapping returns the mapping and whether v is a Mapping.
func (v Value) Mapping() (*Mapping, bool) {
	if v.kind != KindMapping {
		return nil, false
	}
	return v.mapping, true
}

// Lookup returns the value stored under key when v is a Mapping.
func (v Value) Lookup(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	return v.mapping.Get(key)
}

// ByteCodes converts an Array whose elements are all integers in 0..255 into
// bytes. Some exporters store printable text this way instead of as Data.
func (v Value) ByteCodes() ([]byte, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	out := make([]byte, 0, len(v.items))
	for _, it := range v.items {
		n, ok := it.AsInteger()
		if !ok || n < 0 || n > 255 {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}

// Equal reports deep equality, including mapping key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInteger, KindUID:
		return v.i == o.i
	case KindReal:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindData:
		return string(v.data) == string(o.data)
	case KindDate:
		return v.t.Equal(o.t)
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		return v.mapping.Equal(o.mapping)
	}
	return false
}

// Mapping is an insertion-ordered string-keyed map with unique keys.
type Mapping struct {
	keys   []string
	values map[string]Value
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]Value)}
}

// Set stores value under key. It returns false, leaving the mapping untouched,
// when key is already present.
func (m *Mapping) Set(key string, value Value) bool {
	if _, exists := m.values[key]; exists {
		return false
	}
	m.keys = append(m.keys, key)
	m.values[key] = value
	return true
}

// Get returns the value stored under key.
func (m *Mapping) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	cp := make([]string, len(m.keys))
	copy(cp, m.keys)
	return cp
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal reports whether both mappings hold equal values under the same keys
// in the same order.
func (m *Mapping) Equal(o *Mapping) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k {
			return false
		}
		if !m.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}
