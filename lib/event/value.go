// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bureau-foundation/beacon/lib/codec"
)

// ValueType identifies which member of the Value union is set.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeString
	TypeNumber
	TypeBool
	TypeMap
)

// String returns the lowercase name of the type.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeMap:
		return "map"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Value is one property value. The zero Value is null.
type Value struct {
	kind    ValueType
	text    string
	number  float64
	boolean bool
	nested  Properties
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: TypeString, text: s} }

// Number returns a numeric value. NaN and the infinities have no JSON
// form, so they become null.
func Number(n float64) Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Null()
	}
	return Value{kind: TypeNumber, number: n}
}

// Int returns a numeric value from an integer.
func Int(n int64) Value { return Value{kind: TypeNumber, number: float64(n)} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: TypeBool, boolean: b} }

// Map returns a nested map value. The map is copied.
func Map(properties Properties) Value {
	return Value{kind: TypeMap, nested: properties.Clone()}
}

// Type reports which member of the union is set.
func (v Value) Type() ValueType { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == TypeNull }

// Str returns the string member and whether v is a string.
func (v Value) Str() (string, bool) { return v.text, v.kind == TypeString }

// Num returns the numeric member and whether v is a number.
func (v Value) Num() (float64, bool) { return v.number, v.kind == TypeNumber }

// Boolean returns the boolean member and whether v is a bool.
func (v Value) Boolean() (bool, bool) { return v.boolean, v.kind == TypeBool }

// Nested returns a copy of the map member and whether v is a map.
func (v Value) Nested() (Properties, bool) {
	if v.kind != TypeMap {
		return nil, false
	}
	return v.nested.Clone(), true
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case TypeString:
		return v.text == other.text
	case TypeNumber:
		return v.number == other.number
	case TypeBool:
		return v.boolean == other.boolean
	case TypeMap:
		return v.nested.Equal(other.nested)
	default:
		return true
	}
}

// GoString renders the value for test failure messages.
func (v Value) GoString() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<invalid %s>", v.kind)
	}
	return string(data)
}

// FromAny converts a decoded JSON or CBOR value into a Value.
// Accepted inputs are nil, string, bool, every Go integer and float
// type, json.Number, map[string]any, Properties, and Value itself.
// Anything else, including non-finite floats, is an error.
func FromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case float64:
		return finite(typed)
	case float32:
		return finite(float64(typed))
	case int:
		return Int(int64(typed)), nil
	case int8:
		return Int(int64(typed)), nil
	case int16:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case uint:
		return Number(float64(typed)), nil
	case uint8:
		return Number(float64(typed)), nil
	case uint16:
		return Number(float64(typed)), nil
	case uint32:
		return Number(float64(typed)), nil
	case uint64:
		return Number(float64(typed)), nil
	case json.Number:
		number, err := typed.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("event: invalid number %q: %w", typed.String(), err)
		}
		return finite(number)
	case Properties:
		return Map(typed), nil
	case map[string]any:
		nested := make(Properties, len(typed))
		for key, element := range typed {
			converted, err := FromAny(element)
			if err != nil {
				return Value{}, fmt.Errorf("event: property %q: %w", key, err)
			}
			nested[key] = converted
		}
		return Value{kind: TypeMap, nested: nested}, nil
	default:
		return Value{}, fmt.Errorf("event: unsupported property value type %T", raw)
	}
}

func finite(number float64) (Value, error) {
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return Value{}, fmt.Errorf("event: non-finite number %v", number)
	}
	return Number(number), nil
}

// toAny converts v into plain Go values for encoding.
func (v Value) toAny() any {
	switch v.kind {
	case TypeString:
		return v.text
	case TypeNumber:
		return v.number
	case TypeBool:
		return v.boolean
	case TypeMap:
		return v.nested.toAny()
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

// UnmarshalJSON implements json.Unmarshaler. Arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	converted, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// MarshalCBOR implements cbor.Marshaler using the deterministic
// encoding from lib/codec.
func (v Value) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(v.toAny())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}
	converted, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// Properties is an open property bag. Keys are unique; order is not
// significant and encoders emit keys sorted.
type Properties map[string]Value

// Clone returns a deep copy. Cloning nil returns nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	copied := make(Properties, len(p))
	for key, value := range p {
		if value.kind == TypeMap {
			value.nested = value.nested.Clone()
		}
		copied[key] = value
	}
	return copied
}

// Equal reports deep equality. Nil and empty are equal.
func (p Properties) Equal(other Properties) bool {
	if len(p) != len(other) {
		return false
	}
	for key, value := range p {
		otherValue, ok := other[key]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// Keys returns the keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a copy of p with every entry of extra added, extra
// winning on conflicts.
func (p Properties) Merge(extra Properties) Properties {
	merged := make(Properties, len(p)+len(extra))
	for key, value := range p.Clone() {
		merged[key] = value
	}
	for key, value := range extra.Clone() {
		merged[key] = value
	}
	return merged
}

func (p Properties) toAny() map[string]any {
	plain := make(map[string]any, len(p))
	for key, value := range p {
		plain[key] = value.toAny()
	}
	return plain
}

// ParseProperties parses a JSON object into Properties. Used for
// property side channels such as the data-beacon-props attribute.
func ParseProperties(text string) (Properties, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("event: parsing properties: %w", err)
	}
	object, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("event: properties must be a JSON object, got %T", raw)
	}
	converted, err := FromAny(object)
	if err != nil {
		return nil, err
	}
	return converted.nested, nil
}
