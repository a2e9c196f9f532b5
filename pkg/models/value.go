package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which variant of a Value is populated.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
	// KindAny is only meaningful inside a Schema and matches every kind.
	KindAny Kind = "any"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindNull, KindString, KindInt, KindFloat, KindBool, KindList, KindMap, KindAny:
		return true
	default:
		return false
	}
}

// Value is a tagged union carried between tasks through the shared store.
// The zero Value is null. Values are treated as immutable once built; use
// Clone before handing one to code that might modify nested lists or maps.
type Value struct {
	kind   Kind
	str    string
	num    int64
	flt    float64
	bit    bool
	list   []Value
	fields map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindInt, num: n} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, bit: b} }

// List wraps a sequence of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// Map wraps a set of named values.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindMap, fields: m}
}

// Kind returns the populated variant.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the integer variant.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsFloat returns the float variant. Integers are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.flt, true
	case KindInt:
		return float64(v.num), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean variant.
func (v Value) AsBool() (bool, bool) { return v.bit, v.kind == KindBool }

// AsList returns a copy of the list variant.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value{}, v.list...), true
}

// AsMap returns a copy of the map variant.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	m := make(map[string]Value, len(v.fields))
	for k, f := range v.fields {
		m[k] = f
	}
	return m, true
}

// Field returns a named field of a map value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

// Len returns the number of elements of a list or map, the length of a string, or 0.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.fields)
	case KindString:
		return len(v.str)
	default:
		return 0
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		fields := make(map[string]Value, len(v.fields))
		for k, f := range v.fields {
			fields[k] = f.Clone()
		}
		return Value{kind: KindMap, fields: fields}
	default:
		return v
	}
}

// Equal reports deep equality. Int and float values never compare equal.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.num == other.num
	case KindFloat:
		return v.flt == other.flt
	case KindBool:
		return v.bit == other.bit
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.fields) != len(other.fields) {
			return false
		}
		for k, f := range v.fields {
			o, ok := other.fields[k]
			if !ok || !f.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// Plain converts the value into ordinary Go data (string, int64, float64, bool,
// []any, map[string]any or nil). Used for templates and human-readable output.
func (v Value) Plain() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.bit
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.Plain()
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			m[k] = f.Plain()
		}
		return m
	default:
		return nil
	}
}

// String renders the value as plain JSON.
func (v Value) String() string {
	data, err := json.Marshal(v.Plain())
	if err != nil {
		return fmt.Sprintf("<%s>", v.Kind())
	}
	return string(data)
}

// wireValue is the tagged JSON envelope. Nested values use the same envelope so
// ints and floats survive a round trip.
type wireValue struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value canonically: identical values always produce
// identical bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind() {
	case KindNull:
		return json.Marshal(wireValue{Kind: KindNull})
	case KindString:
		payload = v.str
	case KindInt:
		payload = v.num
	case KindFloat:
		payload = v.flt
	case KindBool:
		payload = v.bit
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		payload = items
	case KindMap:
		fields := v.fields
		if fields == nil {
			fields = map[string]Value{}
		}
		// encoding/json sorts map keys.
		payload = fields
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %q", v.kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.Kind(), Value: raw})
}

// UnmarshalJSON decodes the tagged envelope written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}

	switch w.Kind {
	case KindNull, "":
		*v = Null()
		return nil
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("unmarshal string value: %w", err)
		}
		*v = String(s)
	case KindInt:
		var n int64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return fmt.Errorf("unmarshal int value: %w", err)
		}
		*v = Int(n)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return fmt.Errorf("unmarshal float value: %w", err)
		}
		*v = Float(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("unmarshal bool value: %w", err)
		}
		*v = Bool(b)
	case KindList:
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return fmt.Errorf("unmarshal list value: %w", err)
		}
		*v = Value{kind: KindList, list: items}
	case KindMap:
		var fields map[string]Value
		if err := json.Unmarshal(w.Value, &fields); err != nil {
			return fmt.Errorf("unmarshal map value: %w", err)
		}
		if fields == nil {
			fields = map[string]Value{}
		}
		*v = Value{kind: KindMap, fields: fields}
	default:
		return fmt.Errorf("unmarshal value: unknown kind %q", w.Kind)
	}
	return nil
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("convert number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = conv
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]Value:
		return Map(t), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: %w", k, err)
			}
			fields[k] = conv
		}
		return Value{kind: KindMap, fields: fields}, nil
	case map[any]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: %w", key, err)
			}
			fields[key] = conv
		}
		return Value{kind: KindMap, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// FromJSON parses plain JSON into a Value. Integral numbers become ints.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, fmt.Errorf("parse json: %w", err)
	}
	return FromAny(x)
}

// Schema declares the expected shape of a map value: field name to kind.
type Schema map[string]Kind

// Check verifies that v is a map carrying every declared field with the declared kind.
// Ints satisfy float fields. All problems are reported together, sorted by field.
func (s Schema) Check(v Value) error {
	if len(s) == 0 {
		return nil
	}
	if v.Kind() != KindMap {
		return fmt.Errorf("expected map, got %s", v.Kind())
	}

	var problems []string
	for field, want := range s {
		got, ok := v.fields[field]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing field %q", field))
			continue
		}
		if !kindMatches(want, got.Kind()) {
			problems = append(problems, fmt.Sprintf("field %q: expected %s, got %s", field, want, got.Kind()))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%s", strings.Join(problems, "; "))
}

func kindMatches(want, got Kind) bool {
	if want == KindAny || want == got {
		return true
	}
	return want == KindFloat && got == KindInt
}
