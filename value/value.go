// Package value implements the JSON value model the policy engine evaluates
// over. Every subscription field, expression result, obligation, and
// transformed resource is a Val: a tagged union over the six JSON kinds with
// typed accessors that return an error on kind mismatch instead of coercing.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the JSON type a Val holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "invalid"
}

// Val is an immutable JSON value. The zero value is JSON null.
type Val struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Val
	obj  map[string]Val
}

// Null returns the JSON null value.
func Null() Val { return Val{kind: KindNull} }

// Boolean wraps a Go bool.
func Boolean(b bool) Val { return Val{kind: KindBool, b: b} }

// True and False are the two boolean values.
var (
	True  = Boolean(true)
	False = Boolean(false)
)

// Number wraps a float64.
func Number(n float64) Val { return Val{kind: KindNumber, n: n} }

// Integer wraps an int as a JSON number.
func Integer(i int) Val { return Number(float64(i)) }

// String wraps a Go string.
func String(s string) Val { return Val{kind: KindString, s: s} }

// Array builds a JSON array from its items.
func Array(items ...Val) Val {
	cp := make([]Val, len(items))
	copy(cp, items)
	return Val{kind: KindArray, arr: cp}
}

// Object builds a JSON object from a member map.
func Object(members map[string]Val) Val {
	cp := make(map[string]Val, len(members))
	for k, v := range members {
		cp[k] = v
	}
	return Val{kind: KindObject, obj: cp}
}

// Parse decodes a JSON document into a Val.
func Parse(data []byte) (Val, error) {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Null(), fmt.Errorf("value: invalid JSON: %w", err)
	}
	return fromDecoded(raw)
}

// FromAny converts an arbitrary Go value into a Val via its JSON encoding.
// A nil input yields null.
func FromAny(v any) (Val, error) {
	if v == nil {
		return Null(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Null(), fmt.Errorf("value: not JSON-representable: %w", err)
	}
	return Parse(data)
}

func fromDecoded(raw any) (Val, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("value: invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Val, len(t))
		for i, e := range t {
			v, err := fromDecoded(e)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return Val{kind: KindArray, arr: items}, nil
	case map[string]any:
		members := make(map[string]Val, len(t))
		for k, e := range t {
			v, err := fromDecoded(e)
			if err != nil {
				return Null(), err
			}
			members[k] = v
		}
		return Val{kind: KindObject, obj: members}, nil
	}
	return Null(), fmt.Errorf("value: unsupported type %T", raw)
}

// Kind returns the JSON kind of the value.
func (v Val) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Val) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the wrapped bool or an error if the value is not a boolean.
func (v Val) BoolVal() (bool, error) {
	if v.kind != KindBool {
		return false, mismatch(KindBool, v.kind)
	}
	return v.b, nil
}

// NumberVal returns the wrapped float64 or an error if the value is not a number.
func (v Val) NumberVal() (float64, error) {
	if v.kind != KindNumber {
		return 0, mismatch(KindNumber, v.kind)
	}
	return v.n, nil
}

// StringVal returns the wrapped string or an error if the value is not a string.
func (v Val) StringVal() (string, error) {
	if v.kind != KindString {
		return "", mismatch(KindString, v.kind)
	}
	return v.s, nil
}

// Items returns the elements of an array value.
func (v Val) Items() ([]Val, error) {
	if v.kind != KindArray {
		return nil, mismatch(KindArray, v.kind)
	}
	return v.arr, nil
}

// Member looks up a key of an object value. The second return reports
// whether the member exists.
func (v Val) Member(key string) (Val, bool, error) {
	if v.kind != KindObject {
		return Null(), false, mismatch(KindObject, v.kind)
	}
	m, ok := v.obj[key]
	return m, ok, nil
}

// Keys returns the member names of an object value in sorted order.
func (v Val) Keys() ([]string, error) {
	if v.kind != KindObject {
		return nil, mismatch(KindObject, v.kind)
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// WithMember returns a copy of an object value with one member replaced.
func (v Val) WithMember(key string, member Val) (Val, error) {
	if v.kind != KindObject {
		return Null(), mismatch(KindObject, v.kind)
	}
	cp := make(map[string]Val, len(v.obj)+1)
	for k, e := range v.obj {
		cp[k] = e
	}
	cp[key] = member
	return Val{kind: KindObject, obj: cp}, nil
}

// WithoutMember returns a copy of an object value with one member removed.
func (v Val) WithoutMember(key string) (Val, error) {
	if v.kind != KindObject {
		return Null(), mismatch(KindObject, v.kind)
	}
	cp := make(map[string]Val, len(v.obj))
	for k, e := range v.obj {
		if k != key {
			cp[k] = e
		}
	}
	return Val{kind: KindObject, obj: cp}, nil
}

// Length returns the length of a string, array, or object value.
func (v Val) Length() (int, error) {
	switch v.kind {
	case KindString:
		return len([]rune(v.s)), nil
	case KindArray:
		return len(v.arr), nil
	case KindObject:
		return len(v.obj), nil
	}
	return 0, fmt.Errorf("value: %s has no length", v.kind)
}

// Equals performs a deep structural comparison. Numbers compare by value.
func (v Val) Equals(other Val) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equals(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, e := range v.obj {
			o, ok := other.obj[k]
			if !ok || !e.Equals(o) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes the value as canonical JSON (object keys sorted).
func (v Val) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	if err := v.encode(&sb); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes JSON into the value.
func (v *Val) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Val) encode(sb *strings.Builder) error {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("value: number %v is not JSON-representable", v.n)
		}
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			sb.WriteString(strconv.FormatInt(int64(v.n), 10))
		} else {
			sb.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
		}
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		sb.Write(data)
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := e.encode(sb); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindObject:
		keys, _ := v.Keys()
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			data, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(data)
			sb.WriteByte(':')
			if err := v.obj[k].encode(sb); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	}
	return nil
}

// String renders the value as JSON text. Invalid numbers render as "null".
func (v Val) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(data)
}

func mismatch(want, got Kind) error {
	return fmt.Errorf("value: expected %s, got %s", want, got)
}
