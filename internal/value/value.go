// Package value provides the structured values carried by effect
// parameters, resource states, and relationship sync payloads.
//
// Key design constraints:
//   - NO float types anywhere; numbers are int64 so encodings stay
//     deterministic across evaluators
//   - Object keys are encoded in byte order; JSON output uses RFC 8785
//     (UTF-16 code unit) order
//   - Every Value has exactly one canonical binary encoding
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/timewave-computer/causality-sub006/internal/codec"
)

// Value is a sealed interface over the permitted value shapes.
// Only Null, String, Int, Bool, Array, and Object implement it.
type Value interface {
	codec.Marshaler
	value()
}

// Null is the absent value.
type Null struct{}

// String is a UTF-8 string.
type String string

// Int is a signed 64-bit integer.
type Int int64

// Bool is a boolean.
type Bool bool

// Array is an ordered list of values.
type Array []Value

// Object maps string keys to values.
type Object map[string]Value

func (Null) value()   {}
func (String) value() {}
func (Int) value()    {}
func (Bool) value()   {}
func (Array) value()  {}
func (Object) value() {}

// Encoding tags.
const (
	tagNull uint8 = iota
	tagString
	tagInt
	tagBool
	tagArray
	tagObject
	numTags
)

// maxDepth bounds nesting when decoding untrusted input.
const maxDepth = 64

// Pair is one key/value entry for NewObject.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("owner", String("0xAAA")), O("balance", Int(5)))
func O(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// NewObject builds an Object from pairs. Later pairs overwrite earlier ones.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for
// supplementary-plane characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, e := range val {
			out[i] = Clone(e)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, e := range val {
			out[k] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether a and b have the same canonical encoding. A nil
// Value equals Null.
func Equal(a, b Value) bool {
	return bytes.Equal(Encode(a), Encode(b))
}

// Encode returns the canonical encoding of v. A nil Value encodes as Null.
func Encode(v Value) []byte {
	e := codec.NewEncoder()
	Write(e, v)
	return e.Bytes()
}

// Write appends the canonical encoding of v to e.
func Write(e *codec.Encoder, v Value) {
	if v == nil {
		v = Null{}
	}
	v.EncodeTo(e)
}

// EncodeTo implements codec.Marshaler.
func (Null) EncodeTo(e *codec.Encoder) { e.WriteVariant(tagNull) }

// EncodeTo implements codec.Marshaler.
func (s String) EncodeTo(e *codec.Encoder) {
	e.WriteVariant(tagString)
	e.WriteString(string(s))
}

// EncodeTo implements codec.Marshaler.
func (n Int) EncodeTo(e *codec.Encoder) {
	e.WriteVariant(tagInt)
	e.WriteI64(int64(n))
}

// EncodeTo implements codec.Marshaler.
func (b Bool) EncodeTo(e *codec.Encoder) {
	e.WriteVariant(tagBool)
	e.WriteBool(bool(b))
}

// EncodeTo implements codec.Marshaler.
func (a Array) EncodeTo(e *codec.Encoder) {
	e.WriteVariant(tagArray)
	e.WriteLen(len(a))
	for _, v := range a {
		Write(e, v)
	}
}

// EncodeTo implements codec.Marshaler.
func (obj Object) EncodeTo(e *codec.Encoder) {
	e.WriteVariant(tagObject)
	keys := codec.SortedKeys(obj)
	e.WriteLen(len(keys))
	for _, k := range keys {
		e.WriteString(k)
		Write(e, obj[k])
	}
}

// Read decodes one Value from d.
func Read(d *codec.Decoder) (Value, error) {
	return read(d, 0)
}

// Decode decodes a Value that must span all of data.
func Decode(data []byte) (Value, error) {
	d := codec.NewDecoder(data)
	v, err := Read(d)
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}

func read(d *codec.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, codec.Errorf("value", fmt.Errorf("nesting exceeds %d levels", maxDepth))
	}
	tag, err := d.ReadVariant(numTags)
	if err != nil {
		return nil, codec.Errorf("value", err)
	}
	switch tag {
	case tagNull:
		return Null{}, nil
	case tagString:
		s, err := d.ReadString()
		return String(s), codec.Errorf("value", err)
	case tagInt:
		n, err := d.ReadI64()
		return Int(n), codec.Errorf("value", err)
	case tagBool:
		b, err := d.ReadBool()
		return Bool(b), codec.Errorf("value", err)
	case tagArray:
		n, err := d.ReadLen(1)
		if err != nil {
			return nil, codec.Errorf("value", err)
		}
		arr := make(Array, n)
		for i := range arr {
			if arr[i], err = read(d, depth+1); err != nil {
				return nil, err
			}
		}
		return arr, nil
	default:
		n, err := d.ReadLen(2)
		if err != nil {
			return nil, codec.Errorf("value", err)
		}
		obj := make(Object, n)
		prev := ""
		for i := 0; i < n; i++ {
			k, err := d.ReadString()
			if err != nil {
				return nil, codec.Errorf("value", err)
			}
			if i > 0 && k <= prev {
				return nil, codec.Errorf("value", fmt.Errorf("object keys not in canonical order: %q after %q", k, prev))
			}
			if obj[k], err = read(d, depth+1); err != nil {
				return nil, err
			}
			prev = k
		}
		return obj, nil
	}
}

// Native converts v to plain Go values for expression evaluators:
// nil, string, int64, bool, []any, and map[string]any.
func Native(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Native(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Native(e)
		}
		return out
	default:
		return nil
	}
}

// FromNative converts a plain Go value (as produced by JSON, YAML, or an
// evaluator) to a Value. Integral floats are accepted; fractional floats
// are rejected.
func FromNative(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > 1<<53 {
			return nil, fmt.Errorf("floats are not allowed: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		return fromJSONNumber(val)
	case []any:
		arr := make(Array, len(val))
		for i, e := range val {
			ev, err := FromNative(e)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, e := range val {
			arr[i] = String(e)
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, e := range val {
			ev, err := FromNative(e)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromJSONNumber(n json.Number) (Value, error) {
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		return nil, fmt.Errorf("floats are not allowed: %s", s)
	}
	i, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("number out of int64 range: %s", s)
	}
	return Int(i), nil
}
