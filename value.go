package twingraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// A Kind discriminates the dynamic type of a Value. Twin documents are
// duck-typed JSON, so every property value is one of the six JSON kinds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// A Value is one node of a decoded twin document. It is a tagged union over the
// JSON kinds rather than a reflection-based representation, so validation and
// patching operate on explicit cases instead of type switches over arbitrary Go
// types.
//
// The zero Value is JSON null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  *Object
	arr  []Value
}

// Null returns the JSON null Value. It is equivalent to the zero Value and
// exists for symmetry with the other constructors.
func Null() Value { return Value{} }

// String returns a Value of KindString.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a Value of KindNumber.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a Value of KindBool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array returns a Value of KindArray holding the given elements.
func Array(elems ...Value) Value { return Value{kind: KindArray, arr: elems} }

// ObjectValue wraps the given Object as a Value of KindObject. A nil Object is
// treated as an empty one.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Kind reports the dynamic kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string content of the value; ok is false unless the
// value is of KindString.
func (v Value) AsString() (s string, ok bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric content of the value; ok is false unless the
// value is of KindNumber.
func (v Value) AsNumber() (f float64, ok bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean content of the value; ok is false unless the value
// is of KindBool.
func (v Value) AsBool() (b, ok bool) { return v.b, v.kind == KindBool }

// AsObject returns the object content of the value; ok is false unless the
// value is of KindObject.
func (v Value) AsObject() (o *Object, ok bool) { return v.obj, v.kind == KindObject }

// AsArray returns the array content of the value; ok is false unless the value
// is of KindArray.
func (v Value) AsArray() (elems []Value, ok bool) { return v.arr, v.kind == KindArray }

// Clone returns a deep copy of the value. Objects and arrays are copied
// recursively so that mutating the clone never aliases the original. This is
// what lets the partial-update path patch an in-memory copy of an entity and
// throw it away if validation fails.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		return ObjectValue(v.obj.Clone())
	case KindArray:
		elems := make([]Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: elems}
	default:
		return v
	}
}

// An Object is an ordered string-keyed collection of Values. Iteration order is
// insertion order, so a document round-trips through decode/encode with its
// keys in their original positions.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty Object ready for use.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Len returns the number of keys in the object.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the object's keys in insertion order. The returned slice is
// shared; callers must not modify it.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Get returns the value stored under the given key.
func (o *Object) Get(key string) (v Value, ok bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok = o.values[key]
	return v, ok
}

// Set stores the value under the given key, appending the key to the iteration
// order if it is new.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes the key and its value from the object. It reports whether the
// key was present.
func (o *Object) Delete(key string) bool {
	if o == nil {
		return false
	}
	if _, exists := o.values[key]; !exists {
		return false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := NewObject()
	if o == nil {
		return c
	}
	for _, k := range o.keys {
		c.Set(k, o.values[k].Clone())
	}
	return c
}

// DecodeValue parses a JSON document into a Value, preserving object key order.
//
// Numbers are decoded into float64; this matches the precision the underlying
// graph engine offers for properties, so there is nothing to gain from carrying
// json.Number around.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeNext(dec)
	if err != nil {
		return Value{}, err
	}
	// The document must be a single JSON value; trailing tokens indicate garbage.
	if dec.More() {
		return Value{}, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func decodeNext(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				v, err := decodeNext(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return ObjectValue(obj), nil
		case '[':
			var elems []Value
			for dec.More() {
				v, err := decodeNext(dec)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, v)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Array(elems...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// MarshalJSON encodes the value back into JSON, emitting object keys in
// insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("cannot encode %v as JSON", v.num)
		}
		buf.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			elem, _ := v.obj.Get(k)
			if err := elem.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, elem := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := elem.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown value kind %v", v.kind)
	}
	return nil
}

// FromAny converts a dynamically-typed Go value (as returned by graph-engine
// drivers for property bags) into a Value. Supported inputs are nil, bool,
// string, the numeric types drivers produce, []any, and map[string]any. Go map
// iteration order is unspecified, so object key order is not meaningful after
// this conversion; use DecodeValue when key order matters.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Array(elems...), nil
	case map[string]any:
		obj := NewObject()
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, v)
		}
		return ObjectValue(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported property type %T", x)
}

// ToAny converts the value into the dynamically-typed shape graph-engine
// drivers accept as query parameters: nil, bool, string, float64, []any, and
// map[string]any.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.Keys() {
			elem, _ := v.obj.Get(k)
			m[k] = elem.ToAny()
		}
		return m
	case KindArray:
		elems := make([]any, len(v.arr))
		for i, e := range v.arr {
			elems[i] = e.ToAny()
		}
		return elems
	default:
		return nil
	}
}

// Equal reports deep equality of two values. Objects compare by key set and
// per-key values, ignoring key order; arrays compare element-wise.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == w.str
	case KindNumber:
		return v.num == w.num
	case KindBool:
		return v.b == w.b
	case KindArray:
		if len(v.arr) != len(w.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(w.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj.Len() != w.obj.Len() {
			return false
		}
		for _, k := range v.obj.Keys() {
			a, _ := v.obj.Get(k)
			b, ok := w.obj.Get(k)
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}
