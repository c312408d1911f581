// Package document models the JSON value stored under one collection name.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Kind is the shape of a Document.
type Kind int

const (
	Scalar Kind = iota
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return "scalar"
	}
}

// Document is a tagged JSON value. Array documents keep their elements in
// Items; every other shape keeps its value in Value.
type Document struct {
	Kind  Kind
	Value any
	Items []any
}

// New classifies v and wraps it in a Document.
func New(v any) Document {
	switch t := v.(type) {
	case []any:
		return Document{Kind: Array, Items: t}
	case map[string]any:
		return Document{Kind: Object, Value: t}
	default:
		return Document{Kind: Scalar, Value: v}
	}
}

// IsArray reports whether d is an Array document.
func (d Document) IsArray() bool { return d.Kind == Array }

// Object returns the members of an Object document.
func (d Document) Object() (map[string]any, bool) {
	if d.Kind != Object {
		return nil, false
	}
	m, ok := d.Value.(map[string]any)
	return m, ok
}

// JSON returns the plain JSON value held by d.
func (d Document) JSON() any {
	if d.Kind == Array {
		if d.Items == nil {
			return []any{}
		}
		return d.Items
	}
	return d.Value
}

// MarshalJSON encodes the plain value.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.JSON())
}

// Type returns the JSON type name of v.
func Type(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return reflect.TypeOf(v).String()
	}
}

// Merge overwrites top-level members of dst with those of patch and returns
// a new object. Nested values in patch replace the old ones wholesale.
func Merge(dst, patch map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of v by round-tripping through JSON. Numbers are
// kept as json.Number. v must hold only values produced by Decode or
// Normalize; anything else panics rather than returning an aliased value.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("document: clone %T: %v", v, err))
	}
	out, err := Decode(b)
	if err != nil {
		panic(fmt.Sprintf("document: clone %T: %v", v, err))
	}
	return out
}

// Decode parses exactly one JSON value from b, keeping numbers as json.Number.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

// Normalize converts values produced by other decoders (YAML, Go literals)
// into the types Decode would produce.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
