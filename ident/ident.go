// Package ident reconciles the identifiers stored in collection items.
//
// An item's "id" field may hold a number or a string. Both forms are
// normalized into an ID that compares by its decimal text representation,
// so {"id": 5} and {"id": "5"} name the same item.
package ident

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Field is the name of the identifier field inside an item.
const Field = "id"

// Kind tells whether an ID came from a JSON number or a JSON string.
type Kind int

const (
	Numeric Kind = iota + 1
	Text
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return "none"
	}
}

// ID is a normalized identifier. The zero value is not a valid ID.
type ID struct {
	Kind Kind
	num  uint64
	text string
}

// FromUint returns a numeric ID.
func FromUint(n uint64) ID {
	return ID{Kind: Numeric, num: n, text: strconv.FormatUint(n, 10)}
}

// FromString returns a textual ID.
func FromString(s string) ID {
	return ID{Kind: Text, text: s}
}

// ParsePath returns the ID named by a URL path segment. Path segments are
// always text; Equal makes them match numeric ids with the same digits.
func ParsePath(segment string) ID {
	return FromString(segment)
}

// String returns the decimal text form used for comparison.
func (id ID) String() string { return id.text }

// Valid reports whether id was produced by one of the constructors.
func (id ID) Valid() bool { return id.Kind == Numeric || id.Kind == Text }

// Equal reports whether both ids share the same text representation,
// regardless of whether either one started out numeric.
func (id ID) Equal(other ID) bool {
	if !id.Valid() || !other.Valid() {
		return false
	}
	return id.text == other.text
}

// Uint returns the numeric value of id. Text ids that spell an unsigned
// integer are converted; anything else yields ok == false.
func (id ID) Uint() (uint64, bool) {
	switch id.Kind {
	case Numeric:
		return id.num, true
	case Text:
		n, err := strconv.ParseUint(id.text, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Value returns the JSON value to store under the "id" field.
func (id ID) Value() any {
	switch id.Kind {
	case Numeric:
		return json.Number(id.text)
	case Text:
		return id.text
	}
	return nil
}

// Normalize reads the "id" field of item. It returns false when item is not
// an object, has no id, or the id is neither an unsigned integer nor a string.
func Normalize(item any) (ID, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return ID{}, false
	}
	raw, ok := obj[Field]
	if !ok {
		return ID{}, false
	}
	return FromValue(raw)
}

// FromValue normalizes a raw JSON value into an ID.
func FromValue(raw any) (ID, bool) {
	switch v := raw.(type) {
	case string:
		return FromString(v), true
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return ID{}, false
		}
		return FromUint(n), true
	case float64:
		if v < 0 || v != math.Trunc(v) || v >= math.MaxUint64 {
			return ID{}, false
		}
		return FromUint(uint64(v)), true
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return ID{}, false
		}
		return FromUint(uint64(rv.Int())), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FromUint(rv.Uint()), true
	}
	return ID{}, false
}

// NextID returns one more than the largest numeric id among items. Items
// without a parseable id count as zero, so an empty collection starts at 1.
func NextID(items []any) uint64 {
	var highest uint64
	for _, item := range items {
		id, ok := Normalize(item)
		if !ok {
			continue
		}
		if n, ok := id.Uint(); ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// Find returns the index of the first item whose id equals id, or -1.
func Find(items []any, id ID) int {
	for i, item := range items {
		if got, ok := Normalize(item); ok && got.Equal(id) {
			return i
		}
	}
	return -1
}
