package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Array
	Object
)

// String returns the JSON-ish name of the kind
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Int:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Member is one key/value entry of a JSON object.
type Member struct {
	Key   string
	Value Value
}

// Value is a parsed JSON value. Objects keep their members in document order.
// The zero Value is JSON null.
type Value struct {
	kind    Kind
	boolean bool
	integer int64
	float   float64
	str     string
	items   []Value
	members []Member
}

// NewNull returns a JSON null
func NewNull() Value { return Value{kind: Null} }

// NewBool returns a JSON boolean
func NewBool(b bool) Value { return Value{kind: Bool, boolean: b} }

// NewInt returns an integral JSON number
func NewInt(i int64) Value { return Value{kind: Int, integer: i} }

// NewFloat returns a non-integral JSON number
func NewFloat(f float64) Value { return Value{kind: Float, float: f} }

// NewString returns a JSON string
func NewString(s string) Value { return Value{kind: String, str: s} }

// NewArray returns a JSON array holding items in order
func NewArray(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: Array, items: items}
}

// NewObject returns a JSON object holding members in order
func NewObject(members ...Member) Value {
	if members == nil {
		members = []Member{}
	}
	return Value{kind: Object, members: members}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload. It is false for non-boolean values.
func (v Value) Bool() bool { return v.boolean }

// Int returns the integer payload
func (v Value) Int() int64 { return v.integer }

// Float returns the float payload
func (v Value) Float() float64 { return v.float }

// Str returns the string payload
func (v Value) Str() string { return v.str }

// Items returns the elements of an array. Callers must not modify the result.
func (v Value) Items() []Value { return v.items }

// Members returns the members of an object in document order. Callers must
// not modify the result.
func (v Value) Members() []Member { return v.members }

// Len returns the number of array elements or object members
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.members)
	default:
		return 0
	}
}

// Get looks up an object member by key
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Equal reports whether v and other hold the same JSON value, member order
// included.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.boolean == other.boolean
	case Int:
		return v.integer == other.integer
	case Float:
		return v.float == other.float || (math.IsNaN(v.float) && math.IsNaN(other.float))
	case String:
		return v.str == other.str
	case Array:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.members) != len(other.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != other.members[i].Key || !v.members[i].Value.Equal(other.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Structural marker texts. They share the string slot with ordinary string
// values once serialized.
const (
	MarkerStructure    = "Structure"
	MarkerEndStructure = "EndStructure"
	MarkerEndArray     = "EndArray"
)

// FieldValue is the value half of a flattened field: a JSON primitive or a
// structural marker.
type FieldValue struct {
	Kind Kind
	// Marker is set when the value is a structural marker; Text then holds
	// the marker text or the decimal array length.
	Marker bool
	Text   string
	Bool   bool
	Int    int64
	Float  float64
}

// StringField returns a string field value
func StringField(s string) FieldValue { return FieldValue{Kind: String, Text: s} }

// IntField returns an integer field value
func IntField(i int64) FieldValue { return FieldValue{Kind: Int, Int: i} }

// FloatField returns a float field value
func FloatField(f float64) FieldValue { return FieldValue{Kind: Float, Float: f} }

// BoolField returns a boolean field value
func BoolField(b bool) FieldValue { return FieldValue{Kind: Bool, Bool: b} }

// NullField returns an explicit null field value
func NullField() FieldValue { return FieldValue{Kind: Null} }

// MarkerField returns a structural marker with the given text
func MarkerField(text string) FieldValue {
	return FieldValue{Kind: String, Marker: true, Text: text}
}

// LengthField returns the marker that opens an array of n elements
func LengthField(n int) FieldValue { return MarkerField(strconv.Itoa(n)) }

// IsMarker reports whether the value was emitted as a structural marker
func (fv FieldValue) IsMarker() bool { return fv.Marker }

// Value converts a non-marker FieldValue back into a Value
func (fv FieldValue) Value() Value {
	switch fv.Kind {
	case Bool:
		return NewBool(fv.Bool)
	case Int:
		return NewInt(fv.Int)
	case Float:
		return NewFloat(fv.Float)
	case String:
		return NewString(fv.Text)
	default:
		return NewNull()
	}
}

// String renders the value the way it appears in key=value listings
func (fv FieldValue) String() string {
	switch fv.Kind {
	case Bool:
		return strconv.FormatBool(fv.Bool)
	case Int:
		return strconv.FormatInt(fv.Int, 10)
	case Float:
		return formatFloat(fv.Float)
	case String:
		return fv.Text
	default:
		return "null"
	}
}

// MarshalJSON writes markers and strings as JSON strings. Integral floats
// keep a fractional part so the number kind survives the round trip.
func (fv FieldValue) MarshalJSON() ([]byte, error) {
	switch fv.Kind {
	case Bool:
		return strconv.AppendBool(nil, fv.Bool), nil
	case Int:
		return strconv.AppendInt(nil, fv.Int, 10), nil
	case Float:
		if math.IsInf(fv.Float, 0) || math.IsNaN(fv.Float) {
			return nil, &json.UnsupportedValueError{
				Str: strconv.FormatFloat(fv.Float, 'g', -1, 64),
			}
		}
		return []byte(formatFloat(fv.Float)), nil
	case String:
		return marshalString(fv.Text)
	default:
		return []byte("null"), nil
	}
}

// marshalString quotes s without escaping <, > and &
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func formatFloat(f float64) string {
	// same cutoffs encoding/json uses
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(s)
		if n >= 4 && s[n-4] == 'e' && s[n-3] == '-' && s[n-2] == '0' {
			s = s[:n-2] + s[n-1:]
		}
		return s
	}
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// FieldRecord is one flattened key/value pair.
type FieldRecord struct {
	Key   string     `json:"key"`
	Value FieldValue `json:"value"`
}

// String renders the record as key=value
func (fr FieldRecord) String() string {
	return fr.Key + "=" + fr.Value.String()
}

// FlattenedRecord is the flattened form of one input document.
type FlattenedRecord struct {
	ID     string        `json:"id"`
	Fields []FieldRecord `json:"fields"`
}
