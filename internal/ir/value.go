package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindBool
	KindSym
	KindRef
	KindVec
	KindObject
)

// String returns the lowercase variant name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindSym:
		return "sym"
	case KindRef:
		return "ref"
	case KindVec:
		return "vec"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a sealed interface representing KERN runtime values.
// Only Null, Int, Bool, Sym, Ref, Vec and Object implement it.
// There is no float variant: floats break determinism.
type Value interface {
	Kind() Kind
	value() // Sealed
}

// Null is the absent value.
type Null struct{}

func (Null) value()     {}
func (Null) Kind() Kind { return KindNull }

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Int is a signed 64-bit integer. Registers hold Ints.
type Int int64

func (Int) value()     {}
func (Int) Kind() Kind { return KindInt }

// Bool is a boolean. Stored in registers as 0 or 1.
type Bool bool

func (Bool) value()     {}
func (Bool) Kind() Kind { return KindBool }

// Sym is an interned symbol such as an enum tag or label.
type Sym string

func (Sym) value()     {}
func (Sym) Kind() Kind { return KindSym }

// Ref references an execution graph node by id.
// Serialized as "#<id>" so it survives JSON round-trips.
type Ref uint64

func (Ref) value()     {}
func (Ref) Kind() Kind { return KindRef }

// MarshalJSON implements json.Marshaler for Ref.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// String returns the "#<id>" form.
func (r Ref) String() string {
	return "#" + strconv.FormatUint(uint64(r), 10)
}

// Vec is an ordered list of values.
type Vec []Value

func (Vec) value()     {}
func (Vec) Kind() Kind { return KindVec }

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value()     {}
func (Object) Kind() Kind { return KindObject }

// Pair is a key-value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("x", Int(10)), O("mode", Sym("fast")))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from typed key-value pairs.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// Clone returns a deep copy of the object.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies container values. Scalars are returned as-is.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case Vec:
		out := make(Vec, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// Truthy reports whether v counts as true in a condition.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return false
	case Int:
		return val != 0
	case Bool:
		return bool(val)
	case Sym:
		return val != ""
	case Ref:
		return true
	case Vec:
		return len(val) > 0
	case Object:
		return len(val) > 0
	default:
		return false
	}
}

// ToInt converts a value to its register representation.
// Syms have no numeric form without an interner and report false.
func ToInt(v Value) (int64, bool) {
	switch val := v.(type) {
	case nil, Null:
		return 0, true
	case Int:
		return int64(val), true
	case Bool:
		if val {
			return 1, true
		}
		return 0, true
	case Ref:
		return int64(val), true
	default:
		return 0, false
	}
}

// TypeError reports an ordering comparison between incomparable kinds.
type TypeError struct {
	Left  Kind
	Right Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cannot order %s against %s", e.Left, e.Right)
}

// Class implements Classified.
func (e *TypeError) Class() ErrorClass { return ClassRuntime }

// Compare orders two values. Ints and Bools compare numerically with
// each other; Syms compare lexically; Refs by id; Null equals Null.
// Any other pairing returns a *TypeError.
func Compare(a, b Value) (int, error) {
	an, aNum := numeric(a)
	bn, bNum := numeric(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch av := a.(type) {
	case Sym:
		if bv, ok := b.(Sym); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case Ref:
		if bv, ok := b.(Ref); ok {
			switch {
			case av < bv:
				return -1, nil
			case av > bv:
				return 1, nil
			default:
				return 0, nil
			}
		}
	case Null:
		if _, ok := b.(Null); ok {
			return 0, nil
		}
	}
	return 0, &TypeError{Left: kindOf(a), Right: kindOf(b)}
}

// Equal reports deep equality. Mixed kinds are unequal except Int/Bool.
func Equal(a, b Value) bool {
	if c, err := Compare(a, b); err == nil {
		return c == 0
	}
	switch av := a.(type) {
	case Vec:
		bv, ok := b.(Vec)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

func numeric(v Value) (int64, bool) {
	switch val := v.(type) {
	case Int:
		return int64(val), true
	case Bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// MarshalJSON implements json.Marshaler for Object with sorted keys (RFC 8785 ordering).
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Vec.
func (v Vec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("vec[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Sym:
		return json.Marshal(string(val))
	case Ref:
		return val.MarshalJSON()
	case Vec:
		return val.MarshalJSON()
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected object, got %s", v.Kind())
	}
	*obj = o
	return nil
}

// UnmarshalValue decodes JSON into a Value.
// Floats are rejected. Strings of the form "#<digits>" decode to Ref,
// all other strings to Sym.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// FromGo converts decoded JSON/YAML data into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case string:
		return parseStringValue(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are forbidden: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden: %v", val)
	case []any:
		out := make(Vec, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func parseStringValue(s string) Value {
	if len(s) > 1 && s[0] == '#' {
		if id, err := strconv.ParseUint(s[1:], 10, 64); err == nil {
			return Ref(id)
		}
	}
	return Sym(s)
}

// Format renders a value for logs and text output.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Sym:
		return ":" + string(val)
	case Ref:
		return val.String()
	default:
		b, err := MarshalValue(v)
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		return string(b)
	}
}
