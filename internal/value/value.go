// Package value defines the typed attribute values that flow through an import run.
//
// Input documents are decoded into Values once, at the boundary. Every later stage
// (validation, diffing, persistence) works on Values rather than on raw decoded
// interfaces so that comparisons are explicit about kind.
package value

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/cockroachdb/errors"
)

// Kind identifies the concrete variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindDecimal
	KindBool
	KindList
	KindObject
	// KindItem marks capability-typed values (associated items, special attributes)
	// that carry their own storage logic.
	KindItem
)

var kindNames = [...]string{"null", "text", "int", "decimal", "bool", "list", "object", "item"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is an attribute value. String returns the storage text form of the value.
type Value interface {
	Kind() Kind
	String() string
}

// DateTimeLayout is the canonical text form for datetime attribute values.
const DateTimeLayout = "2006-01-02 15:04:05"

// Null is the absent value.
type Null struct{}

func (Null) Kind() Kind     { return KindNull }
func (Null) String() string { return "" }

// Text is a string value.
type Text string

func (Text) Kind() Kind       { return KindText }
func (t Text) String() string { return string(t) }

// Int is an integer value.
type Int int64

func (Int) Kind() Kind       { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Decimal is a fractional numeric value.
type Decimal float64

func (Decimal) Kind() Kind { return KindDecimal }

// String uses the shortest representation that round-trips, never an exponent.
func (d Decimal) String() string { return strconv.FormatFloat(float64(d), 'f', -1, 64) }

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind       { return KindBool }
func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

// List is an ordered sequence of values.
type List []Value

func (List) Kind() Kind { return KindList }

func (l List) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// Object is a nested mapping, e.g. a website reference {id: 1}.
type Object map[string]Value

func (Object) Kind() Kind { return KindObject }

func (o Object) String() string {
	keys := o.SortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + o[k].String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Get returns the value under key and whether it was present.
func (o Object) Get(key string) (Value, bool) {
	v, ok := o[key]
	return v, ok
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 orders strings by UTF-16 code units as RFC 8785 requires.
// Go's native string order is UTF-8 and differs for supplementary characters.
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

// FromAny converts a decoded YAML/JSON value into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return Text(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, errors.Newf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, errors.Newf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case float32:
		return Decimal(val), nil
	case float64:
		return Decimal(val), nil
	case time.Time:
		return Text(val.UTC().Format(DateTimeLayout)), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "list[%d]", i)
			}
			list[i] = conv
		}
		return list, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "object[%q]", k)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, errors.Newf("unsupported value type %T", v)
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	return v == nil || v.Kind() == KindNull
}

// IsEmpty reports whether v carries no data: null, empty text, empty list or object.
// Numeric zero is not empty.
func IsEmpty(v Value) bool {
	if IsNull(v) {
		return true
	}
	switch val := v.(type) {
	case Text:
		return val == ""
	case List:
		return len(val) == 0
	case Object:
		return len(val) == 0
	}
	return false
}

// IsNumeric reports whether v is a number or text that parses as one.
func IsNumeric(v Value) bool {
	_, ok := AsDecimal(v)
	return ok
}

// AsInt extracts an integer from Int, integral Decimal, or numeric Text.
func AsInt(v Value) (int64, bool) {
	switch val := v.(type) {
	case Int:
		return int64(val), true
	case Decimal:
		f := float64(val)
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	case Bool:
		if val {
			return 1, true
		}
		return 0, true
	case Text:
		s := strings.TrimSpace(string(val))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

// AsDecimal extracts a float from Int, Decimal, or numeric Text.
func AsDecimal(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Decimal:
		return float64(val), true
	case Text:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsBool interprets common textual and numeric boolean spellings.
func AsBool(v Value) (bool, bool) {
	switch val := v.(type) {
	case Bool:
		return bool(val), true
	case Int:
		return val != 0, true
	case Text:
		switch strings.ToLower(strings.TrimSpace(string(val))) {
		case "1", "true", "yes", "y", "on":
			return true, true
		case "0", "false", "no", "n", "off", "":
			return false, true
		}
	}
	return false, false
}

// AsDateTime parses datetime text in the canonical layout, RFC 3339, or plain date form.
func AsDateTime(v Value) (time.Time, bool) {
	t, ok := v.(Text)
	if !ok {
		return time.Time{}, false
	}
	s := strings.TrimSpace(string(t))
	for _, layout := range []string{DateTimeLayout, time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
