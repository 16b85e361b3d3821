package value

import (
	"reflect"

	"golang.org/x/text/unicode/norm"
)

// Equal compares two values after backend normalization.
//
// Null equals only Null. Int and Decimal compare numerically with each other and
// with numeric Text, so "10" read back from storage equals Int(10) from input.
// Text compares after NFC normalization. Items compare by their String form when
// both sides share the same Go type.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}

	switch av := a.(type) {
	case Int, Decimal:
		fa, _ := AsDecimal(av)
		fb, ok := AsDecimal(b)
		return ok && fa == fb
	case Text:
		switch b.(type) {
		case Int, Decimal:
			return Equal(b, a)
		case Text:
			return norm.NFC.String(string(av)) == norm.NFC.String(b.String())
		case Bool:
			bb, ok := AsBool(av)
			return ok && bb == bool(b.(Bool))
		}
		return false
	case Bool:
		bb, ok := AsBool(b)
		return ok && bb == bool(av)
	case List:
		bl, ok := b.(List)
		if !ok || len(av) != len(bl) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bl[i]) {
				return false
			}
		}
		return true
	case Object:
		bo, ok := b.(Object)
		if !ok || len(av) != len(bo) {
			return false
		}
		for k, v := range av {
			w, ok := bo[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a.String() == b.String()
}
