package diff

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// SpecialType is the semantic type of a special attribute.
type SpecialType string

const (
	SpecialInt      SpecialType = "int"
	SpecialDecimal  SpecialType = "decimal"
	SpecialText     SpecialType = "text"
	SpecialBool     SpecialType = "bool"
	SpecialDatetime SpecialType = "datetime"
)

// Valid reports whether t is a known special type.
func (t SpecialType) Valid() bool {
	switch t {
	case SpecialInt, SpecialDecimal, SpecialText, SpecialBool, SpecialDatetime:
		return true
	}
	return false
}

// NormalizeSpecial converts v to the canonical form of a special attribute type.
func NormalizeSpecial(t SpecialType, v value.Value) (value.Value, error) {
	if value.IsNull(v) {
		return value.Null{}, nil
	}
	switch t {
	case SpecialInt:
		if i, ok := value.AsInt(v); ok {
			return value.Int(i), nil
		}
	case SpecialDecimal:
		if f, ok := value.AsDecimal(v); ok {
			return value.Decimal(f), nil
		}
	case SpecialBool:
		if b, ok := value.AsBool(v); ok {
			if b {
				return value.Int(1), nil
			}
			return value.Int(0), nil
		}
	case SpecialDatetime:
		if ts, ok := value.AsDateTime(v); ok {
			return value.Text(ts.Format(value.DateTimeLayout)), nil
		}
	case SpecialText:
		return value.Text(norm.NFC.String(v.String())), nil
	default:
		return nil, errors.Newf("unknown special type %q", t)
	}
	return nil, errors.Newf("invalid %s value %q", t, v.String())
}

// Normalize converts v to the canonical form of the attribute's backend.
// Null stays Null.
func Normalize(attr gateway.Attribute, v value.Value) (value.Value, error) {
	if value.IsNull(v) {
		return value.Null{}, nil
	}
	if attr.Multiple {
		return value.Text(norm.NFC.String(v.String())), nil
	}
	switch attr.Backend {
	case gateway.BackendInt:
		if i, ok := value.AsInt(v); ok {
			return value.Int(i), nil
		}
		return nil, invalidValue(attr, v)
	case gateway.BackendDecimal:
		if f, ok := value.AsDecimal(v); ok {
			return value.Decimal(f), nil
		}
		return nil, invalidValue(attr, v)
	case gateway.BackendDatetime:
		if ts, ok := value.AsDateTime(v); ok {
			return value.Text(ts.Format(value.DateTimeLayout)), nil
		}
		return nil, invalidValue(attr, v)
	case gateway.BackendStatic:
		if t, ok := v.(value.Text); ok {
			return value.Text(norm.NFC.String(string(t))), nil
		}
		return v, nil
	default:
		if v.Kind() == value.KindList || v.Kind() == value.KindObject {
			return nil, invalidValue(attr, v)
		}
		return value.Text(norm.NFC.String(v.String())), nil
	}
}

// normalizeCurrent normalizes a stored value. Values that do not fit the backend
// are compared as stored.
func normalizeCurrent(attr gateway.Attribute, v value.Value) value.Value {
	n, err := Normalize(attr, v)
	if err != nil {
		return v
	}
	return n
}

func invalidValue(attr gateway.Attribute, v value.Value) error {
	return errors.Newf("Invalid value \"%s\" in attribute with code: %s", v.String(), attr.Code)
}

// splitOptions returns the trimmed tokens of a multi-value input. Empty tokens
// are kept so that "a,,b" is checked like any other label.
func splitOptions(v value.Value) []string {
	var raw []string
	if list, ok := v.(value.List); ok {
		for _, elem := range list {
			raw = append(raw, elem.String())
		}
	} else {
		raw = strings.Split(v.String(), ",")
	}
	tokens := make([]string, len(raw))
	for i, tok := range raw {
		tokens[i] = strings.TrimSpace(tok)
	}
	return tokens
}

func describe(v value.Value) string {
	if v == nil {
		return "<absent>"
	}
	if value.IsNull(v) {
		return "<null>"
	}
	return fmt.Sprintf("%q", v.String())
}
