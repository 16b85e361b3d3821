// Package element holds the ordered input records processed by an import run.
package element

import (
	"slices"

	"github.com/roach88/reconcile/internal/value"
)

// Element is one input record: attribute codes mapped to values, in input order.
//
// Number is the element's position in the overall input sequence. It never changes,
// even when validation rewrites or removes attributes, and it is the key for every
// run-level bookkeeping structure.
type Element struct {
	Number int
	codes  []string
	values map[string]value.Value
}

// New returns an empty element with the given number.
func New(number int) *Element {
	return &Element{Number: number, values: make(map[string]value.Value)}
}

// FromPairs builds an element from alternating code/value arguments.
// Raw values are converted with value.FromAny; it panics on unsupported types
// and is meant for tests and fixtures.
func FromPairs(number int, pairs ...any) *Element {
	if len(pairs)%2 != 0 {
		panic("element.FromPairs: odd number of arguments")
	}
	e := New(number)
	for i := 0; i < len(pairs); i += 2 {
		code, ok := pairs[i].(string)
		if !ok {
			panic("element.FromPairs: attribute code must be a string")
		}
		v, err := value.FromAny(pairs[i+1])
		if err != nil {
			panic(err)
		}
		e.Set(code, v)
	}
	return e
}

// Get returns the value for code and whether the element carries it.
func (e *Element) Get(code string) (value.Value, bool) {
	v, ok := e.values[code]
	return v, ok
}

// Has reports whether the element carries code.
func (e *Element) Has(code string) bool {
	_, ok := e.values[code]
	return ok
}

// Set stores v under code. New codes are appended to the attribute order.
func (e *Element) Set(code string, v value.Value) {
	if v == nil {
		v = value.Null{}
	}
	if _, ok := e.values[code]; !ok {
		e.codes = append(e.codes, code)
	}
	e.values[code] = v
}

// Delete removes code from the element.
func (e *Element) Delete(code string) {
	if _, ok := e.values[code]; !ok {
		return
	}
	delete(e.values, code)
	e.codes = slices.DeleteFunc(e.codes, func(c string) bool { return c == code })
}

// Codes returns the attribute codes in order. The slice is a copy.
func (e *Element) Codes() []string {
	return slices.Clone(e.codes)
}

// Len returns the number of attributes.
func (e *Element) Len() int {
	return len(e.codes)
}

// Text returns the string form of code's value, or "" when absent or null.
func (e *Element) Text(code string) string {
	v, ok := e.values[code]
	if !ok || value.IsNull(v) {
		return ""
	}
	return v.String()
}

// Clone returns a copy with the same number. Values are shared; they are immutable.
func (e *Element) Clone() *Element {
	return e.CloneAs(e.Number)
}

// CloneAs returns a copy numbered number.
func (e *Element) CloneAs(number int) *Element {
	c := &Element{
		Number: number,
		codes:  slices.Clone(e.codes),
		values: make(map[string]value.Value, len(e.values)),
	}
	for k, v := range e.values {
		c.values[k] = v
	}
	return c
}

// Each calls fn for every attribute in order.
func (e *Element) Each(fn func(code string, v value.Value)) {
	for _, code := range e.codes {
		fn(code, e.values[code])
	}
}
