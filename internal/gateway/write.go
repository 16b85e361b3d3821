package gateway

import (
	"fmt"

	"github.com/roach88/reconcile/internal/value"
)

// WriteKind separates entity-table column writes from attribute-value row writes.
type WriteKind uint8

const (
	// SingleTable writes set a column of the entity table.
	SingleTable WriteKind = iota
	// EAVTable writes upsert rows of the backend value table.
	EAVTable
)

func (k WriteKind) String() string {
	if k == SingleTable {
		return "single"
	}
	return "eav"
}

// Write is one pending attribute change for one entity.
//
// The targets say which layers receive Value: Store writes the row at ScopeID,
// Admin writes the row at AdminScope. EmptyAdmin inserts EmptyValue at AdminScope
// only when no admin row exists yet. Single-table writes ignore targets.
type Write struct {
	Kind       WriteKind
	EntityType string
	EntityID   int64
	Attribute  Attribute
	ScopeID    int64
	Value      value.Value
	Store      bool
	Admin      bool
	EmptyAdmin bool
	EmptyValue value.Value
}

func (w Write) String() string {
	return fmt.Sprintf("%s %s#%d %s@%d store=%t admin=%t empty_admin=%t value=%q",
		w.Kind, w.EntityType, w.EntityID, w.Attribute.Code, w.ScopeID, w.Store, w.Admin, w.EmptyAdmin, w.Value.String())
}

// Accumulator collects the writes of one chunk until they are flushed together.
type Accumulator struct {
	Creates []CreateRow
	Singles []Write
	EAVs    []Write
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends w to the bucket matching its kind.
func (a *Accumulator) Add(w Write) {
	if w.Kind == SingleTable {
		a.Singles = append(a.Singles, w)
		return
	}
	a.EAVs = append(a.EAVs, w)
}

// Merge appends every pending write of other.
func (a *Accumulator) Merge(other *Accumulator) {
	a.Creates = append(a.Creates, other.Creates...)
	a.Singles = append(a.Singles, other.Singles...)
	a.EAVs = append(a.EAVs, other.EAVs...)
}

// Len returns the number of attribute writes, excluding creation records.
func (a *Accumulator) Len() int {
	return len(a.Singles) + len(a.EAVs)
}

// Writes returns all attribute writes, single-table first.
func (a *Accumulator) Writes() []Write {
	out := make([]Write, 0, a.Len())
	out = append(out, a.Singles...)
	return append(out, a.EAVs...)
}
