// Package capability defines attribute values that carry their own storage logic.
//
// Three kinds exist. Associated items hold one-to-many relations written outside the
// attribute tables. Special items bypass metadata-driven diffing. Replace items
// rewrite one input attribute into another before anything else looks at the element.
// Models are registered by name in a Registry and bound to attribute codes per run.
package capability

import (
	"context"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// Action is the verdict of validating one attribute.
type Action uint8

const (
	Keep Action = iota
	// Drop removes the attribute from the element and keeps the element.
	Drop
	// Fail invalidates the element.
	Fail
)

func (a Action) String() string {
	switch a {
	case Drop:
		return "drop"
	case Fail:
		return "fail"
	}
	return "keep"
}

// Outcome is the result of validating one attribute.
type Outcome struct {
	Action Action
	Reason string
}

// KeepOutcome keeps the attribute.
func KeepOutcome() Outcome { return Outcome{Action: Keep} }

// DropOutcome removes the attribute; reason is logged only.
func DropOutcome(reason string) Outcome { return Outcome{Action: Drop, Reason: reason} }

// FailOutcome invalidates the element with reason.
func FailOutcome(reason string) Outcome { return Outcome{Action: Fail, Reason: reason} }

// Target is the entity an item is being written for.
type Target struct {
	EntityID int64
	ScopeID  int64
	Current  map[string]value.Value
	Admin    map[string]value.Value
	IsNew    bool
	// Stage runs the attribute diff for code with v and queues the resulting writes.
	// It is set for special items only.
	Stage func(ctx context.Context, code string, v value.Value) (bool, error)
}

// UpdateContext is shared by every item update within one chunk.
type UpdateContext struct {
	Tx         gateway.Tx
	EntityType string
	ScopeID    int64
	shared     map[string]any
}

// NewUpdateContext returns the context for one chunk.
func NewUpdateContext(tx gateway.Tx, entityType string, scopeID int64) *UpdateContext {
	return &UpdateContext{Tx: tx, EntityType: entityType, ScopeID: scopeID, shared: make(map[string]any)}
}

// Put stores chunk-scoped data, typically loaded by a Preparer.
func (u *UpdateContext) Put(key string, v any) {
	u.shared[key] = v
}

// Get returns chunk-scoped data stored with Put.
func (u *UpdateContext) Get(key string) (any, bool) {
	v, ok := u.shared[key]
	return v, ok
}

// Item is a capability-typed attribute value.
type Item interface {
	value.Value
	Validate(ctx context.Context, scopeID int64, e *element.Element) Outcome
	Update(ctx context.Context, uc *UpdateContext, code string, t Target) (bool, error)
}

// AssociatedModel builds associated items from the "|" separated parts of an input value.
type AssociatedModel interface {
	Prepare(ctx context.Context, code string, parts []string) (Item, error)
}

// SpecialModel builds special items from raw input values.
type SpecialModel interface {
	Prepare(ctx context.Context, code string, v value.Value) (Item, error)
}

// Preparer runs once per chunk and associated-item code before any item update.
type Preparer interface {
	Prepare(ctx context.Context, uc *UpdateContext, code string, entityIDs []int64) error
}

// Replacement rewrites one input attribute into ResultCode.
type Replacement interface {
	Validate(ctx context.Context, scopeID int64, e *element.Element) Outcome
	ResultCode() string
	Value() value.Value
}

// ReplaceModel builds replacements from raw input values.
type ReplaceModel interface {
	Prepare(ctx context.Context, code string, v value.Value) (Replacement, error)
}

// AsItem returns v as an Item when it is capability-typed.
func AsItem(v value.Value) (Item, bool) {
	if v == nil || v.Kind() != value.KindItem {
		return nil, false
	}
	item, ok := v.(Item)
	return item, ok
}
