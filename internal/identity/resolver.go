// Package identity maps input elements to existing entities.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/scope"
	"github.com/roach88/reconcile/internal/value"
)

// EntityIDCode is the attribute carrying an explicit entity id.
const EntityIDCode = "entity_id"

// Partition splits the working set into elements bound for creation and for update.
// AdminClones are the admin-scope copies appended to Update.
type Partition struct {
	Create      []*element.Element
	Update      []*element.Element
	AdminClones []*element.Element
}

// Resolver resolves entity ids by explicit id, by the run's created-entity cache,
// and by one batched natural-key lookup.
type Resolver struct {
	lookup     gateway.IdentityLookup
	entityType string
	keyCode    string
	logger     *slog.Logger
}

// NewResolver returns a resolver for entityType whose natural key is keyCode.
func NewResolver(lookup gateway.IdentityLookup, entityType, keyCode string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, entityType: entityType, keyCode: keyCode, logger: logger}
}

// Resolve populates the run's entity references and partitions the valid elements.
//
// When updateAdmin is set, every update-bound element outside the admin scope is
// cloned into an admin-scope element with the same entity id. Clones are numbered
// after the last input element, so they are classified on their own, and are
// appended to the returned working set and to the update partition.
func (r *Resolver) Resolve(ctx context.Context, elements []*element.Element, st *run.State, updateAdmin bool) ([]*element.Element, Partition) {
	var pending []*element.Element

	for _, e := range elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		if v, ok := e.Get(EntityIDCode); ok && !value.IsEmpty(v) {
			id, ok := value.AsInt(v)
			if !ok || id <= 0 {
				st.Invalidate(e.Number, fmt.Sprintf("Invalid entity id: %s", v))
				continue
			}
			st.SetEntityID(e.Number, id)
			continue
		}
		if id, ok := st.CreatedID(r.Key(e)); ok {
			st.SetEntityID(e.Number, id)
			continue
		}
		pending = append(pending, e)
	}

	r.lookupPending(ctx, pending, st)

	var p Partition
	for _, e := range elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		if _, ok := st.EntityID(e.Number); ok {
			p.Update = append(p.Update, e)
		} else {
			p.Create = append(p.Create, e)
		}
	}

	working := make([]*element.Element, 0, len(elements))
	for _, e := range elements {
		if !st.IsInvalid(e.Number) {
			working = append(working, e)
		}
	}
	if updateAdmin {
		p.AdminClones = adminClones(p.Update, nextNumber(elements), st)
		working = append(working, p.AdminClones...)
		p.Update = append(p.Update, p.AdminClones...)
	}

	r.logger.Info("identities resolved",
		"entity_type", r.entityType,
		"create", len(p.Create),
		"update", len(p.Update),
		"lookups", len(pending))
	return working, p
}

// Key returns the element's natural key, or "".
func (r *Resolver) Key(e *element.Element) string {
	return e.Text(r.keyCode)
}

// lookupPending resolves every pending natural key in one call. A failing lookup
// invalidates the elements that depended on it.
func (r *Resolver) lookupPending(ctx context.Context, pending []*element.Element, st *run.State) {
	keys := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, e := range pending {
		k := r.Key(e)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}

	found, err := r.lookup.ResolveByNaturalKeys(ctx, r.entityType, keys)
	if err != nil {
		r.logger.Error("natural key lookup failed", "entity_type", r.entityType, "keys", len(keys), "error", err)
		for _, e := range pending {
			st.Invalidate(e.Number, fmt.Sprintf("Could not look up %s: %v", r.keyCode, err))
		}
		return
	}
	for _, e := range pending {
		if id, ok := found[r.Key(e)]; ok {
			st.SetEntityID(e.Number, id)
		}
	}
}

func adminClones(update []*element.Element, next int, st *run.State) []*element.Element {
	var clones []*element.Element
	for _, e := range update {
		scopeID, ok := st.ScopeID(e.Number)
		if !ok || scopeID == gateway.AdminScope {
			continue
		}
		id, _ := st.EntityID(e.Number)
		c := e.CloneAs(next)
		next++
		c.Set(scope.StoreIDCode, value.Int(gateway.AdminScope))
		st.SetEntityID(c.Number, id)
		st.SetScopeID(c.Number, gateway.AdminScope)
		st.MarkClone(c.Number, e.Number)
		clones = append(clones, c)
	}
	return clones
}

// nextNumber returns the first element number after every input element.
func nextNumber(elements []*element.Element) int {
	next := 0
	for _, e := range elements {
		next = max(next, e.Number+1)
	}
	return next
}
