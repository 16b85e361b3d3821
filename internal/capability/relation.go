package capability

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/value"
)

// RelationModel turns "a|b|c" into a relation item linking the entity to keys a, b and c.
// The attribute code names the relation.
type RelationModel struct{}

func (RelationModel) Prepare(_ context.Context, code string, parts []string) (Item, error) {
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		keys = append(keys, strings.TrimSpace(p))
	}
	return &RelationItem{Relation: code, Keys: keys}, nil
}

// RelationItem is the set of keys an entity is related to at a scope.
type RelationItem struct {
	Relation string
	Keys     []string
}

func (*RelationItem) Kind() value.Kind { return value.KindItem }

func (r *RelationItem) String() string { return strings.Join(r.Keys, "|") }

func (r *RelationItem) Validate(_ context.Context, _ int64, _ *element.Element) Outcome {
	for _, k := range r.Keys {
		if k == "" {
			return FailOutcome(fmt.Sprintf("Empty key in relation: %s", r.Relation))
		}
	}
	return KeepOutcome()
}

// Update replaces the stored keys when the set differs. Order and duplicates are ignored.
func (r *RelationItem) Update(ctx context.Context, uc *UpdateContext, _ string, t Target) (bool, error) {
	current, err := r.current(ctx, uc, t)
	if err != nil {
		return false, err
	}
	want := normalizeKeys(r.Keys)
	if slices.Equal(normalizeKeys(current), want) {
		return false, nil
	}
	if err := uc.Tx.Relations().ReplaceRelations(ctx, uc.EntityType, r.Relation, t.ScopeID, t.EntityID, want); err != nil {
		return false, errors.Wrapf(err, "replace relation %s", r.Relation)
	}
	return true, nil
}

func (r *RelationItem) current(ctx context.Context, uc *UpdateContext, t Target) ([]string, error) {
	if cached, ok := uc.Get(relationCacheKey(r.Relation)); ok {
		if byEntity, ok := cached.(map[int64][]string); ok {
			return byEntity[t.EntityID], nil
		}
	}
	byEntity, err := uc.Tx.Relations().RelatedKeys(ctx, uc.EntityType, r.Relation, t.ScopeID, []int64{t.EntityID})
	if err != nil {
		return nil, errors.Wrapf(err, "load relation %s", r.Relation)
	}
	return byEntity[t.EntityID], nil
}

// RelationPreparer loads the current keys of every entity in the chunk in one query.
type RelationPreparer struct{}

func (RelationPreparer) Prepare(ctx context.Context, uc *UpdateContext, code string, entityIDs []int64) error {
	byEntity, err := uc.Tx.Relations().RelatedKeys(ctx, uc.EntityType, code, uc.ScopeID, entityIDs)
	if err != nil {
		return errors.Wrapf(err, "prefetch relation %s", code)
	}
	uc.Put(relationCacheKey(code), byEntity)
	return nil
}

func relationCacheKey(relation string) string {
	return "relation:" + relation
}

func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
