package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// EntityIDByKey returns the id of the entity with the given natural key.
// Returns gateway.ErrNotFound when no entity has the key.
func (s *Store) EntityIDByKey(ctx context.Context, entityType, key string) (int64, error) {
	ids, err := s.ResolveByNaturalKeys(ctx, entityType, []string{key})
	if err != nil {
		return 0, err
	}
	id, ok := ids[key]
	if !ok {
		return 0, errors.Wrapf(gateway.ErrNotFound, "%s %q", entityType, key)
	}
	return id, nil
}

// EffectiveValues returns what a reader at scopeID sees for one entity: the scope
// row when present, otherwise the admin row. Entity table columns are included.
// Attributes with no stored value at either layer are absent.
func (s *Store) EffectiveValues(ctx context.Context, entityType string, entityID, scopeID int64) (map[string]value.Value, error) {
	attrs, err := s.Attributes(ctx, entityType)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(attrs))
	for i, a := range attrs {
		codes[i] = a.Code
	}
	key, err := s.keyCode(ctx, entityType)
	if err != nil {
		return nil, err
	}
	codes = append(codes, key)

	t, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer t.Rollback()

	ids := []int64{entityID}
	admin, err := t.CurrentValues(ctx, entityType, gateway.AdminScope, codes, ids)
	if err != nil {
		return nil, err
	}
	out := admin.Entity(entityID)
	if scopeID == gateway.AdminScope {
		return out, nil
	}
	scoped, err := t.CurrentValues(ctx, entityType, scopeID, codes, ids)
	if err != nil {
		return nil, err
	}
	for code, v := range scoped.Entity(entityID) {
		out[code] = v
	}
	return out, nil
}

// ScopeValue returns the value stored for code at exactly scopeID, without the
// admin fallback.
func (s *Store) ScopeValue(ctx context.Context, entityType string, entityID, scopeID int64, code string) (value.Value, bool, error) {
	t, err := s.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer t.Rollback()

	vals, err := t.CurrentValues(ctx, entityType, scopeID, []string{code}, []int64{entityID})
	if err != nil {
		return nil, false, err
	}
	v, ok := vals.Get(entityID, code)
	return v, ok, nil
}

// EntityCount returns the number of entities of entityType.
func (s *Store) EntityCount(ctx context.Context, entityType string) (int, error) {
	if err := checkIdentifier("entity type", entityType); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+entityTable(entityType)).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s entities", entityType)
	}
	return n, nil
}
