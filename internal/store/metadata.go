package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
)

// Attribute returns attribute metadata. Results are cached until the catalog changes.
func (s *Store) Attribute(ctx context.Context, entityType, code string) (gateway.Attribute, error) {
	cacheKey := attrCacheKey(entityType, code)
	s.mu.Lock()
	attr, ok := s.attrs[cacheKey]
	s.mu.Unlock()
	if ok {
		return attr, nil
	}

	var backend string
	var global, required, options, multiple int
	err := s.db.QueryRowContext(ctx, `
		SELECT attribute_id, backend, is_global, is_required, uses_options, is_multiple
		FROM attributes
		WHERE entity_type = ? AND code = ?
	`, entityType, code).Scan(&attr.ID, &backend, &global, &required, &options, &multiple)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Attribute{}, errors.Wrapf(gateway.ErrUnknownAttribute, "%s.%s", entityType, code)
	}
	if err != nil {
		return gateway.Attribute{}, errors.Wrapf(err, "attribute %s.%s", entityType, code)
	}

	attr.EntityType = entityType
	attr.Code = code
	attr.Backend = gateway.Backend(backend)
	attr.Global = global != 0
	attr.Required = required != 0
	attr.UsesOptions = options != 0
	attr.Multiple = multiple != 0

	s.mu.Lock()
	s.attrs[cacheKey] = attr
	s.mu.Unlock()
	return attr, nil
}

// Attributes lists every attribute of an entity type ordered by code.
func (s *Store) Attributes(ctx context.Context, entityType string) ([]gateway.Attribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM attributes WHERE entity_type = ? ORDER BY code COLLATE BINARY`, entityType)
	if err != nil {
		return nil, errors.Wrapf(err, "attributes of %s", entityType)
	}
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan attribute")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "iterate attributes")
	}
	rows.Close()

	attrs := make([]gateway.Attribute, 0, len(codes))
	for _, code := range codes {
		attr, err := s.Attribute(ctx, entityType, code)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// OptionID resolves an option label at scopeID, falling back to the admin label.
func (s *Store) OptionID(ctx context.Context, entityType, code string, scopeID int64, label string) (int64, bool, error) {
	attr, err := s.Attribute(ctx, entityType, code)
	if err != nil {
		return 0, false, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT option_id FROM attribute_options
		WHERE attribute_id = ? AND label = ? AND scope_id IN (?, 0)
		ORDER BY scope_id DESC
		LIMIT 1
	`, attr.ID, label, scopeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "option %q of %s", label, code)
	}
	return id, true, nil
}
