package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
)

// DefaultScopeByWebsiteID returns the default scope of a website.
func (s *Store) DefaultScopeByWebsiteID(ctx context.Context, websiteID int64) (int64, error) {
	return s.defaultScope(ctx, `SELECT default_scope_id FROM websites WHERE website_id = ?`, websiteID)
}

// DefaultScopeByWebsiteCode returns the default scope of a website by code.
func (s *Store) DefaultScopeByWebsiteCode(ctx context.Context, code string) (int64, error) {
	return s.defaultScope(ctx, `SELECT default_scope_id FROM websites WHERE code = ?`, code)
}

func (s *Store) defaultScope(ctx context.Context, query string, arg any) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(gateway.ErrNotFound, "website %v", arg)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "website %v", arg)
	}
	return id, nil
}

// Scope returns a scope by id.
func (s *Store) Scope(ctx context.Context, scopeID int64) (gateway.Scope, error) {
	return s.scope(ctx, `SELECT scope_id, code, website_id FROM scopes WHERE scope_id = ?`, scopeID)
}

// ScopeByCode returns a scope by code.
func (s *Store) ScopeByCode(ctx context.Context, code string) (gateway.Scope, error) {
	return s.scope(ctx, `SELECT scope_id, code, website_id FROM scopes WHERE code = ?`, code)
}

func (s *Store) scope(ctx context.Context, query string, arg any) (gateway.Scope, error) {
	var sc gateway.Scope
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&sc.ID, &sc.Code, &sc.WebsiteID)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Scope{}, errors.Wrapf(gateway.ErrNotFound, "scope %v", arg)
	}
	if err != nil {
		return gateway.Scope{}, errors.Wrapf(err, "scope %v", arg)
	}
	return sc, nil
}
