// Package scope resolves the store scope of each input element.
package scope

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/value"
)

// Attribute codes carrying scope information.
const (
	StoreIDCode   = "store_id"
	WebsiteCode   = "website"
	WebsiteIDCode = "website_id"
)

// Resolver assigns a store_id to every element.
type Resolver struct {
	scopes gateway.ScopeService
	logger *slog.Logger
}

// NewResolver returns a resolver backed by scopes.
func NewResolver(scopes gateway.ScopeService, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{scopes: scopes, logger: logger}
}

// Resolve annotates every element with its scope. An element that already carries
// store_id keeps it. Otherwise the scope comes from, in order: website.id,
// website.name, website_id, and finally the admin scope. Unknown websites
// invalidate the element and leave store_id unset.
func (r *Resolver) Resolve(ctx context.Context, elements []*element.Element, st *run.State) {
	for _, e := range elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		scopeID, reason := r.resolve(ctx, e)
		if reason != "" {
			st.Invalidate(e.Number, reason)
			r.logger.Debug("scope not resolved", "element", e.Number, "reason", reason)
			continue
		}
		e.Set(StoreIDCode, value.Int(scopeID))
		st.SetScopeID(e.Number, scopeID)
	}
}

func (r *Resolver) resolve(ctx context.Context, e *element.Element) (int64, string) {
	if v, ok := e.Get(StoreIDCode); ok && !value.IsEmpty(v) {
		id, ok := value.AsInt(v)
		if !ok {
			return 0, fmt.Sprintf("Invalid store id: %s", v)
		}
		return id, ""
	}

	if v, ok := e.Get(WebsiteCode); ok && !value.IsNull(v) {
		website, isObject := v.(value.Object)
		if !isObject {
			return 0, "Invalid website definition"
		}
		if id, ok := website.Get("id"); ok && !value.IsEmpty(id) {
			return r.byWebsiteID(ctx, id)
		}
		if name, ok := website.Get("name"); ok && !value.IsEmpty(name) {
			scopeID, err := r.scopes.DefaultScopeByWebsiteCode(ctx, name.String())
			if err != nil {
				return 0, lookupReason(err, fmt.Sprintf("Invalid website with code: %s", name))
			}
			return scopeID, ""
		}
		return 0, "Invalid website definition"
	}

	if v, ok := e.Get(WebsiteIDCode); ok && !value.IsEmpty(v) {
		return r.byWebsiteID(ctx, v)
	}

	return gateway.AdminScope, ""
}

func (r *Resolver) byWebsiteID(ctx context.Context, v value.Value) (int64, string) {
	id, ok := value.AsInt(v)
	if !ok {
		return 0, fmt.Sprintf("Invalid website with id: %s", v)
	}
	scopeID, err := r.scopes.DefaultScopeByWebsiteID(ctx, id)
	if err != nil {
		return 0, lookupReason(err, fmt.Sprintf("Invalid website with id: %s", v))
	}
	return scopeID, ""
}

func lookupReason(err error, notFound string) string {
	if errors.Is(err, gateway.ErrNotFound) {
		return notFound
	}
	return err.Error()
}
