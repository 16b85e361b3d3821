package capability

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// ScopeCodeModel replaces a store code attribute with the matching store_id.
type ScopeCodeModel struct {
	Scopes gateway.ScopeService
}

func (m ScopeCodeModel) Prepare(_ context.Context, _ string, v value.Value) (Replacement, error) {
	if m.Scopes == nil {
		return nil, errors.New("scope_code: no scope service")
	}
	return &scopeCodeReplacement{scopes: m.Scopes, code: v.String()}, nil
}

type scopeCodeReplacement struct {
	scopes  gateway.ScopeService
	code    string
	scopeID int64
}

func (r *scopeCodeReplacement) Validate(ctx context.Context, _ int64, _ *element.Element) Outcome {
	scope, err := r.scopes.ScopeByCode(ctx, r.code)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return FailOutcome(fmt.Sprintf("Invalid store with code: %s", r.code))
		}
		return FailOutcome(err.Error())
	}
	r.scopeID = scope.ID
	return KeepOutcome()
}

func (*scopeCodeReplacement) ResultCode() string { return "store_id" }

func (r *scopeCodeReplacement) Value() value.Value { return value.Int(r.scopeID) }
