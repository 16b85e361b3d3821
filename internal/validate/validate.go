// Package validate prepares and checks input elements before any entity is resolved.
//
// Validation rewrites elements in place: replace attributes become their result
// attribute, associated and special attributes become capability items, empty values
// are normalized, and attributes that should be ignored are dropped. Every failure
// is recorded on the run state as an invalid reason; nothing is returned as an error.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/identity"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/scope"
	"github.com/roach88/reconcile/internal/value"
)

// Config holds the per-run validation settings.
type Config struct {
	EntityType string
	ElementKey string
	// IgnoreUnknown drops attributes without metadata instead of failing the element.
	IgnoreUnknown bool
	// UnknownWarnOnly drops unknown attributes with a warning when IgnoreUnknown is off.
	UnknownWarnOnly bool
	// Ignore lists attributes that are never validated or diffed.
	Ignore map[string]bool
	Special map[string]diff.SpecialType
}

// Validator runs the validation stage.
type Validator struct {
	cfg      Config
	meta     gateway.MetadataService
	scopes   gateway.ScopeService
	caps     *capability.Set
	resolver *scope.Resolver
	diff     *diff.Engine
	logger   *slog.Logger
}

// New returns a validator. engine is used to check option and backend conformance.
func New(cfg Config, meta gateway.MetadataService, scopes gateway.ScopeService, caps *capability.Set, engine *diff.Engine, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:      cfg,
		meta:     meta,
		scopes:   scopes,
		caps:     caps,
		resolver: scope.NewResolver(scopes, logger),
		diff:     engine,
		logger:   logger,
	}
}

// Validate prepares every element and records invalid reasons on st.
func (v *Validator) Validate(ctx context.Context, elements []*element.Element, st *run.State) {
	for _, e := range elements {
		v.replace(ctx, e, st)
	}

	v.resolver.Resolve(ctx, elements, st)

	for _, e := range elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		scopeID, _ := st.ScopeID(e.Number)
		v.prepareItems(ctx, e, st)
		if st.IsInvalid(e.Number) {
			continue
		}
		if _, err := v.scopes.Scope(ctx, scopeID); err != nil {
			st.Invalidate(e.Number, scopeReason(scopeID, err))
			continue
		}
		v.checkAttributes(ctx, e, scopeID, st)
		if !hasIdentity(e, v.cfg.ElementKey) {
			st.Invalidate(e.Number, "No entity id or element key")
		}
	}

	v.logger.Info("elements validated", "entity_type", v.cfg.EntityType, "elements", len(elements), "invalid", len(st.InvalidNumbers()))
}

// Skip reports whether code is never diffed: scope carriers, ignore attributes and
// the element key.
func (v *Validator) Skip(code string) bool {
	return v.cfg.Ignore[code] || code == v.cfg.ElementKey
}

func (v *Validator) replace(ctx context.Context, e *element.Element, st *run.State) {
	for _, code := range e.Codes() {
		model, ok := v.caps.Replace(code)
		if !ok {
			continue
		}
		raw, _ := e.Get(code)
		e.Delete(code)

		r, err := model.Prepare(ctx, code, raw)
		if err != nil {
			st.Invalidate(e.Number, fmt.Sprintf("Invalid data in replace item: %s because: %v", code, err))
			continue
		}
		scopeID, _ := value.AsInt(valueOr(e, scope.StoreIDCode))
		switch out := r.Validate(ctx, scopeID, e); out.Action {
		case capability.Fail:
			st.Invalidate(e.Number, fmt.Sprintf("Invalid data in replace item: %s because: %s", code, out.Reason))
		case capability.Keep:
			e.Set(r.ResultCode(), r.Value())
		}
	}
}

func (v *Validator) prepareItems(ctx context.Context, e *element.Element, st *run.State) {
	for _, code := range e.Codes() {
		if v.Skip(code) {
			continue
		}
		raw, _ := e.Get(code)
		if model, ok := v.caps.Associated(code); ok {
			if value.IsNull(raw) {
				e.Delete(code)
				continue
			}
			item, err := model.Prepare(ctx, code, splitParts(raw))
			if err != nil {
				st.Invalidate(e.Number, fmt.Sprintf("Invalid associated item %s: %v", code, err))
				continue
			}
			e.Set(code, item)
			continue
		}
		if model, ok := v.caps.Special(code); ok {
			item, err := model.Prepare(ctx, code, raw)
			if err != nil {
				st.Invalidate(e.Number, fmt.Sprintf("Invalid special attribute %s: %v", code, err))
				continue
			}
			e.Set(code, item)
		}
	}
}

func (v *Validator) checkAttributes(ctx context.Context, e *element.Element, scopeID int64, st *run.State) {
	for _, code := range e.Codes() {
		if v.Skip(code) {
			continue
		}
		out := v.checkAttribute(ctx, e, scopeID, code)
		switch out.Action {
		case capability.Drop:
			e.Delete(code)
			if out.Reason != "" {
				v.logger.Debug("attribute dropped", "element", e.Number, "attribute", code, "reason", out.Reason)
			}
		case capability.Fail:
			st.Invalidate(e.Number, out.Reason)
		}
	}
}

func (v *Validator) checkAttribute(ctx context.Context, e *element.Element, scopeID int64, code string) capability.Outcome {
	raw, _ := e.Get(code)
	if item, ok := capability.AsItem(raw); ok {
		return item.Validate(ctx, scopeID, e)
	}

	if t, ok := v.cfg.Special[code]; ok {
		if _, err := diff.NormalizeSpecial(t, raw); err != nil {
			return capability.FailOutcome(fmt.Sprintf("Invalid value for %s: %v", code, err))
		}
		return capability.KeepOutcome()
	}

	attr, err := v.meta.Attribute(ctx, v.cfg.EntityType, code)
	if errors.Is(err, gateway.ErrUnknownAttribute) {
		reason := fmt.Sprintf("Unknown attribute: %s", code)
		switch {
		case v.cfg.IgnoreUnknown:
			return capability.DropOutcome(reason)
		case v.cfg.UnknownWarnOnly:
			v.logger.Warn("unknown attribute dropped", "element", e.Number, "attribute", code)
			return capability.DropOutcome(reason)
		}
		return capability.FailOutcome(reason)
	}
	if err != nil {
		return capability.FailOutcome(err.Error())
	}

	if value.IsEmpty(raw) && !value.IsNumeric(raw) {
		if attr.Required {
			return capability.FailOutcome(fmt.Sprintf("Empty value for required attribute: %s", code))
		}
		if !attr.Backend.TextLike() || value.IsNull(raw) {
			e.Set(code, value.Null{})
		}
		return capability.KeepOutcome()
	}

	if err := v.diff.Check(ctx, scopeID, code, raw); err != nil {
		return capability.FailOutcome(errors.UnwrapAll(err).Error())
	}
	return capability.KeepOutcome()
}

func hasIdentity(e *element.Element, keyCode string) bool {
	if id, ok := e.Get(identity.EntityIDCode); ok && !value.IsEmpty(id) {
		return true
	}
	key, ok := e.Get(keyCode)
	return ok && !value.IsEmpty(key)
}

func scopeReason(scopeID int64, err error) string {
	if errors.Is(err, gateway.ErrNotFound) {
		return fmt.Sprintf("Invalid store with id: %d", scopeID)
	}
	return err.Error()
}

// splitParts splits associated item data on "|". Lists are used as given.
func splitParts(v value.Value) []string {
	if list, ok := v.(value.List); ok {
		parts := make([]string, len(list))
		for i, elem := range list {
			parts[i] = elem.String()
		}
		return parts
	}
	s := v.String()
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, "|")
}

func valueOr(e *element.Element, code string) value.Value {
	if v, ok := e.Get(code); ok {
		return v
	}
	return value.Int(gateway.AdminScope)
}
