// Package diff decides, per attribute, whether incoming data changes stored state
// and which storage layers must be written.
//
// Every attribute has two layers of current state: the value at the element's
// scope and the admin value that every scope falls back to. Global attributes keep
// their value in the admin layer only. Scope-local attributes keep one value per
// scope, and the admin copy is written only to seed a fallback.
package diff

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// Options configure an Engine for one run.
type Options struct {
	EntityType string
	// Special attributes are entity table columns normalized by semantic type
	// instead of attribute metadata.
	Special map[string]SpecialType
	// ForceAdmin attributes always seed the admin value when none exists.
	ForceAdmin map[string]bool
	// ProhibitAdmin attributes never write the admin copy of a scope-local value.
	ProhibitAdmin map[string]bool
	// DefaultAdminValues are the placeholders written by empty-admin writes.
	DefaultAdminValues map[string]value.Value
}

// Request describes one attribute of one entity.
type Request struct {
	EntityID int64
	ScopeID  int64
	Code     string
	Value    value.Value
	// Current holds the entity's values at ScopeID, Admin its values at the admin scope.
	Current map[string]value.Value
	Admin   map[string]value.Value
	// IsNew is set for entities created by this run.
	IsNew bool
}

// Engine computes attribute changes.
type Engine struct {
	meta   gateway.MetadataService
	opts   Options
	logger *slog.Logger
}

// NewEngine returns an engine reading metadata from meta.
func NewEngine(meta gateway.MetadataService, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{meta: meta, opts: opts, logger: logger}
}

// IsSpecial reports whether code is a special attribute.
func (e *Engine) IsSpecial(code string) bool {
	_, ok := e.opts.Special[code]
	return ok
}

// Diff compares the incoming value of one attribute with stored state. When a change
// exists it queues the write on acc and returns true. Nothing is queued otherwise.
//
// Errors are attribute-level: the caller invalidates the element.
func (e *Engine) Diff(ctx context.Context, acc *gateway.Accumulator, req Request) (bool, error) {
	attr, incoming, err := e.prepare(ctx, req)
	if err != nil {
		return false, err
	}

	current, hasCurrent := present(req.Current, req.Code)
	admin, hasAdmin := present(req.Admin, req.Code)
	if attr.Global && !hasCurrent {
		current, hasCurrent = admin, hasAdmin
	}
	if hasCurrent {
		current = e.normalizeCurrent(attr, current)
	}
	if hasAdmin {
		admin = e.normalizeCurrent(attr, admin)
	}

	var addAdmin, addEmptyAdmin bool
	if hasCurrent {
		if attr.Global {
			addAdmin = !hasAdmin || !value.Equal(incoming, admin)
		} else {
			addAdmin = !hasAdmin
		}
		addEmptyAdmin = req.ScopeID != gateway.AdminScope && !attr.Required && !attr.Global
		if value.Equal(incoming, current) {
			e.logger.Debug("attribute unchanged", "entity_id", req.EntityID, "scope_id", req.ScopeID, "attribute", req.Code)
			return false, nil
		}
	} else {
		if value.IsNull(incoming) {
			return false, nil
		}
		addAdmin = !hasAdmin || attr.Global
		addEmptyAdmin = req.ScopeID != gateway.AdminScope && !attr.Required && !attr.Global
	}

	if e.opts.ForceAdmin[req.Code] && !hasAdmin {
		addAdmin = true
		addEmptyAdmin = false
	}
	if req.IsNew {
		addAdmin = true
	}
	if e.opts.ProhibitAdmin[req.Code] && !attr.Global {
		addAdmin = false
	}

	w := e.write(attr, req.EntityID, req.ScopeID, incoming, addAdmin, addEmptyAdmin)
	acc.Add(w)
	e.logger.Debug("attribute changed",
		"entity_id", req.EntityID,
		"scope_id", req.ScopeID,
		"attribute", req.Code,
		"from", describe(current),
		"to", describe(incoming),
		"write", w.String())
	return true, nil
}

// Check runs option resolution and normalization for v without comparing it.
func (e *Engine) Check(ctx context.Context, scopeID int64, code string, v value.Value) error {
	_, _, err := e.prepare(ctx, Request{ScopeID: scopeID, Code: code, Value: v})
	return err
}

// Stamp queues an unconditional write of v, used for timestamps of new entities.
// The admin copy is written unless prohibited; addStore also writes the scope copy.
func (e *Engine) Stamp(ctx context.Context, acc *gateway.Accumulator, entityID, scopeID int64, code string, v value.Value, addStore bool) error {
	attr, err := e.attribute(ctx, code)
	if err != nil {
		return err
	}
	incoming, err := e.normalize(attr, v)
	if err != nil {
		return err
	}
	addAdmin := !e.opts.ProhibitAdmin[code] || attr.Global
	w := e.write(attr, entityID, scopeID, incoming, addAdmin, false)
	if !addStore && addAdmin && !attr.Global {
		w.Store = scopeID == gateway.AdminScope
	}
	acc.Add(w)
	return nil
}

// write builds the request with its targets.
//
// At the admin scope the scope row is the admin row, so only the store target is
// set. Global attributes write their admin copy and fall back to the scope row only
// when the admin copy is not written. Empty-admin placeholders accompany a store
// write whose admin copy is skipped.
func (e *Engine) write(attr gateway.Attribute, entityID, scopeID int64, v value.Value, addAdmin, addEmptyAdmin bool) gateway.Write {
	w := gateway.Write{
		Kind:       gateway.EAVTable,
		EntityType: e.opts.EntityType,
		EntityID:   entityID,
		Attribute:  attr,
		ScopeID:    scopeID,
		Value:      v,
	}
	if attr.Static() {
		w.Kind = gateway.SingleTable
		w.Store = true
		return w
	}

	switch {
	case scopeID == gateway.AdminScope:
		w.Store = true
	case attr.Global:
		w.Admin = addAdmin
		w.Store = !addAdmin
	default:
		w.Store = true
		w.Admin = addAdmin
	}
	if !w.Admin && scopeID != gateway.AdminScope && addEmptyAdmin {
		w.EmptyAdmin = true
		w.EmptyValue = value.Null{}
		if def, ok := e.opts.DefaultAdminValues[attr.Code]; ok {
			w.EmptyValue = def
		}
	}
	return w
}

// prepare resolves metadata and options and normalizes the incoming value.
func (e *Engine) prepare(ctx context.Context, req Request) (gateway.Attribute, value.Value, error) {
	attr, err := e.attribute(ctx, req.Code)
	if err != nil {
		return attr, nil, err
	}
	incoming := req.Value
	if incoming == nil {
		incoming = value.Null{}
	}
	if attr.UsesOptions && !value.IsEmpty(incoming) {
		incoming, err = e.resolveOptions(ctx, attr, req.ScopeID, incoming)
		if err != nil {
			return attr, nil, err
		}
	}
	incoming, err = e.normalize(attr, incoming)
	if err != nil {
		return attr, nil, err
	}
	return attr, incoming, nil
}

func (e *Engine) attribute(ctx context.Context, code string) (gateway.Attribute, error) {
	if _, ok := e.opts.Special[code]; ok {
		return gateway.Attribute{EntityType: e.opts.EntityType, Code: code, Backend: gateway.BackendStatic, Global: true}, nil
	}
	attr, err := e.meta.Attribute(ctx, e.opts.EntityType, code)
	if err != nil {
		return attr, errors.Wrapf(err, "attribute %s", code)
	}
	return attr, nil
}

func (e *Engine) normalize(attr gateway.Attribute, v value.Value) (value.Value, error) {
	if t, ok := e.opts.Special[attr.Code]; ok {
		return NormalizeSpecial(t, v)
	}
	return Normalize(attr, v)
}

func (e *Engine) normalizeCurrent(attr gateway.Attribute, v value.Value) value.Value {
	n, err := e.normalize(attr, v)
	if err != nil {
		return v
	}
	return n
}

// resolveOptions maps option labels to ids. Tokens without a matching option pass
// through literally unless the attribute stores integers and the token is not numeric.
func (e *Engine) resolveOptions(ctx context.Context, attr gateway.Attribute, scopeID int64, v value.Value) (value.Value, error) {
	if !attr.Multiple {
		return e.resolveOption(ctx, attr, scopeID, v.String())
	}

	tokens := splitOptions(v)
	resolved := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		id, err := e.resolveOption(ctx, attr, scopeID, tok)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, id.String())
	}
	return value.Text(strings.Join(resolved, ",")), nil
}

func (e *Engine) resolveOption(ctx context.Context, attr gateway.Attribute, scopeID int64, label string) (value.Value, error) {
	id, ok, err := e.meta.OptionID(ctx, e.opts.EntityType, attr.Code, scopeID, label)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve option %q of %s", label, attr.Code)
	}
	if ok {
		return value.Text(strconv.FormatInt(id, 10)), nil
	}
	if attr.Backend == gateway.BackendInt && !value.IsNumeric(value.Text(label)) {
		return nil, invalidValue(attr, value.Text(label))
	}
	return value.Text(label), nil
}

// present returns the stored value of code; Null counts as absent.
func present(values map[string]value.Value, code string) (value.Value, bool) {
	v, ok := values[code]
	if !ok || value.IsNull(v) {
		return nil, false
	}
	return v, true
}
