package capability

import (
	"maps"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
)

// ErrUnknownModel reports a model name that is not registered.
var ErrUnknownModel = errors.New("capability: unknown model")

// Deps are the services built-in models may use.
type Deps struct {
	Metadata gateway.MetadataService
	Scopes   gateway.ScopeService
}

// Registry maps model names to implementations.
type Registry struct {
	associated map[string]AssociatedModel
	preparers  map[string]Preparer
	replace    map[string]ReplaceModel
	special    map[string]SpecialModel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		associated: make(map[string]AssociatedModel),
		preparers:  make(map[string]Preparer),
		replace:    make(map[string]ReplaceModel),
		special:    make(map[string]SpecialModel),
	}
}

// DefaultRegistry returns a registry holding the built-in models:
// "relation" (associated item and preparer), "scope_code" (replace) and "slug" (special).
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	r.RegisterAssociated("relation", RelationModel{})
	r.RegisterPreparer("relation", RelationPreparer{})
	r.RegisterReplace("scope_code", ScopeCodeModel{Scopes: deps.Scopes})
	r.RegisterSpecial("slug", SlugModel{})
	return r
}

func (r *Registry) RegisterAssociated(name string, m AssociatedModel) { r.associated[name] = m }
func (r *Registry) RegisterPreparer(name string, p Preparer)          { r.preparers[name] = p }
func (r *Registry) RegisterReplace(name string, m ReplaceModel)       { r.replace[name] = m }
func (r *Registry) RegisterSpecial(name string, m SpecialModel)       { r.special[name] = m }

// Names returns the registered model names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"associated": slices.Sorted(maps.Keys(r.associated)),
		"preparer":   slices.Sorted(maps.Keys(r.preparers)),
		"replace":    slices.Sorted(maps.Keys(r.replace)),
		"special":    slices.Sorted(maps.Keys(r.special)),
	}
}

// Bindings maps attribute codes to model names for one run.
type Bindings struct {
	Associated map[string]string
	Preparers  map[string]string
	Replace    map[string]string
	Special    map[string]string
}

// Set is a Registry bound to attribute codes.
type Set struct {
	associated map[string]AssociatedModel
	preparers  map[string]Preparer
	replace    map[string]ReplaceModel
	special    map[string]SpecialModel
}

// Bind resolves every binding. Unknown model names fail with ErrUnknownModel.
func (r *Registry) Bind(b Bindings) (*Set, error) {
	s := &Set{
		associated: make(map[string]AssociatedModel),
		preparers:  make(map[string]Preparer),
		replace:    make(map[string]ReplaceModel),
		special:    make(map[string]SpecialModel),
	}
	if err := bind(b.Associated, r.associated, s.associated, "associated item"); err != nil {
		return nil, err
	}
	if err := bind(b.Preparers, r.preparers, s.preparers, "preparer"); err != nil {
		return nil, err
	}
	if err := bind(b.Replace, r.replace, s.replace, "replace"); err != nil {
		return nil, err
	}
	if err := bind(b.Special, r.special, s.special, "special attribute"); err != nil {
		return nil, err
	}
	return s, nil
}

func bind[M any](codes map[string]string, models, out map[string]M, kind string) error {
	for code, name := range codes {
		m, ok := models[name]
		if !ok {
			return errors.Wrapf(ErrUnknownModel, "%s model %q for attribute %q", kind, name, code)
		}
		out[code] = m
	}
	return nil
}

// Associated returns the associated-item model bound to code.
func (s *Set) Associated(code string) (AssociatedModel, bool) {
	m, ok := s.associated[code]
	return m, ok
}

// Preparer returns the preparer bound to an associated-item code.
func (s *Set) Preparer(code string) (Preparer, bool) {
	p, ok := s.preparers[code]
	return p, ok
}

// Replace returns the replace model bound to code.
func (s *Set) Replace(code string) (ReplaceModel, bool) {
	m, ok := s.replace[code]
	return m, ok
}

// Special returns the special-attribute model bound to code.
func (s *Set) Special(code string) (SpecialModel, bool) {
	m, ok := s.special[code]
	return m, ok
}

// IsAssociated reports whether code holds associated items.
func (s *Set) IsAssociated(code string) bool {
	_, ok := s.associated[code]
	return ok
}
