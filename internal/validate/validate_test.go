package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/memstore"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/value"
)

func setup(t *testing.T, mutate func(*Config)) (*Validator, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.DefineEntityType("product", "sku")
	s.DefineWebsite(1, "base", 2)
	s.DefineScope(gateway.Scope{ID: 2, Code: "en", WebsiteID: 1})
	s.DefineScope(gateway.Scope{ID: 3, Code: "de", WebsiteID: 1})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "color", Backend: gateway.BackendVarchar})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "name", Backend: gateway.BackendVarchar, Required: true})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "qty", Backend: gateway.BackendInt})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "size", Backend: gateway.BackendInt, UsesOptions: true})
	s.DefineOption("product", "size", gateway.AdminScope, "M", 7)

	cfg := Config{
		EntityType:    "product",
		ElementKey:    "sku",
		IgnoreUnknown: true,
		Ignore:        map[string]bool{"entity_id": true, "store_id": true, "website": true, "website_id": true},
		Special:       map[string]diff.SpecialType{"position": diff.SpecialInt},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	caps, err := capability.DefaultRegistry(capability.Deps{Metadata: s, Scopes: s}).Bind(capability.Bindings{
		Associated: map[string]string{"categories": "relation"},
		Replace:    map[string]string{"store": "scope_code"},
		Special:    map[string]string{"url_key": "slug"},
	})
	require.NoError(t, err)

	engine := diff.NewEngine(s, diff.Options{EntityType: "product", Special: cfg.Special}, nil)
	return New(cfg, s, s, caps, engine, nil), s
}

func validateOne(t *testing.T, v *Validator, e *element.Element) *run.State {
	t.Helper()
	st := run.NewState()
	v.Validate(context.Background(), []*element.Element{e}, st)
	return st
}

func TestValidElementIsPrepared(t *testing.T) {
	v, _ := setup(t, nil)
	e := element.FromPairs(0,
		"sku", "sku1",
		"website", map[string]any{"id": 1},
		"color", "red",
		"weight", "3kg",
		"categories", "shoes|sale",
		"url_key", "Blue Suede Shoes",
	)

	st := validateOne(t, v, e)
	require.False(t, st.IsInvalid(0), st.Reasons(0))

	assert.False(t, e.Has("weight"), "unknown attributes are dropped")
	scopeID, _ := st.ScopeID(0)
	assert.Equal(t, int64(2), scopeID)

	categories, _ := e.Get("categories")
	rel, ok := categories.(*capability.RelationItem)
	require.True(t, ok)
	assert.Equal(t, []string{"shoes", "sale"}, rel.Keys)

	slug, _ := e.Get("url_key")
	assert.Equal(t, "blue-suede-shoes", slug.String())
}

func TestReplaceAttribute(t *testing.T) {
	v, _ := setup(t, nil)
	e := element.FromPairs(0, "sku", "sku1", "store", "de", "color", "red")

	st := validateOne(t, v, e)
	require.False(t, st.IsInvalid(0), st.Reasons(0))
	assert.False(t, e.Has("store"))
	storeID, _ := e.Get("store_id")
	assert.Equal(t, value.Int(3), storeID)
	scopeID, _ := st.ScopeID(0)
	assert.Equal(t, int64(3), scopeID)
}

func TestReplaceAttributeFailure(t *testing.T) {
	v, _ := setup(t, nil)
	e := element.FromPairs(0, "sku", "sku1", "store", "fr")

	st := validateOne(t, v, e)
	assert.Equal(t, []string{"Invalid data in replace item: store because: Invalid store with code: fr"}, st.Reasons(0))
	assert.False(t, e.Has("store"))
}

func TestInvalidReasons(t *testing.T) {
	tests := []struct {
		name    string
		element *element.Element
		mutate  func(*Config)
		want    []string
	}{
		{
			name:    "unknown website",
			element: element.FromPairs(0, "sku", "a", "website", map[string]any{"id": 9}),
			want:    []string{"Invalid website with id: 9"},
		},
		{
			name:    "unknown store",
			element: element.FromPairs(0, "sku", "a", "store_id", 42),
			want:    []string{"Invalid store with id: 42"},
		},
		{
			name:    "no identity",
			element: element.FromPairs(0, "color", "red"),
			want:    []string{"No entity id or element key"},
		},
		{
			name:    "required empty",
			element: element.FromPairs(0, "sku", "a", "name", ""),
			want:    []string{"Empty value for required attribute: name"},
		},
		{
			name:    "unresolvable integer option",
			element: element.FromPairs(0, "sku", "a", "size", "XXL"),
			want:    []string{`Invalid value "XXL" in attribute with code: size`},
		},
		{
			name:    "bad integer",
			element: element.FromPairs(0, "sku", "a", "qty", "many"),
			want:    []string{`Invalid value "many" in attribute with code: qty`},
		},
		{
			name:    "bad special",
			element: element.FromPairs(0, "sku", "a", "position", "top"),
			want:    []string{`Invalid value for position: invalid int value "top"`},
		},
		{
			name:    "empty relation key",
			element: element.FromPairs(0, "sku", "a", "categories", "shoes||sale"),
			want:    []string{"Empty key in relation: categories"},
		},
		{
			name:    "unknown attribute not ignored",
			element: element.FromPairs(0, "sku", "a", "weight", 3),
			mutate:  func(c *Config) { c.IgnoreUnknown = false },
			want:    []string{"Unknown attribute: weight"},
		},
		{
			name:    "multiple reasons are collected",
			element: element.FromPairs(0, "sku", "a", "qty", "many", "size", "XXL"),
			want: []string{
				`Invalid value "many" in attribute with code: qty`,
				`Invalid value "XXL" in attribute with code: size`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := setup(t, tt.mutate)
			st := validateOne(t, v, tt.element)
			assert.Equal(t, tt.want, st.Reasons(0))
		})
	}
}

func TestUnknownAttributeWarnOnly(t *testing.T) {
	v, _ := setup(t, func(c *Config) {
		c.IgnoreUnknown = false
		c.UnknownWarnOnly = true
	})
	e := element.FromPairs(0, "sku", "a", "weight", 3)
	st := validateOne(t, v, e)
	assert.False(t, st.IsInvalid(0))
	assert.False(t, e.Has("weight"))
}

func TestEmptyValuesAreNormalized(t *testing.T) {
	v, _ := setup(t, nil)
	e := element.FromPairs(0, "sku", "a", "qty", "", "color", "", "size", nil)

	st := validateOne(t, v, e)
	require.False(t, st.IsInvalid(0), st.Reasons(0))

	qty, _ := e.Get("qty")
	assert.Equal(t, value.Null{}, qty)
	color, _ := e.Get("color")
	assert.Equal(t, value.Text(""), color, "text backends keep empty strings")
	size, _ := e.Get("size")
	assert.Equal(t, value.Null{}, size)
}

func TestSkip(t *testing.T) {
	v, _ := setup(t, nil)
	assert.True(t, v.Skip("sku"))
	assert.True(t, v.Skip("store_id"))
	assert.False(t, v.Skip("color"))
}
