package memstore

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

func newCatalog(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.DefineEntityType("product", "sku")
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "color", Backend: gateway.BackendVarchar})
	return s
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids, err := tx.BulkCreate(ctx, "product", []gateway.CreateRow{{ElementNumber: 0, Values: map[string]value.Value{"sku": value.Text("a")}}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, s.EntityCount("product"))
	assert.Equal(t, 1, s.Rollbacks())
	assert.Contains(t, ids, 0)
}

func TestCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	attr, err := s.Attribute(ctx, "product", "color")
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids, err := tx.BulkCreate(ctx, "product", []gateway.CreateRow{{ElementNumber: 3, Values: map[string]value.Value{"sku": value.Text("a")}}})
	require.NoError(t, err)
	id := ids[3]

	err = tx.BulkWrite(ctx, nil, []gateway.Write{
		{Kind: gateway.EAVTable, EntityType: "product", EntityID: id, Attribute: attr, ScopeID: 2, Value: value.Text("red"), Store: true, EmptyAdmin: true},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	v, ok := s.Value("product", id, "color", 2)
	require.True(t, ok)
	assert.Equal(t, value.Text("red"), v)

	admin, ok := s.Value("product", id, "color", gateway.AdminScope)
	require.True(t, ok)
	assert.Equal(t, value.Null{}, admin)

	found, err := s.ResolveByNaturalKeys(ctx, "product", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": id}, found)
	assert.Equal(t, 0, s.Rollbacks())
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	s.FailWrites(errors.New("disk full"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.BulkWrite(ctx, []gateway.Write{{Kind: gateway.SingleTable, Attribute: gateway.Attribute{Code: "sku"}, Value: value.Text("x")}}, nil)
	require.Error(t, err)
	assert.Len(t, s.Flushed(), 1)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	s.DefineWebsite(1, "base", 2)
	s.DefineScope(gateway.Scope{ID: 2, Code: "en", WebsiteID: 1})
	s.DefineOption("product", "color", gateway.AdminScope, "Red", 11)

	scope, err := s.DefaultScopeByWebsiteCode(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(2), scope)

	_, err = s.DefaultScopeByWebsiteID(ctx, 9)
	assert.True(t, errors.Is(err, gateway.ErrNotFound))

	byCode, err := s.ScopeByCode(ctx, "en")
	require.NoError(t, err)
	assert.Equal(t, int64(2), byCode.ID)

	id, ok, err := s.OptionID(ctx, "product", "color", 2, "Red")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)

	_, err = s.Attribute(ctx, "product", "size")
	assert.True(t, errors.Is(err, gateway.ErrUnknownAttribute))
}
