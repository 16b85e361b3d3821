package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

func eavWrite(t *testing.T, s *Store, entityID int64, code string, scopeID int64, v value.Value) gateway.Write {
	t.Helper()
	attr, err := s.Attribute(context.Background(), "product", code)
	require.NoError(t, err)
	kind := gateway.EAVTable
	if attr.Static() {
		kind = gateway.SingleTable
	}
	return gateway.Write{
		Kind: kind, EntityType: "product", EntityID: entityID, Attribute: attr,
		ScopeID: scopeID, Value: v, Store: true,
	}
}

// createProduct creates one product and commits it.
func createProduct(t *testing.T, s *Store, sku string) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids, err := tx.BulkCreate(ctx, "product", []gateway.CreateRow{
		{ElementNumber: 0, Values: map[string]value.Value{"sku": value.Text(sku)}},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return ids[0]
}

func TestTx_CreateAndResolve(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids, err := tx.BulkCreate(ctx, "product", []gateway.CreateRow{
		{ElementNumber: 3, Values: map[string]value.Value{"sku": value.Text("a"), "type_id": value.Text("simple")}},
		{ElementNumber: 7, Values: map[string]value.Value{"sku": value.Text("b")}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[3], ids[7])
	require.NoError(t, tx.Commit())

	resolved, err := s.ResolveByNaturalKeys(ctx, "product", []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": ids[3], "b": ids[7]}, resolved)

	id, err := s.EntityIDByKey(ctx, "product", "a")
	require.NoError(t, err)
	assert.Equal(t, ids[3], id)

	_, err = s.EntityIDByKey(ctx, "product", "missing")
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
}

func TestTx_BulkCreateUnknownColumn(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.BulkCreate(ctx, "product", []gateway.CreateRow{
		{ElementNumber: 0, Values: map[string]value.Value{"sku": value.Text("a"), "name": value.Text("x")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product has no column name")
}

func TestTx_WriteLayers(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	store := eavWrite(t, s, id, "name", 2, value.Text("Chaise"))
	store.EmptyAdmin = true
	both := eavWrite(t, s, id, "qty", 2, value.Int(5))
	both.Admin = true
	admin := eavWrite(t, s, id, "price", 2, value.Decimal(9.5))
	admin.Store, admin.Admin = false, true
	dated := eavWrite(t, s, id, "released", 0, value.Text("2024-06-01 09:30:00"))
	single := eavWrite(t, s, id, "type_id", 2, value.Text("simple"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.BulkWrite(ctx, []gateway.Write{single}, []gateway.Write{store, both, admin, dated}))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	codes := []string{"name", "qty", "price", "released", "type_id", "description"}

	scoped, err := tx.CurrentValues(ctx, "product", 2, codes, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, map[string]value.Value{
		"name":    value.Text("Chaise"),
		"qty":     value.Int(5),
		"type_id": value.Text("simple"),
	}, scoped.Entity(id))

	adminValues, err := tx.CurrentValues(ctx, "product", gateway.AdminScope, codes, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, map[string]value.Value{
		"name":     value.Null{},
		"qty":      value.Int(5),
		"price":    value.Decimal(9.5),
		"released": value.Text("2024-06-01 09:30:00"),
		"type_id":  value.Text("simple"),
	}, adminValues.Entity(id))
}

func TestTx_EmptyAdminKeepsExistingRow(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	adminName := eavWrite(t, s, id, "name", gateway.AdminScope, value.Text("Chair"))
	scoped := eavWrite(t, s, id, "name", 2, value.Text("Chaise"))
	scoped.EmptyAdmin = true
	scoped.EmptyValue = value.Text("placeholder")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.BulkWrite(ctx, nil, []gateway.Write{adminName, scoped}))
	require.NoError(t, tx.Commit())

	values, err := s.EffectiveValues(ctx, "product", id, gateway.AdminScope)
	require.NoError(t, err)
	assert.Equal(t, value.Text("Chair"), values["name"])
	assert.Equal(t, value.Text("a"), values["sku"])
}

func TestTx_SingleWriteMissingEntity(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.BulkWrite(ctx, []gateway.Write{eavWrite(t, s, 999, "type_id", 0, value.Text("simple"))}, nil)
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.BulkCreate(ctx, "product", []gateway.CreateRow{{ElementNumber: 1, Values: map[string]value.Value{"sku": value.Text("b")}}})
	require.NoError(t, err)
	require.NoError(t, tx.BulkWrite(ctx, nil, []gateway.Write{eavWrite(t, s, id, "name", 0, value.Text("x"))}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	resolved, err := s.ResolveByNaturalKeys(ctx, "product", []string{"b"})
	require.NoError(t, err)
	assert.Empty(t, resolved)

	values, err := s.EffectiveValues(ctx, "product", id, 0)
	require.NoError(t, err)
	assert.NotContains(t, values, "name")
}

func TestTx_CommitTwice(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Error(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
}

func TestEffectiveValues_ScopeFallback(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.BulkWrite(ctx, nil, []gateway.Write{
		eavWrite(t, s, id, "name", 0, value.Text("Chair")),
		eavWrite(t, s, id, "description", 0, value.Text("Wooden")),
		eavWrite(t, s, id, "name", 2, value.Text("Chaise")),
	}))
	require.NoError(t, tx.Commit())

	french, err := s.EffectiveValues(ctx, "product", id, 2)
	require.NoError(t, err)
	assert.Equal(t, value.Text("Chaise"), french["name"])
	assert.Equal(t, value.Text("Wooden"), french["description"])

	other, err := s.EffectiveValues(ctx, "product", id, 1)
	require.NoError(t, err)
	assert.Equal(t, value.Text("Chair"), other["name"])
}

func TestRelations(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rel := tx.Relations()
	require.NoError(t, rel.ReplaceRelations(ctx, "product", "categories", 0, id, []string{"shoes", "sale"}))
	require.NoError(t, rel.ReplaceRelations(ctx, "product", "categories", 0, id, []string{"sale", "new"}))
	assert.Error(t, rel.ReplaceRelations(ctx, "product", "categories", 0, id, []string{" "}))

	keys, err := rel.RelatedKeys(ctx, "product", "categories", 0, []int64{id, 999})
	require.NoError(t, err)
	assert.Equal(t, map[int64][]string{id: {"new", "sale"}}, keys)

	require.NoError(t, rel.ReplaceRelations(ctx, "product", "categories", 0, id, nil))
	keys, err = rel.RelatedKeys(ctx, "product", "categories", 0, []int64{id})
	require.NoError(t, err)
	assert.Empty(t, keys)
	require.NoError(t, tx.Commit())
}

func TestTx_FailedWriteRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product_entity" SET "type_id" = ? WHERE entity_id = ?`)).
		WithArgs("simple", int64(1)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	w := gateway.Write{
		Kind: gateway.SingleTable, EntityType: "product", EntityID: 1,
		Attribute: gateway.Attribute{Code: "type_id", Backend: gateway.BackendStatic},
		Value:     value.Text("simple"),
	}
	err = tx.BulkWrite(ctx, []gateway.Write{w}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	tx, err := New(db).Begin(context.Background())
	require.NoError(t, err)
	err = tx.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopeValue_NoFallback(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)
	id := createProduct(t, s, "a")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.BulkWrite(ctx, nil, []gateway.Write{
		eavWrite(t, s, id, "name", 0, value.Text("Chair")),
	}))
	require.NoError(t, tx.Commit())

	v, ok, err := s.ScopeValue(ctx, "product", id, 0, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Text("Chair"), v)

	_, ok, err = s.ScopeValue(ctx, "product", id, 2, "name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntityCount(t *testing.T) {
	ctx := context.Background()
	s := createCatalogStore(t)

	n, err := s.EntityCount(ctx, "product")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	createProduct(t, s, "a")
	createProduct(t, s, "b")
	n, err = s.EntityCount(ctx, "product")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.EntityCount(ctx, "Bad Name")
	assert.ErrorContains(t, err, "invalid entity type name")
}
