package writer

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/identity"
	"github.com/roach88/reconcile/internal/memstore"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/value"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *memstore.Store
	cfg   Config
	caps  *capability.Set
	diff  diff.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	s.DefineEntityType("product", "sku")
	s.DefineScope(gateway.Scope{ID: 2, Code: "en"})
	s.DefineScope(gateway.Scope{ID: 3, Code: "de"})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "color", Backend: gateway.BackendVarchar})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "price", Backend: gateway.BackendDecimal, Global: true})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "qty", Backend: gateway.BackendInt})
	s.DefineAttribute(gateway.Attribute{EntityType: "product", Code: "updated_at", Backend: gateway.BackendDatetime, Global: true})

	caps, err := capability.DefaultRegistry(capability.Deps{Metadata: s, Scopes: s}).Bind(capability.Bindings{
		Associated: map[string]string{"categories": "relation"},
		Preparers:  map[string]string{"categories": "relation"},
	})
	require.NoError(t, err)

	return &fixture{
		t:     t,
		store: s,
		caps:  caps,
		cfg: Config{
			EntityType:    "product",
			ElementKey:    "sku",
			AddElementKey: true,
		},
		diff: diff.Options{EntityType: "product", Special: map[string]diff.SpecialType{"created_at": diff.SpecialDatetime}},
	}
}

func skipCodes(code string) bool {
	switch code {
	case "sku", "store_id", "entity_id", "website", "website_id":
		return true
	}
	return false
}

// run resolves identities and writes elements the way an import run does.
func (f *fixture) run(elements ...*element.Element) (*run.State, error) {
	f.t.Helper()
	st := run.NewState()
	for _, e := range elements {
		v, _ := e.Get("store_id")
		id, _ := value.AsInt(v)
		st.SetScopeID(e.Number, id)
	}
	working, _ := identity.NewResolver(f.store, "product", "sku", nil).Resolve(context.Background(), elements, st, false)
	w := New(f.store, diff.NewEngine(f.store, f.diff, nil), f.caps, skipCodes, f.cfg, WithClock(func() time.Time { return fixedNow }))
	return st, w.Write(context.Background(), working, st)
}

func product(n int, pairs ...any) *element.Element {
	return element.FromPairs(n, pairs...)
}

func TestCreateThenUnchanged(t *testing.T) {
	f := newFixture(t)

	st, err := f.run(product(0, "sku", "sku1", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	assert.Equal(t, run.Changed, st.Classify(0))
	assert.True(t, st.IsImported(0))
	require.Equal(t, 1, f.store.EntityCount("product"))

	flushed := f.store.Flushed()
	require.Len(t, flushed, 1)
	assert.Equal(t, "color", flushed[0].Attribute.Code)
	assert.True(t, flushed[0].Store)
	assert.True(t, flushed[0].Admin)
	assert.False(t, flushed[0].EmptyAdmin)

	id, _ := st.EntityID(0)
	assert.Equal(t, []run.ImportedEntity{{EntityID: id, ScopeID: 2}}, st.ImportedEntities())

	f.store.ResetFlushed()
	st, err = f.run(product(0, "sku", "sku1", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	assert.Equal(t, run.Unchanged, st.Classify(0))
	assert.Empty(t, f.store.Flushed())
	assert.Empty(t, st.ImportedEntities())
	assert.Equal(t, 1, f.store.EntityCount("product"))

	again, _ := st.EntityID(0)
	assert.Equal(t, id, again)
}

func TestGlobalAndLocalVisibility(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(product(0, "sku", "sku1", "store_id", 2, "color", "red", "price", 10))
	require.NoError(t, err)

	_, err = f.run(product(0, "sku", "sku1", "store_id", 2, "color", "blue", "price", 12))
	require.NoError(t, err)

	found, err := f.store.ResolveByNaturalKeys(context.Background(), "product", []string{"sku1"})
	require.NoError(t, err)
	id := found["sku1"]

	price, _ := f.store.Effective("product", id, "price", 3)
	assert.Equal(t, value.Decimal(12), price, "global attributes propagate to every scope")

	color, _ := f.store.Effective("product", id, "color", 3)
	assert.Equal(t, value.Text("red"), color, "scope 3 still sees the admin value seeded on creation")
	color, _ = f.store.Effective("product", id, "color", 2)
	assert.Equal(t, value.Text("blue"), color)
}

func TestChunking(t *testing.T) {
	f := newFixture(t)
	f.cfg.ChunkSize = 2

	var elements []*element.Element
	for i, sku := range []string{"a", "b", "c", "d", "e"} {
		elements = append(elements, product(i, "sku", sku, "store_id", 2, "color", "red"))
	}
	st, err := f.run(elements...)
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.Commits())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, st.ChangedNumbers())
}

func TestChunksAndPartitions(t *testing.T) {
	els := []*element.Element{
		product(3, "store_id", 2), product(0, "store_id", 3), product(1, "store_id", 2), product(2),
	}
	st := run.NewState()
	parts := Partitions(els, st)
	require.Len(t, parts, 3)
	assert.Equal(t, int64(2), parts[0].ScopeID)
	assert.Equal(t, 1, parts[0].Elements[0].Number)
	assert.Equal(t, 3, parts[0].Elements[1].Number)
	assert.Equal(t, int64(3), parts[1].ScopeID)
	assert.Equal(t, int64(0), parts[2].ScopeID)

	assert.Len(t, Chunks(els, 0), 1)
	assert.Len(t, Chunks(els, 3), 2)
	assert.Nil(t, Chunks(nil, 3))
}

func TestFlushFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.ChunkSize = 1
	_, err := f.run(product(0, "sku", "a", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	commits := f.store.Commits()

	f.store.FailWrites(errors.New("disk full"))
	st, err := f.run(
		product(0, "sku", "a", "store_id", 2, "color", "blue"),
		product(1, "sku", "b", "store_id", 2, "color", "blue"),
	)
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 0, chunkErr.Index)
	assert.Equal(t, "flush", chunkErr.Stage)

	assert.Equal(t, run.Invalid, st.Classify(0))
	assert.Contains(t, st.Reasons(0)[0], "Could not save product data: disk full")
	assert.Equal(t, run.Pending, st.Classify(1), "later chunks are never attempted")
	assert.Equal(t, commits, f.store.Commits())
	assert.Equal(t, 1, f.store.Rollbacks())

	f.store.FailWrites(nil)
	found, _ := f.store.ResolveByNaturalKeys(context.Background(), "product", []string{"a", "b"})
	color, _ := f.store.Value("product", found["a"], "color", 2)
	assert.Equal(t, value.Text("red"), color)
	assert.NotContains(t, found, "b")
}

func TestSameKeyCreatesOneEntity(t *testing.T) {
	for _, size := range []int{0, 1} {
		f := newFixture(t)
		f.cfg.ChunkSize = size
		st, err := f.run(
			product(0, "sku", "dup", "store_id", 2, "color", "red"),
			product(1, "sku", "dup", "store_id", 2, "qty", 4),
		)
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.EntityCount("product"), "chunk size %d", size)

		first, _ := st.EntityID(0)
		second, _ := st.EntityID(1)
		assert.Equal(t, first, second)
	}
}

func TestElementErrorIsIsolated(t *testing.T) {
	f := newFixture(t)
	st, err := f.run(
		product(0, "sku", "a", "store_id", 2, "qty", "many"),
		product(1, "sku", "b", "store_id", 2, "qty", 3),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{`Invalid value "many" in attribute with code: qty`}, st.Reasons(0))
	assert.Equal(t, run.Changed, st.Classify(1))
	assert.False(t, st.IsImported(0))
}

func TestUnidentifiedElementIsInvalid(t *testing.T) {
	f := newFixture(t)
	st, err := f.run(product(0, "store_id", 2, "color", "red"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Could not identify product to update"}, st.Reasons(0))
}

func TestAssociatedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := func(keys ...string) capability.Item {
		it, err := capability.RelationModel{}.Prepare(ctx, "categories", keys)
		require.NoError(t, err)
		return it
	}

	st, err := f.run(product(0, "sku", "a", "store_id", 2, "categories", item("shoes", "sale")))
	require.NoError(t, err)
	assert.Equal(t, run.Changed, st.Classify(0))
	id, _ := st.EntityID(0)
	assert.Equal(t, []string{"sale", "shoes"}, f.store.Related("product", "categories", 2, id))

	st, err = f.run(product(0, "sku", "a", "store_id", 2, "categories", item("sale", "shoes")))
	require.NoError(t, err)
	assert.Equal(t, run.Unchanged, st.Classify(0))

	st, err = f.run(product(0, "sku", "a", "store_id", 2, "categories", item("boots")))
	require.NoError(t, err)
	assert.Equal(t, run.Changed, st.Classify(0))
	assert.Equal(t, []string{"boots"}, f.store.Related("product", "categories", 2, id))
}

func TestTimestamps(t *testing.T) {
	f := newFixture(t)
	f.cfg.CreateDateAttributes = []string{"created_at"}
	f.cfg.UpdateDateAttributes = []string{"updated_at"}

	st, err := f.run(product(0, "sku", "a", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	id, _ := st.EntityID(0)

	stamp := value.Text("2024-06-01 09:30:00")
	updated, _ := f.store.Value("product", id, "updated_at", gateway.AdminScope)
	assert.Equal(t, stamp, updated)

	var createdWrite *gateway.Write
	for _, w := range f.store.Flushed() {
		if w.Attribute.Code == "created_at" {
			createdWrite = &w
		}
	}
	require.NotNil(t, createdWrite)
	assert.Equal(t, gateway.SingleTable, createdWrite.Kind)
	assert.Equal(t, stamp, createdWrite.Value)

	f.store.ResetFlushed()
	_, err = f.run(product(0, "sku", "a", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	assert.Empty(t, f.store.Flushed(), "unchanged elements get no timestamps")
}

func TestDryRunCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.DryRun = true
	st, err := f.run(product(0, "sku", "a", "store_id", 2, "color", "red"))
	require.NoError(t, err)
	assert.Equal(t, run.Changed, st.Classify(0))
	assert.Equal(t, 0, f.store.Commits())
	assert.Equal(t, 1, f.store.Rollbacks())
	assert.Equal(t, 0, f.store.EntityCount("product"))
	_, cached := st.CreatedID("a")
	assert.False(t, cached)
}

func TestCachedElementsAreUnchanged(t *testing.T) {
	f := newFixture(t)
	id := f.store.SeedEntity("product", "a")

	st := run.NewState()
	e := product(0, "entity_id", id, "store_id", 2, "color", "red")
	st.SetEntityID(0, id)
	st.MarkCached(0)

	w := New(f.store, diff.NewEngine(f.store, f.diff, nil), f.caps, skipCodes, f.cfg)
	require.NoError(t, w.Write(context.Background(), []*element.Element{e}, st))
	assert.Equal(t, run.Unchanged, st.Classify(0))
	assert.Empty(t, f.store.Flushed())
}

// adminPass resolves elements with update_admin_scope and returns the working set.
func (f *fixture) adminPass(st *run.State, elements ...*element.Element) []*element.Element {
	f.t.Helper()
	for _, e := range elements {
		v, _ := e.Get("store_id")
		id, _ := value.AsInt(v)
		st.SetScopeID(e.Number, id)
	}
	working, p := identity.NewResolver(f.store, "product", "sku", nil).Resolve(context.Background(), elements, st, true)
	require.Len(f.t, p.AdminClones, len(elements))
	return working
}

func (f *fixture) writer(gw gateway.Gateway) *Writer {
	return New(gw, diff.NewEngine(f.store, f.diff, nil), f.caps, skipCodes, f.cfg, WithClock(func() time.Time { return fixedNow }))
}

func TestAdminClonePass(t *testing.T) {
	f := newFixture(t)
	id := f.store.SeedEntity("product", "a")
	f.store.SeedValue("product", id, "color", 2, value.Text("red"))
	f.store.SeedValue("product", id, "color", 0, value.Text("red"))

	st := run.NewState()
	working := f.adminPass(st, product(0, "sku", "a", "store_id", 2, "color", "red"))
	require.Len(t, working, 2)
	assert.Equal(t, 1, working[1].Number)
	working[1].Set("color", value.Text("blue"))

	require.NoError(t, f.writer(f.store).Write(context.Background(), working, st))

	assert.Equal(t, run.Unchanged, st.Classify(0), "the scope pass is classified on its own")
	assert.Equal(t, run.Changed, st.Classify(1))
	assert.Equal(t, []run.ImportedEntity{{EntityID: id, ScopeID: 0}}, st.ImportedEntities())
	admin, _ := f.store.Value("product", id, "color", 0)
	assert.Equal(t, value.Text("blue"), admin)
}

func TestAdminClonePassBothScopesChange(t *testing.T) {
	f := newFixture(t)
	id := f.store.SeedEntity("product", "a")
	f.store.SeedValue("product", id, "color", 2, value.Text("red"))
	f.store.SeedValue("product", id, "color", 0, value.Text("red"))

	st := run.NewState()
	working := f.adminPass(st, product(0, "sku", "a", "store_id", 2, "color", "green"))
	require.NoError(t, f.writer(f.store).Write(context.Background(), working, st))

	assert.Equal(t, run.Changed, st.Classify(0))
	assert.Equal(t, run.Changed, st.Classify(1))
	assert.Equal(t, []int{0, 1}, st.ImportedNumbers())
	assert.Equal(t, []run.ImportedEntity{{EntityID: id, ScopeID: 2}, {EntityID: id, ScopeID: 0}}, st.ImportedEntities())
	for _, scopeID := range []int64{0, 2} {
		v, _ := f.store.Value("product", id, "color", scopeID)
		assert.Equal(t, value.Text("green"), v, "scope %d", scopeID)
	}
}

func TestAdminCloneFailureLeavesSourceChanged(t *testing.T) {
	f := newFixture(t)
	id := f.store.SeedEntity("product", "a")
	f.store.SeedValue("product", id, "color", 2, value.Text("red"))
	f.store.SeedValue("product", id, "color", 0, value.Text("red"))

	st := run.NewState()
	working := f.adminPass(st, product(0, "sku", "a", "store_id", 2, "color", "blue", "qty", 3))
	working[1].Set("qty", value.Text("not-a-number"))

	require.NoError(t, f.writer(f.store).Write(context.Background(), working, st))

	assert.Equal(t, run.Changed, st.Classify(0))
	assert.Empty(t, st.Reasons(0))
	assert.Equal(t, run.Invalid, st.Classify(1))
	assert.Equal(t, []string{`Invalid value "not-a-number" in attribute with code: qty`}, st.Reasons(1))
	assert.Equal(t, []int{0}, st.ChangedNumbers())
	assert.Equal(t, []run.ImportedEntity{{EntityID: id, ScopeID: 2}}, st.ImportedEntities())

	color, _ := f.store.Value("product", id, "color", 2)
	assert.Equal(t, value.Text("blue"), color)
	admin, _ := f.store.Value("product", id, "color", 0)
	assert.Equal(t, value.Text("red"), admin)
}

// adminFailingGateway fails every flush that writes at the admin scope.
type adminFailingGateway struct {
	*memstore.Store
}

func (g adminFailingGateway) Begin(ctx context.Context) (gateway.Tx, error) {
	tx, err := g.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return adminFailingTx{tx}, nil
}

type adminFailingTx struct {
	gateway.Tx
}

func (t adminFailingTx) BulkWrite(ctx context.Context, singles, eavs []gateway.Write) error {
	for _, w := range eavs {
		if w.ScopeID == gateway.AdminScope {
			return errors.New("admin table locked")
		}
	}
	return t.Tx.BulkWrite(ctx, singles, eavs)
}

func TestAdminScopeChunkFailure(t *testing.T) {
	f := newFixture(t)
	id := f.store.SeedEntity("product", "a")
	f.store.SeedValue("product", id, "color", 2, value.Text("red"))
	f.store.SeedValue("product", id, "color", 0, value.Text("red"))

	st := run.NewState()
	working := f.adminPass(st, product(0, "sku", "a", "store_id", 2, "color", "blue"))
	err := f.writer(adminFailingGateway{f.store}).Write(context.Background(), working, st)
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, int64(0), chunkErr.ScopeID)
	assert.Equal(t, "flush", chunkErr.Stage)

	assert.Equal(t, run.Changed, st.Classify(0), "the committed scope chunk keeps its classification")
	assert.Equal(t, run.Invalid, st.Classify(1))
	assert.Contains(t, st.Reasons(1)[0], "Could not save product data: admin table locked")
	assert.Equal(t, []run.ImportedEntity{{EntityID: id, ScopeID: 2}}, st.ImportedEntities())

	color, _ := f.store.Value("product", id, "color", 2)
	assert.Equal(t, value.Text("blue"), color)
	admin, _ := f.store.Value("product", id, "color", 0)
	assert.Equal(t, value.Text("red"), admin)
}
