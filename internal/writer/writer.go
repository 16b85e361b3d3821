// Package writer applies validated elements to storage in chunked transactions.
//
// Elements are partitioned by scope and split into chunks. Each chunk runs in one
// transaction: re-resolve identities created by earlier chunks, prefetch current
// values once, create missing entities, diff every attribute into one accumulator,
// flush it, update associated items, classify, commit. A failed flush rolls the
// chunk back and stops the run.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/scope"
	"github.com/roach88/reconcile/internal/value"
)

// DefaultChunkSize is used when no chunk size is configured.
const DefaultChunkSize = 1000

// Config holds the per-run writer settings.
type Config struct {
	EntityType    string
	EntityLogName string
	ElementKey    string
	// ChunkSize bounds the elements per transaction; 0 puts everything in one chunk.
	ChunkSize int
	// DryRun rolls back every chunk instead of committing it.
	DryRun bool
	// AddElementKey copies the natural key into the creation record.
	AddElementKey bool
	// CreateAttributes are copied into the creation record as entity table columns.
	CreateAttributes     []string
	CreateDateAttributes []string
	UpdateDateAttributes []string
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the time source for timestamp attributes.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer is the chunked transactional writer.
type Writer struct {
	gw     gateway.Gateway
	diff   *diff.Engine
	caps   *capability.Set
	skip   func(code string) bool
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New returns a writer. skip reports attribute codes that are never diffed.
func New(gw gateway.Gateway, engine *diff.Engine, caps *capability.Set, skip func(string) bool, cfg Config, opts ...Option) *Writer {
	if cfg.EntityLogName == "" {
		cfg.EntityLogName = cfg.EntityType
	}
	if skip == nil {
		skip = func(string) bool { return false }
	}
	w := &Writer{
		gw:     gw,
		diff:   engine,
		caps:   caps,
		skip:   skip,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Partition is the run's elements for one scope.
type Partition struct {
	ScopeID  int64
	Elements []*element.Element
}

// Partitions groups valid elements by their store_id in order of first appearance.
// Within a partition elements are ordered by element number.
func Partitions(elements []*element.Element, st *run.State) []Partition {
	var parts []Partition
	index := make(map[int64]int)
	for _, e := range elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		scopeID, _ := value.AsInt(valueOrNull(e, scope.StoreIDCode))
		i, ok := index[scopeID]
		if !ok {
			i = len(parts)
			index[scopeID] = i
			parts = append(parts, Partition{ScopeID: scopeID})
		}
		parts[i].Elements = append(parts[i].Elements, e)
	}
	for i := range parts {
		slices.SortStableFunc(parts[i].Elements, func(a, b *element.Element) int { return a.Number - b.Number })
	}
	return parts
}

// Chunks splits elements into groups of at most size; size 0 yields one group.
func Chunks(elements []*element.Element, size int) [][]*element.Element {
	if len(elements) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]*element.Element{elements}
	}
	var out [][]*element.Element
	for start := 0; start < len(elements); start += size {
		end := min(start+size, len(elements))
		out = append(out, elements[start:end])
	}
	return out
}

// Write processes every valid element. It returns a *ChunkError when a chunk
// failed; elements of earlier chunks stay committed.
func (w *Writer) Write(ctx context.Context, elements []*element.Element, st *run.State) error {
	parts := Partitions(elements, st)
	for _, part := range parts {
		chunks := Chunks(part.Elements, w.cfg.ChunkSize)
		w.logger.Info("writing scope",
			"entity_type", w.cfg.EntityType,
			"scope_id", part.ScopeID,
			"elements", len(part.Elements),
			"chunks", len(chunks))

		for i, chunk := range chunks {
			if err := w.writeChunk(ctx, part.ScopeID, i, chunk, st); err != nil {
				return err
			}
		}
	}
	return nil
}

// chunkRun is the transient state of one chunk.
type chunkRun struct {
	scopeID  int64
	index    int
	elements []*element.Element
	tx       gateway.Tx
	uc       *capability.UpdateContext
	current  gateway.Values
	admin    gateway.Values
	acc      *gateway.Accumulator
	changed  map[int]bool
}

func (w *Writer) writeChunk(ctx context.Context, scopeID int64, index int, elements []*element.Element, st *run.State) error {
	tx, err := w.gw.Begin(ctx)
	if err != nil {
		return w.abort(&chunkRun{scopeID: scopeID, index: index, elements: elements}, st, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := &chunkRun{
		scopeID:  scopeID,
		index:    index,
		elements: elements,
		tx:       tx,
		uc:       capability.NewUpdateContext(tx, w.cfg.EntityType, scopeID),
		acc:      gateway.NewAccumulator(),
		changed:  make(map[int]bool, len(elements)),
	}

	w.reresolve(c, st)

	if err := w.prefetch(ctx, c, st); err != nil {
		return w.abort(c, st, "prefetch", err)
	}
	created, err := w.create(ctx, c, st)
	if err != nil {
		return w.abort(c, st, "create", err)
	}

	for _, e := range c.elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		if _, ok := st.EntityID(e.Number); !ok {
			st.Invalidate(e.Number, fmt.Sprintf("Could not identify %s to update", w.cfg.EntityLogName))
		}
	}

	for _, e := range c.elements {
		if st.IsInvalid(e.Number) || st.IsCached(e.Number) {
			continue
		}
		w.prepareElement(ctx, c, e, st)
	}

	if c.acc.Len() > 0 {
		if err := tx.BulkWrite(ctx, c.acc.Singles, c.acc.EAVs); err != nil {
			return w.abort(c, st, "flush", err)
		}
	}

	for _, e := range c.elements {
		if !st.IsInvalid(e.Number) {
			st.MarkImported(e.Number)
		}
	}

	w.updateAssociated(ctx, c, st)
	w.classify(c, st)

	if w.cfg.DryRun {
		if err := tx.Rollback(); err != nil {
			return w.abort(c, st, "rollback", err)
		}
	} else if err := tx.Commit(); err != nil {
		return w.abort(c, st, "commit", err)
	}

	w.logger.Info("chunk written",
		"scope_id", scopeID,
		"chunk", index,
		"elements", len(elements),
		"created", created,
		"writes", c.acc.Len(),
		"dry_run", w.cfg.DryRun)
	return nil
}

// abort rolls the chunk back, invalidates its elements and stops the run.
func (w *Writer) abort(c *chunkRun, st *run.State, stage string, err error) error {
	if c.tx != nil {
		if rbErr := c.tx.Rollback(); rbErr != nil {
			err = errors.CombineErrors(err, rbErr)
		}
	}
	reason := fmt.Sprintf("Could not save %s data: %v", w.cfg.EntityLogName, err)
	for _, e := range c.elements {
		st.Invalidate(e.Number, reason)
	}
	w.logger.Error("chunk failed",
		"scope_id", c.scopeID,
		"chunk", c.index,
		"stage", stage,
		"elements", len(c.elements),
		"error", err)
	return &ChunkError{ScopeID: c.scopeID, Index: c.index, Stage: stage, Err: err}
}

// reresolve picks up entities created by earlier chunks of the run.
func (w *Writer) reresolve(c *chunkRun, st *run.State) {
	for _, e := range c.elements {
		if _, ok := st.EntityID(e.Number); ok {
			continue
		}
		if id, ok := st.CreatedID(e.Text(w.cfg.ElementKey)); ok {
			st.SetEntityID(e.Number, id)
		}
	}
}

// prefetch loads current values of every update-bound element once per chunk.
func (w *Writer) prefetch(ctx context.Context, c *chunkRun, st *run.State) error {
	var ids []int64
	var codes []string
	seenCode := make(map[string]bool)
	seenID := make(map[int64]bool)
	for _, e := range c.elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		id, ok := st.EntityID(e.Number)
		if !ok {
			continue
		}
		if !seenID[id] {
			seenID[id] = true
			ids = append(ids, id)
		}
		e.Each(func(code string, v value.Value) {
			if seenCode[code] || w.skip(code) || w.caps.IsAssociated(code) {
				return
			}
			seenCode[code] = true
			codes = append(codes, code)
		})
	}
	for _, code := range w.cfg.UpdateDateAttributes {
		if !seenCode[code] {
			seenCode[code] = true
			codes = append(codes, code)
		}
	}

	c.current, c.admin = gateway.Values{}, gateway.Values{}
	if len(ids) == 0 || len(codes) == 0 {
		return nil
	}
	current, err := c.tx.CurrentValues(ctx, w.cfg.EntityType, c.scopeID, codes, ids)
	if err != nil {
		return errors.Wrap(err, "current values")
	}
	c.current = current
	if c.scopeID == gateway.AdminScope {
		c.admin = current
		return nil
	}
	admin, err := c.tx.CurrentValues(ctx, w.cfg.EntityType, gateway.AdminScope, codes, ids)
	if err != nil {
		return errors.Wrap(err, "admin values")
	}
	c.admin = admin
	return nil
}

// create inserts one entity per distinct natural key of the creation-bound elements.
// Elements sharing a key resolve to the same new entity.
func (w *Writer) create(ctx context.Context, c *chunkRun, st *run.State) (int, error) {
	var rows []gateway.CreateRow
	var keys []string
	owners := make(map[string][]int)
	for _, e := range c.elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		if _, ok := st.EntityID(e.Number); ok {
			continue
		}
		key := e.Text(w.cfg.ElementKey)
		if key == "" {
			continue
		}
		if _, ok := owners[key]; !ok {
			keys = append(keys, key)
			rows = append(rows, gateway.CreateRow{ElementNumber: e.Number, Values: w.createData(e, key)})
		}
		owners[key] = append(owners[key], e.Number)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids, err := c.tx.BulkCreate(ctx, w.cfg.EntityType, rows)
	if err != nil {
		return 0, errors.Wrap(err, "bulk create")
	}
	for i, key := range keys {
		id, ok := ids[rows[i].ElementNumber]
		if !ok {
			continue
		}
		for _, n := range owners[key] {
			st.SetEntityID(n, id)
			st.MarkCreated(n)
		}
		if w.cfg.DryRun {
			st.CountCreated(key)
		} else {
			st.CacheCreated(key, id)
		}
		w.logger.Debug("entity created", "entity_type", w.cfg.EntityType, "key", key, "entity_id", id)
	}
	return len(rows), nil
}

func (w *Writer) createData(e *element.Element, key string) map[string]value.Value {
	data := make(map[string]value.Value)
	for _, code := range w.cfg.CreateAttributes {
		v, ok := e.Get(code)
		if !ok {
			continue
		}
		if _, isItem := capability.AsItem(v); isItem {
			continue
		}
		data[code] = v
	}
	if w.cfg.AddElementKey {
		data[w.cfg.ElementKey] = value.Text(key)
	}
	return data
}

// prepareElement diffs every attribute of e into a scratch accumulator. The scratch
// writes join the chunk only when the whole element succeeded.
func (w *Writer) prepareElement(ctx context.Context, c *chunkRun, e *element.Element, st *run.State) {
	entityID, _ := st.EntityID(e.Number)
	isNew := st.IsCreated(e.Number)
	scratch := gateway.NewAccumulator()
	current := c.current.Entity(entityID)
	admin := c.admin.Entity(entityID)

	stage := func(ctx context.Context, code string, v value.Value) (bool, error) {
		return w.diff.Diff(ctx, scratch, diff.Request{
			EntityID: entityID, ScopeID: c.scopeID, Code: code, Value: v,
			Current: current, Admin: admin, IsNew: isNew,
		})
	}

	changed := isNew
	var changedCodes []string
	for _, code := range e.Codes() {
		if w.skip(code) || w.caps.IsAssociated(code) {
			continue
		}
		v, _ := e.Get(code)

		var attrChanged bool
		var err error
		if item, ok := capability.AsItem(v); ok {
			attrChanged, err = item.Update(ctx, c.uc, code, capability.Target{
				EntityID: entityID, ScopeID: c.scopeID, Current: current, Admin: admin, IsNew: isNew, Stage: stage,
			})
		} else {
			attrChanged, err = stage(ctx, code, v)
		}
		if err != nil {
			st.Invalidate(e.Number, err.Error())
			w.logger.Debug("element invalidated", "element", e.Number, "attribute", code, "error", err)
			return
		}
		if attrChanged {
			changed = true
			changedCodes = append(changedCodes, code)
		}
	}

	if changed {
		if err := w.stamp(ctx, scratch, c, e, entityID, isNew, current, admin); err != nil {
			st.Invalidate(e.Number, err.Error())
			return
		}
		w.logger.Info("element changed",
			"element", e.Number,
			"entity_id", entityID,
			"scope_id", c.scopeID,
			"created", isNew,
			"attributes", changedCodes)
	}
	c.acc.Merge(scratch)
	c.changed[e.Number] = changed
}

// stamp queues create-date and update-date timestamps of a changed element.
// Timestamps the element carries itself are left to the regular diff.
func (w *Writer) stamp(ctx context.Context, acc *gateway.Accumulator, c *chunkRun, e *element.Element, entityID int64, isNew bool, current, admin map[string]value.Value) error {
	now := value.Text(w.now().UTC().Format(value.DateTimeLayout))
	if isNew {
		for _, code := range slices.Concat(w.cfg.CreateDateAttributes, w.cfg.UpdateDateAttributes) {
			if e.Has(code) {
				continue
			}
			if err := w.diff.Stamp(ctx, acc, entityID, c.scopeID, code, now, false); err != nil {
				return err
			}
		}
		return nil
	}
	for _, code := range w.cfg.UpdateDateAttributes {
		if e.Has(code) {
			continue
		}
		if _, err := w.diff.Diff(ctx, acc, diff.Request{
			EntityID: entityID, ScopeID: c.scopeID, Code: code, Value: now,
			Current: current, Admin: admin,
		}); err != nil {
			return err
		}
	}
	return nil
}

// updateAssociated runs preparers once per associated code, then every item update.
// Failures invalidate only the owning elements.
func (w *Writer) updateAssociated(ctx context.Context, c *chunkRun, st *run.State) {
	type owned struct {
		e    *element.Element
		code string
		item capability.Item
	}
	var items []owned
	idsByCode := make(map[string][]int64)
	var codes []string
	for _, e := range c.elements {
		if st.IsInvalid(e.Number) || st.IsCached(e.Number) {
			continue
		}
		entityID, _ := st.EntityID(e.Number)
		for _, code := range e.Codes() {
			if !w.caps.IsAssociated(code) {
				continue
			}
			v, _ := e.Get(code)
			item, ok := capability.AsItem(v)
			if !ok {
				continue
			}
			if _, seen := idsByCode[code]; !seen {
				codes = append(codes, code)
			}
			idsByCode[code] = append(idsByCode[code], entityID)
			items = append(items, owned{e: e, code: code, item: item})
		}
	}

	failed := make(map[string]error)
	for _, code := range codes {
		p, ok := w.caps.Preparer(code)
		if !ok {
			continue
		}
		if err := p.Prepare(ctx, c.uc, code, idsByCode[code]); err != nil {
			failed[code] = err
			w.logger.Error("associated preparer failed", "scope_id", c.scopeID, "chunk", c.index, "attribute", code, "error", err)
		}
	}

	for _, it := range items {
		if st.IsInvalid(it.e.Number) {
			continue
		}
		if err, ok := failed[it.code]; ok {
			st.Invalidate(it.e.Number, fmt.Sprintf("Could not prepare %s: %v", it.code, err))
			continue
		}
		entityID, _ := st.EntityID(it.e.Number)
		changed, err := it.item.Update(ctx, c.uc, it.code, capability.Target{
			EntityID: entityID,
			ScopeID:  c.scopeID,
			Current:  c.current.Entity(entityID),
			Admin:    c.admin.Entity(entityID),
			IsNew:    st.IsCreated(it.e.Number),
		})
		if err != nil {
			st.Invalidate(it.e.Number, fmt.Sprintf("Could not update %s: %v", it.code, err))
			w.logger.Error("associated item failed", "element", it.e.Number, "attribute", it.code, "error", err)
			continue
		}
		if changed {
			c.changed[it.e.Number] = true
		}
	}
}

func (w *Writer) classify(c *chunkRun, st *run.State) {
	for _, e := range c.elements {
		if st.IsInvalid(e.Number) {
			continue
		}
		if c.changed[e.Number] {
			entityID, _ := st.EntityID(e.Number)
			st.MarkChanged(e.Number, entityID, c.scopeID)
			continue
		}
		st.MarkUnchanged(e.Number)
	}
}

func valueOrNull(e *element.Element, code string) value.Value {
	if v, ok := e.Get(code); ok {
		return v
	}
	return value.Null{}
}
