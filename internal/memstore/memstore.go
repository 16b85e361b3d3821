// Package memstore implements every gateway contract in memory.
//
// It backs unit tests of the import core. Transactions copy the committed data on
// Begin and swap it back on Commit, so rollback semantics match the SQLite store.
package memstore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

type website struct {
	id           int64
	code         string
	defaultScope int64
}

type optionKey struct {
	entityType string
	code       string
	scopeID    int64
	label      string
}

type eavKey struct {
	entityType string
	code       string
	scopeID    int64
	entityID   int64
}

type relationKey struct {
	entityType string
	relation   string
	scopeID    int64
	entityID   int64
}

type dataset struct {
	// entity type -> entity id -> column -> value
	entities  map[string]map[int64]map[string]value.Value
	eav       map[eavKey]value.Value
	relations map[relationKey][]string
	nextID    int64
}

func newDataset() *dataset {
	return &dataset{
		entities:  make(map[string]map[int64]map[string]value.Value),
		eav:       make(map[eavKey]value.Value),
		relations: make(map[relationKey][]string),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for et, rows := range d.entities {
		c.entities[et] = make(map[int64]map[string]value.Value, len(rows))
		for id, cols := range rows {
			c.entities[et][id] = maps.Clone(cols)
		}
	}
	c.eav = maps.Clone(d.eav)
	for k, v := range d.relations {
		c.relations[k] = slices.Clone(v)
	}
	c.nextID = d.nextID
	return c
}

// Store is an in-memory gateway.
type Store struct {
	mu          sync.Mutex
	keyCodes    map[string]string
	attributes  map[string]map[string]gateway.Attribute
	options     map[optionKey]int64
	websites    map[int64]website
	scopes      map[int64]gateway.Scope
	data        *dataset
	nextAttrID  int64
	writeErr    error
	flushed     []gateway.Write
	commits     int
	rollbacks   int
	lookupCalls int
}

var (
	_ gateway.MetadataService = (*Store)(nil)
	_ gateway.ScopeService    = (*Store)(nil)
	_ gateway.IdentityLookup  = (*Store)(nil)
	_ gateway.Gateway         = (*Store)(nil)
)

// New returns an empty store holding only the admin scope.
func New() *Store {
	s := &Store{
		keyCodes:   make(map[string]string),
		attributes: make(map[string]map[string]gateway.Attribute),
		options:    make(map[optionKey]int64),
		websites:   make(map[int64]website),
		scopes:     make(map[int64]gateway.Scope),
		data:       newDataset(),
	}
	s.scopes[gateway.AdminScope] = gateway.Scope{ID: gateway.AdminScope, Code: "admin"}
	return s
}

// DefineEntityType registers an entity type whose natural key lives in keyCode.
func (s *Store) DefineEntityType(entityType, keyCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyCodes[entityType] = keyCode
	if _, ok := s.data.entities[entityType]; !ok {
		s.data.entities[entityType] = make(map[int64]map[string]value.Value)
	}
}

// DefineAttribute registers attribute metadata and returns it with its id assigned.
func (s *Store) DefineAttribute(attr gateway.Attribute) gateway.Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAttrID++
	attr.ID = s.nextAttrID
	if attr.Backend == "" {
		attr.Backend = gateway.BackendVarchar
	}
	if _, ok := s.attributes[attr.EntityType]; !ok {
		s.attributes[attr.EntityType] = make(map[string]gateway.Attribute)
	}
	s.attributes[attr.EntityType][attr.Code] = attr
	return attr
}

// DefineOption registers an option label at a scope.
func (s *Store) DefineOption(entityType, code string, scopeID int64, label string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[optionKey{entityType, code, scopeID, label}] = id
}

// DefineWebsite registers a website and its default scope.
func (s *Store) DefineWebsite(id int64, code string, defaultScope int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.websites[id] = website{id: id, code: code, defaultScope: defaultScope}
}

// DefineScope registers a scope.
func (s *Store) DefineScope(scope gateway.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope.ID] = scope
}

// SeedEntity stores an existing entity with its natural key and returns its id.
func (s *Store) SeedEntity(entityType, key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextID++
	id := s.data.nextID
	rows := s.data.entities[entityType]
	if rows == nil {
		rows = make(map[int64]map[string]value.Value)
		s.data.entities[entityType] = rows
	}
	rows[id] = map[string]value.Value{s.keyCodes[entityType]: value.Text(key)}
	return id
}

// SeedValue stores an attribute value row directly.
func (s *Store) SeedValue(entityType string, entityID int64, code string, scopeID int64, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.eav[eavKey{entityType, code, scopeID, entityID}] = v
}

// FailWrites makes every following BulkWrite return err. Pass nil to reset.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Value returns the committed row value at exactly scopeID, or the entity column.
func (s *Store) Value(entityType string, entityID int64, code string, scopeID int64) (value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.value(s.attributes[entityType], entityType, entityID, code, scopeID)
}

// Effective returns what a reader at scopeID sees: the scope row, else the admin row.
func (s *Store) Effective(entityType string, entityID int64, code string, scopeID int64) (value.Value, bool) {
	if v, ok := s.Value(entityType, entityID, code, scopeID); ok {
		return v, true
	}
	return s.Value(entityType, entityID, code, gateway.AdminScope)
}

// Related returns the committed relation keys of an entity.
func (s *Store) Related(entityType, relation string, scopeID, entityID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.relations[relationKey{entityType, relation, scopeID, entityID}])
}

// EntityCount returns the number of committed entities of a type.
func (s *Store) EntityCount(entityType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.entities[entityType])
}

// Flushed returns every write handed to BulkWrite, committed or not.
func (s *Store) Flushed() []gateway.Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.flushed)
}

// ResetFlushed clears the write log.
func (s *Store) ResetFlushed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = nil
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks returns the number of rolled back transactions.
func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// LookupCalls returns how often ResolveByNaturalKeys was called.
func (s *Store) LookupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupCalls
}

func (s *Store) Attribute(_ context.Context, entityType, code string) (gateway.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attr, ok := s.attributes[entityType][code]
	if !ok {
		return gateway.Attribute{}, errors.Wrapf(gateway.ErrUnknownAttribute, "%s.%s", entityType, code)
	}
	return attr, nil
}

func (s *Store) OptionID(_ context.Context, entityType, code string, scopeID int64, label string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.options[optionKey{entityType, code, scopeID, label}]; ok {
		return id, true, nil
	}
	if id, ok := s.options[optionKey{entityType, code, gateway.AdminScope, label}]; ok {
		return id, true, nil
	}
	return 0, false, nil
}

func (s *Store) DefaultScopeByWebsiteID(_ context.Context, websiteID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.websites[websiteID]
	if !ok {
		return 0, errors.Wrapf(gateway.ErrNotFound, "website %d", websiteID)
	}
	return w.defaultScope, nil
}

func (s *Store) DefaultScopeByWebsiteCode(_ context.Context, code string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.websites {
		if w.code == code {
			return w.defaultScope, nil
		}
	}
	return 0, errors.Wrapf(gateway.ErrNotFound, "website %q", code)
}

func (s *Store) Scope(_ context.Context, scopeID int64) (gateway.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.scopes[scopeID]
	if !ok {
		return gateway.Scope{}, errors.Wrapf(gateway.ErrNotFound, "scope %d", scopeID)
	}
	return scope, nil
}

func (s *Store) ScopeByCode(_ context.Context, code string) (gateway.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scope := range s.scopes {
		if scope.Code == code {
			return scope, nil
		}
	}
	return gateway.Scope{}, errors.Wrapf(gateway.ErrNotFound, "scope %q", code)
}

func (s *Store) ResolveByNaturalKeys(_ context.Context, entityType string, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++
	keyCode := s.keyCodes[entityType]
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make(map[string]int64)
	for id, cols := range s.data.entities[entityType] {
		v, ok := cols[keyCode]
		if !ok || value.IsNull(v) {
			continue
		}
		if _, ok := want[v.String()]; ok {
			out[v.String()] = id
		}
	}
	return out, nil
}

// Begin starts a transaction over a copy of the committed data.
func (s *Store) Begin(_ context.Context) (gateway.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &tx{store: s, data: s.data.clone()}, nil
}

func (d *dataset) value(attrs map[string]gateway.Attribute, entityType string, entityID int64, code string, scopeID int64) (value.Value, bool) {
	if attr, ok := attrs[code]; ok && !attr.Static() {
		v, ok := d.eav[eavKey{entityType, code, scopeID, entityID}]
		return v, ok
	}
	cols, ok := d.entities[entityType][entityID]
	if !ok {
		return nil, false
	}
	v, ok := cols[code]
	return v, ok
}

type tx struct {
	store *Store
	data  *dataset
	done  bool
}

func (t *tx) CurrentValues(_ context.Context, entityType string, scopeID int64, codes []string, ids []int64) (gateway.Values, error) {
	if t.done {
		return nil, errors.New("memstore: transaction finished")
	}
	t.store.mu.Lock()
	attrs := t.store.attributes[entityType]
	t.store.mu.Unlock()

	out := gateway.Values{}
	for _, id := range ids {
		for _, code := range codes {
			if v, ok := t.data.value(attrs, entityType, id, code, scopeID); ok {
				out.Set(id, code, v)
			}
		}
	}
	return out, nil
}

func (t *tx) BulkCreate(_ context.Context, entityType string, rows []gateway.CreateRow) (map[int]int64, error) {
	if t.done {
		return nil, errors.New("memstore: transaction finished")
	}
	entities := t.data.entities[entityType]
	if entities == nil {
		return nil, errors.Newf("memstore: unknown entity type %q", entityType)
	}
	out := make(map[int]int64, len(rows))
	for _, row := range rows {
		t.data.nextID++
		entities[t.data.nextID] = maps.Clone(row.Values)
		out[row.ElementNumber] = t.data.nextID
	}
	return out, nil
}

func (t *tx) BulkWrite(_ context.Context, singles, eavs []gateway.Write) error {
	if t.done {
		return errors.New("memstore: transaction finished")
	}
	t.store.mu.Lock()
	t.store.flushed = append(t.store.flushed, singles...)
	t.store.flushed = append(t.store.flushed, eavs...)
	writeErr := t.store.writeErr
	t.store.mu.Unlock()
	if writeErr != nil {
		return writeErr
	}

	for _, w := range singles {
		cols, ok := t.data.entities[w.EntityType][w.EntityID]
		if !ok {
			return errors.Wrapf(gateway.ErrNotFound, "%s entity %d", w.EntityType, w.EntityID)
		}
		cols[w.Attribute.Code] = w.Value
	}
	for _, w := range eavs {
		key := eavKey{w.EntityType, w.Attribute.Code, w.ScopeID, w.EntityID}
		admin := eavKey{w.EntityType, w.Attribute.Code, gateway.AdminScope, w.EntityID}
		if w.Store {
			t.data.eav[key] = w.Value
		}
		if w.Admin {
			t.data.eav[admin] = w.Value
		} else if w.EmptyAdmin {
			if _, ok := t.data.eav[admin]; !ok {
				empty := w.EmptyValue
				if empty == nil {
					empty = value.Null{}
				}
				t.data.eav[admin] = empty
			}
		}
	}
	return nil
}

func (t *tx) Relations() gateway.RelationStore {
	return relations{t}
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("memstore: transaction finished")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.data = t.data
	t.store.commits++
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	return nil
}

type relations struct {
	t *tx
}

func (r relations) RelatedKeys(_ context.Context, entityType, relation string, scopeID int64, entityIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	for _, id := range entityIDs {
		if keys, ok := r.t.data.relations[relationKey{entityType, relation, scopeID, id}]; ok {
			out[id] = slices.Clone(keys)
		}
	}
	return out, nil
}

func (r relations) ReplaceRelations(_ context.Context, entityType, relation string, scopeID, entityID int64, keys []string) error {
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return errors.Newf("memstore: empty relation key for entity %d", entityID)
		}
	}
	k := relationKey{entityType, relation, scopeID, entityID}
	if len(keys) == 0 {
		delete(r.t.data.relations, k)
		return nil
	}
	r.t.data.relations[k] = slices.Clone(keys)
	return nil
}
