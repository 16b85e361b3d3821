// Package run holds the bookkeeping of one import run.
//
// State is threaded explicitly through validation, identity resolution and the
// chunk writer. Nothing in it outlives the run and nothing is shared between runs.
package run

import (
	"slices"
	"sort"
)

// Classification is the final outcome of an element.
type Classification uint8

const (
	Pending Classification = iota
	Unchanged
	Changed
	Invalid
)

func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Invalid:
		return "invalid"
	}
	return "pending"
}

// ImportedEntity identifies an entity changed by the run at a scope.
type ImportedEntity struct {
	EntityID int64 `json:"entity_id" yaml:"entity_id"`
	ScopeID  int64 `json:"scope_id" yaml:"scope_id"`
}

type changedAt struct {
	number int
	entity ImportedEntity
}

// State tracks entity references, scope references, the created-entity cache and
// the classification sets of a run.
type State struct {
	invalid   map[int][]string
	cached    map[int]struct{}
	imported  map[int]struct{}
	changed   map[int]struct{}
	unchanged map[int]struct{}
	created   map[int]struct{}

	entityIDs map[int]int64
	scopeIDs  map[int]int64
	createdBy map[string]int64
	creations map[string]struct{}
	sources   map[int]int

	changes []changedAt
}

// NewState returns an empty run state.
func NewState() *State {
	return &State{
		invalid:   make(map[int][]string),
		cached:    make(map[int]struct{}),
		imported:  make(map[int]struct{}),
		changed:   make(map[int]struct{}),
		unchanged: make(map[int]struct{}),
		created:   make(map[int]struct{}),
		entityIDs: make(map[int]int64),
		scopeIDs:  make(map[int]int64),
		createdBy: make(map[string]int64),
		creations: make(map[string]struct{}),
		sources:   make(map[int]int),
	}
}

// Invalidate records a reason and excludes the element from every later stage.
func (s *State) Invalidate(n int, reason string) {
	s.invalid[n] = append(s.invalid[n], reason)
}

// IsInvalid reports whether the element has been invalidated.
func (s *State) IsInvalid(n int) bool {
	_, ok := s.invalid[n]
	return ok
}

// Reasons returns the invalid reasons of the element in the order recorded.
func (s *State) Reasons(n int) []string {
	return slices.Clone(s.invalid[n])
}

// InvalidNumbers returns the invalid element numbers in ascending order.
func (s *State) InvalidNumbers() []int {
	return sortedKeys(s.invalid)
}

// MarkCached records that the element is known unchanged from a previous pass.
func (s *State) MarkCached(n int) {
	s.cached[n] = struct{}{}
}

// IsCached reports whether the element was marked cached.
func (s *State) IsCached(n int) bool {
	_, ok := s.cached[n]
	return ok
}

// MarkImported records that the element's writes were flushed.
func (s *State) MarkImported(n int) {
	s.imported[n] = struct{}{}
}

// IsImported reports whether the element's writes were flushed.
func (s *State) IsImported(n int) bool {
	_, ok := s.imported[n]
	return ok
}

// ImportedNumbers returns imported element numbers in ascending order.
func (s *State) ImportedNumbers() []int {
	return sortedKeys(s.imported)
}

// MarkChanged moves the element into the changed set and records the entity
// reference for the imported-entity report.
func (s *State) MarkChanged(n int, entityID, scopeID int64) {
	delete(s.unchanged, n)
	s.changed[n] = struct{}{}
	ie := ImportedEntity{EntityID: entityID, ScopeID: scopeID}
	for _, c := range s.changes {
		if c.number == n && c.entity == ie {
			return
		}
	}
	s.changes = append(s.changes, changedAt{number: n, entity: ie})
}

// MarkUnchanged classifies the element unchanged unless a change was already found.
func (s *State) MarkUnchanged(n int) {
	if _, ok := s.changed[n]; ok {
		return
	}
	s.unchanged[n] = struct{}{}
}

// Classify returns the element's current classification.
func (s *State) Classify(n int) Classification {
	if _, ok := s.invalid[n]; ok {
		return Invalid
	}
	if _, ok := s.changed[n]; ok {
		return Changed
	}
	if _, ok := s.unchanged[n]; ok {
		return Unchanged
	}
	return Pending
}

// ChangedNumbers returns changed element numbers in ascending order.
func (s *State) ChangedNumbers() []int {
	return sortedKeys(s.changed)
}

// UnchangedNumbers returns unchanged element numbers in ascending order.
func (s *State) UnchangedNumbers() []int {
	return sortedKeys(s.unchanged)
}

// ImportedEntities lists every entity reference of changed elements, ordered by
// element number and then by the order the changes were found.
func (s *State) ImportedEntities() []ImportedEntity {
	changes := slices.Clone(s.changes)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].number < changes[j].number })

	out := make([]ImportedEntity, 0, len(changes))
	for _, c := range changes {
		if _, ok := s.changed[c.number]; !ok {
			continue
		}
		out = append(out, c.entity)
	}
	return out
}

// SetEntityID records the element's entity. A second, different id is refused:
// once resolved, an element keeps its entity for the remainder of the run.
func (s *State) SetEntityID(n int, id int64) bool {
	if existing, ok := s.entityIDs[n]; ok {
		return existing == id
	}
	s.entityIDs[n] = id
	return true
}

// EntityID returns the element's resolved entity id.
func (s *State) EntityID(n int) (int64, bool) {
	id, ok := s.entityIDs[n]
	return id, ok
}

// SetScopeID records the element's resolved scope.
func (s *State) SetScopeID(n int, scopeID int64) {
	s.scopeIDs[n] = scopeID
}

// ScopeID returns the element's resolved scope.
func (s *State) ScopeID(n int) (int64, bool) {
	id, ok := s.scopeIDs[n]
	return id, ok
}

// MarkClone records that element n was appended to the run as a copy of source.
func (s *State) MarkClone(n, source int) {
	s.sources[n] = source
}

// CloneSource returns the element that n was copied from.
func (s *State) CloneSource(n int) (int, bool) {
	src, ok := s.sources[n]
	return src, ok
}

// MarkCreated records that the element's entity was created by this run.
func (s *State) MarkCreated(n int) {
	s.created[n] = struct{}{}
}

// IsCreated reports whether the element's entity was created by this run.
func (s *State) IsCreated(n int) bool {
	_, ok := s.created[n]
	return ok
}

// CacheCreated remembers the entity created for a natural key.
func (s *State) CacheCreated(key string, id int64) {
	if key == "" {
		return
	}
	if _, ok := s.createdBy[key]; !ok {
		s.createdBy[key] = id
	}
	s.creations[key] = struct{}{}
}

// CountCreated counts a creation without caching its id. Dry runs use it since
// their ids are rolled back.
func (s *State) CountCreated(key string) {
	if key != "" {
		s.creations[key] = struct{}{}
	}
}

// CreatedID returns the entity created earlier in the run for a natural key.
func (s *State) CreatedID(key string) (int64, bool) {
	if key == "" {
		return 0, false
	}
	id, ok := s.createdBy[key]
	return id, ok
}

// CreatedCount returns the number of entities created by the run.
func (s *State) CreatedCount() int {
	return len(s.creations)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
