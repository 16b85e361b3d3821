// Package gateway defines the collaborators an import run depends on.
//
// The import core never talks to storage directly. It asks a MetadataService about
// attributes, a ScopeService about websites and scopes, an IdentityLookup about
// natural keys, and emits structured write requests through a Tx obtained from a
// Gateway. internal/store implements all of them on SQLite and internal/memstore
// implements them in memory for tests.
package gateway

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/value"
)

// AdminScope is the global scope. Values stored here are the fallback for every
// other scope.
const AdminScope int64 = 0

var (
	// ErrNotFound reports an unknown website, scope or entity.
	ErrNotFound = errors.New("gateway: not found")
	// ErrUnknownAttribute reports an attribute code with no metadata.
	ErrUnknownAttribute = errors.New("gateway: unknown attribute")
)

// Backend is the storage type of an attribute.
type Backend string

const (
	// BackendStatic attributes are columns of the entity table.
	BackendStatic   Backend = "static"
	BackendVarchar  Backend = "varchar"
	BackendText     Backend = "text"
	BackendInt      Backend = "int"
	BackendDecimal  Backend = "decimal"
	BackendDatetime Backend = "datetime"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendStatic, BackendVarchar, BackendText, BackendInt, BackendDecimal, BackendDatetime:
		return true
	}
	return false
}

// TextLike reports whether empty strings are meaningful values for this backend.
func (b Backend) TextLike() bool {
	return b == BackendVarchar || b == BackendText || b == BackendStatic
}

// Attribute is the metadata the core needs about one attribute.
type Attribute struct {
	ID         int64
	EntityType string
	Code       string
	Backend    Backend
	// Global attributes keep a single value in the admin scope shared by every scope.
	Global   bool
	Required bool
	// UsesOptions attributes store option ids resolved from textual labels.
	UsesOptions bool
	// Multiple option attributes hold a comma separated list of option ids.
	Multiple bool
}

// Static reports whether the attribute is a column of the entity table.
func (a Attribute) Static() bool {
	return a.Backend == BackendStatic
}

// Scope is one store-like context.
type Scope struct {
	ID        int64
	Code      string
	WebsiteID int64
}

// MetadataService answers attribute and option questions.
type MetadataService interface {
	// Attribute returns ErrUnknownAttribute when the code has no metadata.
	Attribute(ctx context.Context, entityType, code string) (Attribute, error)
	// OptionID resolves an option label at a scope, falling back to the admin label.
	// ok is false when no option matches.
	OptionID(ctx context.Context, entityType, code string, scopeID int64, label string) (id int64, ok bool, err error)
}

// ScopeService resolves websites and scopes. Lookups of unknown input return ErrNotFound.
type ScopeService interface {
	DefaultScopeByWebsiteID(ctx context.Context, websiteID int64) (int64, error)
	DefaultScopeByWebsiteCode(ctx context.Context, code string) (int64, error)
	Scope(ctx context.Context, scopeID int64) (Scope, error)
	ScopeByCode(ctx context.Context, code string) (Scope, error)
}

// IdentityLookup maps natural keys to existing entity ids in one batched call.
type IdentityLookup interface {
	ResolveByNaturalKeys(ctx context.Context, entityType string, keys []string) (map[string]int64, error)
}

// Gateway opens transactional units of work.
type Gateway interface {
	Begin(ctx context.Context) (Tx, error)
}

// CreateRow is the creation record for one element. Values are entity table columns.
type CreateRow struct {
	ElementNumber int
	Values        map[string]value.Value
}

// Tx is one transactional unit. Everything a chunk reads and writes goes through it.
type Tx interface {
	// CurrentValues returns the stored values of codes for ids at exactly scopeID.
	// Entity table columns are returned for every scope.
	CurrentValues(ctx context.Context, entityType string, scopeID int64, codes []string, ids []int64) (Values, error)
	// BulkCreate inserts one entity per row and returns generated ids keyed by element number.
	BulkCreate(ctx context.Context, entityType string, rows []CreateRow) (map[int]int64, error)
	// BulkWrite applies accumulated writes. Any error leaves the transaction unusable.
	BulkWrite(ctx context.Context, singles, eavs []Write) error
	// Relations exposes the side table used by relation associated items.
	Relations() RelationStore
	Commit() error
	Rollback() error
}

// RelationStore manages one-to-many related keys of an entity at a scope.
type RelationStore interface {
	RelatedKeys(ctx context.Context, entityType, relation string, scopeID int64, entityIDs []int64) (map[int64][]string, error)
	ReplaceRelations(ctx context.Context, entityType, relation string, scopeID, entityID int64, keys []string) error
}

// Values holds prefetched current values: entity id -> attribute code -> value.
type Values map[int64]map[string]value.Value

// Get returns the stored value and whether one exists.
func (v Values) Get(entityID int64, code string) (value.Value, bool) {
	attrs, ok := v[entityID]
	if !ok {
		return nil, false
	}
	val, ok := attrs[code]
	return val, ok
}

// Set stores val for the entity and code.
func (v Values) Set(entityID int64, code string, val value.Value) {
	attrs, ok := v[entityID]
	if !ok {
		attrs = make(map[string]value.Value)
		v[entityID] = attrs
	}
	attrs[code] = val
}

// Entity returns all values of one entity, never nil.
func (v Values) Entity(entityID int64) map[string]value.Value {
	if attrs, ok := v[entityID]; ok {
		return attrs
	}
	return map[string]value.Value{}
}
