package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/reconcile/internal/gateway"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on attribute_options(attribute_id, option_id) for label lookups by id
const currentSchemaVersion = 1

var (
	_ gateway.MetadataService = (*Store)(nil)
	_ gateway.ScopeService    = (*Store)(nil)
	_ gateway.IdentityLookup  = (*Store)(nil)
	_ gateway.Gateway         = (*Store)(nil)
)

// Store is the SQLite gateway.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	attrs map[string]gateway.Attribute
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Pragmas are part of the DSN so every pooled connection carries them.
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// One chunk transaction writes while metadata lookups read on other
	// connections; WAL keeps those readers from blocking.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}

	return New(db), nil
}

const maxOpenConns = 4

func dsn(path string) string {
	params := []string{
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_foreign_keys=on",
	}
	return path + "?" + strings.Join(params, "&")
}

// New wraps a database that is already configured. No pragmas or schema are applied.
func New(db *sql.DB) *Store {
	return &Store{db: db, attrs: make(map[string]gateway.Attribute)}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}

	if err := runMigrations(db); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "get user_version")
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "set user_version")
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_attribute_options_option
		ON attribute_options(attribute_id, option_id)
	`)
	if err != nil {
		return errors.Wrap(err, "migrate to v1")
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return errors.Wrapf(err, "failed to query %s", name)
	}
	if value != expected {
		return errors.Newf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

var identifierRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// checkIdentifier rejects names that cannot be used as table or column names.
func checkIdentifier(kind, name string) error {
	if !identifierRE.MatchString(name) {
		return errors.WithHint(
			errors.Newf("invalid %s name %q", kind, name),
			"names must start with a lower case letter and contain only a-z, 0-9 and _")
	}
	return nil
}

func entityTable(entityType string) string {
	return quote(entityType + "_entity")
}

func valueTable(entityType string, backend gateway.Backend) string {
	return quote(entityType + "_entity_" + string(backend))
}

func quote(ident string) string {
	return `"` + ident + `"`
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func attrCacheKey(entityType, code string) string {
	return entityType + "\x00" + code
}

func (s *Store) forgetAttributes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = make(map[string]gateway.Attribute)
}
