package store

import (
	"context"
	"database/sql"
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reconcile/internal/gateway"
)

var valueBackends = []gateway.Backend{
	gateway.BackendVarchar,
	gateway.BackendText,
	gateway.BackendInt,
	gateway.BackendDecimal,
	gateway.BackendDatetime,
}

// DefineEntityType registers an entity type and creates its tables.
// keyCode names the natural key column of the entity table.
func (s *Store) DefineEntityType(ctx context.Context, entityType, keyCode string) error {
	if err := checkIdentifier("entity type", entityType); err != nil {
		return err
	}
	if err := checkIdentifier("key", keyCode); err != nil {
		return err
	}

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT key_code FROM entity_types WHERE entity_type = ?`, entityType).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO entity_types (entity_type, key_code) VALUES (?, ?)`, entityType, keyCode); err != nil {
			return errors.Wrapf(err, "define entity type %s", entityType)
		}
	case err != nil:
		return errors.Wrapf(err, "define entity type %s", entityType)
	case existing != keyCode:
		return errors.Newf("entity type %s already uses key %q", entityType, existing)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + entityTable(entityType) + ` (
			entity_id INTEGER PRIMARY KEY AUTOINCREMENT,
			` + quote(keyCode) + ` TEXT UNIQUE
		)`,
	}
	for _, backend := range valueBackends {
		table := valueTable(entityType, backend)
		column := "value TEXT"
		switch backend {
		case gateway.BackendInt:
			column = "value INTEGER"
		case gateway.BackendDecimal:
			column = "value REAL"
		}
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS `+table+` (
			value_id     INTEGER PRIMARY KEY AUTOINCREMENT,
			attribute_id INTEGER NOT NULL REFERENCES attributes(attribute_id),
			scope_id     INTEGER NOT NULL,
			entity_id    INTEGER NOT NULL REFERENCES `+entityTable(entityType)+`(entity_id) ON DELETE CASCADE,
			`+column+`,
			UNIQUE (attribute_id, scope_id, entity_id)
		)`)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "create tables for %s", entityType)
		}
	}
	return nil
}

// DefineAttribute registers or updates attribute metadata. Static attributes get a
// column on the entity table. The stored attribute is returned with its id.
func (s *Store) DefineAttribute(ctx context.Context, attr gateway.Attribute) (gateway.Attribute, error) {
	if err := checkIdentifier("attribute", attr.Code); err != nil {
		return gateway.Attribute{}, err
	}
	if attr.Backend == "" {
		attr.Backend = gateway.BackendVarchar
	}
	if !attr.Backend.Valid() {
		return gateway.Attribute{}, errors.Newf("attribute %s: unknown backend %q", attr.Code, attr.Backend)
	}
	key, err := s.keyCode(ctx, attr.EntityType)
	if err != nil {
		return gateway.Attribute{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attributes (entity_type, code, backend, is_global, is_required, uses_options, is_multiple)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, code) DO UPDATE SET
			backend = excluded.backend,
			is_global = excluded.is_global,
			is_required = excluded.is_required,
			uses_options = excluded.uses_options,
			is_multiple = excluded.is_multiple
	`,
		attr.EntityType, attr.Code, string(attr.Backend),
		boolInt(attr.Global), boolInt(attr.Required), boolInt(attr.UsesOptions), boolInt(attr.Multiple))
	if err != nil {
		return gateway.Attribute{}, errors.Wrapf(err, "define attribute %s", attr.Code)
	}

	if attr.Static() && attr.Code != key {
		if err := s.ensureColumn(ctx, attr.EntityType, attr.Code); err != nil {
			return gateway.Attribute{}, err
		}
	}

	s.forgetAttributes()
	return s.Attribute(ctx, attr.EntityType, attr.Code)
}

// DefineOption maps an option label at a scope to an option id.
func (s *Store) DefineOption(ctx context.Context, entityType, code string, scopeID int64, label string, optionID int64) error {
	attr, err := s.Attribute(ctx, entityType, code)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attribute_options (attribute_id, scope_id, label, option_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(attribute_id, scope_id, label) DO UPDATE SET option_id = excluded.option_id
	`, attr.ID, scopeID, label, optionID)
	if err != nil {
		return errors.Wrapf(err, "define option %q of %s", label, code)
	}
	return nil
}

// DefineWebsite registers a website and its default scope.
func (s *Store) DefineWebsite(ctx context.Context, id int64, code string, defaultScope int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO websites (website_id, code, default_scope_id) VALUES (?, ?, ?)
		ON CONFLICT(website_id) DO UPDATE SET code = excluded.code, default_scope_id = excluded.default_scope_id
	`, id, code, defaultScope)
	if err != nil {
		return errors.Wrapf(err, "define website %s", code)
	}
	return nil
}

// DefineScope registers a scope.
func (s *Store) DefineScope(ctx context.Context, scope gateway.Scope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scopes (scope_id, code, website_id) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET code = excluded.code, website_id = excluded.website_id
	`, scope.ID, scope.Code, scope.WebsiteID)
	if err != nil {
		return errors.Wrapf(err, "define scope %s", scope.Code)
	}
	return nil
}

func (s *Store) keyCode(ctx context.Context, entityType string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT key_code FROM entity_types WHERE entity_type = ?`, entityType).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(gateway.ErrNotFound, "entity type %s", entityType)
	}
	if err != nil {
		return "", errors.Wrapf(err, "entity type %s", entityType)
	}
	return key, nil
}

// ensureColumn adds an untyped column to the entity table when it is missing.
func (s *Store) ensureColumn(ctx context.Context, entityType, column string) error {
	cols, err := s.entityColumns(ctx, s.db, entityType)
	if err != nil {
		return err
	}
	if cols[column] {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`ALTER TABLE `+entityTable(entityType)+` ADD COLUMN `+quote(column)); err != nil {
		return errors.Wrapf(err, "add column %s to %s", column, entityType)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// entityColumns lists the columns of the entity table.
func (s *Store) entityColumns(ctx context.Context, q querier, entityType string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, entityType+"_entity")
	if err != nil {
		return nil, errors.Wrapf(err, "columns of %s", entityType)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan column")
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate columns")
	}
	if len(cols) == 0 {
		return nil, errors.Wrapf(gateway.ErrNotFound, "entity type %s", entityType)
	}
	return cols, nil
}

// Setup is a catalog document applied by ApplySetup.
type Setup struct {
	Websites    []WebsiteDef    `yaml:"websites"`
	Scopes      []ScopeDef      `yaml:"scopes"`
	EntityTypes []EntityTypeDef `yaml:"entity_types"`
}

// WebsiteDef declares a website.
type WebsiteDef struct {
	ID           int64  `yaml:"id"`
	Code         string `yaml:"code"`
	DefaultScope int64  `yaml:"default_scope"`
}

// ScopeDef declares a scope.
type ScopeDef struct {
	ID      int64  `yaml:"id"`
	Code    string `yaml:"code"`
	Website int64  `yaml:"website"`
}

// EntityTypeDef declares an entity type and its attributes.
type EntityTypeDef struct {
	Name       string         `yaml:"name"`
	Key        string         `yaml:"key"`
	Attributes []AttributeDef `yaml:"attributes"`
}

// AttributeDef declares an attribute. Declaring options implies Select.
type AttributeDef struct {
	Code     string      `yaml:"code"`
	Backend  string      `yaml:"backend"`
	Global   bool        `yaml:"global"`
	Required bool        `yaml:"required"`
	Select   bool        `yaml:"select"`
	Multiple bool        `yaml:"multiple"`
	Options  []OptionDef `yaml:"options"`
}

// OptionDef declares one option label. Scope 0 labels are the fallback.
type OptionDef struct {
	ID    int64  `yaml:"id"`
	Label string `yaml:"label"`
	Scope int64  `yaml:"scope"`
}

// LoadSetup decodes a setup document. Unknown fields are rejected.
func LoadSetup(r io.Reader) (*Setup, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var setup Setup
	if err := dec.Decode(&setup); err != nil {
		if errors.Is(err, io.EOF) {
			return &setup, nil
		}
		return nil, errors.Wrap(err, "decode setup")
	}
	return &setup, nil
}

// ApplySetup defines every website, scope, entity type, attribute and option of setup.
func (s *Store) ApplySetup(ctx context.Context, setup *Setup) error {
	for _, w := range setup.Websites {
		if err := s.DefineWebsite(ctx, w.ID, w.Code, w.DefaultScope); err != nil {
			return err
		}
	}
	for _, sc := range setup.Scopes {
		if err := s.DefineScope(ctx, gateway.Scope{ID: sc.ID, Code: sc.Code, WebsiteID: sc.Website}); err != nil {
			return err
		}
	}
	for _, et := range setup.EntityTypes {
		if err := s.DefineEntityType(ctx, et.Name, et.Key); err != nil {
			return err
		}
		for _, a := range et.Attributes {
			attr, err := s.DefineAttribute(ctx, gateway.Attribute{
				EntityType:  et.Name,
				Code:        a.Code,
				Backend:     gateway.Backend(a.Backend),
				Global:      a.Global,
				Required:    a.Required,
				UsesOptions: a.Select || len(a.Options) > 0,
				Multiple:    a.Multiple,
			})
			if err != nil {
				return err
			}
			for _, opt := range a.Options {
				if err := s.DefineOption(ctx, et.Name, attr.Code, opt.Scope, opt.Label, opt.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
