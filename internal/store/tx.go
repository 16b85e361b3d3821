package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// Begin starts a chunk transaction.
func (s *Store) Begin(ctx context.Context) (gateway.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return &tx{store: s, tx: sqlTx, stmts: make(map[string]*sql.Stmt)}, nil
}

type tx struct {
	store *Store
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
	done  bool
}

var _ gateway.Tx = (*tx)(nil)

// stmt returns a prepared statement, preparing it once per transaction.
func (t *tx) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if st, ok := t.stmts[query]; ok {
		return st, nil
	}
	st, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "prepare statement")
	}
	t.stmts[query] = st
	return st, nil
}

// CurrentValues returns values stored at exactly scopeID. Entity table columns are
// returned regardless of scope. Codes with neither metadata nor a column are skipped.
func (t *tx) CurrentValues(ctx context.Context, entityType string, scopeID int64, codes []string, ids []int64) (gateway.Values, error) {
	out := gateway.Values{}
	if len(codes) == 0 || len(ids) == 0 {
		return out, nil
	}
	cols, err := t.store.entityColumns(ctx, t.tx, entityType)
	if err != nil {
		return nil, err
	}

	var static []string
	byBackend := make(map[gateway.Backend][]gateway.Attribute)
	for _, code := range codes {
		attr, err := t.store.Attribute(ctx, entityType, code)
		switch {
		case errors.Is(err, gateway.ErrUnknownAttribute):
			if cols[code] {
				static = append(static, code)
			}
			continue
		case err != nil:
			return nil, err
		}
		if attr.Static() {
			if cols[code] {
				static = append(static, code)
			}
			continue
		}
		byBackend[attr.Backend] = append(byBackend[attr.Backend], attr)
	}

	for start := 0; start < len(ids); start += maxLookupParams {
		batch := ids[start:min(start+maxLookupParams, len(ids))]
		if len(static) > 0 {
			if err := t.staticValues(ctx, entityType, static, batch, out); err != nil {
				return nil, err
			}
		}
		for _, backend := range valueBackends {
			attrs := byBackend[backend]
			if len(attrs) == 0 {
				continue
			}
			if err := t.eavValues(ctx, entityType, backend, attrs, scopeID, batch, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (t *tx) staticValues(ctx context.Context, entityType string, codes []string, ids []int64, out gateway.Values) error {
	selected := make([]string, len(codes))
	for i, code := range codes {
		selected[i] = quote(code)
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT entity_id, `+strings.Join(selected, ", ")+` FROM `+entityTable(entityType)+
			` WHERE entity_id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return errors.Wrapf(err, "read %s columns", entityType)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		raw := make([]any, len(codes))
		dest := make([]any, len(codes)+1)
		dest[0] = &id
		for i := range raw {
			dest[i+1] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return errors.Wrap(err, "scan columns")
		}
		for i, code := range codes {
			if raw[i] == nil {
				continue
			}
			out.Set(id, code, fromSQL(raw[i], ""))
		}
	}
	return errors.Wrap(rows.Err(), "iterate columns")
}

func (t *tx) eavValues(ctx context.Context, entityType string, backend gateway.Backend, attrs []gateway.Attribute, scopeID int64, ids []int64, out gateway.Values) error {
	codeByID := make(map[int64]string, len(attrs))
	args := make([]any, 0, 1+len(attrs)+len(ids))
	args = append(args, scopeID)
	for _, a := range attrs {
		codeByID[a.ID] = a.Code
		args = append(args, a.ID)
	}
	args = append(args, int64Args(ids)...)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT attribute_id, entity_id, value FROM `+valueTable(entityType, backend)+`
		WHERE scope_id = ?
		AND attribute_id IN (`+placeholders(len(attrs))+`)
		AND entity_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return errors.Wrapf(err, "read %s %s values", entityType, backend)
	}
	defer rows.Close()

	for rows.Next() {
		var attrID, entityID int64
		var raw any
		if err := rows.Scan(&attrID, &entityID, &raw); err != nil {
			return errors.Wrap(err, "scan value")
		}
		out.Set(entityID, codeByID[attrID], fromSQL(raw, backend))
	}
	return errors.Wrap(rows.Err(), "iterate values")
}

// BulkCreate inserts one entity row per CreateRow. Every value must name an
// existing entity table column.
//
// Rows are inserted one statement at a time inside the transaction, so that
// LastInsertId ties each generated id to its element.
func (t *tx) BulkCreate(ctx context.Context, entityType string, rows []gateway.CreateRow) (map[int]int64, error) {
	cols, err := t.store.entityColumns(ctx, t.tx, entityType)
	if err != nil {
		return nil, err
	}

	out := make(map[int]int64, len(rows))
	for _, row := range rows {
		codes := make([]string, 0, len(row.Values))
		for code := range row.Values {
			if !cols[code] {
				return nil, errors.Newf("%s has no column %s", entityType, code)
			}
			codes = append(codes, code)
		}
		sort.Strings(codes)

		var res sql.Result
		if len(codes) == 0 {
			res, err = t.tx.ExecContext(ctx, `INSERT INTO `+entityTable(entityType)+` DEFAULT VALUES`)
		} else {
			quoted := make([]string, len(codes))
			args := make([]any, len(codes))
			for i, code := range codes {
				quoted[i] = quote(code)
				args[i] = toSQL(row.Values[code])
			}
			res, err = t.tx.ExecContext(ctx,
				`INSERT INTO `+entityTable(entityType)+` (`+strings.Join(quoted, ", ")+`) VALUES (`+placeholders(len(codes))+`)`,
				args...)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "create %s for element %d", entityType, row.ElementNumber)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errors.Wrap(err, "created id")
		}
		out[row.ElementNumber] = id
	}
	return out, nil
}

// BulkWrite applies entity table writes, then value table writes.
func (t *tx) BulkWrite(ctx context.Context, singles, eavs []gateway.Write) error {
	for _, w := range singles {
		res, err := t.tx.ExecContext(ctx,
			`UPDATE `+entityTable(w.EntityType)+` SET `+quote(w.Attribute.Code)+` = ? WHERE entity_id = ?`,
			toSQL(w.Value), w.EntityID)
		if err != nil {
			return errors.Wrapf(err, "write %s", w)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrapf(err, "write %s", w)
		}
		if n == 0 {
			return errors.Wrapf(gateway.ErrNotFound, "%s entity %d", w.EntityType, w.EntityID)
		}
	}

	for _, w := range eavs {
		table := valueTable(w.EntityType, w.Attribute.Backend)
		upsert := `INSERT INTO ` + table + ` (attribute_id, scope_id, entity_id, value) VALUES (?, ?, ?, ?)
			ON CONFLICT(attribute_id, scope_id, entity_id) DO UPDATE SET value = excluded.value`
		if w.Store {
			if err := t.exec(ctx, upsert, w.Attribute.ID, w.ScopeID, w.EntityID, toSQL(w.Value)); err != nil {
				return errors.Wrapf(err, "write %s", w)
			}
		}
		if w.Admin {
			if err := t.exec(ctx, upsert, w.Attribute.ID, gateway.AdminScope, w.EntityID, toSQL(w.Value)); err != nil {
				return errors.Wrapf(err, "write %s", w)
			}
		} else if w.EmptyAdmin {
			empty := w.EmptyValue
			if empty == nil {
				empty = value.Null{}
			}
			insert := `INSERT INTO ` + table + ` (attribute_id, scope_id, entity_id, value) VALUES (?, ?, ?, ?)
				ON CONFLICT(attribute_id, scope_id, entity_id) DO NOTHING`
			if err := t.exec(ctx, insert, w.Attribute.ID, gateway.AdminScope, w.EntityID, toSQL(empty)); err != nil {
				return errors.Wrapf(err, "write %s", w)
			}
		}
	}
	return nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) error {
	st, err := t.stmt(ctx, query)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, args...)
	return err
}

func (t *tx) Relations() gateway.RelationStore {
	return relations{t}
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("store: transaction finished")
	}
	t.done = true
	t.closeStmts()
	return errors.Wrap(t.tx.Commit(), "commit")
}

// Rollback is a no-op after Commit or a previous Rollback.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.closeStmts()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback")
	}
	return nil
}

func (t *tx) closeStmts() {
	for _, st := range t.stmts {
		st.Close()
	}
	t.stmts = nil
}

type relations struct {
	t *tx
}

func (r relations) RelatedKeys(ctx context.Context, entityType, relation string, scopeID int64, entityIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if len(entityIDs) == 0 {
		return out, nil
	}
	args := append([]any{entityType, relation, scopeID}, int64Args(entityIDs)...)
	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT entity_id, related_key FROM relations
		WHERE entity_type = ? AND relation = ? AND scope_id = ?
		AND entity_id IN (`+placeholders(len(entityIDs))+`)
		ORDER BY entity_id, related_key COLLATE BINARY
	`, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s relations", relation)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, errors.Wrap(err, "scan relation")
		}
		out[id] = append(out[id], key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate relations")
	}
	return out, nil
}

func (r relations) ReplaceRelations(ctx context.Context, entityType, relation string, scopeID, entityID int64, keys []string) error {
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return errors.Newf("store: empty relation key for entity %d", entityID)
		}
	}
	_, err := r.t.tx.ExecContext(ctx, `
		DELETE FROM relations
		WHERE entity_type = ? AND relation = ? AND scope_id = ? AND entity_id = ?
	`, entityType, relation, scopeID, entityID)
	if err != nil {
		return errors.Wrapf(err, "clear %s relations", relation)
	}
	for _, k := range keys {
		err := r.t.exec(ctx, `
			INSERT OR IGNORE INTO relations (entity_type, relation, scope_id, entity_id, related_key)
			VALUES (?, ?, ?, ?, ?)
		`, entityType, relation, scopeID, entityID, k)
		if err != nil {
			return errors.Wrapf(err, "write %s relation %q", relation, k)
		}
	}
	return nil
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
