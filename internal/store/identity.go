package store

import (
	"context"

	"github.com/cockroachdb/errors"
)

// maxLookupParams keeps IN lists below SQLite's bound parameter limit.
const maxLookupParams = 500

// ResolveByNaturalKeys maps natural keys to entity ids. Unknown keys are absent
// from the result.
func (s *Store) ResolveByNaturalKeys(ctx context.Context, entityType string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	keyCode, err := s.keyCode(ctx, entityType)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(keys); start += maxLookupParams {
		batch := keys[start:min(start+maxLookupParams, len(keys))]
		args := make([]any, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+quote(keyCode)+`, entity_id FROM `+entityTable(entityType)+
				` WHERE `+quote(keyCode)+` IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s keys", entityType)
		}
		for rows.Next() {
			var key string
			var id int64
			if err := rows.Scan(&key, &id); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan identity")
			}
			out[key] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(err, "iterate identities")
		}
	}
	return out, nil
}
