package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore creates a new SQLite store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const testSetup = `
websites:
  - {id: 1, code: base, default_scope: 1}
scopes:
  - {id: 1, code: default, website: 1}
  - {id: 2, code: french, website: 1}
entity_types:
  - name: product
    key: sku
    attributes:
      - {code: name, backend: varchar}
      - {code: description, backend: text}
      - {code: price, backend: decimal, global: true}
      - {code: qty, backend: int}
      - {code: released, backend: datetime}
      - {code: type_id, backend: static}
      - code: status
        backend: int
        options:
          - {id: 1, label: Enabled}
          - {id: 2, label: Disabled}
          - {id: 1, label: Active, scope: 2}
`

// createCatalogStore returns a store with the product catalog of testSetup applied.
func createCatalogStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	setup, err := LoadSetup(strings.NewReader(testSetup))
	require.NoError(t, err)
	require.NoError(t, s.ApplySetup(context.Background(), setup))
	return s
}

func getTableColumns(t *testing.T, s *Store, table string) []string {
	t.Helper()
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	return cols
}
