package importer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/run"
)

func TestReport_MarshalCanonical(t *testing.T) {
	r := &Report{
		RunID:      "run-1",
		EntityType: "product",
		Counts:     Counts{Elements: 2, Changed: 1, Invalid: 1, Created: 1},
		ImportedEntities: []run.ImportedEntity{
			{EntityID: 7, ScopeID: 2},
		},
		Elements: []ElementResult{
			{Number: 0, Key: "a", Classification: "changed", EntityID: 7, ScopeID: 2},
			{Number: 1, Classification: "invalid", Reasons: []string{"No entity id or element key"}},
		},
	}

	data, err := r.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"counts":{"changed":1,"created":1,"elements":2,"invalid":1,"pending":0,"unchanged":0},`+
			`"dry_run":false,`+
			`"elements":[{"classification":"changed","entity_id":7,"key":"a","number":0,"scope_id":2},`+
			`{"classification":"invalid","number":1,"reasons":["No entity id or element key"],"scope_id":0}],`+
			`"entity_type":"product",`+
			`"imported_entities":[{"entity_id":7,"scope_id":2}],`+
			`"run_id":"run-1"}`,
		string(data))

	again, err := r.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestReport_MarshalCanonicalAdminCopy(t *testing.T) {
	src := 0
	r := &Report{
		RunID:      "run-1",
		EntityType: "product",
		Elements: []ElementResult{
			{Number: 1, CloneOf: &src, Key: "a", Classification: "changed", EntityID: 7},
		},
	}

	data, err := r.MarshalCanonical()
	require.NoError(t, err)
	assert.Contains(t, string(data),
		`"elements":[{"classification":"changed","clone_of":0,"entity_id":7,"key":"a","number":1,"scope_id":0}]`)
}

func TestReport_OK(t *testing.T) {
	assert.True(t, (&Report{Counts: Counts{Elements: 1, Unchanged: 1}}).OK())
	assert.False(t, (&Report{Counts: Counts{Elements: 1, Invalid: 1}}).OK())
	assert.False(t, (&Report{Counts: Counts{Elements: 1, Pending: 1}}).OK())
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "v7 tokens sort by creation time")
}
