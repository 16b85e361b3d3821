package harness

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/value"
)

const assertionScenario = `
name: assertions
description: "Assertion evaluation against stored state"
setup:
  websites: [{id: 1, code: base, default_scope: 1}]
  scopes: [{id: 1, code: default, website: 1}]
  entity_types:
    - name: product
      key: sku
      attributes:
        - {code: color, backend: varchar}
        - {code: qty, backend: int}
profile: {entity_type: product, element_key: sku}
runs:
  - elements:
      - {sku: a, color: red, qty: 3}
      - {sku: a, store_id: 1, color: blue}
      - {sku: b, store_id: 99}
assertions:
`

func runAssertions(t *testing.T, assertions string) *Result {
	t.Helper()
	result, err := Run(loadTestScenario(t, assertionScenario+assertions))
	require.NoError(t, err)
	return result
}

func TestAssertions_Pass(t *testing.T) {
	result := runAssertions(t, `
  - {type: entity_count, count: 1}
  - {type: stored_value, key: a, scope: 0, attribute: color, value: red}
  - {type: stored_value, key: a, scope: 1, attribute: color, value: blue}
  - {type: effective_value, key: a, scope: 1, attribute: qty, value: 3}
  - {type: stored_value, key: a, scope: 1, attribute: qty, absent: true}
  - {type: effective_value, key: a, scope: 0, attribute: size, absent: true}
  - {type: classification, run: 0, element: 1, classification: changed}
  - {type: classification, run: 0, element: 2, classification: invalid, reason: "Invalid store with id: 99"}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertions_Fail(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		want      string
	}{
		{
			name:      "entity count",
			assertion: `  - {type: entity_count, count: 3}`,
			want:      "Expected: 3 entities",
		},
		{
			name:      "wrong value",
			assertion: `  - {type: stored_value, key: a, scope: 1, attribute: color, value: green}`,
			want:      `Actual: "blue"`,
		},
		{
			name:      "missing value",
			assertion: `  - {type: stored_value, key: a, scope: 1, attribute: qty, value: 3}`,
			want:      "Actual: absent",
		},
		{
			name:      "present but expected absent",
			assertion: `  - {type: effective_value, key: a, scope: 1, attribute: color, absent: true}`,
			want:      "color of \"a\" at scope 1 absent",
		},
		{
			name:      "unknown entity",
			assertion: `  - {type: stored_value, key: zzz, attribute: color, value: red}`,
			want:      `entity "zzz" exists`,
		},
		{
			name:      "classification",
			assertion: `  - {type: classification, run: 0, element: 2, classification: changed}`,
			want:      "Reason: Invalid store with id: 99",
		},
		{
			name:      "missing reason",
			assertion: `  - {type: classification, run: 0, element: 2, classification: invalid, reason: "No entity id or element key"}`,
			want:      "reason not reported",
		},
		{
			name:      "missing element",
			assertion: `  - {type: classification, run: 0, element: 7, classification: changed}`,
			want:      "run has 3 elements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runAssertions(t, tt.assertion)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "assertions[0]")
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestCompareValue_Numeric(t *testing.T) {
	a := Assertion{Type: AssertStoredValue, Key: "a", Attribute: "price", Value: 10}
	assert.NoError(t, compareValue(a, value.Decimal(10), true))
	assert.NoError(t, compareValue(a, value.Text("10"), true))

	err := compareValue(a, value.Decimal(10.5), true)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertStoredValue, aerr.Type)
}

func TestCompareValue_NullIsAbsent(t *testing.T) {
	a := Assertion{Type: AssertStoredValue, Key: "a", Attribute: "color", Absent: true}
	assert.NoError(t, compareValue(a, value.Null{}, true))
	assert.NoError(t, compareValue(a, nil, false))
}

func TestCompareValue_UnsupportedExpectation(t *testing.T) {
	a := Assertion{Type: AssertStoredValue, Key: "a", Attribute: "color", Value: struct{}{}}
	err := compareValue(a, value.Text("x"), true)
	require.Error(t, err)

	var aerr *AssertionError
	assert.False(t, errors.As(err, &aerr))
}

func TestAssertClassification_ByNumber(t *testing.T) {
	reports := []*importer.Report{{
		Elements: []importer.ElementResult{
			{Number: 0, Classification: "changed"},
			{Number: 1, Classification: "invalid", Reasons: []string{"bad", "worse"}},
		},
	}}
	assert.NoError(t, assertClassification(reports, Assertion{Type: AssertClassification, Element: 1, Classification: "invalid", Reason: "worse"}))
	assert.Error(t, assertClassification(reports, Assertion{Type: AssertClassification, Element: 0, Classification: "unchanged"}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertClassification,
		Expected: "run 0 element 1 changed",
		Actual:   "invalid",
		Reasons:  []string{"Unknown attribute: flavor"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: classification")
	assert.Contains(t, msg, "Expected: run 0 element 1 changed")
	assert.Contains(t, msg, "Actual: invalid")
	assert.Contains(t, msg, "Reason: Unknown attribute: flavor")
}
