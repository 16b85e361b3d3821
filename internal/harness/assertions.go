package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Reasons  []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Invalid reasons usually explain an unexpected classification
	for _, r := range e.Reasons {
		fmt.Fprintf(&buf, "  Reason: %s\n", r)
	}

	return buf.String()
}

// evaluate runs every assertion and records failures on result. The returned
// error reports store failures, which are not assertion outcomes.
func (h *Harness) evaluate(ctx context.Context, result *Result) error {
	for i, a := range h.scenario.Assertions {
		err := h.evaluateAssertion(ctx, a, result.Reports)
		var aerr *AssertionError
		switch {
		case err == nil:
		case errors.As(err, &aerr):
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		default:
			return errors.Wrapf(err, "assertions[%d]", i)
		}
	}
	return nil
}

func (h *Harness) evaluateAssertion(ctx context.Context, a Assertion, reports []*importer.Report) error {
	switch a.Type {
	case AssertEffectiveValue:
		return h.assertEffectiveValue(ctx, a)
	case AssertStoredValue:
		return h.assertStoredValue(ctx, a)
	case AssertEntityCount:
		return h.assertEntityCount(ctx, a)
	case AssertClassification:
		return assertClassification(reports, a)
	default:
		return errors.Newf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) entityID(ctx context.Context, a Assertion) (int64, error) {
	id, err := h.store.EntityIDByKey(ctx, h.scenario.Profile.EntityType, a.Key)
	if errors.Is(err, gateway.ErrNotFound) {
		return 0, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entity %q exists", a.Key),
			Actual:   "no entity with that key",
		}
	}
	return id, err
}

func (h *Harness) assertEffectiveValue(ctx context.Context, a Assertion) error {
	id, err := h.entityID(ctx, a)
	if err != nil {
		return err
	}
	vals, err := h.store.EffectiveValues(ctx, h.scenario.Profile.EntityType, id, a.Scope)
	if err != nil {
		return err
	}
	got, ok := vals[a.Attribute]
	return compareValue(a, got, ok)
}

func (h *Harness) assertStoredValue(ctx context.Context, a Assertion) error {
	id, err := h.entityID(ctx, a)
	if err != nil {
		return err
	}
	got, ok, err := h.store.ScopeValue(ctx, h.scenario.Profile.EntityType, id, a.Scope, a.Attribute)
	if err != nil {
		return err
	}
	return compareValue(a, got, ok)
}

// compareValue checks a read value against the assertion's value or absence.
func compareValue(a Assertion, got value.Value, ok bool) error {
	subject := fmt.Sprintf("%s of %q at scope %d", a.Attribute, a.Key, a.Scope)
	if a.Absent {
		if ok && !value.IsNull(got) {
			return &AssertionError{
				Type:     a.Type,
				Expected: subject + " absent",
				Actual:   fmt.Sprintf("%q", got.String()),
			}
		}
		return nil
	}

	want, err := value.FromAny(a.Value)
	if err != nil {
		return errors.Wrapf(err, "expected value of %s", subject)
	}
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %q", subject, want.String()),
			Actual:   "absent",
		}
	}
	if !value.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %q", subject, want.String()),
			Actual:   fmt.Sprintf("%q", got.String()),
		}
	}
	return nil
}

func (h *Harness) assertEntityCount(ctx context.Context, a Assertion) error {
	n, err := h.store.EntityCount(ctx, h.scenario.Profile.EntityType)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d entities", a.Count),
			Actual:   fmt.Sprintf("%d entities", n),
		}
	}
	return nil
}

func assertClassification(reports []*importer.Report, a Assertion) error {
	report := reports[a.Run]
	idx := slices.IndexFunc(report.Elements, func(r importer.ElementResult) bool {
		return r.Number == a.Element
	})
	if idx < 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("element %d in run %d", a.Element, a.Run),
			Actual:   fmt.Sprintf("run has %d elements", len(report.Elements)),
		}
	}

	res := report.Elements[idx]
	if res.Classification != a.Classification {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("run %d element %d %s", a.Run, a.Element, a.Classification),
			Actual:   res.Classification,
			Reasons:  res.Reasons,
		}
	}
	if a.Reason != "" && !slices.Contains(res.Reasons, a.Reason) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("run %d element %d reason %q", a.Run, a.Element, a.Reason),
			Actual:   "reason not reported",
			Reasons:  res.Reasons,
		}
	}
	return nil
}
