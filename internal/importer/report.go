package importer

import (
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/value"
)

// Report is the outcome of a run.
type Report struct {
	RunID            string               `json:"run_id" yaml:"run_id"`
	EntityType       string               `json:"entity_type" yaml:"entity_type"`
	DryRun           bool                 `json:"dry_run" yaml:"dry_run"`
	Counts           Counts               `json:"counts" yaml:"counts"`
	ImportedEntities []run.ImportedEntity `json:"imported_entities" yaml:"imported_entities"`
	Elements         []ElementResult      `json:"elements" yaml:"elements"`
}

// Counts summarizes element classifications. Pending elements were never reached,
// which happens after a chunk failure.
type Counts struct {
	Elements  int `json:"elements" yaml:"elements"`
	Changed   int `json:"changed" yaml:"changed"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Invalid   int `json:"invalid" yaml:"invalid"`
	Pending   int `json:"pending" yaml:"pending"`
	Created   int `json:"created" yaml:"created"`
}

// ElementResult is the outcome of one element. Admin-scope copies made by
// update_admin_scope carry the number of the element they were copied from.
type ElementResult struct {
	Number         int      `json:"number" yaml:"number"`
	CloneOf        *int     `json:"clone_of,omitempty" yaml:"clone_of,omitempty"`
	Key            string   `json:"key,omitempty" yaml:"key,omitempty"`
	Classification string   `json:"classification" yaml:"classification"`
	EntityID       int64    `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	ScopeID        int64    `json:"scope_id" yaml:"scope_id"`
	Reasons        []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

func newReport(runID string, p *Profile, elements []*element.Element, st *run.State) *Report {
	r := &Report{
		RunID:            runID,
		EntityType:       p.EntityType,
		DryRun:           p.DryRun,
		ImportedEntities: st.ImportedEntities(),
		Elements:         make([]ElementResult, 0, len(elements)),
	}
	r.Counts.Created = st.CreatedCount()

	for _, e := range elements {
		res := ElementResult{
			Number:         e.Number,
			Key:            e.Text(p.ElementKey),
			Classification: st.Classify(e.Number).String(),
			Reasons:        st.Reasons(e.Number),
		}
		if src, ok := st.CloneSource(e.Number); ok {
			res.CloneOf = &src
		}
		res.EntityID, _ = st.EntityID(e.Number)
		res.ScopeID, _ = st.ScopeID(e.Number)
		r.Elements = append(r.Elements, res)

		r.Counts.Elements++
		switch st.Classify(e.Number) {
		case run.Changed:
			r.Counts.Changed++
		case run.Unchanged:
			r.Counts.Unchanged++
		case run.Invalid:
			r.Counts.Invalid++
		default:
			r.Counts.Pending++
		}
	}
	return r
}

// OK reports whether every element was applied or found unchanged.
func (r *Report) OK() bool {
	return r.Counts.Invalid == 0 && r.Counts.Pending == 0
}

// InvalidResults returns the results of invalid elements.
func (r *Report) InvalidResults() []ElementResult {
	var out []ElementResult
	for _, res := range r.Elements {
		if len(res.Reasons) > 0 {
			out = append(out, res)
		}
	}
	return out
}

// MarshalCanonical returns the report as RFC 8785 canonical JSON, suitable for
// byte comparison across runs.
func (r *Report) MarshalCanonical() ([]byte, error) {
	imported := make([]any, len(r.ImportedEntities))
	for i, ie := range r.ImportedEntities {
		imported[i] = map[string]any{"entity_id": ie.EntityID, "scope_id": ie.ScopeID}
	}
	results := make([]any, len(r.Elements))
	for i, res := range r.Elements {
		m := map[string]any{
			"number":         res.Number,
			"classification": res.Classification,
			"scope_id":       res.ScopeID,
		}
		if res.Key != "" {
			m["key"] = res.Key
		}
		if res.CloneOf != nil {
			m["clone_of"] = *res.CloneOf
		}
		if res.EntityID != 0 {
			m["entity_id"] = res.EntityID
		}
		if len(res.Reasons) > 0 {
			reasons := make([]any, len(res.Reasons))
			for j, reason := range res.Reasons {
				reasons[j] = reason
			}
			m["reasons"] = reasons
		}
		results[i] = m
	}
	return value.MarshalCanonical(map[string]any{
		"run_id":      r.RunID,
		"entity_type": r.EntityType,
		"dry_run":     r.DryRun,
		"counts": map[string]any{
			"elements":  r.Counts.Elements,
			"changed":   r.Counts.Changed,
			"unchanged": r.Counts.Unchanged,
			"invalid":   r.Counts.Invalid,
			"pending":   r.Counts.Pending,
			"created":   r.Counts.Created,
		},
		"imported_entities": imported,
		"elements":          results,
	})
}
