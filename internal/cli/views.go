package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/store"
)

// reportView renders an import report.
type reportView struct {
	*importer.Report
}

func (v reportView) runID() string { return v.RunID }

func (v reportView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Report)
}

func (v reportView) RenderText(w io.Writer) {
	c := v.Counts
	mode := ""
	if v.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "run %s%s: %s\n", v.RunID, mode, v.EntityType)
	fmt.Fprintf(w, "  elements: %d  changed: %d  unchanged: %d  invalid: %d  pending: %d  created: %d\n",
		c.Elements, c.Changed, c.Unchanged, c.Invalid, c.Pending, c.Created)
	if len(v.ImportedEntities) > 0 {
		fmt.Fprintf(w, "  imported entities: %d\n", len(v.ImportedEntities))
	}
	renderInvalid(w, v.Report)
}

// validationView renders a validation-only report.
type validationView struct {
	*importer.Report
}

func (v validationView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Valid    bool                     `json:"valid"`
		Elements int                      `json:"elements"`
		Invalid  []importer.ElementResult `json:"invalid,omitempty"`
	}{
		Valid:    v.Counts.Invalid == 0,
		Elements: v.Counts.Elements,
		Invalid:  v.InvalidResults(),
	})
}

func (v validationView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%d elements, %d valid, %d invalid\n",
		v.Counts.Elements, v.Counts.Elements-v.Counts.Invalid, v.Counts.Invalid)
	renderInvalid(w, v.Report)
}

func renderInvalid(w io.Writer, r *importer.Report) {
	for _, res := range r.InvalidResults() {
		label := fmt.Sprintf("#%d", res.Number)
		if res.Key != "" {
			label += " (" + res.Key + ")"
		}
		if res.CloneOf != nil {
			label += fmt.Sprintf(" admin copy of #%d", *res.CloneOf)
		}
		fmt.Fprintf(w, "  invalid %s: %s\n", label, strings.Join(res.Reasons, "; "))
	}
}

func invalidMessage(r *importer.Report) string {
	if r.Counts.Pending > 0 {
		return fmt.Sprintf("%d elements invalid, %d not attempted", r.Counts.Invalid, r.Counts.Pending)
	}
	return fmt.Sprintf("%d elements invalid", r.Counts.Invalid)
}

// entityView renders the effective values of one entity.
type entityView struct {
	EntityType string            `json:"entity_type"`
	Key        string            `json:"key"`
	EntityID   int64             `json:"entity_id"`
	ScopeID    int64             `json:"scope_id"`
	Values     map[string]string `json:"values"`
}

func (v entityView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s %s (id %d) at scope %d\n", v.EntityType, v.Key, v.EntityID, v.ScopeID)
	codes := make([]string, 0, len(v.Values))
	for code := range v.Values {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %s: %s\n", code, v.Values[code])
	}
}

// runsView renders the run log.
type runsView []store.RunRecord

func (v runsView) RenderText(w io.Writer) {
	if len(v) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range v {
		dry := ""
		if r.DryRun {
			dry = " dry-run"
		}
		fmt.Fprintf(w, "%s  %s  %-9s %s%s  elements=%d changed=%d unchanged=%d invalid=%d created=%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.EntityType, dry,
			r.Elements, r.Changed, r.Unchanged, r.Invalid, r.Created)
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
	}
}

// setupView summarizes an applied setup document.
type setupView struct {
	Websites    int `json:"websites"`
	Scopes      int `json:"scopes"`
	EntityTypes int `json:"entity_types"`
	Attributes  int `json:"attributes"`
	Options     int `json:"options"`
}

func newSetupView(s *store.Setup) setupView {
	v := setupView{Websites: len(s.Websites), Scopes: len(s.Scopes), EntityTypes: len(s.EntityTypes)}
	for _, et := range s.EntityTypes {
		v.Attributes += len(et.Attributes)
		for _, a := range et.Attributes {
			v.Options += len(a.Options)
		}
	}
	return v
}

func (v setupView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "defined %d websites, %d scopes, %d entity types, %d attributes, %d options\n",
		v.Websites, v.Scopes, v.EntityTypes, v.Attributes, v.Options)
}
