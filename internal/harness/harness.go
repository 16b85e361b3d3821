package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/store"
	"github.com/roach88/reconcile/internal/testutil"
)

// timeBetweenRuns separates the clock readings of consecutive runs.
const timeBetweenRuns = time.Minute

// Harness executes one scenario against its own store.
type Harness struct {
	store    *store.Store
	engine   *importer.Engine
	clock    *testutil.FixedClock
	scenario *Scenario
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh SQLite database in a temporary directory, which is
// removed afterwards. The store pools connections, so an in-memory database
// would give each connection its own empty catalog.
//
// Execution flow:
// 1. Create the database and apply the scenario's setup
// 2. Execute each run in order with the shared profile and the run's overrides
// 3. Check each run's expected counts
// 4. Evaluate assertions against the final state
//
// The returned error reports infrastructure failures. Scenario failures are
// recorded in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "reconcile-harness-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scenario directory")
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	defer st.Close()

	h := newHarness(st, scenario)
	return h.run(ctx)
}

func newHarness(st *store.Store, scenario *Scenario) *Harness {
	prefix := scenario.RunID
	if prefix == "" {
		prefix = "test-run"
	}
	tokens := make([]string, len(scenario.Runs))
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFixedClock(testutil.DefaultNow)
	eng := importer.New(st,
		importer.WithLogger(logger),
		importer.WithClock(clock.Now),
		importer.WithRunTokens(testutil.NewRunTokens(tokens...)))

	return &Harness{
		store:    st,
		engine:   eng,
		clock:    clock,
		scenario: scenario,
	}
}

func (h *Harness) run(ctx context.Context) (*Result, error) {
	if err := h.store.ApplySetup(ctx, &h.scenario.Setup); err != nil {
		return nil, errors.Wrap(err, "failed to apply setup")
	}

	result := NewResult()
	for i := range h.scenario.Runs {
		step := &h.scenario.Runs[i]
		report, err := h.execute(ctx, step)
		if err != nil && report == nil {
			return nil, errors.Wrapf(err, "run %d", i)
		}
		if err != nil {
			// Chunk failures still yield a report; the scenario asserts on it.
			result.AddError(fmt.Sprintf("run %d: %v", i, err))
		}
		result.Reports = append(result.Reports, report)
		checkCounts(result, i, step.Expect, report.Counts)

		// Each run gets a distinct timestamp, as real runs would.
		h.clock.Advance(timeBetweenRuns)
	}

	if err := h.evaluate(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step *RunStep) (*importer.Report, error) {
	elements, err := element.FromNode(&step.Elements)
	if err != nil {
		return nil, errors.Wrap(err, "decode elements")
	}

	profile := h.scenario.Profile
	if step.DryRun {
		profile.DryRun = true
	}
	if step.UpdateAdminScope {
		profile.UpdateAdminScope = true
	}
	if step.ChunkSize != nil {
		size := *step.ChunkSize
		profile.ChunkSize = &size
	}
	return h.engine.Run(ctx, &profile, elements)
}

func checkCounts(result *Result, run int, want *ExpectCounts, got importer.Counts) {
	if want == nil {
		return
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			result.AddError(fmt.Sprintf("run %d: expected %d %s, got %d", run, *want, name, got))
		}
	}
	check("changed", want.Changed, got.Changed)
	check("unchanged", want.Unchanged, got.Unchanged)
	check("invalid", want.Invalid, got.Invalid)
	check("pending", want.Pending, got.Pending)
	check("created", want.Created, got.Created)
}
