package importer

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/capability"
	"github.com/roach88/reconcile/internal/diff"
	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/identity"
	"github.com/roach88/reconcile/internal/run"
	"github.com/roach88/reconcile/internal/store"
	"github.com/roach88/reconcile/internal/validate"
	"github.com/roach88/reconcile/internal/writer"
)

// Backend is everything a run reads from and writes to.
type Backend interface {
	gateway.MetadataService
	gateway.ScopeService
	gateway.IdentityLookup
	gateway.Gateway
}

// RunRecorder persists the import run log. *store.Store implements it.
type RunRecorder interface {
	StartRun(ctx context.Context, runID, entityType string, startedAt time.Time, dryRun bool) error
	FinishRun(ctx context.Context, rec store.RunRecord) error
}

// Engine runs imports against one backend.
type Engine struct {
	backend  Backend
	registry *capability.Registry
	recorder RunRecorder
	tokens   RunTokenGenerator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the time source for run timestamps and timestamp attributes.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRunTokens sets the run token generator.
func WithRunTokens(gen RunTokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// WithRegistry replaces the built-in capability registry.
func WithRegistry(r *capability.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithRunRecorder sets where runs are logged. nil disables the run log.
func WithRunRecorder(rec RunRecorder) Option {
	return func(e *Engine) {
		e.recorder = rec
	}
}

// New returns an engine over b. When b also implements RunRecorder, runs are
// logged to it.
func New(b Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  b,
		registry: capability.DefaultRegistry(capability.Deps{Metadata: b, Scopes: b}),
		tokens:   UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	if rec, ok := b.(RunRecorder); ok {
		e.recorder = rec
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pipeline holds the per-run components built from a profile.
type pipeline struct {
	profile   *Profile
	state     *run.State
	caps      *capability.Set
	diff      *diff.Engine
	validator *validate.Validator
	logger    *slog.Logger
}

func (e *Engine) pipeline(p *Profile, logger *slog.Logger) (*pipeline, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	caps, err := e.registry.Bind(p.Bindings())
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidProfile)
	}
	engine := diff.NewEngine(e.backend, p.diffOptions(), logger)
	cfg := validate.Config{
		EntityType:      p.EntityType,
		ElementKey:      p.ElementKey,
		IgnoreUnknown:   *p.IgnoreUnknownAttributes,
		UnknownWarnOnly: p.UnknownAttributesWarnOnly,
		Ignore:          set(p.IgnoreAttributes),
		Special:         p.SpecialAttributes,
	}
	return &pipeline{
		profile:   p,
		state:     run.NewState(),
		caps:      caps,
		diff:      engine,
		validator: validate.New(cfg, e.backend, e.backend, caps, engine, logger),
		logger:    logger,
	}, nil
}

// Validate runs only the validation stage. Nothing is written and no run is logged.
func (e *Engine) Validate(ctx context.Context, p *Profile, elements []*element.Element) (*Report, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	pl, err := e.pipeline(p, e.logger.With("entity_type", p.EntityLogName))
	if err != nil {
		return nil, err
	}
	pl.validator.Validate(ctx, elements, pl.state)
	return newReport("", p, elements, pl.state), nil
}

// Run imports elements. Element failures are reported, not returned. The returned
// error is non-nil when the profile is unusable, the run log cannot be written, or a
// chunk failed; in the last case the partial report is returned with it.
func (e *Engine) Run(ctx context.Context, p *Profile, elements []*element.Element) (*Report, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	runID := e.tokens.Generate()
	logger := e.logger.With("run_id", runID, "entity_type", p.EntityLogName)

	pl, err := e.pipeline(p, logger)
	if err != nil {
		return nil, err
	}

	started := e.now()
	if e.recorder != nil {
		if err := e.recorder.StartRun(ctx, runID, p.EntityType, started, p.DryRun); err != nil {
			return nil, errors.Wrap(err, "record run start")
		}
	}
	logger.Info("import started", "elements", len(elements), "chunk_size", *p.ChunkSize, "dry_run", p.DryRun)

	st := pl.state
	pl.validator.Validate(ctx, elements, st)

	resolver := identity.NewResolver(e.backend, p.EntityType, p.ElementKey, logger)
	working, partition := resolver.Resolve(ctx, elements, st, p.UpdateAdminScope)
	logger.Info("identities resolved", "create", len(partition.Create), "update", len(partition.Update))

	w := writer.New(e.backend, pl.diff, pl.caps, pl.validator.Skip, p.writerConfig(),
		writer.WithClock(e.now), writer.WithLogger(logger))
	writeErr := w.Write(ctx, working, st)

	report := newReport(runID, p, slices.Concat(elements, partition.AdminClones), st)
	logger.Info("import finished",
		"changed", report.Counts.Changed,
		"unchanged", report.Counts.Unchanged,
		"invalid", report.Counts.Invalid,
		"created", report.Counts.Created)

	if e.recorder != nil {
		rec := store.RunRecord{
			ID:         runID,
			FinishedAt: e.now(),
			Elements:   report.Counts.Elements,
			Changed:    report.Counts.Changed,
			Unchanged:  report.Counts.Unchanged,
			Invalid:    report.Counts.Invalid,
			Created:    report.Counts.Created,
			Status:     store.RunCompleted,
		}
		if writeErr != nil {
			rec.Status = store.RunAborted
			rec.Error = writeErr.Error()
		}
		if err := e.recorder.FinishRun(ctx, rec); err != nil {
			return report, errors.CombineErrors(writeErr, errors.Wrap(err, "record run finish"))
		}
	}
	return report, writeErr
}
