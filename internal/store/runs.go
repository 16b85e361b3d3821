package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/reconcile/internal/value"
)

// Run statuses recorded in import_runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// RunRecord is one row of the import run log.
type RunRecord struct {
	ID         string    `json:"run_id"`
	EntityType string    `json:"entity_type"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Elements   int       `json:"elements"`
	Changed    int       `json:"changed"`
	Unchanged  int       `json:"unchanged"`
	Invalid    int       `json:"invalid"`
	Created    int       `json:"created"`
	DryRun     bool      `json:"dry_run"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// StartRun records the start of an import run.
func (s *Store) StartRun(ctx context.Context, runID, entityType string, startedAt time.Time, dryRun bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (run_id, entity_type, started_at, dry_run, status)
		VALUES (?, ?, ?, ?, ?)
	`, runID, entityType, formatTime(startedAt), boolInt(dryRun), RunRunning)
	if err != nil {
		return errors.Wrapf(err, "start run %s", runID)
	}
	return nil
}

// FinishRun stores the outcome of a run. status is RunCompleted or RunAborted.
func (s *Store) FinishRun(ctx context.Context, rec RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_runs SET
			finished_at = ?, elements = ?, changed = ?, unchanged = ?, invalid = ?,
			created = ?, status = ?, error = ?
		WHERE run_id = ?
	`, formatTime(rec.FinishedAt), rec.Elements, rec.Changed, rec.Unchanged, rec.Invalid,
		rec.Created, rec.Status, rec.Error, rec.ID)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", rec.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf("finish run %s: run was never started", rec.ID)
	}
	return nil
}

// Runs returns the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, entity_type, started_at, finished_at, elements, changed, unchanged,
			invalid, created, dry_run, status, error
		FROM import_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		var finished sql.NullString
		var dryRun int
		if err := rows.Scan(&rec.ID, &rec.EntityType, &started, &finished, &rec.Elements, &rec.Changed,
			&rec.Unchanged, &rec.Invalid, &rec.Created, &dryRun, &rec.Status, &rec.Error); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		rec.StartedAt = parseTime(started)
		if finished.Valid {
			rec.FinishedAt = parseTime(finished.String)
		}
		rec.DryRun = dryRun != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(value.DateTimeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.ParseInLocation(value.DateTimeLayout, s, time.UTC)
	return t
}
