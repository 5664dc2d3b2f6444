package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/auditlog"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB is the slice of *sql.DB the store needs. Run creation and run updates
// commit together with their lifecycle event.
type DB interface {
	Execer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const (
	insertRunQuery = `INSERT INTO tracking_runs (
			run_id,
			experiment,
			run_name,
			status,
			started_at
		) VALUES ($1,$2,$3,$4,$5)`

	insertParamQuery = `INSERT INTO tracking_params (run_id, key, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (run_id, key) DO NOTHING`

	insertMetricQuery = `INSERT INTO tracking_metrics (run_id, key, value, step, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`

	upsertTagQuery = `INSERT INTO tracking_tags (run_id, key, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`

	finishRunQuery = `UPDATE tracking_runs
		SET status = $2, ended_at = $3
		WHERE run_id = $1 AND ended_at IS NULL`
)

// Store records runs in Postgres.
type Store struct {
	db         DB
	experiment string
	actor      string
	newID      func() string
}

var _ tracking.Backend = (*Store)(nil)

func New(db DB, experiment, actor string) (*Store, error) {
	if db == nil {
		return nil, errors.New("tracking database is required")
	}
	experiment = strings.TrimSpace(experiment)
	if experiment == "" {
		experiment = "Default"
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "evaluation"
	}
	return &Store{
		db:         db,
		experiment: experiment,
		actor:      actor,
		newID:      uuid.NewString,
	}, nil
}

// CreateRun inserts the run, its tags and the run.started event in one
// transaction; on any failure nothing is left behind.
func (s *Store) CreateRun(ctx context.Context, req tracking.CreateRunRequest) (tracking.RunInfo, error) {
	runID := s.newID()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "run-" + runID[:8]
	}
	started := normalizeTime(req.StartTime)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracking.RunInfo{}, classify("create run: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertRunQuery, runID, s.experiment, name, string(tracking.StatusRunning), started); err != nil {
		return tracking.RunInfo{}, classify("create run", err)
	}
	for _, tag := range req.Tags {
		if err := setTag(ctx, tx, runID, tag); err != nil {
			return tracking.RunInfo{}, err
		}
	}
	if err := s.event(ctx, tx, runID, "run.started", started, map[string]any{
		"experiment": s.experiment,
		"run_name":   name,
	}); err != nil {
		return tracking.RunInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return tracking.RunInfo{}, classify("create run: commit", err)
	}

	return tracking.RunInfo{
		ID:           runID,
		ExperimentID: s.experiment,
		Name:         name,
		Status:       tracking.StatusRunning,
		StartTime:    started,
	}, nil
}

func (s *Store) LogParam(ctx context.Context, runID string, p tracking.Param) error {
	if _, err := s.db.ExecContext(ctx, insertParamQuery, runID, p.Key, p.Value); err != nil {
		return classify("log param", err)
	}
	return nil
}

func (s *Store) LogMetric(ctx context.Context, runID string, m tracking.Metric) error {
	if _, err := s.db.ExecContext(ctx, insertMetricQuery, runID, m.Key, m.Value, m.Step, normalizeTime(m.Timestamp)); err != nil {
		return classify("log metric", err)
	}
	return nil
}

func (s *Store) SetTag(ctx context.Context, runID string, t tracking.Tag) error {
	return setTag(ctx, s.db, runID, t)
}

func setTag(ctx context.Context, db Execer, runID string, t tracking.Tag) error {
	if _, err := db.ExecContext(ctx, upsertTagQuery, runID, t.Key, t.Value); err != nil {
		return classify("set tag", err)
	}
	return nil
}

// UpdateRun ends an open run and records its terminal event in the same
// transaction.
func (s *Store) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	end = normalizeTime(end)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("update run: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, finishRunQuery, runID, string(status), end)
	if err != nil {
		return classify("update run", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &tracking.BackendError{Op: "update run", Code: "RUN_NOT_OPEN", Message: "run " + runID + " is missing or already ended"}
	}
	if err := s.event(ctx, tx, runID, "run."+strings.ToLower(string(status)), end, map[string]any{
		"status": string(status),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("update run: commit", err)
	}
	return nil
}

// Close closes the underlying database when the store was given one it owns.
func (s *Store) Close() error {
	if c, ok := s.db.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) event(ctx context.Context, tx *sql.Tx, runID, action string, at time.Time, payload map[string]any) error {
	_, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt: at,
		RunID:      runID,
		Action:     action,
		Actor:      s.actor,
		Payload:    payload,
	})
	if err != nil {
		return classify(fmt.Sprintf("record %s", action), err)
	}
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
