package pgstore

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tracking_runs (
		run_id      UUID PRIMARY KEY,
		experiment  TEXT NOT NULL,
		run_name    TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_params (
		run_id UUID NOT NULL REFERENCES tracking_runs (run_id) ON DELETE CASCADE,
		key    TEXT NOT NULL,
		value  TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_metrics (
		metric_id   BIGSERIAL PRIMARY KEY,
		run_id      UUID NOT NULL REFERENCES tracking_runs (run_id) ON DELETE CASCADE,
		key         TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		step        BIGINT NOT NULL DEFAULT 0,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tracking_metrics_run_key_idx ON tracking_metrics (run_id, key, step)`,
	`CREATE TABLE IF NOT EXISTS tracking_tags (
		run_id UUID NOT NULL REFERENCES tracking_runs (run_id) ON DELETE CASCADE,
		key    TEXT NOT NULL,
		value  TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_run_events (
		event_id         BIGSERIAL PRIMARY KEY,
		occurred_at      TIMESTAMPTZ NOT NULL,
		run_id           UUID NOT NULL REFERENCES tracking_runs (run_id) ON DELETE CASCADE,
		action           TEXT NOT NULL,
		actor            TEXT NOT NULL,
		payload          JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`,
}

// EnsureSchema creates the tracking tables when they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Sprintf("ensure schema (statement %d)", i), err)
		}
	}
	return nil
}
