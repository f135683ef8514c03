package hotstore

import (
	"context"
	"fmt"
)

// Schema bootstrap runs at startup before any server accepts traffic. All
// statements are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		trace_id TEXT NOT NULL DEFAULT '',
		span_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_project_timestamp ON logs (project_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_session ON logs (session_id) WHERE session_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_logs_trace ON logs (trace_id) WHERE trace_id <> ''`,

	`CREATE TABLE IF NOT EXISTS spans (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		span_id TEXT NOT NULL,
		parent_span_id TEXT NOT NULL DEFAULT '',
		operation TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		events JSONB NOT NULL DEFAULT '[]',
		session_id TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans (trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans (start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_session ON spans (session_id) WHERE session_id <> ''`,

	`CREATE TABLE IF NOT EXISTS metric_series (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name TEXT NOT NULL,
		labels JSONB NOT NULL DEFAULT '{}',
		series_key TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_series_name ON metric_series (name)`,

	`CREATE TABLE IF NOT EXISTS metric_samples (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		series_id BIGINT NOT NULL REFERENCES metric_series (id),
		timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_samples_series_timestamp
		ON metric_samples (series_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_samples_timestamp ON metric_samples (timestamp)`,

	`CREATE TABLE IF NOT EXISTS rotation_batches (
		id TEXT PRIMARY KEY,
		signal TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		object_path TEXT NOT NULL,
		record_count INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rotation_batches_signal_range
		ON rotation_batches (signal, start_time, end_time)`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL,
		query JSONB NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		condition TEXT NOT NULL,
		for_seconds INT NOT NULL,
		state TEXT NOT NULL,
		state_entered_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL REFERENCES alert_rules (id) ON DELETE CASCADE,
		fired_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		value DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_rule ON alert_events (rule_id, fired_at)`,
}

func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run hot store migration: %w", err)
		}
	}
	return nil
}
