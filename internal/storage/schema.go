package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS anomaly_events (
		id              TEXT PRIMARY KEY,
		connection_id   TEXT NOT NULL,
		ts              BIGINT NOT NULL,
		metric          TEXT NOT NULL,
		kind            TEXT NOT NULL,
		severity        TEXT NOT NULL,
		value           DOUBLE PRECISION NOT NULL,
		baseline        DOUBLE PRECISION NOT NULL,
		stddev          DOUBLE PRECISION NOT NULL,
		z_score         DOUBLE PRECISION NOT NULL,
		threshold       DOUBLE PRECISION NOT NULL,
		message         TEXT NOT NULL DEFAULT '',
		correlation_id  TEXT NOT NULL DEFAULT '',
		related_metrics TEXT[] NOT NULL DEFAULT '{}',
		resolved        BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at     BIGINT,
		source_host     TEXT NOT NULL DEFAULT '',
		source_port     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_events_conn_ts
		ON anomaly_events (connection_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS correlated_groups (
		correlation_id  TEXT PRIMARY KEY,
		connection_id   TEXT NOT NULL,
		ts              BIGINT NOT NULL,
		pattern         TEXT NOT NULL,
		severity        TEXT NOT NULL,
		diagnosis       TEXT NOT NULL DEFAULT '',
		recommendations TEXT[] NOT NULL DEFAULT '{}',
		anomalies       JSONB NOT NULL DEFAULT '[]',
		resolved        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_correlated_groups_conn_ts
		ON correlated_groups (connection_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id              TEXT PRIMARY KEY,
		connection_id   TEXT NOT NULL DEFAULT '',
		name            TEXT NOT NULL,
		url             TEXT NOT NULL,
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		secret          TEXT NOT NULL,
		events          TEXT[] NOT NULL DEFAULT '{}',
		headers         JSONB NOT NULL DEFAULT '{}',
		retry_policy    JSONB NOT NULL,
		delivery_config JSONB NOT NULL,
		alert_config    JSONB NOT NULL,
		thresholds      JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id            TEXT PRIMARY KEY,
		webhook_id    TEXT NOT NULL REFERENCES webhooks (id) ON DELETE CASCADE,
		connection_id TEXT NOT NULL DEFAULT '',
		event_kind    TEXT NOT NULL,
		payload       BYTEA NOT NULL,
		status        TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		status_code   INTEGER,
		response_body TEXT NOT NULL DEFAULT '',
		next_retry_at TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at  TIMESTAMPTZ,
		duration_ms   BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_retry
		ON webhook_deliveries (status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook
		ON webhook_deliveries (webhook_id, created_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
