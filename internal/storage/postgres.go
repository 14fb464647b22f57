package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
)

// PostgresStore implements Storage on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger logging.Logger
}

var _ Storage = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, logger logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// ---------------------------------------------------------------------------
// Anomaly events

func (s *PostgresStore) SaveAnomalyEvent(ctx context.Context, event models.AnomalyEvent) error {
	related := make([]string, len(event.RelatedMetrics))
	for i, m := range event.RelatedMetrics {
		related[i] = string(m)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomaly_events (
			id, connection_id, ts, metric, kind, severity,
			value, baseline, stddev, z_score, threshold, message,
			correlation_id, related_metrics, resolved, resolved_at,
			source_host, source_port
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		event.ID, event.ConnectionID, event.Timestamp, event.Metric, event.Kind, event.Severity,
		event.Value, event.Baseline, event.Stddev, event.ZScore, event.Threshold, event.Message,
		event.CorrelationID, pq.Array(related), event.Resolved, event.ResolvedAt,
		event.SourceHost, event.SourcePort)
	if err != nil {
		return fmt.Errorf("save anomaly event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnomalyEvents(ctx context.Context, filter EventFilter) ([]models.AnomalyEvent, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, connection_id, ts, metric, kind, severity,
		       value, baseline, stddev, z_score, threshold, message,
		       correlation_id, related_metrics, resolved, resolved_at,
		       source_host, source_port
		FROM anomaly_events
		WHERE 1=1`)

	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ConnectionID != "" {
		query.WriteString(" AND connection_id = " + arg(filter.ConnectionID))
	}
	if filter.Severity != "" {
		query.WriteString(" AND severity = " + arg(string(filter.Severity)))
	}
	if filter.Metric != "" {
		query.WriteString(" AND metric = " + arg(string(filter.Metric)))
	}
	if filter.StartTime > 0 {
		query.WriteString(" AND ts >= " + arg(filter.StartTime))
	}
	if filter.EndTime > 0 {
		query.WriteString(" AND ts <= " + arg(filter.EndTime))
	}
	query.WriteString(" ORDER BY ts DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		query.WriteString(" OFFSET " + arg(filter.Offset))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get anomaly events: %w", err)
	}
	defer rows.Close()

	events := []models.AnomalyEvent{}
	for rows.Next() {
		var e models.AnomalyEvent
		var related []string
		if err := rows.Scan(
			&e.ID, &e.ConnectionID, &e.Timestamp, &e.Metric, &e.Kind, &e.Severity,
			&e.Value, &e.Baseline, &e.Stddev, &e.ZScore, &e.Threshold, &e.Message,
			&e.CorrelationID, pq.Array(&related), &e.Resolved, &e.ResolvedAt,
			&e.SourceHost, &e.SourcePort,
		); err != nil {
			return nil, fmt.Errorf("scan anomaly event: %w", err)
		}
		for _, m := range related {
			e.RelatedMetrics = append(e.RelatedMetrics, models.MetricKind(m))
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ResolveAnomaly marks an event resolved. A repeat resolve is a no-op
// success; sql.ErrNoRows means the id does not exist at all.
func (s *PostgresStore) ResolveAnomaly(ctx context.Context, id string, resolvedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anomaly_events
		SET resolved = TRUE, resolved_at = $2
		WHERE id = $1 AND NOT resolved`,
		id, resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve anomaly: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var resolved bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT resolved FROM anomaly_events WHERE id = $1`, id).Scan(&resolved); err != nil {
			if err == sql.ErrNoRows {
				return sql.ErrNoRows
			}
			return fmt.Errorf("resolve anomaly: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AttachCorrelationID(ctx context.Context, eventIDs []string, correlationID string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE anomaly_events
		SET correlation_id = $1
		WHERE id = ANY($2)`,
		correlationID, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("attach correlation id: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteResolvedEvents(ctx context.Context, connectionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM anomaly_events
		WHERE resolved AND connection_id = $1`,
		connectionID)
	if err != nil {
		return 0, fmt.Errorf("delete resolved events: %w", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Correlated groups

func (s *PostgresStore) SaveCorrelatedGroup(ctx context.Context, group models.CorrelatedGroup) error {
	anomalies, err := json.Marshal(group.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal group anomalies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correlated_groups (
			correlation_id, connection_id, ts, pattern, severity,
			diagnosis, recommendations, anomalies, resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		group.CorrelationID, group.ConnectionID, group.Timestamp, group.Pattern, group.Severity,
		group.Diagnosis, pq.Array(group.Recommendations), anomalies, group.Resolved)
	if err != nil {
		return fmt.Errorf("save correlated group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCorrelatedGroups(ctx context.Context, filter GroupFilter) ([]models.CorrelatedGroup, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT correlation_id, connection_id, ts, pattern, severity,
		       diagnosis, recommendations, anomalies, resolved
		FROM correlated_groups
		WHERE 1=1`)

	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ConnectionID != "" {
		query.WriteString(" AND connection_id = " + arg(filter.ConnectionID))
	}
	if filter.Pattern != "" {
		query.WriteString(" AND pattern = " + arg(string(filter.Pattern)))
	}
	if filter.StartTime > 0 {
		query.WriteString(" AND ts >= " + arg(filter.StartTime))
	}
	if filter.EndTime > 0 {
		query.WriteString(" AND ts <= " + arg(filter.EndTime))
	}
	query.WriteString(" ORDER BY ts DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT " + arg(filter.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get correlated groups: %w", err)
	}
	defer rows.Close()

	groups := []models.CorrelatedGroup{}
	for rows.Next() {
		var g models.CorrelatedGroup
		var anomalies []byte
		if err := rows.Scan(
			&g.CorrelationID, &g.ConnectionID, &g.Timestamp, &g.Pattern, &g.Severity,
			&g.Diagnosis, pq.Array(&g.Recommendations), &anomalies, &g.Resolved,
		); err != nil {
			return nil, fmt.Errorf("scan correlated group: %w", err)
		}
		if len(anomalies) > 0 {
			if err := json.Unmarshal(anomalies, &g.Anomalies); err != nil {
				return nil, fmt.Errorf("unmarshal group anomalies: %w", err)
			}
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) ResolveGroup(ctx context.Context, correlationID string, resolvedAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE correlated_groups
		SET resolved = TRUE
		WHERE correlation_id = $1`,
		correlationID); err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE anomaly_events
		SET resolved = TRUE, resolved_at = $2
		WHERE correlation_id = $1 AND NOT resolved`,
		correlationID, resolvedAt); err != nil {
		return fmt.Errorf("resolve group members: %w", err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Webhooks

const webhookColumns = `
	id, connection_id, name, url, enabled, secret, events, headers,
	retry_policy, delivery_config, alert_config, thresholds,
	created_at, updated_at`

func (s *PostgresStore) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	headers, retryPolicy, deliveryConfig, alertConfig, thresholds, err := marshalWebhookConfigs(webhook)
	if err != nil {
		return err
	}

	events := make([]string, len(webhook.Events))
	for i, e := range webhook.Events {
		events[i] = string(e)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (
			id, connection_id, name, url, enabled, secret, events, headers,
			retry_policy, delivery_config, alert_config, thresholds,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		webhook.ID, webhook.ConnectionID, webhook.Name, webhook.URL, webhook.Enabled,
		webhook.Secret, pq.Array(events), headers,
		retryPolicy, deliveryConfig, alertConfig, thresholds,
		webhook.CreatedAt, webhook.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+webhookColumns+`
		FROM webhooks
		WHERE id = $1`,
		id)
	return scanWebhook(row)
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, connectionID string) ([]models.Webhook, error) {
	query := `
		SELECT` + webhookColumns + `
		FROM webhooks`
	args := []any{}
	if connectionID != "" {
		query += ` WHERE connection_id = '' OR connection_id = $1`
		args = append(args, connectionID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

// GetWebhooksByEvent returns the enabled subscribers for an event kind.
// Subscribers with an empty connection_id match every connection.
func (s *PostgresStore) GetWebhooksByEvent(ctx context.Context, kind models.EventKind, connectionID string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+webhookColumns+`
		FROM webhooks
		WHERE enabled
		  AND $1 = ANY(events)
		  AND (connection_id = '' OR connection_id = $2)
		ORDER BY created_at`,
		string(kind), connectionID)
	if err != nil {
		return nil, fmt.Errorf("get webhooks by event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (s *PostgresStore) UpdateWebhook(ctx context.Context, webhook *models.Webhook) error {
	headers, retryPolicy, deliveryConfig, alertConfig, thresholds, err := marshalWebhookConfigs(webhook)
	if err != nil {
		return err
	}

	events := make([]string, len(webhook.Events))
	for i, e := range webhook.Events {
		events[i] = string(e)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE webhooks
		SET connection_id = $2, name = $3, url = $4, enabled = $5, secret = $6,
		    events = $7, headers = $8, retry_policy = $9, delivery_config = $10,
		    alert_config = $11, thresholds = $12, updated_at = $13
		WHERE id = $1`,
		webhook.ID, webhook.ConnectionID, webhook.Name, webhook.URL, webhook.Enabled,
		webhook.Secret, pq.Array(events), headers, retryPolicy, deliveryConfig,
		alertConfig, thresholds, webhook.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func marshalWebhookConfigs(webhook *models.Webhook) (headers, retryPolicy, deliveryConfig, alertConfig, thresholds []byte, err error) {
	marshal := func(v any) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}

	headers = marshal(webhook.Headers)
	retryPolicy = marshal(webhook.RetryPolicy)
	deliveryConfig = marshal(webhook.DeliveryConfig)
	alertConfig = marshal(webhook.AlertConfig)
	thresholds = marshal(webhook.Thresholds)
	if err != nil {
		err = fmt.Errorf("marshal webhook configs: %w", err)
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhookInto(sc rowScanner, w *models.Webhook) error {
	var events []string
	var headers, retryPolicy, deliveryConfig, alertConfig, thresholds []byte

	if err := sc.Scan(
		&w.ID, &w.ConnectionID, &w.Name, &w.URL, &w.Enabled, &w.Secret,
		pq.Array(&events), &headers, &retryPolicy, &deliveryConfig,
		&alertConfig, &thresholds, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return err
	}

	for _, e := range events {
		w.Events = append(w.Events, models.EventKind(e))
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return fmt.Errorf("unmarshal webhook headers: %w", err)
		}
	}
	if len(retryPolicy) > 0 {
		if err := json.Unmarshal(retryPolicy, &w.RetryPolicy); err != nil {
			return fmt.Errorf("unmarshal retry policy: %w", err)
		}
	}
	if len(deliveryConfig) > 0 {
		if err := json.Unmarshal(deliveryConfig, &w.DeliveryConfig); err != nil {
			return fmt.Errorf("unmarshal delivery config: %w", err)
		}
	}
	if len(alertConfig) > 0 {
		if err := json.Unmarshal(alertConfig, &w.AlertConfig); err != nil {
			return fmt.Errorf("unmarshal alert config: %w", err)
		}
	}
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &w.Thresholds); err != nil {
			return fmt.Errorf("unmarshal thresholds: %w", err)
		}
	}
	return nil
}

func scanWebhook(row *sql.Row) (*models.Webhook, error) {
	var w models.Webhook
	if err := scanWebhookInto(row, &w); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	return &w, nil
}

func scanWebhooks(rows *sql.Rows) ([]models.Webhook, error) {
	webhooks := []models.Webhook{}
	for rows.Next() {
		var w models.Webhook
		if err := scanWebhookInto(rows, &w); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// ---------------------------------------------------------------------------
// Deliveries

const deliveryColumns = `
	id, webhook_id, connection_id, event_kind, payload, status, attempts,
	status_code, response_body, next_retry_at, created_at, completed_at,
	duration_ms`

func (s *PostgresStore) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, connection_id, event_kind, payload, status,
			attempts, status_code, response_body, next_retry_at, created_at,
			completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		delivery.ID, delivery.WebhookID, delivery.ConnectionID, delivery.EventKind,
		delivery.Payload, delivery.Status, delivery.Attempts, delivery.StatusCode,
		delivery.ResponseBody, delivery.NextRetryAt, delivery.CreatedAt,
		delivery.CompletedAt, delivery.DurationMs)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+deliveryColumns+`
		FROM webhook_deliveries
		WHERE id = $1`,
		id)

	var d models.WebhookDelivery
	if err := row.Scan(
		&d.ID, &d.WebhookID, &d.ConnectionID, &d.EventKind, &d.Payload, &d.Status,
		&d.Attempts, &d.StatusCode, &d.ResponseBody, &d.NextRetryAt, &d.CreatedAt,
		&d.CompletedAt, &d.DurationMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		webhookID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (s *PostgresStore) UpdateDelivery(ctx context.Context, id string, update DeliveryUpdate) error {
	set := []string{"status = $2"}
	args := []any{id, string(update.Status)}
	add := func(expr string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(expr, len(args)))
	}

	if update.StatusCode != nil {
		add("status_code = $%d", *update.StatusCode)
	}
	if update.ResponseBody != nil {
		add("response_body = $%d", *update.ResponseBody)
	}
	if update.Attempts != nil {
		add("attempts = $%d", *update.Attempts)
	}
	if update.NextRetryAt != nil {
		add("next_retry_at = $%d", *update.NextRetryAt)
	} else {
		set = append(set, "next_retry_at = NULL")
	}
	if update.CompletedAt != nil {
		add("completed_at = $%d", *update.CompletedAt)
	}
	if update.DurationMs != nil {
		add("duration_ms = $%d", *update.DurationMs)
	}

	query := "UPDATE webhook_deliveries SET " + strings.Join(set, ", ") + " WHERE id = $1"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRetriableDeliveries returns retrying deliveries whose next attempt
// is due.
func (s *PostgresStore) GetRetriableDeliveries(ctx context.Context, limit int, connectionID string) ([]models.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status = 'retrying' AND next_retry_at <= NOW()`
	args := []any{limit}
	if connectionID != "" {
		query += ` AND connection_id = $2`
		args = append(args, connectionID)
	}
	query += `
		ORDER BY next_retry_at
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get retriable deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (s *PostgresStore) GetDeadLetters(ctx context.Context, limit int, connectionID string) ([]models.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status IN ('failed', 'dead_letter')`
	args := []any{limit}
	if connectionID != "" {
		query += ` AND connection_id = $2`
		args = append(args, connectionID)
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get dead letters: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (s *PostgresStore) RetryQueueStats(ctx context.Context, connectionID string) (RetryQueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'dead_letter')),
			MIN(next_retry_at) FILTER (WHERE status = 'retrying')
		FROM webhook_deliveries`
	args := []any{}
	if connectionID != "" {
		query += ` WHERE connection_id = $1`
		args = append(args, connectionID)
	}

	var stats RetryQueueStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Pending, &stats.Retrying, &stats.DeadLetter, &stats.NextRetryAt,
	); err != nil {
		return RetryQueueStats{}, fmt.Errorf("retry queue stats: %w", err)
	}
	return stats, nil
}

func scanDeliveries(rows *sql.Rows) ([]models.WebhookDelivery, error) {
	deliveries := []models.WebhookDelivery{}
	for rows.Next() {
		var d models.WebhookDelivery
		if err := rows.Scan(
			&d.ID, &d.WebhookID, &d.ConnectionID, &d.EventKind, &d.Payload, &d.Status,
			&d.Attempts, &d.StatusCode, &d.ResponseBody, &d.NextRetryAt, &d.CreatedAt,
			&d.CompletedAt, &d.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// ---------------------------------------------------------------------------
// Pruning

func (s *PostgresStore) PruneOldAnomalyEvents(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM anomaly_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune anomaly events: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) PruneOldCorrelatedGroups(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM correlated_groups WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune correlated groups: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) PruneOldDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE created_at < $1 AND status IN ('success', 'failed', 'dead_letter')`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}
