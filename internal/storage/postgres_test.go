package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	store := NewPostgresStore(db, logging.NewLoggerWithService("storage-test"))
	return store, mock, func() { _ = db.Close() }
}

func eventColumns() []string {
	return []string{
		"id", "connection_id", "ts", "metric", "kind", "severity",
		"value", "baseline", "stddev", "z_score", "threshold", "message",
		"correlation_id", "related_metrics", "resolved", "resolved_at",
		"source_host", "source_port",
	}
}

func TestSaveAnomalyEvent(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO anomaly_events").
		WithArgs(
			"evt-1", "conn-a", int64(1700000000000), "memory_used", "spike", "critical",
			2048.0, 1024.0, 128.0, 8.0, 3.0, "memory_used spike",
			"", sqlmock.AnyArg(), false, nil, "localhost", 6379,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveAnomalyEvent(context.Background(), models.AnomalyEvent{
		ID:           "evt-1",
		ConnectionID: "conn-a",
		Timestamp:    1700000000000,
		Metric:       models.MetricMemoryUsed,
		Kind:         models.KindSpike,
		Severity:     models.SeverityCritical,
		Value:        2048,
		Baseline:     1024,
		Stddev:       128,
		ZScore:       8,
		Threshold:    3,
		Message:      "memory_used spike",
		SourceHost:   "localhost",
		SourcePort:   6379,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetAnomalyEventsFiltersByConnection(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	// Rows written under conn-a must never surface when reading conn-b:
	// the query carries the connection filter as a bind arg.
	mock.ExpectQuery(`FROM anomaly_events\s+WHERE 1=1 AND connection_id = \$1`).
		WithArgs("conn-b", int64(10)).
		WillReturnRows(sqlmock.NewRows(eventColumns()).AddRow(
			"evt-2", "conn-b", int64(1700000001000), "connections", "spike", "warning",
			99.0, 40.0, 10.0, 5.9, 2.0, "connections spike",
			"", "{}", false, nil, "localhost", 6380,
		))

	events, err := store.GetAnomalyEvents(context.Background(), EventFilter{
		ConnectionID: "conn-b",
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].ConnectionID != "conn-b" {
		t.Fatalf("connection = %q, want conn-b", events[0].ConnectionID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetAnomalyEventsCombinedFilters(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectQuery(`AND connection_id = \$1 AND severity = \$2 AND metric = \$3 AND ts >= \$4 AND ts <= \$5`).
		WithArgs("conn-a", "critical", "memory_used", int64(100), int64(200), int64(5), int64(10)).
		WillReturnRows(sqlmock.NewRows(eventColumns()))

	_, err := store.GetAnomalyEvents(context.Background(), EventFilter{
		ConnectionID: "conn-a",
		Severity:     models.SeverityCritical,
		Metric:       models.MetricMemoryUsed,
		StartTime:    100,
		EndTime:      200,
		Limit:        5,
		Offset:       10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveAnomaly(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec(`UPDATE anomaly_events\s+SET resolved = TRUE`).
		WithArgs("evt-1", int64(1700000002000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ResolveAnomaly(context.Background(), "evt-1", 1700000002000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Resolving again touches no rows; the existence probe finds the
	// event already resolved and the call is a no-op success.
	mock.ExpectExec(`UPDATE anomaly_events\s+SET resolved = TRUE`).
		WithArgs("evt-1", int64(1700000003000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT resolved FROM anomaly_events WHERE id = \$1`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"resolved"}).AddRow(true))

	if err := store.ResolveAnomaly(context.Background(), "evt-1", 1700000003000); err != nil {
		t.Fatalf("repeat resolve: %v, want no-op success", err)
	}

	mock.ExpectExec(`UPDATE anomaly_events\s+SET resolved = TRUE`).
		WithArgs("evt-unknown", int64(1700000002000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT resolved FROM anomaly_events WHERE id = \$1`).
		WithArgs("evt-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"resolved"}))

	if err := store.ResolveAnomaly(context.Background(), "evt-unknown", 1700000002000); err != sql.ErrNoRows {
		t.Fatalf("err = %v, want sql.ErrNoRows for unknown id", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAttachCorrelationID(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec(`UPDATE anomaly_events\s+SET correlation_id = \$1`).
		WithArgs("corr-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.AttachCorrelationID(context.Background(), []string{"evt-1", "evt-2"}, "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Empty id list is a no-op without touching the database.
	if err := store.AttachCorrelationID(context.Background(), nil, "corr-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetWebhooksByEventScopesConnection(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectQuery(`WHERE enabled\s+AND \$1 = ANY\(events\)\s+AND \(connection_id = '' OR connection_id = \$2\)`).
		WithArgs("anomaly.detected", "conn-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "connection_id", "name", "url", "enabled", "secret", "events", "headers",
			"retry_policy", "delivery_config", "alert_config", "thresholds",
			"created_at", "updated_at",
		}).AddRow(
			"wh-1", "", "ops", "https://example.com/hook", true, "s3cr3t",
			"{anomaly.detected}", `{"X-Env":"prod"}`,
			`{"max_retries":5,"initial_delay_ms":1000,"multiplier":2,"max_delay_ms":60000}`,
			`{"timeout_ms":30000,"max_response_body_bytes":4096}`,
			`{"hysteresis_factor":0.9}`, `{}`,
			time.Now(), time.Now(),
		))

	hooks, err := store.GetWebhooksByEvent(context.Background(), models.EventAnomalyDetected, "conn-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hooks) != 1 {
		t.Fatalf("got %d webhooks, want 1", len(hooks))
	}
	if hooks[0].RetryPolicy.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want 5", hooks[0].RetryPolicy.MaxRetries)
	}
	if hooks[0].Headers["X-Env"] != "prod" {
		t.Fatalf("headers = %v", hooks[0].Headers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateDeliveryPartial(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	code := 500
	attempts := 2
	next := time.Now().Add(2 * time.Second)
	mock.ExpectExec(`UPDATE webhook_deliveries SET status = \$2, status_code = \$3, attempts = \$4, next_retry_at = \$5 WHERE id = \$1`).
		WithArgs("dlv-1", "retrying", 500, 2, next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateDelivery(context.Background(), "dlv-1", DeliveryUpdate{
		Status:      models.DeliveryRetrying,
		StatusCode:  &code,
		Attempts:    &attempts,
		NextRetryAt: &next,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateDeliveryUnknownID(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec(`UPDATE webhook_deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateDelivery(context.Background(), "missing", DeliveryUpdate{Status: models.DeliverySuccess})
	if err != sql.ErrNoRows {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestRetryQueueStats(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	next := time.Now().Add(5 * time.Second)
	mock.ExpectQuery(`FROM webhook_deliveries\s+WHERE connection_id = \$1`).
		WithArgs("conn-a").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "retrying", "dead", "next"}).
			AddRow(3, 2, 1, next))

	stats, err := store.RetryQueueStats(context.Background(), "conn-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 3 || stats.Retrying != 2 || stats.DeadLetter != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.NextRetryAt == nil {
		t.Fatal("next retry missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPruneOldAnomalyEvents(t *testing.T) {
	store, mock, done := newTestStore(t)
	defer done()

	mock.ExpectExec(`DELETE FROM anomaly_events WHERE ts < \$1`).
		WithArgs(int64(1690000000000)).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := store.PruneOldAnomalyEvents(context.Background(), 1690000000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Fatalf("pruned = %d, want 42", n)
	}
}
