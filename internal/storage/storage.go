// Package storage persists anomaly events, correlated groups, webhook
// subscribers, and delivery records. Every row carries a connection_id;
// reads filtered by connection never see another connection's rows.
package storage

import (
	"context"
	"time"

	"frameworks/api_lookout/pkg/models"
)

// EventFilter narrows GetAnomalyEvents. Zero fields are ignored.
type EventFilter struct {
	ConnectionID string
	Severity     models.Severity
	Metric       models.MetricKind
	StartTime    int64 // epoch-ms, inclusive
	EndTime      int64 // epoch-ms, inclusive
	Limit        int
	Offset       int
}

// GroupFilter narrows GetCorrelatedGroups. Zero fields are ignored.
type GroupFilter struct {
	ConnectionID string
	Pattern      models.Pattern
	StartTime    int64
	EndTime      int64
	Limit        int
}

// DeliveryUpdate is a partial update of a delivery record. Nil pointers
// leave the column untouched.
type DeliveryUpdate struct {
	Status       models.DeliveryStatus
	StatusCode   *int
	ResponseBody *string
	Attempts     *int
	NextRetryAt  *time.Time
	CompletedAt  *time.Time
	DurationMs   *int64
}

// RetryQueueStats summarises the delivery backlog.
type RetryQueueStats struct {
	Pending     int        `json:"pending"`
	Retrying    int        `json:"retrying"`
	DeadLetter  int        `json:"dead_letter"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Storage is the persistence port the engine, correlator, dispatcher,
// and HTTP handlers depend on. Implementations must be safe for
// concurrent use.
type Storage interface {
	SaveAnomalyEvent(ctx context.Context, event models.AnomalyEvent) error
	GetAnomalyEvents(ctx context.Context, filter EventFilter) ([]models.AnomalyEvent, error)
	ResolveAnomaly(ctx context.Context, id string, resolvedAt int64) error
	AttachCorrelationID(ctx context.Context, eventIDs []string, correlationID string) error
	DeleteResolvedEvents(ctx context.Context, connectionID string) (int64, error)

	SaveCorrelatedGroup(ctx context.Context, group models.CorrelatedGroup) error
	GetCorrelatedGroups(ctx context.Context, filter GroupFilter) ([]models.CorrelatedGroup, error)
	ResolveGroup(ctx context.Context, correlationID string, resolvedAt int64) error

	CreateWebhook(ctx context.Context, webhook *models.Webhook) error
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, connectionID string) ([]models.Webhook, error)
	GetWebhooksByEvent(ctx context.Context, kind models.EventKind, connectionID string) ([]models.Webhook, error)
	UpdateWebhook(ctx context.Context, webhook *models.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error

	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, id string, update DeliveryUpdate) error
	GetRetriableDeliveries(ctx context.Context, limit int, connectionID string) ([]models.WebhookDelivery, error)
	GetDeadLetters(ctx context.Context, limit int, connectionID string) ([]models.WebhookDelivery, error)
	RetryQueueStats(ctx context.Context, connectionID string) (RetryQueueStats, error)

	PruneOldAnomalyEvents(ctx context.Context, cutoff int64) (int64, error)
	PruneOldCorrelatedGroups(ctx context.Context, cutoff int64) (int64, error)
	PruneOldDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}
