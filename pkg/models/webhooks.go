package models

import "time"

// EventKind is a webhook-subscribable event name.
type EventKind string

const (
	EventAnomalyDetected    EventKind = "anomaly.detected"
	EventAnomalyResolved    EventKind = "anomaly.resolved"
	EventGroupDetected      EventKind = "anomaly.group"
	EventConnectionSpike    EventKind = "connection.spike"
	EventLatencySpike       EventKind = "latency.spike"
	EventMemoryCritical     EventKind = "memory.critical"
	EventConnectionCritical EventKind = "connection.critical"
)

// KnownEventKinds lists every kind a subscription may select.
var KnownEventKinds = []EventKind{
	EventAnomalyDetected,
	EventAnomalyResolved,
	EventGroupDetected,
	EventConnectionSpike,
	EventLatencySpike,
	EventMemoryCritical,
	EventConnectionCritical,
}

// IsKnownEventKind reports whether kind is subscribable.
func IsKnownEventKind(kind EventKind) bool {
	for _, k := range KnownEventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RetryPolicy bounds delivery retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries     int     `json:"max_retries"`
	InitialDelayMs int64   `json:"initial_delay_ms"`
	Multiplier     float64 `json:"multiplier"`
	MaxDelayMs     int64   `json:"max_delay_ms"`
}

// DeliveryConfig bounds a single delivery attempt.
type DeliveryConfig struct {
	TimeoutMs            int64 `json:"timeout_ms"`
	MaxResponseBodyBytes int   `json:"max_response_body_bytes"`
}

// AlertConfig tunes threshold-alert behaviour per subscriber.
type AlertConfig struct {
	HysteresisFactor float64 `json:"hysteresis_factor"`
}

// Webhook is a registered event subscriber.
type Webhook struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	URL            string             `json:"url"`
	Enabled        bool               `json:"enabled"`
	Secret         string             `json:"secret"`
	Events         []EventKind        `json:"events"`
	Headers        map[string]string  `json:"headers,omitempty"`
	RetryPolicy    RetryPolicy        `json:"retry_policy"`
	DeliveryConfig DeliveryConfig     `json:"delivery_config"`
	AlertConfig    AlertConfig        `json:"alert_config"`
	Thresholds     map[string]float64 `json:"thresholds,omitempty"`
	ConnectionID   string             `json:"connection_id,omitempty"` // empty = all connections
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// DefaultRetryPolicy returns the stock retry schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		InitialDelayMs: 1000,
		Multiplier:     2.0,
		MaxDelayMs:     60000,
	}
}

// DefaultDeliveryConfig returns the stock attempt bounds.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		TimeoutMs:            30000,
		MaxResponseBodyBytes: 4096,
	}
}

// DefaultAlertConfig returns the stock hysteresis factor.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{HysteresisFactor: 0.9}
}

// DeliveryStatus is the lifecycle state of one webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryRetrying   DeliveryStatus = "retrying"
	DeliverySuccess    DeliveryStatus = "success"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// WebhookDelivery records one logical delivery and its attempts.
type WebhookDelivery struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	ConnectionID string         `json:"connection_id"`
	EventKind    EventKind      `json:"event_kind"`
	Payload      []byte         `json:"payload"`
	Status       DeliveryStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	StatusCode   *int           `json:"status_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"` // truncated
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
}

// IsDeadLetter reports whether a delivery has exhausted its retry
// budget: the initial attempt plus maxRetries retries all failed.
func (d WebhookDelivery) IsDeadLetter(maxRetries int) bool {
	return d.Status == DeliveryFailed && d.Attempts > maxRetries
}
