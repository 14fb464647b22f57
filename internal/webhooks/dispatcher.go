// Package webhooks implements the signed event fan-out: subscriber
// resolution, threshold gating, HMAC signing, delivery with bounded
// retry, and the dead-letter queue.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_lookout/internal/storage"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
	"frameworks/api_lookout/pkg/monitoring"
)

const (
	// SignatureHeader carries the lowercase hex HMAC-SHA-256 of the body.
	SignatureHeader = "X-Webhook-Signature"
	// TimestampHeader carries the send time as decimal epoch-ms.
	TimestampHeader = "X-Webhook-Timestamp"

	// DefaultMaxInFlight caps concurrent delivery attempts globally.
	DefaultMaxInFlight = 32

	// DefaultRetryScanInterval is the cadence of the redrive scan.
	DefaultRetryScanInterval = 10 * time.Second

	storageOpTimeout = 10 * time.Second
)

// Instance identifies the monitored database an event refers to.
type Instance struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Payload is the canonical webhook body. The signature covers the
// exact serialized bytes.
type Payload struct {
	ID        string           `json:"id"`
	Event     models.EventKind `json:"event"`
	Timestamp int64            `json:"timestamp"`
	Instance  Instance         `json:"instance"`
	Data      map[string]any   `json:"data"`
}

func encodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// thresholdKeys maps threshold-kind events to the subscriber threshold
// setting they are gated on.
var thresholdKeys = map[models.EventKind]string{
	models.EventMemoryCritical:     string(models.MetricMemoryUsed),
	models.EventConnectionCritical: string(models.MetricConnections),
}

// Dispatcher fans events out to subscribers. All delivery work runs on
// background goroutines; Dispatch never blocks the caller on I/O.
type Dispatcher struct {
	store  storage.Storage
	client *resty.Client
	gate   *ThresholdGate
	logger logging.Logger

	inflight chan struct{}

	mu              sync.Mutex
	subscriberLocks map[string]*sync.Mutex
	redriving       map[string]bool

	now   func() time.Time
	newID func() string

	wg     sync.WaitGroup
	stopCh chan struct{}

	deliveriesTotal *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
}

// NewDispatcher creates a dispatcher. The metrics collector may be nil
// in tests.
func NewDispatcher(store storage.Storage, logger logging.Logger, metrics *monitoring.MetricsCollector, maxInFlight int) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	d := &Dispatcher{
		store:           store,
		client:          resty.New(),
		gate:            NewThresholdGate(),
		logger:          logger,
		inflight:        make(chan struct{}, maxInFlight),
		subscriberLocks: make(map[string]*sync.Mutex),
		redriving:       make(map[string]bool),
		now:             time.Now,
		newID:           uuid.NewString,
		stopCh:          make(chan struct{}),
	}
	if metrics != nil {
		d.deliveriesTotal = metrics.NewCounter("webhook_deliveries_total", "Webhook delivery attempts by outcome", []string{"event", "status"})
		d.attemptDuration = metrics.NewHistogram("webhook_attempt_duration_seconds", "Webhook POST round-trip time", []string{"event"}, nil)
	}
	return d
}

// Gate exposes the threshold gate, for subscriber teardown.
func (d *Dispatcher) Gate() *ThresholdGate {
	return d.gate
}

// Dispatch resolves the subscribers for an event and schedules one
// delivery per subscriber.
func (d *Dispatcher) Dispatch(kind models.EventKind, connectionID, host string, port int, data map[string]any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fanOut(kind, connectionID, host, port, data)
	}()
}

// EvaluateThreshold runs a threshold-kind event through each
// subscriber's gate. A subscriber only gets the event when its own
// configured threshold is freshly crossed; clearing follows hysteresis.
func (d *Dispatcher) EvaluateThreshold(kind models.EventKind, connectionID, host string, port int, value float64, data map[string]any) {
	key, ok := thresholdKeys[kind]
	if !ok {
		d.Dispatch(kind, connectionID, host, port, data)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
		subscribers, err := d.store.GetWebhooksByEvent(ctx, kind, connectionID)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithField("event", kind).Warn("Failed to resolve threshold subscribers")
			return
		}

		for i := range subscribers {
			sub := subscribers[i]
			threshold, configured := sub.Thresholds[key]
			if !configured {
				continue
			}

			gateKey := key + ":" + connectionID
			if d.gate.Clear(sub.ID, gateKey, value, threshold, sub.AlertConfig.HysteresisFactor) == GateCleared {
				d.logger.WithFields(logging.Fields{
					"webhook_id": sub.ID,
					"event":      kind,
					"value":      value,
				}).Info("Threshold alert cleared")
				continue
			}
			if d.gate.Activate(sub.ID, gateKey, value, threshold) != GateFire {
				continue
			}

			payload := data
			if payload == nil {
				payload = map[string]any{}
			}
			payload["value"] = value
			payload["threshold"] = threshold
			d.deliverTo(sub, kind, connectionID, host, port, payload)
		}
	}()
}

func (d *Dispatcher) fanOut(kind models.EventKind, connectionID, host string, port int, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	subscribers, err := d.store.GetWebhooksByEvent(ctx, kind, connectionID)
	cancel()
	if err != nil {
		d.logger.WithError(err).WithField("event", kind).Warn("Failed to resolve subscribers")
		return
	}

	for i := range subscribers {
		d.deliverTo(subscribers[i], kind, connectionID, host, port, data)
	}
}

// deliverTo creates the delivery record and schedules its first attempt.
func (d *Dispatcher) deliverTo(sub models.Webhook, kind models.EventKind, connectionID, host string, port int, data map[string]any) {
	body, err := encodePayload(Payload{
		ID:        d.newID(),
		Event:     kind,
		Timestamp: d.now().UnixMilli(),
		Instance:  Instance{Host: host, Port: port},
		Data:      data,
	})
	if err != nil {
		d.logger.WithError(err).WithField("event", kind).Error("Failed to encode webhook payload")
		return
	}

	delivery := &models.WebhookDelivery{
		ID:           d.newID(),
		WebhookID:    sub.ID,
		ConnectionID: connectionID,
		EventKind:    kind,
		Payload:      body,
		Status:       models.DeliveryPending,
		CreatedAt:    d.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	err = d.store.CreateDelivery(ctx, delivery)
	cancel()
	if err != nil {
		d.logger.WithError(err).WithField("webhook_id", sub.ID).Error("Failed to record delivery")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runAttempt(sub, delivery)
	}()
}

// runAttempt performs one delivery attempt under the global in-flight
// cap and the per-subscriber lock.
func (d *Dispatcher) runAttempt(sub models.Webhook, delivery *models.WebhookDelivery) {
	select {
	case d.inflight <- struct{}{}:
	case <-d.stopCh:
		return
	}
	defer func() { <-d.inflight }()

	lock := d.subscriberLock(sub.ID)
	lock.Lock()
	defer lock.Unlock()

	d.attempt(sub, delivery)
}

func (d *Dispatcher) attempt(sub models.Webhook, delivery *models.WebhookDelivery) {
	attemptNo := delivery.Attempts + 1
	retryPolicy := sub.RetryPolicy
	if retryPolicy.MaxRetries <= 0 {
		retryPolicy = models.DefaultRetryPolicy()
	}
	deliveryConfig := sub.DeliveryConfig
	if deliveryConfig.TimeoutMs <= 0 {
		deliveryConfig = models.DefaultDeliveryConfig()
	}

	statusCode, responseBody, duration, postErr := d.post(sub, delivery.Payload, deliveryConfig)

	if len(responseBody) > deliveryConfig.MaxResponseBodyBytes {
		responseBody = responseBody[:deliveryConfig.MaxResponseBodyBytes]
	}

	now := d.now()
	durationMs := duration.Milliseconds()
	update := storage.DeliveryUpdate{
		Attempts:   &attemptNo,
		DurationMs: &durationMs,
	}
	if postErr == nil {
		update.StatusCode = &statusCode
		update.ResponseBody = &responseBody
	}

	switch classifyOutcome(statusCode, postErr) {
	case models.DeliverySuccess:
		update.Status = models.DeliverySuccess
		update.CompletedAt = &now
	case models.DeliveryFailed:
		update.Status = models.DeliveryFailed
		update.CompletedAt = &now
	default:
		// maxRetries counts retries after the first attempt, so a
		// delivery gets maxRetries+1 attempts before dead-lettering.
		if attemptNo <= retryPolicy.MaxRetries {
			update.Status = models.DeliveryRetrying
			next := now.Add(retryDelay(retryPolicy, attemptNo))
			update.NextRetryAt = &next
		} else {
			update.Status = models.DeliveryFailed
			update.CompletedAt = &now
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()
	if err := d.store.UpdateDelivery(ctx, delivery.ID, update); err != nil {
		d.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("Failed to update delivery")
	}

	delivery.Attempts = attemptNo
	delivery.Status = update.Status

	if d.deliveriesTotal != nil {
		d.deliveriesTotal.WithLabelValues(string(delivery.EventKind), string(update.Status)).Inc()
	}
	if d.attemptDuration != nil {
		d.attemptDuration.WithLabelValues(string(delivery.EventKind)).Observe(duration.Seconds())
	}

	fields := logging.Fields{
		"delivery_id": delivery.ID,
		"webhook_id":  sub.ID,
		"event":       delivery.EventKind,
		"attempt":     attemptNo,
		"status":      update.Status,
		"duration_ms": durationMs,
	}
	if postErr != nil {
		d.logger.WithError(postErr).WithFields(fields).Warn("Webhook delivery attempt failed")
	} else {
		fields["status_code"] = statusCode
		d.logger.WithFields(fields).Debug("Webhook delivery attempt")
	}
}

// post sends the signed request. Returns the HTTP status, response
// body, and round-trip time; a non-nil error means a network failure or
// timeout.
func (d *Dispatcher) post(sub models.Webhook, body []byte, cfg models.DeliveryConfig) (int, string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, Sign(sub.Secret, body)).
		SetHeader(TimestampHeader, strconv.FormatInt(d.now().UnixMilli(), 10))
	// Subscriber headers land last so they win on collisions.
	for k, v := range sub.Headers {
		req.SetHeader(k, v)
	}

	start := d.now()
	resp, err := req.SetBody(body).Post(sub.URL)
	duration := d.now().Sub(start)
	if err != nil {
		return 0, "", duration, err
	}
	return resp.StatusCode(), string(resp.Body()), duration, nil
}

// classifyOutcome maps an attempt result to a delivery status.
// Retryable outcomes return DeliveryRetrying; the caller applies the
// retry budget.
func classifyOutcome(statusCode int, err error) models.DeliveryStatus {
	switch {
	case err != nil:
		return models.DeliveryRetrying
	case statusCode >= 200 && statusCode < 300:
		return models.DeliverySuccess
	case statusCode == 408 || statusCode == 429:
		return models.DeliveryRetrying
	case statusCode >= 400 && statusCode < 500:
		return models.DeliveryFailed
	default:
		return models.DeliveryRetrying
	}
}

// retryDelay computes the backoff before the next attempt, with up to
// ±20% jitter.
func retryDelay(policy models.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delayMs := float64(policy.InitialDelayMs) * math.Pow(policy.Multiplier, float64(attempt-1))
	delayMs = math.Min(delayMs, float64(policy.MaxDelayMs))
	delayMs *= 0.8 + 0.4*rand.Float64()
	return time.Duration(delayMs) * time.Millisecond
}

func (d *Dispatcher) subscriberLock(id string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.subscriberLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		d.subscriberLocks[id] = lock
	}
	return lock
}

// StartRetryScan launches the periodic redrive of due retries.
func (d *Dispatcher) StartRetryScan(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetryScanInterval
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.scanRetries()
			}
		}
	}()
}

func (d *Dispatcher) scanRetries() {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	due, err := d.store.GetRetriableDeliveries(ctx, 100, "")
	cancel()
	if err != nil {
		d.logger.WithError(err).Warn("Retry scan failed")
		return
	}

	for i := range due {
		delivery := due[i]
		if !d.claimRedrive(delivery.ID) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.releaseRedrive(delivery.ID)
			d.redrive(&delivery)
		}()
	}
}

func (d *Dispatcher) redrive(delivery *models.WebhookDelivery) {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	sub, err := d.store.GetWebhook(ctx, delivery.WebhookID)
	cancel()
	if err != nil {
		// Subscriber is gone, the delivery can never succeed.
		now := d.now()
		ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
		defer cancel()
		_ = d.store.UpdateDelivery(ctx, delivery.ID, storage.DeliveryUpdate{
			Status:      models.DeliveryFailed,
			CompletedAt: &now,
		})
		return
	}
	d.runAttempt(*sub, delivery)
}

func (d *Dispatcher) claimRedrive(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.redriving[id] {
		return false
	}
	d.redriving[id] = true
	return true
}

func (d *Dispatcher) releaseRedrive(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.redriving, id)
}

// Requeue puts a dead-lettered delivery back on the retry queue with a
// fresh attempt budget.
func (d *Dispatcher) Requeue(ctx context.Context, deliveryID string) error {
	delivery, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != models.DeliveryFailed && delivery.Status != models.DeliveryDeadLetter {
		return fmt.Errorf("delivery %s is %s, only failed deliveries can be requeued", deliveryID, delivery.Status)
	}

	zero := 0
	now := d.now()
	return d.store.UpdateDelivery(ctx, deliveryID, storage.DeliveryUpdate{
		Status:      models.DeliveryRetrying,
		Attempts:    &zero,
		NextRetryAt: &now,
	})
}

// TestResult is the outcome of a synchronous test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// TestDelivery performs one synchronous delivery of a test payload and
// reports the outcome without recording a delivery row.
func (d *Dispatcher) TestDelivery(ctx context.Context, webhookID string) (TestResult, error) {
	sub, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return TestResult{}, err
	}

	body, err := encodePayload(Payload{
		ID:        d.newID(),
		Event:     "webhook.test",
		Timestamp: d.now().UnixMilli(),
		Data:      map[string]any{"message": "test delivery"},
	})
	if err != nil {
		return TestResult{}, err
	}

	deliveryConfig := sub.DeliveryConfig
	if deliveryConfig.TimeoutMs <= 0 {
		deliveryConfig = models.DefaultDeliveryConfig()
	}

	statusCode, _, duration, postErr := d.post(*sub, body, deliveryConfig)
	result := TestResult{
		StatusCode: statusCode,
		DurationMs: duration.Milliseconds(),
	}
	if postErr != nil {
		result.Error = postErr.Error()
		return result, nil
	}
	result.Success = statusCode >= 200 && statusCode < 300
	return result, nil
}

// Stop halts the retry scan and waits for in-flight work, bounded by
// the context deadline.
func (d *Dispatcher) Stop(ctx context.Context) {
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("Dispatcher stopped with deliveries still in flight")
	}
}
