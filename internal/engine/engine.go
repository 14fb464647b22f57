// Package engine turns polled instance snapshots into anomaly events:
// it maintains the per-(connection, metric) rolling buffers and
// detectors, keeps the recent-event ring, persists what fires, and
// hands events to the webhook dispatcher.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_lookout/internal/detector"
	"frameworks/api_lookout/internal/registry"
	"frameworks/api_lookout/internal/stats"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
	"frameworks/api_lookout/pkg/monitoring"
)

const storageOpTimeout = 10 * time.Second

// EventStore is the slice of the storage port the engine writes to.
type EventStore interface {
	SaveAnomalyEvent(ctx context.Context, event models.AnomalyEvent) error
	ResolveAnomaly(ctx context.Context, id string, resolvedAt int64) error
	DeleteResolvedEvents(ctx context.Context, connectionID string) (int64, error)
}

// Notifier receives fired events for webhook fan-out.
type Notifier interface {
	Dispatch(kind models.EventKind, connectionID, host string, port int, data map[string]any)
	EvaluateThreshold(kind models.EventKind, connectionID, host string, port int, value float64, data map[string]any)
}

// Config tunes the engine.
type Config struct {
	BufferCapacity      int
	MinSamples          int
	ConsecutiveRequired int
	Cooldown            time.Duration
	MaxRecentEvents     int
}

// DefaultConfig returns the stock engine tuning.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:      stats.DefaultCapacity,
		MinSamples:          stats.DefaultMinSamples,
		ConsecutiveRequired: 2,
		Cooldown:            30 * time.Second,
		MaxRecentEvents:     1000,
	}
}

// Engine is the per-process anomaly pipeline. Safe for concurrent use;
// each polling loop drives exactly one connection.
type Engine struct {
	cfg        Config
	reg        *registry.Registry
	store      EventStore
	notifier   Notifier
	logger     logging.Logger
	extractors []metricExtractor

	mu        sync.Mutex
	buffers   map[string]*stats.Buffer
	detectors map[string]*detector.Detector

	ring *eventRing

	now   func() time.Time
	newID func() string

	anomaliesTotal *prometheus.CounterVec
}

// New creates an engine. The metrics collector may be nil in tests.
func New(cfg Config, reg *registry.Registry, store EventStore, notifier Notifier, logger logging.Logger, metrics *monitoring.MetricsCollector) *Engine {
	def := DefaultConfig()
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = def.BufferCapacity
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.ConsecutiveRequired <= 0 {
		cfg.ConsecutiveRequired = def.ConsecutiveRequired
	}
	if cfg.MaxRecentEvents <= 0 {
		cfg.MaxRecentEvents = def.MaxRecentEvents
	}

	e := &Engine{
		cfg:        cfg,
		reg:        reg,
		store:      store,
		notifier:   notifier,
		logger:     logger,
		extractors: defaultExtractors(),
		buffers:    make(map[string]*stats.Buffer),
		detectors:  make(map[string]*detector.Detector),
		ring:       newEventRing(cfg.MaxRecentEvents),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if metrics != nil {
		e.anomaliesTotal = metrics.NewCounter("anomalies_total", "Detected anomalies", []string{"severity", "metric", "kind", "connection_id"})
	}
	return e
}

// PollConnection is the poll function for one connection's anomaly
// loop: fetch a snapshot, feed every extractor, emit whatever fires.
func (e *Engine) PollConnection(ctx context.Context, conn *registry.Connection) error {
	snap, err := conn.Client.InfoParsed(ctx)
	if err != nil {
		return fmt.Errorf("info snapshot for %s: %w", conn.ID, err)
	}
	e.reg.MarkHealthy(conn.ID)

	flat := snap.Flatten()
	if n, err := conn.Client.SlowlogLen(ctx); err == nil {
		flat["slowlog_len"] = strconv.FormatInt(n, 10)
	} else {
		e.logger.WithError(err).WithField("connection_id", conn.ID).Debug("Slowlog unavailable this tick")
	}

	now := e.now()
	for _, ex := range e.extractors {
		value, ok := ex.extract(flat)
		if !ok {
			continue
		}

		result := e.processSample(conn.ID, ex, value, now)
		if result != nil {
			e.emit(conn, ex.metric, result, now)
		}
	}

	// Threshold-kind events are evaluated every tick against the raw
	// values; the per-subscriber gate decides what actually fires.
	if v, ok := parseField(flat, "used_memory"); ok {
		e.notifier.EvaluateThreshold(models.EventMemoryCritical, conn.ID, conn.Host, conn.Port, v, nil)
	}
	if v, ok := parseField(flat, "connected_clients"); ok {
		e.notifier.EvaluateThreshold(models.EventConnectionCritical, conn.ID, conn.Host, conn.Port, v, nil)
	}

	return nil
}

func (e *Engine) processSample(connectionID string, ex metricExtractor, value float64, now time.Time) *detector.Result {
	key := connectionID + "\x00" + string(ex.metric)

	// e.mu only guards the maps. Each key is fed by exactly one polling
	// loop, and the buffer locks itself for concurrent readers, so the
	// sample processing below runs outside the engine lock.
	e.mu.Lock()
	buf, ok := e.buffers[key]
	if !ok {
		buf = stats.NewBuffer(e.cfg.BufferCapacity, e.cfg.MinSamples)
		e.buffers[key] = buf
	}
	det, ok := e.detectors[key]
	if !ok {
		det = detector.New(detector.Config{
			ConsecutiveRequired: e.cfg.ConsecutiveRequired,
			Cooldown:            e.cfg.Cooldown,
			Direction:           ex.direction,
			WarnAbs:             ex.warnAbs,
			CritAbs:             ex.critAbs,
		})
		e.detectors[key] = det
	}
	e.mu.Unlock()

	buf.Add(stats.Sample{Value: value, Timestamp: now.UnixMilli()})
	return det.Process(value, buf.Stats(), now)
}

func (e *Engine) emit(conn *registry.Connection, metric models.MetricKind, result *detector.Result, now time.Time) {
	event := models.AnomalyEvent{
		ID:           e.newID(),
		Timestamp:    now.UnixMilli(),
		ConnectionID: conn.ID,
		Metric:       metric,
		Kind:         result.Kind,
		Severity:     result.Severity,
		Value:        result.Value,
		Baseline:     result.Baseline,
		Stddev:       result.Stddev,
		ZScore:       result.ZScore,
		Threshold:    result.Threshold,
		Message: fmt.Sprintf("%s %s: value %.2f deviates from baseline %.2f (z=%.2f)",
			metric, result.Kind, result.Value, result.Baseline, result.ZScore),
		SourceHost: conn.Host,
		SourcePort: conn.Port,
	}

	e.ring.append(&event)

	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	if err := e.store.SaveAnomalyEvent(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to persist anomaly event")
	}
	cancel()

	if e.anomaliesTotal != nil {
		e.anomaliesTotal.WithLabelValues(string(event.Severity), string(metric), string(event.Kind), conn.ID).Inc()
	}

	e.logger.WithFields(logging.Fields{
		"event_id":      event.ID,
		"connection_id": conn.ID,
		"metric":        metric,
		"kind":          event.Kind,
		"severity":      event.Severity,
		"value":         event.Value,
		"z_score":       event.ZScore,
	}).Info("Anomaly detected")

	e.notifier.Dispatch(models.EventAnomalyDetected, conn.ID, conn.Host, conn.Port, map[string]any{
		"anomaly": event,
	})

	switch {
	case metric == models.MetricConnections && result.Kind == models.KindSpike:
		e.notifier.Dispatch(models.EventConnectionSpike, conn.ID, conn.Host, conn.Port, map[string]any{
			"current":   result.Value,
			"baseline":  result.Baseline,
			"threshold": result.Threshold,
		})
	case metric == models.MetricOpsPerSec && result.Kind == models.KindDrop:
		// Throughput collapse approximated as a latency multiple. A full
		// stall has no finite ratio, so it is sent as "inf".
		var currentLatency any = "inf"
		if result.Value != 0 {
			currentLatency = result.Baseline / result.Value
		}
		e.notifier.Dispatch(models.EventLatencySpike, conn.ID, conn.Host, conn.Port, map[string]any{
			"current_latency": currentLatency,
			"baseline":        1.0,
			"threshold":       result.Threshold,
		})
	}
}

// RecentEvents returns up to limit recent events, newest first,
// optionally filtered by metric kind and connection scope.
func (e *Engine) RecentEvents(limit int, metric models.MetricKind, connectionID string) []models.AnomalyEvent {
	return e.ring.snapshot(limit, metric, connectionID)
}

// UncorrelatedEvents exposes the correlator's working set: live ring
// entries with no correlation id.
func (e *Engine) UncorrelatedEvents() []*models.AnomalyEvent {
	return e.ring.uncorrelated()
}

// MarkCorrelated stamps ring entries with their group's correlation id.
func (e *Engine) MarkCorrelated(eventIDs []string, correlationID string) {
	e.ring.setCorrelation(eventIDs, correlationID)
}

// ResolveCorrelated marks every ring member of a group resolved,
// without per-event notifications; group resolution is announced by the
// caller.
func (e *Engine) ResolveCorrelated(correlationID string, resolvedAt int64) {
	e.ring.resolveByCorrelation(correlationID, resolvedAt)
}

// Resolve marks an event resolved in the ring and storage and notifies
// subscribers. Resolving an already-resolved event is a no-op returning
// true; only an unknown id returns false.
func (e *Engine) Resolve(ctx context.Context, id string) bool {
	at := e.now().UnixMilli()
	resolvedNow, found := e.ring.resolve(id, at)
	if !found {
		// Not in the ring (rotated out); storage decides.
		if err := e.store.ResolveAnomaly(ctx, id, at); err != nil {
			e.logger.WithError(err).WithField("event_id", id).Warn("Failed to resolve anomaly")
			return false
		}
		return true
	}
	if !resolvedNow {
		return true
	}

	if err := e.store.ResolveAnomaly(ctx, id, at); err != nil {
		e.logger.WithError(err).WithField("event_id", id).Error("Failed to persist anomaly resolution")
	}

	if event := e.ring.find(id); event != nil {
		e.notifier.Dispatch(models.EventAnomalyResolved, event.ConnectionID, event.SourceHost, event.SourcePort, map[string]any{
			"anomaly": *event,
		})
	}
	return true
}

// ClearResolved drops resolved events from the ring and storage for a
// connection, returning the ring count removed.
func (e *Engine) ClearResolved(ctx context.Context, connectionID string) int {
	cleared := e.ring.clearResolved(connectionID)
	if _, err := e.store.DeleteResolvedEvents(ctx, connectionID); err != nil {
		e.logger.WithError(err).WithField("connection_id", connectionID).Warn("Failed to clear resolved events in storage")
	}
	return cleared
}

// EventStats aggregates the ring for the summary endpoint, scoped to
// one connection when connectionID is non-empty.
func (e *Engine) EventStats(connectionID string) models.AnomalySummary {
	events := e.ring.snapshot(0, "", connectionID)

	summary := models.AnomalySummary{
		TotalEvents: len(events),
		BySeverity:  map[models.Severity]int{},
		ByMetric:    map[models.MetricKind]int{},
		ByPattern:   map[models.Pattern]int{},
	}
	for _, ev := range events {
		summary.BySeverity[ev.Severity]++
		summary.ByMetric[ev.Metric]++
		if ev.Resolved {
			summary.ResolvedEvents++
		} else {
			summary.ActiveEvents++
		}
	}
	return summary
}

// BufferStats reports the rolling windows' state, scoped to one
// connection when connectionID is non-empty.
func (e *Engine) BufferStats(connectionID string) []models.BufferStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.BufferStats, 0, len(e.buffers))
	for key, buf := range e.buffers {
		connID, metric := splitKey(key)
		if connectionID != "" && connID != connectionID {
			continue
		}
		st := buf.Stats()
		out = append(out, models.BufferStats{
			ConnectionID: connID,
			Metric:       metric,
			Count:        st.Count,
			Mean:         st.Mean,
			Stddev:       st.Stddev,
			Min:          st.Min,
			Max:          st.Max,
			IsWarm:       st.IsWarm,
		})
	}
	return out
}

// OnConnectionRemoved releases all per-connection state.
func (e *Engine) OnConnectionRemoved(connectionID string) {
	prefix := connectionID + "\x00"

	e.mu.Lock()
	for key := range e.buffers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(e.buffers, key)
		}
	}
	for key := range e.detectors {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(e.detectors, key)
		}
	}
	e.mu.Unlock()

	e.ring.dropConnection(connectionID)
	e.logger.WithField("connection_id", connectionID).Info("Released anomaly state for removed connection")
}

func splitKey(key string) (string, models.MetricKind) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], models.MetricKind(key[i+1:])
		}
	}
	return key, ""
}
