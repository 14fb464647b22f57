// Package correlator batches recent anomaly events into windowed
// groups, labels each group with a failure pattern, and publishes the
// result to storage and webhook subscribers.
package correlator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
	"frameworks/api_lookout/pkg/monitoring"
)

const (
	// DefaultWindow is the correlation window: events on one connection
	// within this span of each other belong to the same group.
	DefaultWindow = 30 * time.Second

	// DefaultTick is the sweep cadence.
	DefaultTick = 5 * time.Second

	// DefaultMaxRecentGroups bounds the in-memory group ring.
	DefaultMaxRecentGroups = 100

	storageOpTimeout = 10 * time.Second
)

// EventSource is the engine surface the correlator reads and updates.
type EventSource interface {
	UncorrelatedEvents() []*models.AnomalyEvent
	MarkCorrelated(eventIDs []string, correlationID string)
	ResolveCorrelated(correlationID string, resolvedAt int64)
}

// GroupStore is the slice of the storage port the correlator writes to.
type GroupStore interface {
	SaveCorrelatedGroup(ctx context.Context, group models.CorrelatedGroup) error
	AttachCorrelationID(ctx context.Context, eventIDs []string, correlationID string) error
	ResolveGroup(ctx context.Context, correlationID string, resolvedAt int64) error
}

// Notifier publishes group events to webhook subscribers.
type Notifier interface {
	Dispatch(kind models.EventKind, connectionID, host string, port int, data map[string]any)
}

// Correlator sweeps the event ring on its own cadence.
type Correlator struct {
	source   EventSource
	store    GroupStore
	notifier Notifier
	logger   logging.Logger
	window   time.Duration

	mu     sync.RWMutex
	groups []*models.CorrelatedGroup
	maxCap int

	now   func() time.Time
	newID func() string

	groupsTotal *prometheus.CounterVec
}

// New creates a correlator. The metrics collector may be nil in tests.
func New(source EventSource, store GroupStore, notifier Notifier, window time.Duration, logger logging.Logger, metrics *monitoring.MetricsCollector) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Correlator{
		source:   source,
		store:    store,
		notifier: notifier,
		logger:   logger,
		window:   window,
		maxCap:   DefaultMaxRecentGroups,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if metrics != nil {
		c.groupsTotal = metrics.NewCounter("correlated_groups_total", "Correlated anomaly groups by pattern", []string{"pattern", "severity"})
	}
	return c
}

// Sweep runs one correlation pass: bucket the uncorrelated events per
// connection, close the groups whose window has elapsed, and publish
// each group with at least two members. Singletons stay uncorrelated.
func (c *Correlator) Sweep(ctx context.Context) error {
	events := c.source.UncorrelatedEvents()
	if len(events) == 0 {
		return nil
	}

	buckets := map[string][]*models.AnomalyEvent{}
	for _, e := range events {
		buckets[e.ConnectionID] = append(buckets[e.ConnectionID], e)
	}

	nowMs := c.now().UnixMilli()
	windowMs := c.window.Milliseconds()

	for connectionID, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Timestamp < bucket[j].Timestamp })

		var open []*models.AnomalyEvent
		flush := func() {
			if len(open) >= 2 {
				c.publish(ctx, connectionID, open)
			}
			open = nil
		}

		for _, e := range bucket {
			if len(open) > 0 && e.Timestamp-open[0].Timestamp > windowMs {
				flush()
			}
			open = append(open, e)
		}
		// The trailing group only closes once no new event can join it.
		if len(open) > 0 && nowMs-open[0].Timestamp > windowMs {
			flush()
		}
	}

	return nil
}

func (c *Correlator) publish(ctx context.Context, connectionID string, members []*models.AnomalyEvent) {
	correlationID := c.newID()

	ids := make([]string, len(members))
	anomalies := make([]models.AnomalyEvent, len(members))
	severity := models.SeverityInfo
	for i, e := range members {
		ids[i] = e.ID
		anomalies[i] = *e
		if e.Severity.Rank() > severity.Rank() {
			severity = e.Severity
		}
	}

	pattern := matchPattern(members)
	template := templates[pattern]

	group := &models.CorrelatedGroup{
		CorrelationID:   correlationID,
		Timestamp:       c.now().UnixMilli(),
		ConnectionID:    connectionID,
		Pattern:         pattern,
		Severity:        severity,
		Diagnosis:       template.diagnosis,
		Recommendations: template.recommendations,
		Anomalies:       anomalies,
	}

	c.source.MarkCorrelated(ids, correlationID)

	opCtx, cancel := context.WithTimeout(ctx, storageOpTimeout)
	if err := c.store.AttachCorrelationID(opCtx, ids, correlationID); err != nil {
		c.logger.WithError(err).WithField("correlation_id", correlationID).Error("Failed to attach correlation id")
	}
	if err := c.store.SaveCorrelatedGroup(opCtx, *group); err != nil {
		c.logger.WithError(err).WithField("correlation_id", correlationID).Error("Failed to persist correlated group")
	}
	cancel()

	c.mu.Lock()
	c.groups = append(c.groups, group)
	if len(c.groups) > c.maxCap {
		c.groups = c.groups[len(c.groups)-c.maxCap:]
	}
	c.mu.Unlock()

	if c.groupsTotal != nil {
		c.groupsTotal.WithLabelValues(string(pattern), string(severity)).Inc()
	}

	c.logger.WithFields(logging.Fields{
		"correlation_id": correlationID,
		"connection_id":  connectionID,
		"pattern":        pattern,
		"severity":       severity,
		"members":        len(members),
	}).Info("Correlated anomaly group")

	first := members[0]
	c.notifier.Dispatch(models.EventGroupDetected, connectionID, first.SourceHost, first.SourcePort, map[string]any{
		"group": *group,
	})
}

// RecentGroups returns up to limit recent groups, newest first,
// optionally filtered by pattern and connection scope.
func (c *Correlator) RecentGroups(limit int, pattern models.Pattern, connectionID string) []models.CorrelatedGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CorrelatedGroup, 0, len(c.groups))
	for i := len(c.groups) - 1; i >= 0; i-- {
		g := c.groups[i]
		if pattern != "" && g.Pattern != pattern {
			continue
		}
		if connectionID != "" && g.ConnectionID != connectionID {
			continue
		}
		out = append(out, *g)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ResolveGroup marks the group and its member events resolved. Returns
// false for an unknown correlation id.
func (c *Correlator) ResolveGroup(ctx context.Context, correlationID string) bool {
	c.mu.Lock()
	var group *models.CorrelatedGroup
	for _, g := range c.groups {
		if g.CorrelationID == correlationID {
			group = g
			break
		}
	}
	if group != nil {
		group.Resolved = true
	}
	c.mu.Unlock()
	if group == nil {
		return false
	}

	at := c.now().UnixMilli()
	c.source.ResolveCorrelated(correlationID, at)

	if err := c.store.ResolveGroup(ctx, correlationID, at); err != nil {
		c.logger.WithError(err).WithField("correlation_id", correlationID).Error("Failed to persist group resolution")
	}
	return true
}

// GroupStats aggregates the ring for the summary endpoint, scoped to
// one connection when connectionID is non-empty.
func (c *Correlator) GroupStats(connectionID string) (total int, byPattern map[models.Pattern]int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byPattern = map[models.Pattern]int{}
	for _, g := range c.groups {
		if connectionID != "" && g.ConnectionID != connectionID {
			continue
		}
		byPattern[g.Pattern]++
		total++
	}
	return total, byPattern
}
