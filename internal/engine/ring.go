package engine

import (
	"sync"

	"frameworks/api_lookout/pkg/models"
)

// eventRing is a bounded FIFO of recent anomaly events. Entries are
// shared pointers so correlation and resolution updates are visible to
// every reader.
type eventRing struct {
	mu     sync.RWMutex
	events []*models.AnomalyEvent
	cap    int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{cap: capacity}
}

func (r *eventRing) append(e *models.AnomalyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// snapshot returns copies of the newest events, newest first. A zero
// limit returns everything; empty metric and connection ids match all.
func (r *eventRing) snapshot(limit int, metric models.MetricKind, connectionID string) []models.AnomalyEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AnomalyEvent, 0, len(r.events))
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if metric != "" && e.Metric != metric {
			continue
		}
		if connectionID != "" && e.ConnectionID != connectionID {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// uncorrelated returns pointers to live events with no correlation id,
// oldest first, for the correlator sweep.
func (r *eventRing) uncorrelated() []*models.AnomalyEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.AnomalyEvent{}
	for _, e := range r.events {
		if e.CorrelationID == "" && !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

// find returns the live entry with the given id.
func (r *eventRing) find(id string) *models.AnomalyEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// setCorrelation stamps a correlation id on the given events.
func (r *eventRing) setCorrelation(ids []string, correlationID string) {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if idSet[e.ID] {
			e.CorrelationID = correlationID
		}
	}
}

// resolve marks an event resolved. found reports whether the id is in
// the ring at all; an entry that was already resolved returns
// (false, true) so callers can treat the repeat as a no-op.
func (r *eventRing) resolve(id string, at int64) (resolvedNow, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			if e.Resolved {
				return false, true
			}
			e.Resolved = true
			e.ResolvedAt = &at
			return true, true
		}
	}
	return false, false
}

// resolveByCorrelation marks every member of a group resolved.
func (r *eventRing) resolveByCorrelation(correlationID string, at int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.CorrelationID == correlationID && !e.Resolved {
			e.Resolved = true
			e.ResolvedAt = &at
		}
	}
}

// clearResolved drops resolved events for a connection and reports how
// many were removed. An empty connection id clears every connection.
func (r *eventRing) clearResolved(connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	cleared := 0
	for _, e := range r.events {
		if e.Resolved && (connectionID == "" || e.ConnectionID == connectionID) {
			cleared++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return cleared
}

// dropConnection removes every event belonging to a connection.
func (r *eventRing) dropConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	for _, e := range r.events {
		if e.ConnectionID != connectionID {
			kept = append(kept, e)
		}
	}
	r.events = kept
}

func (r *eventRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
