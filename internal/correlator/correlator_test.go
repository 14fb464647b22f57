package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
)

type fakeSource struct {
	mu       sync.Mutex
	events   []*models.AnomalyEvent
	resolved []string
}

func (s *fakeSource) UncorrelatedEvents() []*models.AnomalyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnomalyEvent
	for _, e := range s.events {
		if e.CorrelationID == "" && !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSource) MarkCorrelated(ids []string, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := map[string]bool{}
	for _, id := range ids {
		idSet[id] = true
	}
	for _, e := range s.events {
		if idSet[e.ID] {
			e.CorrelationID = correlationID
		}
	}
}

func (s *fakeSource) ResolveCorrelated(correlationID string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			e.Resolved = true
			e.ResolvedAt = &at
		}
	}
	s.resolved = append(s.resolved, correlationID)
}

type fakeGroupStore struct {
	mu       sync.Mutex
	groups   []models.CorrelatedGroup
	attached map[string]string
	resolved []string
}

func (s *fakeGroupStore) SaveCorrelatedGroup(_ context.Context, g models.CorrelatedGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, g)
	return nil
}

func (s *fakeGroupStore) AttachCorrelationID(_ context.Context, ids []string, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == nil {
		s.attached = map[string]string{}
	}
	for _, id := range ids {
		s.attached[id] = correlationID
	}
	return nil
}

func (s *fakeGroupStore) ResolveGroup(_ context.Context, correlationID string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, correlationID)
	return nil
}

type fakeGroupNotifier struct {
	mu    sync.Mutex
	kinds []models.EventKind
}

func (n *fakeGroupNotifier) Dispatch(kind models.EventKind, _, _ string, _ int, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func event(id, conn string, metric models.MetricKind, kind models.AnomalyKind, severity models.Severity, ts int64) *models.AnomalyEvent {
	return &models.AnomalyEvent{
		ID:           id,
		ConnectionID: conn,
		Metric:       metric,
		Kind:         kind,
		Severity:     severity,
		Timestamp:    ts,
		SourceHost:   "localhost",
		SourcePort:   6379,
	}
}

func newTestCorrelator(source *fakeSource, store *fakeGroupStore, notifier *fakeGroupNotifier, nowMs int64) *Correlator {
	c := New(source, store, notifier, 30*time.Second, logging.NewLoggerWithService("correlator-test"), nil)
	c.now = func() time.Time { return time.UnixMilli(nowMs) }
	return c
}

func TestMemoryPressureGroup(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	source := &fakeSource{events: []*models.AnomalyEvent{
		event("e1", "conn-a", models.MetricMemoryUsed, models.KindSpike, models.SeverityWarning, base),
		event("e2", "conn-a", models.MetricEvictedKeys, models.KindSpike, models.SeverityCritical, base+5000),
	}}
	store := &fakeGroupStore{}
	notifier := &fakeGroupNotifier{}

	// Sweep well after the window closed.
	c := newTestCorrelator(source, store, notifier, base+60_000)
	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	groups := c.RecentGroups(0, "", "")
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Pattern != models.PatternMemoryPressure {
		t.Fatalf("pattern = %s, want memory-pressure", g.Pattern)
	}
	if g.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want critical (max of members)", g.Severity)
	}
	if len(g.Anomalies) != 2 {
		t.Fatalf("members = %d, want 2", len(g.Anomalies))
	}
	if g.Diagnosis == "" || len(g.Recommendations) == 0 {
		t.Fatal("group missing diagnosis or recommendations")
	}

	// Both members got the correlation id, in memory and in storage.
	for _, e := range source.events {
		if e.CorrelationID != g.CorrelationID {
			t.Fatalf("event %s correlation = %q, want %q", e.ID, e.CorrelationID, g.CorrelationID)
		}
	}
	if store.attached["e1"] != g.CorrelationID || store.attached["e2"] != g.CorrelationID {
		t.Fatalf("storage attachments = %v", store.attached)
	}
	if len(store.groups) != 1 {
		t.Fatalf("persisted groups = %d, want 1", len(store.groups))
	}
	if len(notifier.kinds) != 1 || notifier.kinds[0] != models.EventGroupDetected {
		t.Fatalf("dispatches = %v, want [anomaly.group]", notifier.kinds)
	}
}

func TestSingletonIsNotGrouped(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	source := &fakeSource{events: []*models.AnomalyEvent{
		event("only", "conn-a", models.MetricConnections, models.KindSpike, models.SeverityWarning, base),
	}}
	c := newTestCorrelator(source, &fakeGroupStore{}, &fakeGroupNotifier{}, base+60_000)

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if groups := c.RecentGroups(0, "", ""); len(groups) != 0 {
		t.Fatalf("singleton produced %d groups", len(groups))
	}
}

func TestOpenWindowDefersGrouping(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	source := &fakeSource{events: []*models.AnomalyEvent{
		event("e1", "conn-a", models.MetricMemoryUsed, models.KindSpike, models.SeverityWarning, base),
		event("e2", "conn-a", models.MetricEvictedKeys, models.KindSpike, models.SeverityWarning, base+1000),
	}}
	store := &fakeGroupStore{}
	notifier := &fakeGroupNotifier{}

	// Sweeping while the window is still open must not close the group.
	c := newTestCorrelator(source, store, notifier, base+10_000)
	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if groups := c.RecentGroups(0, "", ""); len(groups) != 0 {
		t.Fatalf("open window produced %d groups", len(groups))
	}

	// After the window elapses the group closes.
	c.now = func() time.Time { return time.UnixMilli(base + 40_000) }
	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if groups := c.RecentGroups(0, "", ""); len(groups) != 1 {
		t.Fatalf("got %d groups after window close, want 1", len(groups))
	}
}

func TestEventsSplitAcrossConnections(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	source := &fakeSource{events: []*models.AnomalyEvent{
		event("a1", "conn-a", models.MetricMemoryUsed, models.KindSpike, models.SeverityWarning, base),
		event("a2", "conn-a", models.MetricEvictedKeys, models.KindSpike, models.SeverityWarning, base+1000),
		event("b1", "conn-b", models.MetricOpsPerSec, models.KindSpike, models.SeverityWarning, base),
		event("b2", "conn-b", models.MetricConnections, models.KindSpike, models.SeverityWarning, base+1000),
	}}
	c := newTestCorrelator(source, &fakeGroupStore{}, &fakeGroupNotifier{}, base+60_000)

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	groups := c.RecentGroups(0, "", "")
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	byConn := map[string]models.Pattern{}
	for _, g := range groups {
		byConn[g.ConnectionID] = g.Pattern
	}
	if byConn["conn-a"] != models.PatternMemoryPressure {
		t.Fatalf("conn-a pattern = %s", byConn["conn-a"])
	}
	if byConn["conn-b"] != models.PatternTrafficSurge {
		t.Fatalf("conn-b pattern = %s", byConn["conn-b"])
	}

	// Scoped queries only see their own connection's groups.
	scoped := c.RecentGroups(0, "", "conn-a")
	if len(scoped) != 1 || scoped[0].ConnectionID != "conn-a" {
		t.Fatalf("scoped groups = %+v, want one conn-a group", scoped)
	}
	total, byPattern := c.GroupStats("conn-b")
	if total != 1 || byPattern[models.PatternTrafficSurge] != 1 {
		t.Fatalf("scoped stats = %d %v", total, byPattern)
	}
}

func TestResolveGroupCascades(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	source := &fakeSource{events: []*models.AnomalyEvent{
		event("e1", "conn-a", models.MetricMemoryUsed, models.KindSpike, models.SeverityWarning, base),
		event("e2", "conn-a", models.MetricEvictedKeys, models.KindSpike, models.SeverityWarning, base+1000),
	}}
	store := &fakeGroupStore{}
	c := newTestCorrelator(source, store, &fakeGroupNotifier{}, base+60_000)

	if err := c.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	g := c.RecentGroups(1, "", "")[0]

	if !c.ResolveGroup(context.Background(), g.CorrelationID) {
		t.Fatal("resolve returned false for a known group")
	}
	if c.ResolveGroup(context.Background(), "no-such-group") {
		t.Fatal("resolve returned true for an unknown group")
	}

	if got := c.RecentGroups(1, "", "")[0]; !got.Resolved {
		t.Fatal("group not marked resolved")
	}
	for _, e := range source.events {
		if !e.Resolved {
			t.Fatalf("member %s not resolved", e.ID)
		}
	}
	if len(store.resolved) != 1 || store.resolved[0] != g.CorrelationID {
		t.Fatalf("storage resolutions = %v", store.resolved)
	}
}

func TestPatternPriority(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000_000)
	tests := []struct {
		name    string
		members []*models.AnomalyEvent
		want    models.Pattern
	}{
		{
			name: "auth storm wins over cascade",
			members: []*models.AnomalyEvent{
				event("1", "c", models.MetricACLDenied, models.KindSpike, models.SeverityCritical, base),
				event("2", "c", models.MetricMemoryUsed, models.KindSpike, models.SeverityCritical, base),
				event("3", "c", models.MetricEvictedKeys, models.KindSpike, models.SeverityCritical, base),
			},
			want: models.PatternAuthStorm,
		},
		{
			name: "cascading failure needs a critical",
			members: []*models.AnomalyEvent{
				event("1", "c", models.MetricConnections, models.KindSpike, models.SeverityCritical, base),
				event("2", "c", models.MetricOpsPerSec, models.KindDrop, models.SeverityWarning, base),
				event("3", "c", models.MetricBlockedClients, models.KindSpike, models.SeverityWarning, base),
			},
			want: models.PatternCascadingFailure,
		},
		{
			name: "slow query burst",
			members: []*models.AnomalyEvent{
				event("1", "c", models.MetricSlowlogCount, models.KindSpike, models.SeverityWarning, base),
				event("2", "c", models.MetricOpsPerSec, models.KindDrop, models.SeverityWarning, base),
			},
			want: models.PatternSlowQueryBurst,
		},
		{
			name: "fragmentation drift",
			members: []*models.AnomalyEvent{
				event("1", "c", models.MetricFragmentationRatio, models.KindSpike, models.SeverityWarning, base),
				event("2", "c", models.MetricFragmentationRatio, models.KindSpike, models.SeverityWarning, base),
				event("3", "c", models.MetricFragmentationRatio, models.KindSpike, models.SeverityCritical, base),
			},
			want: models.PatternFragmentation,
		},
		{
			name: "unknown fallback",
			members: []*models.AnomalyEvent{
				event("1", "c", models.MetricKeyspaceMisses, models.KindSpike, models.SeverityWarning, base),
				event("2", "c", models.MetricBlockedClients, models.KindSpike, models.SeverityWarning, base),
			},
			want: models.PatternUnknown,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := matchPattern(tt.members); got != tt.want {
				t.Fatalf("pattern = %s, want %s", got, tt.want)
			}
		})
	}
}
