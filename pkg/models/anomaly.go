package models

// MetricKind identifies a monitored instance metric.
type MetricKind string

const (
	MetricConnections        MetricKind = "connections"
	MetricOpsPerSec          MetricKind = "ops_per_sec"
	MetricMemoryUsed         MetricKind = "memory_used"
	MetricInputKbps          MetricKind = "input_kbps"
	MetricOutputKbps         MetricKind = "output_kbps"
	MetricSlowlogCount       MetricKind = "slowlog_count"
	MetricACLDenied          MetricKind = "acl_denied"
	MetricEvictedKeys        MetricKind = "evicted_keys"
	MetricBlockedClients     MetricKind = "blocked_clients"
	MetricKeyspaceMisses     MetricKind = "keyspace_misses"
	MetricFragmentationRatio MetricKind = "fragmentation_ratio"
)

// AnomalyKind distinguishes upward from downward excursions.
type AnomalyKind string

const (
	KindSpike AnomalyKind = "spike"
	KindDrop  AnomalyKind = "drop"
)

// Severity ranks anomalies and correlated groups.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordinal for severity comparison (higher is worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AnomalyEvent is a single detected metric excursion on one connection.
// Immutable after creation except Resolved/ResolvedAt and CorrelationID.
type AnomalyEvent struct {
	ID             string       `json:"id"`
	Timestamp      int64        `json:"timestamp"` // epoch-ms
	ConnectionID   string       `json:"connection_id"`
	Metric         MetricKind   `json:"metric"`
	Kind           AnomalyKind  `json:"kind"`
	Severity       Severity     `json:"severity"`
	Value          float64      `json:"value"`
	Baseline       float64      `json:"baseline"`
	Stddev         float64      `json:"stddev"`
	ZScore         float64      `json:"z_score"`
	Threshold      float64      `json:"threshold"`
	Message        string       `json:"message"`
	CorrelationID  string       `json:"correlation_id,omitempty"`
	RelatedMetrics []MetricKind `json:"related_metrics,omitempty"`
	Resolved       bool         `json:"resolved"`
	ResolvedAt     *int64       `json:"resolved_at,omitempty"`
	SourceHost     string       `json:"source_host"`
	SourcePort     int          `json:"source_port"`
}

// Pattern names a diagnosed co-occurrence of anomalies.
type Pattern string

const (
	PatternCascadingFailure  Pattern = "cascading-failure"
	PatternMemoryPressure    Pattern = "memory-pressure"
	PatternTrafficSurge      Pattern = "traffic-surge"
	PatternAuthStorm         Pattern = "auth-storm"
	PatternReplicationStress Pattern = "replication-stress"
	PatternSlowQueryBurst    Pattern = "slow-query-burst"
	PatternEvictionCascade   Pattern = "eviction-cascade"
	PatternFragmentation     Pattern = "fragmentation-drift"
	PatternUnknown           Pattern = "unknown"
)

// CorrelatedGroup is a windowed set of anomalies labelled with a pattern.
type CorrelatedGroup struct {
	CorrelationID   string         `json:"correlation_id"`
	Timestamp       int64          `json:"timestamp"`
	ConnectionID    string         `json:"connection_id"`
	Pattern         Pattern        `json:"pattern"`
	Severity        Severity       `json:"severity"`
	Diagnosis       string         `json:"diagnosis"`
	Recommendations []string       `json:"recommendations"`
	Anomalies       []AnomalyEvent `json:"anomalies"`
	Resolved        bool           `json:"resolved"`
}

// AnomalySummary aggregates the recent event/group history.
type AnomalySummary struct {
	TotalEvents    int                `json:"total_events"`
	TotalGroups    int                `json:"total_groups"`
	BySeverity     map[Severity]int   `json:"by_severity"`
	ByMetric       map[MetricKind]int `json:"by_metric"`
	ByPattern      map[Pattern]int    `json:"by_pattern"`
	ActiveEvents   int                `json:"active_events"`
	ResolvedEvents int                `json:"resolved_events"`
}

// BufferStats reports the state of one (connection, metric) rolling window.
type BufferStats struct {
	ConnectionID string     `json:"connection_id"`
	Metric       MetricKind `json:"metric"`
	Count        int        `json:"count"`
	Mean         float64    `json:"mean"`
	Stddev       float64    `json:"stddev"`
	Min          float64    `json:"min"`
	Max          float64    `json:"max"`
	IsWarm       bool       `json:"is_warm"`
}
