package correlator

import "frameworks/api_lookout/pkg/models"

// matchPattern labels a closed group. Rules are evaluated in priority
// order; the first hit wins.
func matchPattern(members []*models.AnomalyEvent) models.Pattern {
	byMetric := map[models.MetricKind][]*models.AnomalyEvent{}
	distinct := 0
	anyCritical := false
	for _, e := range members {
		if len(byMetric[e.Metric]) == 0 {
			distinct++
		}
		byMetric[e.Metric] = append(byMetric[e.Metric], e)
		if e.Severity == models.SeverityCritical {
			anyCritical = true
		}
	}

	hasKind := func(metric models.MetricKind, kind models.AnomalyKind) bool {
		for _, e := range byMetric[metric] {
			if e.Kind == kind {
				return true
			}
		}
		return false
	}

	switch {
	case hasCriticalACLDenied(byMetric) && len(members) >= 2:
		return models.PatternAuthStorm
	case len(byMetric[models.MetricMemoryUsed]) > 0 &&
		(len(byMetric[models.MetricEvictedKeys]) > 0 || len(byMetric[models.MetricFragmentationRatio]) > 0):
		return models.PatternMemoryPressure
	case distinct >= 3 && anyCritical:
		return models.PatternCascadingFailure
	case hasKind(models.MetricOpsPerSec, models.KindSpike) && hasKind(models.MetricConnections, models.KindSpike):
		return models.PatternTrafficSurge
	case len(byMetric[models.MetricSlowlogCount]) > 0 && hasKind(models.MetricOpsPerSec, models.KindDrop):
		return models.PatternSlowQueryBurst
	case len(byMetric[models.MetricEvictedKeys]) > 0 && len(byMetric[models.MetricMemoryUsed]) > 0:
		return models.PatternEvictionCascade
	case len(byMetric[models.MetricFragmentationRatio]) >= 3:
		return models.PatternFragmentation
	default:
		return models.PatternUnknown
	}
}

func hasCriticalACLDenied(byMetric map[models.MetricKind][]*models.AnomalyEvent) bool {
	for _, e := range byMetric[models.MetricACLDenied] {
		if e.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

type patternTemplate struct {
	diagnosis       string
	recommendations []string
}

// templates holds the operator-facing diagnosis per pattern.
var templates = map[models.Pattern]patternTemplate{
	models.PatternAuthStorm: {
		diagnosis: "Burst of rejected or ACL-denied connections, likely a credential sweep, a misconfigured client fleet, or an expired password rolled out partially.",
		recommendations: []string{
			"Inspect ACL LOG for the offending users and source addresses",
			"Check for recently rotated credentials that clients may still be using",
			"Consider rate-limiting or firewalling the offending sources",
		},
	},
	models.PatternMemoryPressure: {
		diagnosis: "Memory usage is climbing together with evictions or fragmentation, indicating the working set no longer fits the configured maxmemory.",
		recommendations: []string{
			"Review maxmemory and the eviction policy against the current working set",
			"Run MEMORY DOCTOR and check for oversized keys",
			"Consider scaling memory or sharding hot keyspaces",
		},
	},
	models.PatternCascadingFailure: {
		diagnosis: "Multiple unrelated metrics are degrading at once, consistent with an instance-wide failure such as host saturation, swap, or a failing disk.",
		recommendations: []string{
			"Check host-level CPU, memory, and I/O saturation",
			"Inspect the server log for persistence or replication errors",
			"Prepare a failover target in case the instance degrades further",
		},
	},
	models.PatternTrafficSurge: {
		diagnosis: "Connection and throughput spikes are arriving together, typically an upstream traffic surge or a retry storm from a degraded dependency.",
		recommendations: []string{
			"Correlate with upstream deploys or traffic events",
			"Verify client-side connection pooling and backoff settings",
			"Raise maxclients only if the host has headroom",
		},
	},
	models.PatternReplicationStress: {
		diagnosis: "Replication lag and output bandwidth are elevated, indicating replicas cannot keep up with the write rate.",
		recommendations: []string{
			"Check replica host capacity and network throughput",
			"Review client-output-buffer-limit for replicas",
			"Consider a dedicated replication link or fewer replicas per primary",
		},
	},
	models.PatternSlowQueryBurst: {
		diagnosis: "Slow commands are accumulating while throughput drops, pointing at expensive operations blocking the event loop.",
		recommendations: []string{
			"Inspect SLOWLOG GET for the offending commands",
			"Replace KEYS/full scans with SCAN-based access",
			"Move expensive aggregations off the hot path",
		},
	},
	models.PatternEvictionCascade: {
		diagnosis: "Evictions are spiking alongside memory growth; cached data is being dropped faster than it can be refilled.",
		recommendations: []string{
			"Raise maxmemory or tune the eviction policy",
			"Audit TTL distribution for simultaneous expiry waves",
			"Check for a new workload writing large values",
		},
	},
	models.PatternFragmentation: {
		diagnosis: "The fragmentation ratio has stayed elevated across consecutive samples; the allocator is holding significantly more RSS than live data.",
		recommendations: []string{
			"Enable or tune activedefrag",
			"Schedule a rolling restart during a low-traffic window",
			"Review workloads that churn many differently-sized values",
		},
	},
	models.PatternUnknown: {
		diagnosis: "Co-occurring anomalies without a recognised signature; inspect the member events for the common cause.",
		recommendations: []string{
			"Review the grouped events and their timing",
			"Correlate with recent configuration or workload changes",
		},
	},
}
