package engine

import (
	"strconv"

	"frameworks/api_lookout/internal/detector"
	"frameworks/api_lookout/pkg/models"
)

// metricExtractor turns one field (or combination) of the flattened
// info snapshot into a sample for its metric kind. A false return means
// the field is absent and the metric is skipped this tick.
type metricExtractor struct {
	metric    models.MetricKind
	direction detector.Direction
	warnAbs   *float64
	critAbs   *float64
	extract   func(flat map[string]string) (float64, bool)
}

func field(name string) func(flat map[string]string) (float64, bool) {
	return func(flat map[string]string) (float64, bool) {
		return parseField(flat, name)
	}
}

func parseField(flat map[string]string, name string) (float64, bool) {
	raw, ok := flat[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatPtr(v float64) *float64 { return &v }

// defaultExtractors is the stock metric set polled from every
// connection.
func defaultExtractors() []metricExtractor {
	return []metricExtractor{
		{
			metric:    models.MetricConnections,
			direction: detector.DirectionBoth,
			extract:   field("connected_clients"),
		},
		{
			metric:    models.MetricOpsPerSec,
			direction: detector.DirectionBoth,
			extract:   field("instantaneous_ops_per_sec"),
		},
		{
			metric:    models.MetricMemoryUsed,
			direction: detector.DirectionSpikeOnly,
			extract:   field("used_memory"),
		},
		{
			metric:    models.MetricInputKbps,
			direction: detector.DirectionBoth,
			extract:   field("instantaneous_input_kbps"),
		},
		{
			metric:    models.MetricOutputKbps,
			direction: detector.DirectionBoth,
			extract:   field("instantaneous_output_kbps"),
		},
		{
			metric:    models.MetricSlowlogCount,
			direction: detector.DirectionSpikeOnly,
			extract:   field("slowlog_len"),
		},
		{
			metric:    models.MetricACLDenied,
			direction: detector.DirectionSpikeOnly,
			extract: func(flat map[string]string) (float64, bool) {
				rejected, okRejected := parseField(flat, "rejected_connections")
				denied, okDenied := parseField(flat, "acl_access_denied_auth")
				if !okRejected && !okDenied {
					return 0, false
				}
				return rejected + denied, true
			},
		},
		{
			metric:    models.MetricEvictedKeys,
			direction: detector.DirectionSpikeOnly,
			extract:   field("evicted_keys"),
		},
		{
			metric:    models.MetricBlockedClients,
			direction: detector.DirectionBoth,
			extract:   field("blocked_clients"),
		},
		{
			metric:    models.MetricKeyspaceMisses,
			direction: detector.DirectionSpikeOnly,
			extract:   field("keyspace_misses"),
		},
		{
			metric:    models.MetricFragmentationRatio,
			direction: detector.DirectionSpikeOnly,
			warnAbs:   floatPtr(1.5),
			critAbs:   floatPtr(2.0),
			extract:   field("mem_fragmentation_ratio"),
		},
	}
}
