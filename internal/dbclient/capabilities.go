package dbclient

import (
	"strconv"
	"strings"
)

// Capabilities describes what the connected instance can do. Extractors
// and advanced inspection endpoints consult this instead of probing per
// call; a missing capability silently disables the dependent feature.
type Capabilities struct {
	DBType              string `json:"db_type"` // "valkey" or "redis"
	Version             string `json:"version"`
	HasCommandLog       bool   `json:"has_command_log"`
	HasClusterSlotStats bool   `json:"has_cluster_slot_stats"`
	HasLatencyMonitor   bool   `json:"has_latency_monitor"`
	HasACLLog           bool   `json:"has_acl_log"`
	HasMemoryDoctor     bool   `json:"has_memory_doctor"`
	HasConfig           bool   `json:"has_config"`
}

// DetectCapabilities derives capabilities from an INFO server section.
func DetectCapabilities(snap InfoSnapshot) Capabilities {
	caps := Capabilities{DBType: "redis", HasConfig: true}

	if v, ok := snap.Field("valkey_version"); ok {
		caps.DBType = "valkey"
		caps.Version = v
	} else if v, ok := snap.Field("redis_version"); ok {
		caps.Version = v
	}

	major, minor := parseVersion(caps.Version)

	caps.HasLatencyMonitor = major > 2 || (major == 2 && minor >= 8)
	caps.HasMemoryDoctor = major >= 4
	caps.HasACLLog = major >= 6
	// COMMANDLOG and CLUSTER SLOT-STATS are Valkey 8+ additions.
	caps.HasCommandLog = caps.DBType == "valkey" && major >= 8
	caps.HasClusterSlotStats = caps.DBType == "valkey" && major >= 8

	return caps
}

func parseVersion(v string) (major, minor int) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}
