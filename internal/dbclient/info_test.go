package dbclient

import "testing"

const sampleInfo = "# Server\r\n" +
	"valkey_version:8.1.0\r\n" +
	"redis_version:7.2.4\r\n" +
	"tcp_port:6379\r\n" +
	"\r\n" +
	"# Clients\r\n" +
	"connected_clients:42\r\n" +
	"blocked_clients:0\r\n" +
	"\r\n" +
	"# Memory\r\n" +
	"used_memory:1048576\r\n" +
	"mem_fragmentation_ratio:1.08\r\n" +
	"\r\n" +
	"# Stats\r\n" +
	"instantaneous_ops_per_sec:117\r\n" +
	"evicted_keys:0\r\n" +
	"keyspace_misses:3\r\n"

func TestParseInfo(t *testing.T) {
	t.Parallel()

	snap := ParseInfo(sampleInfo)

	if got := snap["clients"]["connected_clients"]; got != "42" {
		t.Fatalf("connected_clients = %q, want 42", got)
	}
	if got := snap["memory"]["mem_fragmentation_ratio"]; got != "1.08" {
		t.Fatalf("mem_fragmentation_ratio = %q, want 1.08", got)
	}

	if v, ok := snap.FieldFloat("instantaneous_ops_per_sec"); !ok || v != 117 {
		t.Fatalf("FieldFloat(instantaneous_ops_per_sec) = %v, %v", v, ok)
	}
	if _, ok := snap.Field("no_such_field"); ok {
		t.Fatal("Field returned ok for a missing field")
	}

	flat := snap.Flatten()
	if flat["used_memory"] != "1048576" {
		t.Fatalf("flatten lost used_memory: %q", flat["used_memory"])
	}
}

func TestDetectCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info string
		want Capabilities
	}{
		{
			name: "valkey 8",
			info: "# Server\nvalkey_version:8.1.0\nredis_version:7.2.4\n",
			want: Capabilities{
				DBType:              "valkey",
				Version:             "8.1.0",
				HasCommandLog:       true,
				HasClusterSlotStats: true,
				HasLatencyMonitor:   true,
				HasACLLog:           true,
				HasMemoryDoctor:     true,
				HasConfig:           true,
			},
		},
		{
			name: "redis 7",
			info: "# Server\nredis_version:7.2.4\n",
			want: Capabilities{
				DBType:            "redis",
				Version:           "7.2.4",
				HasLatencyMonitor: true,
				HasACLLog:         true,
				HasMemoryDoctor:   true,
				HasConfig:         true,
			},
		},
		{
			name: "redis 5 has no acl log",
			info: "# Server\nredis_version:5.0.14\n",
			want: Capabilities{
				DBType:            "redis",
				Version:           "5.0.14",
				HasLatencyMonitor: true,
				HasMemoryDoctor:   true,
				HasConfig:         true,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectCapabilities(ParseInfo(tt.info)); got != tt.want {
				t.Fatalf("capabilities = %+v, want %+v", got, tt.want)
			}
		})
	}
}
