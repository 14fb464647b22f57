package config

import (
	"testing"
	"time"
)

func TestGetEnvDefaults(t *testing.T) {
	if got := GetEnv("LOOKOUT_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv = %q, want fallback", got)
	}
	if got := GetEnvInt("LOOKOUT_TEST_UNSET", 42); got != 42 {
		t.Fatalf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnvBool("LOOKOUT_TEST_UNSET", true); !got {
		t.Fatal("GetEnvBool = false, want true")
	}
	if got := GetEnvDuration("LOOKOUT_TEST_UNSET", 5*time.Second); got != 5*time.Second {
		t.Fatalf("GetEnvDuration = %v, want 5s", got)
	}
}

func TestGetEnvParsing(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_INT", "7")
	t.Setenv("LOOKOUT_TEST_BOOL", "false")
	t.Setenv("LOOKOUT_TEST_DUR", "90s")
	t.Setenv("LOOKOUT_TEST_FLOAT", "2.5")

	if got := GetEnvInt("LOOKOUT_TEST_INT", 0); got != 7 {
		t.Fatalf("GetEnvInt = %d, want 7", got)
	}
	if got := GetEnvBool("LOOKOUT_TEST_BOOL", true); got {
		t.Fatal("GetEnvBool = true, want false")
	}
	if got := GetEnvDuration("LOOKOUT_TEST_DUR", 0); got != 90*time.Second {
		t.Fatalf("GetEnvDuration = %v, want 90s", got)
	}
	if got := GetEnvFloat("LOOKOUT_TEST_FLOAT", 0); got != 2.5 {
		t.Fatalf("GetEnvFloat = %v, want 2.5", got)
	}
}

func TestGetEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_BAD", "not-a-number")

	if got := GetEnvInt("LOOKOUT_TEST_BAD", 3); got != 3 {
		t.Fatalf("GetEnvInt = %d, want fallback 3", got)
	}
	if got := GetEnvDuration("LOOKOUT_TEST_BAD", time.Minute); got != time.Minute {
		t.Fatalf("GetEnvDuration = %v, want fallback 1m", got)
	}
}
