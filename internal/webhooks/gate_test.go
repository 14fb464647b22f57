package webhooks

import "testing"

func TestGateFiresOncePerExcursion(t *testing.T) {
	t.Parallel()

	g := NewThresholdGate()

	if got := g.Activate("sub-1", "memory_used", 900, 1000); got != GateNoop {
		t.Fatalf("below threshold = %s, want noop", got)
	}
	if got := g.Activate("sub-1", "memory_used", 1200, 1000); got != GateFire {
		t.Fatalf("first crossing = %s, want fire", got)
	}
	if got := g.Activate("sub-1", "memory_used", 1300, 1000); got != GateSuppress {
		t.Fatalf("sustained breach = %s, want suppress", got)
	}
	if !g.IsActive("sub-1", "memory_used") {
		t.Fatal("gate not active after fire")
	}
}

func TestGateClearsWithHysteresis(t *testing.T) {
	t.Parallel()

	g := NewThresholdGate()
	g.Activate("sub-1", "memory_used", 1200, 1000)

	// 950 is under the threshold but above 1000×0.9: still active.
	if got := g.Clear("sub-1", "memory_used", 950, 1000, 0.9); got != GateNoop {
		t.Fatalf("inside hysteresis band = %s, want noop", got)
	}
	if got := g.Clear("sub-1", "memory_used", 880, 1000, 0.9); got != GateCleared {
		t.Fatalf("below clear level = %s, want cleared", got)
	}
	if g.IsActive("sub-1", "memory_used") {
		t.Fatal("gate still active after clear")
	}

	// A fresh crossing fires again.
	if got := g.Activate("sub-1", "memory_used", 1100, 1000); got != GateFire {
		t.Fatalf("re-crossing = %s, want fire", got)
	}
}

func TestGateIsPerSubscriberAndKey(t *testing.T) {
	t.Parallel()

	g := NewThresholdGate()

	// A lower threshold fires for one subscriber while the other stays
	// quiet on the same physical value.
	if got := g.Activate("low", "memory_used", 800, 500); got != GateFire {
		t.Fatalf("low-threshold subscriber = %s, want fire", got)
	}
	if got := g.Activate("high", "memory_used", 800, 1000); got != GateNoop {
		t.Fatalf("high-threshold subscriber = %s, want noop", got)
	}

	// Keys are independent for the same subscriber.
	if got := g.Activate("low", "connections", 90, 50); got != GateFire {
		t.Fatalf("second key = %s, want fire", got)
	}
}

func TestGateReleaseSubscriber(t *testing.T) {
	t.Parallel()

	g := NewThresholdGate()
	g.Activate("sub-1", "memory_used", 1200, 1000)
	g.Activate("sub-2", "memory_used", 1200, 1000)

	g.ReleaseSubscriber("sub-1")

	if g.IsActive("sub-1", "memory_used") {
		t.Fatal("released subscriber still has gate state")
	}
	if !g.IsActive("sub-2", "memory_used") {
		t.Fatal("unrelated subscriber lost gate state")
	}
}
