package webhooks

import (
	"sync"
	"time"
)

// GateResult is the outcome of a threshold gate transition.
type GateResult string

const (
	// GateFire: the threshold was just crossed, send the alert.
	GateFire GateResult = "fire"
	// GateSuppress: the alert is already active, do not resend.
	GateSuppress GateResult = "suppress"
	// GateCleared: the value fell back under the hysteresis band.
	GateCleared GateResult = "cleared"
	// GateNoop: nothing changed.
	GateNoop GateResult = "noop"
)

type gateState struct {
	active      bool
	activatedAt time.Time
}

// ThresholdGate tracks per (subscriber, thresholdKey) alert state so a
// sustained threshold breach fires once instead of on every poll, and
// clears only after the value drops below threshold × hysteresisFactor.
type ThresholdGate struct {
	mu    sync.Mutex
	state map[string]*gateState
	now   func() time.Time
}

// NewThresholdGate creates an empty gate.
func NewThresholdGate() *ThresholdGate {
	return &ThresholdGate{
		state: make(map[string]*gateState),
		now:   time.Now,
	}
}

func gateKey(subscriberID, thresholdKey string) string {
	return subscriberID + "\x00" + thresholdKey
}

// Activate transitions the gate when value crosses threshold. Returns
// GateFire exactly once per excursion; repeats return GateSuppress.
func (g *ThresholdGate) Activate(subscriberID, thresholdKey string, value, threshold float64) GateResult {
	if value < threshold {
		return GateNoop
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(subscriberID, thresholdKey)
	st := g.state[key]
	if st == nil {
		st = &gateState{}
		g.state[key] = st
	}
	if st.active {
		return GateSuppress
	}
	st.active = true
	st.activatedAt = g.now()
	return GateFire
}

// Clear deactivates the gate once value drops to or below
// threshold × hysteresisFactor. Returns GateCleared on the transition.
func (g *ThresholdGate) Clear(subscriberID, thresholdKey string, value, threshold, hysteresisFactor float64) GateResult {
	if hysteresisFactor <= 0 || hysteresisFactor > 1 {
		hysteresisFactor = 0.9
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(subscriberID, thresholdKey)
	st := g.state[key]
	if st == nil || !st.active {
		return GateNoop
	}
	if value > threshold*hysteresisFactor {
		return GateNoop
	}
	st.active = false
	return GateCleared
}

// IsActive reports whether the alert for (subscriber, key) is live.
func (g *ThresholdGate) IsActive(subscriberID, thresholdKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state[gateKey(subscriberID, thresholdKey)]
	return st != nil && st.active
}

// ReleaseSubscriber drops all gate state for a deleted subscriber.
func (g *ThresholdGate) ReleaseSubscriber(subscriberID string) {
	prefix := subscriberID + "\x00"

	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.state {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(g.state, key)
		}
	}
}
