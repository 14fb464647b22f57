package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"frameworks/api_lookout/pkg/logging"
)

func newTestSupervisor() *Supervisor {
	return NewSupervisor(time.Second, logging.NewLoggerWithService("poller-test"), nil)
}

func interval(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestInitialPollRunsImmediately(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()
	defer s.StopAll()

	polled := make(chan struct{}, 1)
	s.Start(Loop{
		Name:        "initial",
		Interval:    interval(time.Hour),
		InitialPoll: true,
		Poll: func(ctx context.Context) error {
			polled <- struct{}{}
			return nil
		},
	})

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("initial poll did not run")
	}
}

func TestDuplicateNameIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()
	defer s.StopAll()

	var first, second atomic.Int64
	s.Start(Loop{
		Name:        "dup",
		Interval:    interval(20 * time.Millisecond),
		InitialPoll: true,
		Poll: func(ctx context.Context) error {
			first.Add(1)
			return nil
		},
	})
	s.Start(Loop{
		Name:     "dup",
		Interval: interval(time.Millisecond),
		Poll: func(ctx context.Context) error {
			second.Add(1)
			return nil
		},
	})

	time.Sleep(100 * time.Millisecond)
	if first.Load() == 0 {
		t.Fatal("original loop never polled")
	}
	if second.Load() != 0 {
		t.Fatal("re-registered loop ran")
	}
}

func TestPollsNeverOverlap(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()
	defer s.StopAll()

	var inFlight, maxInFlight atomic.Int64
	s.Start(Loop{
		Name:        "slow",
		Interval:    interval(5 * time.Millisecond),
		InitialPoll: true,
		Poll: func(ctx context.Context) error {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(25 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	})

	time.Sleep(200 * time.Millisecond)
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent polls = %d, want 1", got)
	}
}

func TestStopDrainsInFlightPoll(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()

	started := make(chan struct{})
	var finished atomic.Bool
	s.Start(Loop{
		Name:        "drain",
		Interval:    interval(time.Hour),
		InitialPoll: true,
		Poll: func(ctx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	<-started
	s.Stop("drain")
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight poll completed")
	}

	// Idempotent.
	s.Stop("drain")
}

func TestPollErrorsAndPanicsAreContained(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()
	defer s.StopAll()

	var calls atomic.Int64
	s.Start(Loop{
		Name:        "flaky",
		Interval:    interval(5 * time.Millisecond),
		InitialPoll: true,
		Poll: func(ctx context.Context) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("transient")
			case 2:
				panic("boom")
			}
			return nil
		},
	})

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop stalled after %d calls", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnectionRemovalStopsLoopsAndFiresHooks(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor()
	defer s.StopAll()

	var removed atomic.Value
	s.OnConnectionRemoved(func(connectionID string) {
		removed.Store(connectionID)
	})

	s.Start(Loop{
		Name:         "anomaly:conn-a",
		ConnectionID: "conn-a",
		Interval:     interval(time.Hour),
		Poll:         func(ctx context.Context) error { return nil },
	})
	s.Start(Loop{
		Name:         "anomaly:conn-b",
		ConnectionID: "conn-b",
		Interval:     interval(time.Hour),
		Poll:         func(ctx context.Context) error { return nil },
	})

	s.HandleRegistryChange("removed", "conn-a")

	names := s.Names()
	if len(names) != 1 || names[0] != "anomaly:conn-b" {
		t.Fatalf("live loops = %v, want [anomaly:conn-b]", names)
	}
	if got, _ := removed.Load().(string); got != "conn-a" {
		t.Fatalf("removed hook got %q, want conn-a", got)
	}
}
