// Package poller runs the periodic loops that drive polling work. One
// goroutine per loop, ticks never overlap, and a tick that would land
// while the previous poll is still running is skipped rather than queued.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/monitoring"
)

// DefaultDrainTimeout bounds how long Stop waits for an in-flight poll.
const DefaultDrainTimeout = 5 * time.Second

// PollFunc performs one unit of polling work.
type PollFunc func(ctx context.Context) error

// Loop describes one registered polling loop. Interval is consulted
// before every tick so a settings change applies on the next cycle.
type Loop struct {
	Name         string
	ConnectionID string
	Interval     func() time.Duration
	Poll         PollFunc
	InitialPoll  bool
}

type runningLoop struct {
	loop   Loop
	cancel context.CancelFunc
	done   chan struct{}
	busy   atomic.Bool
}

// Supervisor owns the polling loops and their lifecycle.
type Supervisor struct {
	mu           sync.Mutex
	loops        map[string]*runningLoop
	removedHooks []func(connectionID string)
	drainTimeout time.Duration
	logger       logging.Logger

	ticksTotal   *prometheus.CounterVec
	ticksSkipped *prometheus.CounterVec
	pollErrors   *prometheus.CounterVec
}

// NewSupervisor creates a supervisor. The collector may be nil in tests.
func NewSupervisor(drainTimeout time.Duration, logger logging.Logger, metrics *monitoring.MetricsCollector) *Supervisor {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	s := &Supervisor{
		loops:        make(map[string]*runningLoop),
		drainTimeout: drainTimeout,
		logger:       logger,
	}
	if metrics != nil {
		s.ticksTotal = metrics.NewCounter("poll_ticks_total", "Polling ticks executed", []string{"loop"})
		s.ticksSkipped = metrics.NewCounter("poll_ticks_skipped_total", "Polling ticks skipped due to overrun", []string{"loop"})
		s.pollErrors = metrics.NewCounter("poll_errors_total", "Polling ticks that returned an error", []string{"loop"})
	}
	return s
}

// OnConnectionRemoved registers a hook invoked after the loops of a
// removed connection have been stopped, so owners can release
// per-connection state.
func (s *Supervisor) OnConnectionRemoved(fn func(connectionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedHooks = append(s.removedHooks, fn)
}

// Start registers and starts a loop. Re-registering a live name is a
// logged no-op.
func (s *Supervisor) Start(loop Loop) {
	if loop.Name == "" || loop.Poll == nil || loop.Interval == nil {
		s.logger.WithField("loop", loop.Name).Error("Refusing to start misconfigured loop")
		return
	}

	s.mu.Lock()
	if _, live := s.loops[loop.Name]; live {
		s.mu.Unlock()
		s.logger.WithField("loop", loop.Name).Warn("Loop already running, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &runningLoop{loop: loop, cancel: cancel, done: make(chan struct{})}
	s.loops[loop.Name] = rl
	s.mu.Unlock()

	s.logger.WithFields(logging.Fields{
		"loop":          loop.Name,
		"connection_id": loop.ConnectionID,
	}).Info("Polling loop started")

	go s.run(ctx, rl)
}

func (s *Supervisor) run(ctx context.Context, rl *runningLoop) {
	defer close(rl.done)

	if rl.loop.InitialPoll {
		s.tick(ctx, rl)
	}

	ticker := time.NewTicker(rl.loop.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, rl)
			// A tick that fired while the poll ran is dropped, not queued.
			select {
			case <-ticker.C:
				if s.ticksSkipped != nil {
					s.ticksSkipped.WithLabelValues(rl.loop.Name).Inc()
				}
				s.logger.WithField("loop", rl.loop.Name).Debug("Tick skipped, previous poll overran")
			default:
			}
			ticker.Reset(rl.loop.Interval())
		}
	}
}

// tick runs one poll with panic and error containment. The busy flag is
// the observable overrun guard; Busy readers see true for the duration.
func (s *Supervisor) tick(ctx context.Context, rl *runningLoop) {
	if !rl.busy.CompareAndSwap(false, true) {
		if s.ticksSkipped != nil {
			s.ticksSkipped.WithLabelValues(rl.loop.Name).Inc()
		}
		s.logger.WithField("loop", rl.loop.Name).Debug("Tick skipped, previous poll still running")
		return
	}
	defer rl.busy.Store(false)

	if s.ticksTotal != nil {
		s.ticksTotal.WithLabelValues(rl.loop.Name).Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			if s.pollErrors != nil {
				s.pollErrors.WithLabelValues(rl.loop.Name).Inc()
			}
			s.logger.WithFields(logging.Fields{
				"loop":  rl.loop.Name,
				"panic": r,
			}).Error("Poll panicked")
		}
	}()

	if err := rl.loop.Poll(ctx); err != nil {
		if s.pollErrors != nil {
			s.pollErrors.WithLabelValues(rl.loop.Name).Inc()
		}
		s.logger.WithError(err).WithField("loop", rl.loop.Name).Warn("Poll failed")
	}
}

// Busy reports whether the named loop has a poll in flight.
func (s *Supervisor) Busy(name string) bool {
	s.mu.Lock()
	rl, ok := s.loops[name]
	s.mu.Unlock()
	return ok && rl.busy.Load()
}

// Stop cancels a loop and waits for any in-flight poll, bounded by the
// drain timeout. Idempotent.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	rl, ok := s.loops[name]
	if ok {
		delete(s.loops, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	rl.cancel()
	select {
	case <-rl.done:
	case <-time.After(s.drainTimeout):
		s.logger.WithField("loop", name).Warn("Loop did not drain within timeout")
	}
	s.logger.WithField("loop", name).Info("Polling loop stopped")
}

// StopAll tears down every loop, draining them concurrently.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.Stop(name)
		}(name)
	}
	wg.Wait()
}

// HandleRegistryChange is wired as a registry change listener. On
// removal it stops the connection's loops, then runs the removed hooks.
func (s *Supervisor) HandleRegistryChange(kind string, connectionID string) {
	if kind != "removed" {
		return
	}

	s.mu.Lock()
	names := make([]string, 0, 2)
	for name, rl := range s.loops {
		if rl.loop.ConnectionID == connectionID {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		s.Stop(name)
	}

	s.mu.Lock()
	hooks := make([]func(string), len(s.removedHooks))
	copy(hooks, s.removedHooks)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(connectionID)
	}
}

// Names returns the live loop names.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	return names
}
