// Package monitor runs the background control loop: one goroutine that
// sweeps every monitored greenhouse on a jittered cadence.
package monitor

import (
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

// TickFunc sweeps all monitored greenhouses once.
type TickFunc func()

// IntervalFunc returns the current sweep interval; read every cycle so
// config changes take effect without a restart.
type IntervalFunc func() time.Duration

// Supervisor owns the monitoring goroutine. Start and Stop are idempotent.
type Supervisor struct {
	tick     TickFunc
	interval IntervalFunc
	jitter   func() time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewSupervisor creates a Supervisor. jitter may be nil to disable cadence
// jitter (tests).
func NewSupervisor(tick TickFunc, interval IntervalFunc, jitter func() time.Duration) *Supervisor {
	if jitter == nil {
		jitter = func() time.Duration { return 0 }
	}
	return &Supervisor{tick: tick, interval: interval, jitter: jitter}
}

// Start launches the loop if it is not already running. Returns true when a
// new loop was started.
func (s *Supervisor) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.run(s.stopCh, s.doneCh)
	log.Printf("[monitor] supervisor started")
	return true
}

// Stop halts the loop and waits for the in-flight sweep to finish. Returns
// true when a running loop was stopped.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	log.Printf("[monitor] supervisor stopped")
	return true
}

// Running reports whether the loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run executes the sweep at a jittered interval until stopCh is closed.
// The interval is: interval() + jitter().
func (s *Supervisor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := s.interval()
		if interval <= 0 {
			interval = time.Second
		}
		interval += s.jitter()

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		s.tick()
	}
}

// DefaultJitter returns a random duration in [0, r). Spreads sweeps so
// several controllers against one backend do not align.
func DefaultJitter(r time.Duration) func() time.Duration {
	return func() time.Duration {
		if r <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(r)))
	}
}
