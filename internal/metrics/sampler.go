package metrics

import (
	"sync"
	"time"
)

// StateFunc reports the current fleet shape for a sample: total configured
// greenhouses, how many are monitored, and each one's latest soil moisture.
type StateFunc func() (greenhouses, monitored int, moisture map[string]float64)

// Sampler periodically snapshots the counters and fleet state into the ring.
type Sampler struct {
	counters *Counters
	ring     *RealtimeRing
	state    StateFunc
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSampler creates a Sampler. state may be nil.
func NewSampler(counters *Counters, ring *RealtimeRing, state StateFunc, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		counters: counters,
		ring:     ring,
		state:    state,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts sampling. Safe to call more than once.
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SampleNow takes one sample immediately.
func (s *Sampler) SampleNow() {
	sample := RealtimeSample{
		Timestamp: time.Now(),
		Counters:  s.counters.Snapshot(),
	}
	if s.state != nil {
		sample.Greenhouses, sample.Monitored, sample.MoistureByGreenhouse = s.state()
	}
	s.ring.Push(sample)
}

func (s *Sampler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SampleNow()
		case <-s.stopCh:
			return
		}
	}
}
