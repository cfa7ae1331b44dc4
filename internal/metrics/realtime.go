package metrics

import (
	"sync"
	"time"
)

// RealtimeSample is a single point in the realtime ring buffer.
type RealtimeSample struct {
	Timestamp   time.Time        `json:"timestamp"`
	Counters    CountersSnapshot `json:"counters"`
	Greenhouses int              `json:"greenhouses"`
	Monitored   int              `json:"monitored"`
	// Per-greenhouse latest soil moisture (snapshot from in-memory state).
	MoistureByGreenhouse map[string]float64 `json:"moisture_by_greenhouse,omitempty"`
}

// RealtimeRing is a fixed-size ring buffer for realtime metric samples.
type RealtimeRing struct {
	mu      sync.RWMutex
	samples []RealtimeSample
	head    int
	count   int
	cap     int
}

// NewRealtimeRing creates a ring buffer with the given capacity.
func NewRealtimeRing(capacity int) *RealtimeRing {
	if capacity <= 0 {
		capacity = 240 // 1 hour at the default 15s interval
	}
	return &RealtimeRing{
		samples: make([]RealtimeSample, capacity),
		cap:     capacity,
	}
}

// Push adds a sample to the ring buffer, overwriting the oldest if full.
func (r *RealtimeRing) Push(s RealtimeSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.head] = s
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Query returns samples within the given time range [from, to], newest first.
func (r *RealtimeRing) Query(from, to time.Time) []RealtimeSample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []RealtimeSample
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		s := r.samples[idx]
		if s.Timestamp.Before(from) {
			break // ring is chronologically ordered; stop early
		}
		if !s.Timestamp.After(to) {
			result = append(result, s)
		}
	}
	return result
}

// Latest returns the most recent sample.
func (r *RealtimeRing) Latest() (RealtimeSample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return RealtimeSample{}, false
	}
	idx := (r.head - 1 + r.cap) % r.cap
	return r.samples[idx], true
}
