// Package history implements the bounded per-greenhouse ring of sensor
// readings that feeds the forecaster and the decision engine.
package history

import (
	"sync"

	"github.com/trellis-farm/trellis/internal/model"
)

// DefaultCapacity bounds the per-greenhouse reading history.
const DefaultCapacity = 100

// Ring is a fixed-capacity FIFO of sensor readings. Push evicts the oldest
// entry when full. Readings are kept in arrival order; the ring never sorts.
type Ring struct {
	mu      sync.RWMutex
	entries []model.SensorReading
	head    int
	count   int
	cap     int
}

// NewRing creates a ring with the given capacity (DefaultCapacity if <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries: make([]model.SensorReading, capacity),
		cap:     capacity,
	}
}

// Push appends a reading, evicting the oldest when full. O(1).
func (r *Ring) Push(reading model.SensorReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = reading
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Len returns the number of stored readings.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// LastN returns the most recent n readings in arrival order (oldest of the
// n first). If fewer than n are stored, all of them are returned.
func (r *Ring) LastN(n int) []model.SensorReading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.SensorReading, n)
	start := (r.head - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%r.cap]
	}
	return out
}

// Snapshot returns all stored readings in arrival order.
func (r *Ring) Snapshot() []model.SensorReading {
	return r.LastN(r.cap)
}

// Latest returns the most recent reading.
func (r *Ring) Latest() (model.SensorReading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return model.SensorReading{}, false
	}
	idx := (r.head - 1 + r.cap) % r.cap
	return r.entries[idx], true
}
