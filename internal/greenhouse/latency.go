package greenhouse

import (
	"math"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// EndpointLatencyStats holds the TD-EWMA latency statistics for a single
// remote host (backend or actuator).
type EndpointLatencyStats struct {
	Ewma        time.Duration
	LastUpdated time.Time
}

// EndpointLatencyTable is a bounded, thread-safe per-host latency table
// backed by an otter cache, with otter handling LRU eviction. It feeds the
// diagnostics surface; the control loop never reads it.
type EndpointLatencyTable struct {
	mu    sync.Mutex
	cache otter.Cache[string, EndpointLatencyStats]
}

// NewEndpointLatencyTable creates a table bounded to maxEntries hosts.
func NewEndpointLatencyTable(maxEntries int) *EndpointLatencyTable {
	cache, err := otter.MustBuilder[string, EndpointLatencyStats](maxEntries).
		Cost(func(_ string, _ EndpointLatencyStats) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("greenhouse: failed to create latency table: " + err.Error())
	}
	return &EndpointLatencyTable{cache: cache}
}

// Update records a latency observation for host using TD-EWMA.
//
// TD-EWMA formula:
//
//	weight = exp(-Δt / decayWindow)
//	newEwma = oldEwma * weight + latency * (1 - weight)
//
// For the first observation of a host, Ewma is set to the raw latency.
func (t *EndpointLatencyTable) Update(host string, latency, decayWindow time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	old, found := t.cache.Get(host)
	if !found {
		t.cache.Set(host, EndpointLatencyStats{Ewma: latency, LastUpdated: now})
		return
	}

	dt := now.Sub(old.LastUpdated).Seconds()
	decay := decayWindow.Seconds()
	if decay <= 0 {
		decay = 1 // prevent division by zero
	}
	weight := math.Exp(-dt / decay)
	newEwma := time.Duration(float64(old.Ewma)*weight + float64(latency)*(1-weight))

	t.cache.Set(host, EndpointLatencyStats{Ewma: newEwma, LastUpdated: now})
}

// Get returns the latency stats for a host, if present.
func (t *EndpointLatencyTable) Get(host string) (EndpointLatencyStats, bool) {
	return t.cache.Get(host)
}

// Size returns the number of hosts with latency data.
func (t *EndpointLatencyTable) Size() int {
	return t.cache.Size()
}

// Range iterates all host entries. Returning false stops iteration.
func (t *EndpointLatencyTable) Range(fn func(host string, stats EndpointLatencyStats) bool) {
	t.cache.Range(fn)
}

// Close releases resources held by the underlying cache.
func (t *EndpointLatencyTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Close()
}
