package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/metrics"
	"github.com/trellis-farm/trellis/internal/service"
)

// HandleMetricsCounters returns a handler for GET /api/v1/metrics/counters.
func HandleMetricsCounters(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, svc.Counters().Snapshot())
	}
}

// HandleMetricsRealtime returns a handler for GET /api/v1/metrics/realtime.
// from/to are RFC 3339; the default window is the last hour.
func HandleMetricsRealtime(ring *metrics.RealtimeRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := parseTimeQueryOrWriteInvalid(w, r, "from")
		if !ok {
			return
		}
		to, ok := parseTimeQueryOrWriteInvalid(w, r, "to")
		if !ok {
			return
		}
		if to.IsZero() {
			to = time.Now()
		}
		if from.IsZero() {
			from = to.Add(-time.Hour)
		}
		if !from.Before(to) {
			writeInvalidArgument(w, "from: must be earlier than to")
			return
		}
		samples := ring.Query(from, to)
		if samples == nil {
			samples = []metrics.RealtimeSample{}
		}
		WriteJSON(w, http.StatusOK, samples)
	}
}

// EndpointLatencyEntry is one actuator endpoint's latency estimate.
type EndpointLatencyEntry struct {
	Host        string    `json:"host"`
	EwmaMs      float64   `json:"ewma_ms"`
	LastUpdated time.Time `json:"last_updated"`
}

// HandleMetricsEndpointLatency returns a handler for
// GET /api/v1/metrics/endpoint-latency.
func HandleMetricsEndpointLatency(table *greenhouse.EndpointLatencyTable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]EndpointLatencyEntry, 0, table.Size())
		table.Range(func(host string, stats greenhouse.EndpointLatencyStats) bool {
			out = append(out, EndpointLatencyEntry{
				Host:        host,
				EwmaMs:      float64(stats.Ewma) / float64(time.Millisecond),
				LastUpdated: stats.LastUpdated,
			})
			return true
		})
		sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
		WriteJSON(w, http.StatusOK, out)
	}
}
