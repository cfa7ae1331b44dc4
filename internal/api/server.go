package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/metrics"
	"github.com/trellis-farm/trellis/internal/service"
)

// Server wraps the HTTP server and mux for the controller API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerOptions wires the API routes. JournalRepo, RealtimeRing and
// LatencyTable may be nil; their routes are simply not registered.
type ServerOptions struct {
	ListenAddress   string
	Port            int
	AdminToken      string
	APIMaxBodyBytes int64
	Service         *service.IrrigationService
	JournalRepo     *journal.Repo
	RealtimeRing    *metrics.RealtimeRing
	LatencyTable    *greenhouse.EndpointLatencyTable
}

// NewServer creates a new API server wired with all routes.
func NewServer(opts ServerOptions) *Server {
	mux := http.NewServeMux()
	svc := opts.Service

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(svc.GetSystemInfo()))
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(svc))
	authed.Handle("GET /api/v1/system/config/default", HandleSystemDefaultConfig())
	authed.Handle("PATCH /api/v1/system/config", HandlePatchSystemConfig(svc))

	// Greenhouses.
	authed.Handle("POST /api/v1/greenhouses", HandleConfigureGreenhouse(svc))
	authed.Handle("GET /api/v1/greenhouses", HandleListGreenhouses(svc))
	authed.Handle("GET /api/v1/greenhouses/{id}", HandleGetGreenhouse(svc))
	authed.Handle("GET /api/v1/greenhouses/{id}/pump", HandlePumpStatus(svc))
	authed.Handle("DELETE /api/v1/greenhouses/{id}", HandleDeleteGreenhouse(svc))

	// Greenhouse actions. The no-id stop form halts monitoring everywhere.
	authed.Handle("POST /api/v1/greenhouses/actions/stop-monitoring", HandleStopAllMonitoring(svc))
	authed.Handle("POST /api/v1/greenhouses/{id}/actions/analyze", HandleAnalyze(svc))
	authed.Handle("POST /api/v1/greenhouses/{id}/actions/irrigate", HandleIrrigate(svc))
	authed.Handle("POST /api/v1/greenhouses/{id}/actions/start-monitoring", HandleStartMonitoring(svc))
	authed.Handle("POST /api/v1/greenhouses/{id}/actions/stop-monitoring", HandleStopMonitoring(svc))
	authed.Handle("POST /api/v1/greenhouses/{id}/actions/reload-config", HandleReloadConfig(svc))

	// Plant knowledge table.
	authed.Handle("GET /api/v1/plants", HandleListPlants(svc))

	// Journal.
	if opts.JournalRepo != nil {
		authed.Handle("GET /api/v1/journal", HandleListJournal(opts.JournalRepo))
	}

	// Metrics.
	authed.Handle("GET /api/v1/metrics/counters", HandleMetricsCounters(svc))
	if opts.RealtimeRing != nil {
		authed.Handle("GET /api/v1/metrics/realtime", HandleMetricsRealtime(opts.RealtimeRing))
	}
	if opts.LatencyTable != nil {
		authed.Handle("GET /api/v1/metrics/endpoint-latency", HandleMetricsEndpointLatency(opts.LatencyTable))
	}

	limitedAuthed := RequestBodyLimitMiddleware(opts.APIMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(opts.AdminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(opts.ListenAddress, strconv.Itoa(opts.Port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
