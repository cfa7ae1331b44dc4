// Package service implements the irrigation control-plane operations that
// API handlers depend on. Business logic lives here, not in handlers.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trellis-farm/trellis/internal/config"
	"github.com/trellis-farm/trellis/internal/decision"
	"github.com/trellis-farm/trellis/internal/forecast"
	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/metrics"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/monitor"
	"github.com/trellis-farm/trellis/internal/plant"
	"github.com/trellis-farm/trellis/internal/predict"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, IN_PROGRESS, UNAVAILABLE, INTERNAL
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg}
}

func inProgress(msg string) *ServiceError {
	return &ServiceError{Code: "IN_PROGRESS", Message: msg}
}

func unavailable(msg string, err error) *ServiceError {
	return &ServiceError{Code: "UNAVAILABLE", Message: msg, Err: err}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// Telemetry is the backend dependency surface the service needs.
type Telemetry interface {
	LatestReading(ctx context.Context, greenhouseID string) (model.SensorReading, error)
	RecentWindow(ctx context.Context, greenhouseID string, hours, limit int) ([]model.SensorReading, error)
	FetchPlantConfig(ctx context.Context) (model.PlantConfigDoc, []byte, error)
	ReportIrrigation(ctx context.Context, ev model.IrrigationEvent) error
	ReportPrediction(ctx context.Context, p model.PredictionPayload) (model.PredictionOutcome, error)
}

// PulseRunner runs one pulse sequence for an entry.
type PulseRunner interface {
	Execute(ctx context.Context, entry *greenhouse.Entry, d model.IrrigationDecision) (model.IrrigationResult, error)
}

// Actuator is the direct pump-node surface the service needs outside of
// pulse sequences: status probes and the shutdown safety stop.
type Actuator interface {
	PumpStatus(ctx context.Context, endpoint string) (map[string]any, error)
	Deactivate(ctx context.Context, endpoint string) error
}

// Options wires an IrrigationService.
type Options struct {
	Registry   *greenhouse.Registry
	Telemetry  Telemetry
	Executor   PulseRunner
	Actuator   Actuator // may be nil
	Decider    *decision.Engine
	Forecaster *forecast.Adapter // may be nil
	Gate       *predict.Gate     // may be nil
	Journal    *journal.Service  // may be nil
	Counters   *metrics.Counters
	Table      *plant.Table
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	EnvCfg     *config.EnvConfig
	Info       SystemInfo
}

// IrrigationService provides all irrigation control-plane operations.
type IrrigationService struct {
	registry   *greenhouse.Registry
	telemetry  Telemetry
	executor   PulseRunner
	actuator   Actuator
	decider    *decision.Engine
	forecaster *forecast.Adapter
	gate       *predict.Gate
	jrnl       *journal.Service
	counters   *metrics.Counters
	table      *plant.Table
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]
	envCfg     *config.EnvConfig
	info       SystemInfo

	supervisor *monitor.Supervisor
	configMu   sync.Mutex
}

// NewIrrigationService creates the service and its supervisor loop (not yet
// started).
func NewIrrigationService(opts Options) *IrrigationService {
	if opts.Counters == nil {
		opts.Counters = &metrics.Counters{}
	}
	s := &IrrigationService{
		registry:   opts.Registry,
		telemetry:  opts.Telemetry,
		executor:   opts.Executor,
		actuator:   opts.Actuator,
		decider:    opts.Decider,
		forecaster: opts.Forecaster,
		gate:       opts.Gate,
		jrnl:       opts.Journal,
		counters:   opts.Counters,
		table:      opts.Table,
		runtimeCfg: opts.RuntimeCfg,
		envCfg:     opts.EnvCfg,
		info:       opts.Info,
	}
	jitter := func() time.Duration {
		return monitor.DefaultJitter(time.Duration(s.rc().SupervisorJitter))()
	}
	s.supervisor = monitor.NewSupervisor(s.superviseTick, s.sweepInterval, jitter)
	return s
}

// GetSystemInfo returns version and runtime information.
func (s *IrrigationService) GetSystemInfo() SystemInfo {
	return s.info
}

// GetRuntimeConfig returns the active runtime config.
func (s *IrrigationService) GetRuntimeConfig() *config.RuntimeConfig {
	return s.runtimeCfg.Load()
}

// Counters exposes the service counters for the metrics surface.
func (s *IrrigationService) Counters() *metrics.Counters {
	return s.counters
}

// Journal exposes the journal service for the journal query surface. May be
// nil when journaling is disabled.
func (s *IrrigationService) Journal() *journal.Service {
	return s.jrnl
}

func (s *IrrigationService) rc() *config.RuntimeConfig {
	return s.runtimeCfg.Load()
}

func (s *IrrigationService) record(kind, greenhouseID, status string, detail any) {
	if s.jrnl != nil {
		s.jrnl.Record(kind, greenhouseID, status, detail)
	}
}

// ------------------------------------------------------------------
// Runtime config patching
// ------------------------------------------------------------------

// runtimeConfigAllowedFields is the set of JSON field names that can be patched.
var runtimeConfigAllowedFields = map[string]bool{
	"gain_per_pulse":         true,
	"stabilization_delay":    true,
	"prediction_cooldown":    true,
	"default_check_interval": true,
	"supervisor_jitter":      true,
	"warm_fill_hours":        true,
	"warm_fill_limit":        true,
	"latency_decay_window":   true,
}

func parseRuntimeConfigPatch(patchJSON json.RawMessage, out *config.RuntimeConfig) *ServiceError {
	var rawPatch map[string]json.RawMessage
	if err := json.Unmarshal(patchJSON, &rawPatch); err != nil {
		return invalidArg("invalid JSON: " + err.Error())
	}
	if len(rawPatch) == 0 {
		return invalidArg("empty patch")
	}
	for key, raw := range rawPatch {
		if !runtimeConfigAllowedFields[key] {
			return invalidArg(fmt.Sprintf("unknown or read-only field: %q", key))
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return invalidArg(fmt.Sprintf("null value not allowed for field: %q", key))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(patchJSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidArg("validation failed: " + err.Error())
	}
	return nil
}

// PatchRuntimeConfig applies a constrained partial patch to the runtime
// config. This is not RFC 7396 JSON Merge Patch: patch must be a non-empty
// object and null values are rejected. The result lives in memory only and
// resets on restart.
func (s *IrrigationService) PatchRuntimeConfig(patchJSON json.RawMessage) (*config.RuntimeConfig, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	cur := s.runtimeCfg.Load()
	newCfg := *cur // no reference fields, plain copy
	if verr := parseRuntimeConfigPatch(patchJSON, &newCfg); verr != nil {
		return nil, verr
	}
	if verr := validateRuntimeConfig(&newCfg); verr != nil {
		return nil, verr
	}

	s.runtimeCfg.Store(&newCfg)
	s.record(journal.KindConfig, "", "runtime_patched", newCfg)
	return &newCfg, nil
}

func validateRuntimeConfig(cfg *config.RuntimeConfig) *ServiceError {
	if cfg.GainPerPulse <= 0 {
		return invalidArg("gain_per_pulse: must be positive")
	}
	if cfg.StabilizationDelay < 0 {
		return invalidArg("stabilization_delay: must be non-negative")
	}
	if cfg.PredictionCooldown < 0 {
		return invalidArg("prediction_cooldown: must be non-negative")
	}
	if time.Duration(cfg.DefaultCheckInterval) < 10*time.Second {
		return invalidArg("default_check_interval: must be >= 10s")
	}
	if cfg.SupervisorJitter < 0 {
		return invalidArg("supervisor_jitter: must be non-negative")
	}
	if cfg.WarmFillHours < 0 {
		return invalidArg("warm_fill_hours: must be non-negative")
	}
	if cfg.WarmFillLimit < 0 {
		return invalidArg("warm_fill_limit: must be non-negative")
	}
	if cfg.LatencyDecayWindow < 0 {
		return invalidArg("latency_decay_window: must be non-negative")
	}
	return nil
}
