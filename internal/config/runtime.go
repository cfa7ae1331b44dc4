package config

import "time"

// RuntimeConfig holds all hot-updatable global settings.
// Served via GET /system/config and patched via PATCH /system/config.
// Deliberately not persisted: controller state does not survive restarts,
// and recovery is via backend bootstrap.
type RuntimeConfig struct {
	// Decision engine
	GainPerPulse float64 `json:"gain_per_pulse"` // % moisture per second of pulse

	// Pulse executor
	StabilizationDelay Duration `json:"stabilization_delay"`

	// Prediction gate
	PredictionCooldown Duration `json:"prediction_cooldown"`

	// Supervisor
	DefaultCheckInterval Duration `json:"default_check_interval"`
	SupervisorJitter     Duration `json:"supervisor_jitter"`

	// History warm fill
	WarmFillHours int `json:"warm_fill_hours"`
	WarmFillLimit int `json:"warm_fill_limit"`

	// Endpoint latency tracking
	LatencyDecayWindow Duration `json:"latency_decay_window"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with defaults.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		GainPerPulse: 1.5,

		StabilizationDelay: Duration(5 * time.Second),

		PredictionCooldown: Duration(2 * time.Hour),

		DefaultCheckInterval: Duration(5 * time.Minute),
		SupervisorJitter:     Duration(5 * time.Second),

		WarmFillHours: 48,
		WarmFillLimit: 100,

		LatencyDecayWindow: Duration(10 * time.Minute),
	}
}
