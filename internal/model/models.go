// Package model defines domain structs shared across the controller.
package model

import "time"

// SensorReading is a single telemetry sample for one greenhouse.
// Immutable once created.
type SensorReading struct {
	AirTemperature  float64   `json:"air_temperature"`
	AirHumidity     float64   `json:"air_humidity"`
	SoilMoisture    float64   `json:"soil_moisture"`
	SoilTemperature float64   `json:"soil_temperature"`
	Timestamp       time.Time `json:"timestamp"`
}

// GreenhouseConfig holds the per-greenhouse control parameters.
// Replacement is always atomic (the registry swaps a pointer).
type GreenhouseConfig struct {
	GreenhouseID      string    `json:"greenhouse_id"`
	ActuatorEndpoint  string    `json:"actuator_endpoint"` // host:port
	PlantType         string    `json:"plant_type"`
	PulseDurationSec  float64   `json:"pulse_duration_sec"`
	PulseWaitSec      int       `json:"pulse_wait_sec"`
	MaxPulses         int       `json:"max_pulses"`
	AutoIrrigate      bool      `json:"auto_irrigate"`
	CheckIntervalSec  int       `json:"check_interval_sec"`
	TargetMoisturePct float64   `json:"target_moisture_pct"` // 0 = derive from plant profile
	ConfiguredAt      time.Time `json:"configured_at"`
}

// Urgency classifies how pressing an irrigation need is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IrrigationDecision is the planned response to the latest observation.
// Pure value, no identity.
type IrrigationDecision struct {
	NeedsIrrigation   bool     `json:"needs_irrigation"`
	CurrentMoisture   float64  `json:"current_moisture"`
	TargetMoisture    float64  `json:"target_moisture"`
	PredictedMoisture *float64 `json:"predicted_moisture,omitempty"`
	Confidence        float64  `json:"confidence"`
	Urgency           Urgency  `json:"urgency"`
	PulseCount        int      `json:"pulse_count"`
	PulseDurationSec  float64  `json:"pulse_duration_sec"`
	Summary           string   `json:"summary"`
}

// IrrigationResult is the terminal outcome of one pulse sequence.
type IrrigationResult struct {
	Success          bool      `json:"success"`
	PulsesExecuted   int       `json:"pulses_executed"`
	TotalDurationSec float64   `json:"total_duration_sec"`
	MoistureBefore   float64   `json:"moisture_before"`
	MoistureAfter    *float64  `json:"moisture_after,omitempty"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
}

// IrrigationEvent is the report posted to the telemetry backend after every
// pulse sequence, success or failure.
type IrrigationEvent struct {
	GreenhouseID   string   `json:"greenhouse_id"`
	Status         string   `json:"status"` // "success" | "failed"
	DurationMs     int      `json:"duration_ms"`
	PulseCount     int      `json:"pulse_count"`
	MoistureBefore float64  `json:"moisture_before"`
	MoistureAfter  *float64 `json:"moisture_after,omitempty"`
	TargetMoisture float64  `json:"target_moisture"`
	PlantType      string   `json:"plant_type"`
	ActuatorHost   string   `json:"actuator_host"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}

// PredictionType classifies an impending-deficit notification.
type PredictionType string

const (
	PredictionMoistureDrop    PredictionType = "moisture_drop"
	PredictionTemperatureRise PredictionType = "temperature_rise"
	PredictionHumidityDrop    PredictionType = "humidity_drop"
)

// PredictionPayload is the notification posted to the telemetry backend when
// the forecast anticipates a soil-moisture deficit.
type PredictionPayload struct {
	GreenhouseID      string         `json:"greenhouse_id"`
	PredictionType    PredictionType `json:"prediction_type"`
	CurrentMoisture   float64        `json:"current_moisture"`
	PredictedMoisture float64        `json:"predicted_moisture"`
	TargetMoisture    float64        `json:"target_moisture"`
	ConfidencePct     float64        `json:"confidence_pct"`
	HoursAhead        int            `json:"hours_ahead"`
	PlantType         string         `json:"plant_type"`
	Recommendation    string         `json:"recommendation"`
}

// PredictionOutcome is the backend's verdict on a posted prediction.
// Only Accepted counts as "sent" for cooldown purposes; a deduplicated
// notification comes back with Skipped=true.
type PredictionOutcome struct {
	Accepted       bool   `json:"accepted"`
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// PlantConfigDoc is the irrigation-config record served by the telemetry
// backend, consumed by reloadConfig. Optional fields are pointers so a
// missing value is distinguishable from zero.
type PlantConfigDoc struct {
	GreenhouseID      string   `json:"greenhouse_id"`
	PlantType         string   `json:"plant_type"`
	PlantName         string   `json:"plant_name"`
	SoilMoistureMin   *float64 `json:"soil_moisture_min,omitempty"`
	SoilMoistureMax   *float64 `json:"soil_moisture_max,omitempty"`
	SoilMoistureIdeal *float64 `json:"soil_moisture_ideal,omitempty"`
}
