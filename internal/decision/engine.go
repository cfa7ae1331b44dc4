// Package decision implements the irrigation planning rules. The engine is a
// pure function of its inputs so the same observation always yields the same
// plan.
package decision

import (
	"fmt"
	"math"

	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/plant"
)

// ForecastLeadHours is how far into the forecast the decision annotation
// looks: the mean of the first six hourly values.
const ForecastLeadHours = 6

// Engine plans irrigation from the latest reading and the active config.
type Engine struct {
	table *plant.Table
	gain  func() float64 // expected moisture gain (%) per second of pumping
}

// NewEngine creates an Engine. gain is read per decision so runtime tuning
// takes effect without rebuilding the engine.
func NewEngine(table *plant.Table, gain func() float64) *Engine {
	return &Engine{table: table, gain: gain}
}

// Target returns the moisture target for cfg at the given reading: the
// operator-pinned value when set, otherwise the plant profile adjusted for
// hour of day and air temperature.
func (e *Engine) Target(cfg model.GreenhouseConfig, latest model.SensorReading) float64 {
	if cfg.TargetMoisturePct > 0 {
		return cfg.TargetMoisturePct
	}
	return e.table.TargetMoisture(cfg.PlantType, latest.Timestamp.Hour(), latest.AirTemperature)
}

// Decide produces the irrigation plan for one observation. forecast is the
// hourly soil-moisture forecast in percent and may be nil; it only annotates
// the decision and its summary, it never changes the plan.
func (e *Engine) Decide(cfg model.GreenhouseConfig, latest model.SensorReading, forecast []float64) model.IrrigationDecision {
	d := e.plan(cfg, latest)
	annotateForecast(&d, forecast)
	return d
}

func (e *Engine) plan(cfg model.GreenhouseConfig, latest model.SensorReading) model.IrrigationDecision {
	target := e.Target(cfg, latest)

	d := model.IrrigationDecision{
		CurrentMoisture:  latest.SoilMoisture,
		TargetMoisture:   target,
		PulseDurationSec: cfg.PulseDurationSec,
	}

	// A non-positive moisture reading means the probe is disconnected or
	// faulted; irrigating on it would be blind.
	if latest.SoilMoisture <= 0 {
		d.Confidence = 0
		d.Urgency = model.UrgencyLow
		d.Summary = fmt.Sprintf("sensor error: soil moisture reading %.1f%% is not plausible, skipping", latest.SoilMoisture)
		return d
	}

	deficit := target - latest.SoilMoisture
	if deficit <= 0 {
		d.Confidence = 0.85
		d.Urgency = model.UrgencyLow
		d.Summary = fmt.Sprintf("moisture %.1f%% at or above target %.1f%%, no irrigation needed", latest.SoilMoisture, target)
		return d
	}

	d.NeedsIrrigation = true
	switch {
	case deficit > 30:
		d.Urgency, d.Confidence = model.UrgencyCritical, 0.95
	case deficit > 15:
		d.Urgency, d.Confidence = model.UrgencyHigh, 0.90
	case deficit > 5:
		d.Urgency, d.Confidence = model.UrgencyMedium, 0.85
	default:
		d.Urgency, d.Confidence = model.UrgencyLow, 0.80
	}

	d.PulseCount = planPulses(deficit, e.gain(), cfg.PulseDurationSec, cfg.MaxPulses)
	d.Summary = fmt.Sprintf("moisture %.1f%% below target %.1f%% (deficit %.1f%%), urgency %s: plan %d pulse(s) of %.1fs",
		latest.SoilMoisture, target, deficit, d.Urgency, d.PulseCount, cfg.PulseDurationSec)
	return d
}

// planPulses sizes the pulse sequence: enough pulses to cover the deficit at
// the expected gain per pulse, plus one for margin, clamped to [1, maxPulses].
func planPulses(deficit, gainPerSec, pulseDurationSec float64, maxPulses int) int {
	gainPerPulse := gainPerSec * pulseDurationSec
	if gainPerPulse <= 0 {
		return 1
	}
	n := int(math.Ceil(deficit/gainPerPulse)) + 1
	if n < 1 {
		n = 1
	}
	if maxPulses > 0 && n > maxPulses {
		n = maxPulses
	}
	return n
}

// annotateForecast attaches the forecast mean to a finished decision and
// notes it in the summary. It runs after planning so it can never change
// the plan.
func annotateForecast(d *model.IrrigationDecision, forecast []float64) {
	if len(forecast) < ForecastLeadHours {
		return
	}
	sum := 0.0
	for _, v := range forecast[:ForecastLeadHours] {
		sum += v
	}
	mean := sum / ForecastLeadHours
	d.PredictedMoisture = &mean
	d.Summary += fmt.Sprintf(" | forecast: %.1f%% mean over next %dh", mean, ForecastLeadHours)
}
