// Package predict turns forecasts into backend deficit notifications, with
// per-greenhouse cooldown so operators are not spammed.
package predict

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/model"
)

// LeadHours is the forecast index the gate judges: six hours out.
const LeadHours = 6

// Reporter posts prediction notifications to the telemetry backend.
type Reporter interface {
	ReportPrediction(ctx context.Context, p model.PredictionPayload) (model.PredictionOutcome, error)
}

// Config configures a Gate.
type Config struct {
	Reporter Reporter
	Cooldown func() time.Duration // minimum gap between accepted notifications
	Now      func() time.Time     // nil uses time.Now
}

// Gate evaluates forecasts against notification rules.
type Gate struct {
	reporter Reporter
	cooldown func() time.Duration
	now      func() time.Time
}

// NewGate creates a Gate.
func NewGate(cfg Config) *Gate {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{reporter: cfg.Reporter, cooldown: cfg.Cooldown, now: now}
}

// Evaluate checks the forecast for an impending deficit and, when one is due,
// posts a notification. Returns the backend outcome when a notification was
// posted, nil when nothing was sent (no condition, short forecast, or
// cooldown). The cooldown clock only advances on an accepted notification.
func (g *Gate) Evaluate(ctx context.Context, entry *greenhouse.Entry, latest model.SensorReading, target float64, forecast []float64, historyLen int) (*model.PredictionOutcome, error) {
	if len(forecast) < LeadHours {
		return nil, nil
	}
	predicted := forecast[LeadHours-1]
	drop := latest.SoilMoisture - predicted

	kind, recommendation := classify(latest, target, predicted, drop)
	if kind == "" {
		return nil, nil
	}

	if last := entry.LastPredictionAt(); !last.IsZero() {
		if elapsed := g.now().Sub(last); elapsed < g.cooldown() {
			log.Printf("[predict] %s: %s suppressed, cooldown has %s left",
				entry.GreenhouseID, kind, (g.cooldown() - elapsed).Round(time.Second))
			return nil, nil
		}
	}

	payload := model.PredictionPayload{
		GreenhouseID:      entry.GreenhouseID,
		PredictionType:    kind,
		CurrentMoisture:   latest.SoilMoisture,
		PredictedMoisture: predicted,
		TargetMoisture:    target,
		ConfidencePct:     confidence(historyLen),
		HoursAhead:        LeadHours,
		PlantType:         entry.Config().PlantType,
		Recommendation:    recommendation,
	}

	outcome, err := g.reporter.ReportPrediction(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("predict: report %s for %s: %w", kind, entry.GreenhouseID, err)
	}
	if outcome.Accepted {
		entry.MarkPredicted(g.now())
	}
	return &outcome, nil
}

// classify picks the first matching deficit condition, or "" when the
// forecast gives no cause for a notification.
func classify(latest model.SensorReading, target, predicted, drop float64) (model.PredictionType, string) {
	switch {
	case drop > 15 && predicted < target:
		return model.PredictionMoistureDrop,
			fmt.Sprintf("soil moisture projected to fall %.1f%% to %.1f%% within %dh, below target %.1f%%; plan irrigation", drop, predicted, LeadHours, target)
	case latest.AirTemperature > 30 && drop > 10:
		return model.PredictionTemperatureRise,
			fmt.Sprintf("high air temperature %.1f°C is accelerating moisture loss (%.1f%% over %dh); check ventilation and irrigation", latest.AirTemperature, drop, LeadHours)
	case latest.AirHumidity < 40 && drop > 8:
		return model.PredictionHumidityDrop,
			fmt.Sprintf("low air humidity %.1f%% is drying the soil (%.1f%% over %dh); consider earlier irrigation", latest.AirHumidity, drop, LeadHours)
	default:
		return "", ""
	}
}

// confidence grows with the amount of history behind the forecast, capped at
// 95 percent.
func confidence(historyLen int) float64 {
	bonus := float64(historyLen) / 5
	if bonus > 20 {
		bonus = 20
	}
	return 75 + bonus
}
