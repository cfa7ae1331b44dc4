// Package forecast wraps the external soil-moisture forecaster behind a
// narrow adapter. The model itself is out of process scope; the adapter
// only validates windows, normalizes, and rescales outputs.
package forecast

import (
	"fmt"
	"log"

	"github.com/trellis-farm/trellis/internal/model"
)

const (
	// WindowSize is the number of readings the model consumes.
	WindowSize = 24
	// Channels per reading: airTemperature, airHumidity, soilMoisture, soilTemperature.
	Channels = 4
	// Horizon is the number of future hourly soil-moisture values produced.
	Horizon = 12
)

// Model is the external forecaster: a 24x4 normalized window in, 12 future
// soil-moisture fractions (0..1) out.
type Model interface {
	Predict(window [][]float64) ([]float64, error)
}

// Normalizer maps raw channel rows into the model's input space. The
// preprocessing pipeline is external; identity is the safe default when the
// producer already normalized.
type Normalizer func(rows [][]float64) [][]float64

// IdentityNormalizer passes rows through unchanged.
func IdentityNormalizer(rows [][]float64) [][]float64 { return rows }

// Adapter validates inputs, runs the model, and rescales outputs to percent.
type Adapter struct {
	model     Model
	normalize Normalizer
}

// NewAdapter creates an Adapter. model may be nil (no forecaster deployed);
// Forecast then always reports missing. A nil normalizer defaults to identity.
func NewAdapter(m Model, n Normalizer) *Adapter {
	if n == nil {
		n = IdentityNormalizer
	}
	return &Adapter{model: m, normalize: n}
}

// Available reports whether a model is wired in.
func (a *Adapter) Available() bool {
	return a != nil && a.model != nil
}

// Forecast produces the 12-hour soil-moisture forecast in percent from the
// most recent readings, or ok=false when the model is absent, the history is
// too short, or the model output is unusable. The forecast is advisory;
// callers must behave sensibly without it.
func (a *Adapter) Forecast(readings []model.SensorReading) ([]float64, bool) {
	if !a.Available() {
		return nil, false
	}
	if len(readings) < WindowSize {
		return nil, false
	}

	window := make([][]float64, WindowSize)
	tail := readings[len(readings)-WindowSize:]
	for i, r := range tail {
		window[i] = []float64{r.AirTemperature, r.AirHumidity, r.SoilMoisture, r.SoilTemperature}
	}

	out, err := a.model.Predict(a.normalize(window))
	if err != nil {
		log.Printf("[forecast] model predict failed: %v", err)
		return nil, false
	}
	if len(out) != Horizon {
		log.Printf("[forecast] model returned %d values, want %d", len(out), Horizon)
		return nil, false
	}

	pct := make([]float64, Horizon)
	for i, v := range out {
		pct[i] = v * 100
	}
	return pct, true
}

// ValidateWindow checks a raw window shape. Exposed for producers that build
// windows outside the adapter.
func ValidateWindow(window [][]float64) error {
	if len(window) != WindowSize {
		return fmt.Errorf("forecast: window must have %d rows, got %d", WindowSize, len(window))
	}
	for i, row := range window {
		if len(row) != Channels {
			return fmt.Errorf("forecast: row %d must have %d channels, got %d", i, Channels, len(row))
		}
	}
	return nil
}
