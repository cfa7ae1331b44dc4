package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/plant"
)

func newTestEngine() *Engine {
	return NewEngine(plant.NewTable(), func() float64 { return 1.5 })
}

func tomatoConfig() model.GreenhouseConfig {
	return model.GreenhouseConfig{
		GreenhouseID:     "gh-1",
		ActuatorEndpoint: "192.168.1.50:80",
		PlantType:        "tomato",
		PulseDurationSec: 1.0,
		PulseWaitSec:     30,
		MaxPulses:        15,
	}
}

func reading(moisture, airTemp float64, hour int) model.SensorReading {
	return model.SensorReading{
		AirTemperature:  airTemp,
		AirHumidity:     55,
		SoilMoisture:    moisture,
		SoilTemperature: 21,
		Timestamp:       time.Date(2026, 8, 20, hour, 0, 0, 0, time.UTC),
	}
}

func TestDecide_DryTomatoMidday(t *testing.T) {
	// Tomato ideal is 70 at midday with moderate air temperature; a reading of
	// 40 leaves a deficit of 30.
	d := newTestEngine().Decide(tomatoConfig(), reading(40, 25, 12), nil)

	if !d.NeedsIrrigation {
		t.Fatal("deficit of 30 must need irrigation")
	}
	if d.TargetMoisture != 70 {
		t.Fatalf("target = %g, want 70", d.TargetMoisture)
	}
	if d.Urgency != model.UrgencyHigh || d.Confidence != 0.90 {
		t.Fatalf("urgency/confidence = %s/%g, want high/0.90", d.Urgency, d.Confidence)
	}
	// ceil(30 / (1.5*1.0)) + 1 = 21, clamped to maxPulses.
	if d.PulseCount != 15 {
		t.Fatalf("pulseCount = %d, want 15", d.PulseCount)
	}
	if !strings.Contains(d.Summary, "30.0") {
		t.Fatalf("summary should name the deficit: %q", d.Summary)
	}
}

func TestDecide_HealthyMoisture(t *testing.T) {
	d := newTestEngine().Decide(tomatoConfig(), reading(72, 25, 12), nil)

	if d.NeedsIrrigation {
		t.Fatal("moisture above target must not need irrigation")
	}
	if d.PulseCount != 0 {
		t.Fatalf("pulseCount = %d, want 0", d.PulseCount)
	}
	if d.Confidence != 0.85 || d.Urgency != model.UrgencyLow {
		t.Fatalf("confidence/urgency = %g/%s, want 0.85/low", d.Confidence, d.Urgency)
	}
}

func TestDecide_UrgencyBands(t *testing.T) {
	e := newTestEngine()
	cfg := tomatoConfig()
	cfg.TargetMoisturePct = 70 // pin the target so deficits are exact

	tests := []struct {
		moisture   float64
		urgency    model.Urgency
		confidence float64
	}{
		{35, model.UrgencyCritical, 0.95}, // deficit 35
		{39.9, model.UrgencyCritical, 0.95},
		{40, model.UrgencyHigh, 0.90}, // deficit exactly 30 is not critical
		{50, model.UrgencyHigh, 0.90},
		{55, model.UrgencyMedium, 0.85}, // deficit exactly 15 is not high
		{60, model.UrgencyMedium, 0.85},
		{65, model.UrgencyLow, 0.80}, // deficit exactly 5 is not medium
		{68, model.UrgencyLow, 0.80},
	}
	for _, tt := range tests {
		d := e.Decide(cfg, reading(tt.moisture, 25, 12), nil)
		if !d.NeedsIrrigation {
			t.Errorf("moisture %g: expected irrigation need", tt.moisture)
			continue
		}
		if d.Urgency != tt.urgency || d.Confidence != tt.confidence {
			t.Errorf("moisture %g: urgency/confidence = %s/%g, want %s/%g",
				tt.moisture, d.Urgency, d.Confidence, tt.urgency, tt.confidence)
		}
	}
}

func TestDecide_PulsePlanClamps(t *testing.T) {
	e := newTestEngine()
	cfg := tomatoConfig()
	cfg.TargetMoisturePct = 70

	// Tiny deficit: ceil(1/1.5)+1 = 2 pulses.
	d := e.Decide(cfg, reading(69, 25, 12), nil)
	if d.PulseCount != 2 {
		t.Fatalf("pulseCount = %d, want 2", d.PulseCount)
	}

	// Longer pulses cover the deficit in fewer shots.
	cfg.PulseDurationSec = 2.0
	d = e.Decide(cfg, reading(55, 25, 12), nil) // deficit 15, gain 3.0/pulse
	if d.PulseCount != 6 {
		t.Fatalf("pulseCount = %d, want 6", d.PulseCount)
	}

	// maxPulses is a hard ceiling.
	cfg.PulseDurationSec = 1.0
	cfg.MaxPulses = 3
	d = e.Decide(cfg, reading(30, 25, 12), nil)
	if d.PulseCount != 3 {
		t.Fatalf("pulseCount = %d, want 3", d.PulseCount)
	}
}

func TestDecide_PinnedTargetOverridesProfile(t *testing.T) {
	cfg := tomatoConfig()
	cfg.TargetMoisturePct = 65
	d := newTestEngine().Decide(cfg, reading(40, 35, 2), nil) // night + hot would adjust a derived target
	if d.TargetMoisture != 65 {
		t.Fatalf("target = %g, want pinned 65", d.TargetMoisture)
	}
}

func TestDecide_DerivedTargetUsesHourAndTemperature(t *testing.T) {
	e := newTestEngine()
	cfg := tomatoConfig()

	// Night reading: 70 * 0.9 = 63.
	d := e.Decide(cfg, reading(40, 25, 2), nil)
	if d.TargetMoisture != 63 {
		t.Fatalf("night target = %g, want 63", d.TargetMoisture)
	}

	// Hot midday: 70 * 1.1 = 77.
	d = e.Decide(cfg, reading(40, 32, 12), nil)
	if d.TargetMoisture != 77 {
		t.Fatalf("hot target = %g, want 77", d.TargetMoisture)
	}
}

func TestDecide_SensorError(t *testing.T) {
	d := newTestEngine().Decide(tomatoConfig(), reading(0, 25, 12), nil)
	if d.NeedsIrrigation {
		t.Fatal("implausible reading must not trigger irrigation")
	}
	if d.Confidence != 0 {
		t.Fatalf("confidence = %g, want 0", d.Confidence)
	}
	if !strings.Contains(d.Summary, "sensor error") {
		t.Fatalf("summary = %q", d.Summary)
	}
}

func TestDecide_ForecastAnnotation(t *testing.T) {
	forecast := []float64{60, 58, 56, 54, 52, 50, 48, 46, 44, 42, 40, 38}
	d := newTestEngine().Decide(tomatoConfig(), reading(40, 25, 12), forecast)
	if d.PredictedMoisture == nil {
		t.Fatal("forecast should annotate the decision")
	}
	if want := (60 + 58 + 56 + 54 + 52 + 50) / 6.0; *d.PredictedMoisture != want {
		t.Fatalf("predicted = %g, want %g", *d.PredictedMoisture, want)
	}
	if !strings.Contains(d.Summary, "forecast: 55.0% mean over next 6h") {
		t.Fatalf("summary should carry the forecast note: %q", d.Summary)
	}

	// The annotation never changes the plan; the summary only grows a suffix.
	plain := newTestEngine().Decide(tomatoConfig(), reading(40, 25, 12), nil)
	if plain.PulseCount != d.PulseCount || plain.Urgency != d.Urgency {
		t.Fatal("forecast must not change the plan")
	}
	if !strings.HasPrefix(d.Summary, plain.Summary) {
		t.Fatalf("summary prefix changed: %q vs %q", d.Summary, plain.Summary)
	}
	if plain.PredictedMoisture != nil {
		t.Fatal("no forecast, no annotation")
	}
}

func TestDecide_ForecastNoteOnEveryOutcome(t *testing.T) {
	e := newTestEngine()
	forecast := []float64{72, 72, 72, 72, 72, 72}

	healthy := e.Decide(tomatoConfig(), reading(72, 25, 12), forecast)
	if !strings.Contains(healthy.Summary, "forecast: 72.0%") {
		t.Fatalf("no-need summary missing forecast note: %q", healthy.Summary)
	}

	faulted := e.Decide(tomatoConfig(), reading(0, 25, 12), forecast)
	if !strings.Contains(faulted.Summary, "sensor error") || !strings.Contains(faulted.Summary, "forecast: 72.0%") {
		t.Fatalf("sensor-error summary missing forecast note: %q", faulted.Summary)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	e := newTestEngine()
	cfg := tomatoConfig()
	r := reading(47.3, 28.1, 15)
	first := e.Decide(cfg, r, nil)
	for i := 0; i < 10; i++ {
		if got := e.Decide(cfg, r, nil); got != first {
			t.Fatalf("run %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestDecide_UnknownPlantFallsBackToDefault(t *testing.T) {
	cfg := tomatoConfig()
	cfg.PlantType = "dragonfruit"
	d := newTestEngine().Decide(cfg, reading(40, 25, 12), nil)
	if d.TargetMoisture != 60 { // default ideal
		t.Fatalf("target = %g, want default profile ideal 60", d.TargetMoisture)
	}
}
