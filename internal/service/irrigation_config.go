package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/netutil"
	"github.com/trellis-farm/trellis/internal/plant"
)

// ConfigureRequest carries the per-greenhouse control parameters. Zero
// numeric fields fall back to controller defaults.
type ConfigureRequest struct {
	GreenhouseID      string  `json:"greenhouse_id"`
	ActuatorEndpoint  string  `json:"actuator_endpoint"`
	PlantType         string  `json:"plant_type"`
	PulseDurationSec  float64 `json:"pulse_duration_sec"`
	PulseWaitSec      int     `json:"pulse_wait_sec"`
	MaxPulses         int     `json:"max_pulses"`
	AutoIrrigate      bool    `json:"auto_irrigate"`
	CheckIntervalSec  int     `json:"check_interval_sec"`
	TargetMoisturePct float64 `json:"target_moisture_pct"`
}

// Configure registers or reconfigures a greenhouse. On first configure the
// reading history is warm-filled from the backend's recent window.
func (s *IrrigationService) Configure(ctx context.Context, req ConfigureRequest) (greenhouse.Snapshot, error) {
	cfg, verr := s.buildConfig(req)
	if verr != nil {
		return greenhouse.Snapshot{}, verr
	}

	entry, created := s.registry.Upsert(cfg)
	if created {
		s.warmFill(ctx, entry)
	}

	action := "reconfigured"
	if created {
		action = "configured"
	}
	log.Printf("[service] greenhouse %s %s: plant=%s endpoint=%s auto=%v",
		cfg.GreenhouseID, action, cfg.PlantType, cfg.ActuatorEndpoint, cfg.AutoIrrigate)
	s.record(journal.KindConfig, cfg.GreenhouseID, action, cfg)
	return entry.Snapshot(), nil
}

func (s *IrrigationService) buildConfig(req ConfigureRequest) (model.GreenhouseConfig, *ServiceError) {
	id := strings.TrimSpace(req.GreenhouseID)
	if id == "" {
		return model.GreenhouseConfig{}, invalidArg("greenhouse_id: must not be empty")
	}
	if err := netutil.ValidateEndpoint(req.ActuatorEndpoint); err != nil {
		return model.GreenhouseConfig{}, invalidArg("actuator_endpoint: " + err.Error())
	}

	cfg := model.GreenhouseConfig{
		GreenhouseID:      id,
		ActuatorEndpoint:  req.ActuatorEndpoint,
		PlantType:         strings.TrimSpace(req.PlantType),
		PulseDurationSec:  req.PulseDurationSec,
		PulseWaitSec:      req.PulseWaitSec,
		MaxPulses:         req.MaxPulses,
		AutoIrrigate:      req.AutoIrrigate,
		CheckIntervalSec:  req.CheckIntervalSec,
		TargetMoisturePct: req.TargetMoisturePct,
		ConfiguredAt:      time.Now(),
	}
	if cfg.PlantType == "" {
		cfg.PlantType = plant.DefaultType
	}
	if cfg.PulseDurationSec == 0 {
		cfg.PulseDurationSec = 1.0
	}
	if cfg.PulseWaitSec == 0 {
		cfg.PulseWaitSec = 30
	}
	if cfg.MaxPulses == 0 {
		cfg.MaxPulses = 15
	}

	if cfg.PulseDurationSec < 0.1 || cfg.PulseDurationSec > 60 {
		return model.GreenhouseConfig{}, invalidArg("pulse_duration_sec: must be within [0.1, 60]")
	}
	if cfg.PulseWaitSec < 1 {
		return model.GreenhouseConfig{}, invalidArg("pulse_wait_sec: must be >= 1")
	}
	if cfg.MaxPulses < 1 {
		return model.GreenhouseConfig{}, invalidArg("max_pulses: must be >= 1")
	}
	if cfg.CheckIntervalSec < 0 {
		return model.GreenhouseConfig{}, invalidArg("check_interval_sec: must be non-negative")
	}
	if cfg.TargetMoisturePct < 0 || cfg.TargetMoisturePct > 100 {
		return model.GreenhouseConfig{}, invalidArg("target_moisture_pct: must be within [0, 100]")
	}
	if !s.table.Known(cfg.PlantType) {
		log.Printf("[service] plant type %q has no profile, using %q band", cfg.PlantType, plant.DefaultType)
	}
	return cfg, nil
}

// warmFill seeds a fresh entry's history from the backend's recent readings.
// Best effort: a cold ring just means forecasts arrive later.
func (s *IrrigationService) warmFill(ctx context.Context, entry *greenhouse.Entry) {
	rc := s.rc()
	if rc.WarmFillHours <= 0 || rc.WarmFillLimit <= 0 {
		return
	}
	rows, err := s.telemetry.RecentWindow(ctx, entry.GreenhouseID, rc.WarmFillHours, rc.WarmFillLimit)
	if err != nil {
		log.Printf("[service] %s: history warm-fill failed: %v", entry.GreenhouseID, err)
		return
	}
	for _, r := range rows {
		entry.History.Push(r)
	}
	if len(rows) > 0 {
		log.Printf("[service] %s: warm-filled %d readings", entry.GreenhouseID, len(rows))
	}
}

// RemoveGreenhouse drops a greenhouse from the registry. A running pulse
// sequence blocks removal.
func (s *IrrigationService) RemoveGreenhouse(id string) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		return notFound("greenhouse not configured: " + id)
	}
	if !entry.TryBeginIrrigation() {
		return inProgress("irrigation in progress for " + id)
	}
	entry.EndIrrigation()
	s.registry.Remove(id)
	s.record(journal.KindConfig, id, "removed", nil)
	return nil
}

// ReloadConfig refetches the greenhouse's plant configuration from the
// backend and applies it. A document identical to the last applied one is
// skipped. Monitoring is never interrupted by a reload.
func (s *IrrigationService) ReloadConfig(ctx context.Context, id string) (greenhouse.Snapshot, bool, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return greenhouse.Snapshot{}, false, notFound("greenhouse not configured: " + id)
	}

	doc, raw, err := s.telemetry.FetchPlantConfig(ctx)
	if err != nil {
		return greenhouse.Snapshot{}, false, unavailable("fetch plant config: "+err.Error(), err)
	}
	if doc.GreenhouseID != "" && doc.GreenhouseID != id {
		return greenhouse.Snapshot{}, false, invalidArg(fmt.Sprintf(
			"backend config belongs to greenhouse %q, not %q", doc.GreenhouseID, id))
	}

	fp := greenhouse.FingerprintOf(raw)
	if prev, ok := entry.ConfigFingerprint(); ok && prev == fp {
		log.Printf("[service] %s: plant config unchanged (fingerprint %s)", id, fp)
		return entry.Snapshot(), false, nil
	}

	cfg := entry.Config()
	if doc.PlantType != "" {
		cfg.PlantType = doc.PlantType
	}
	if target, ok := docTarget(doc); ok {
		if target < 0 || target > 100 {
			return greenhouse.Snapshot{}, false, invalidArg("soil moisture target: must be within [0, 100]")
		}
		cfg.TargetMoisturePct = target
	}
	cfg.ConfiguredAt = time.Now()

	entry.SetConfig(cfg)
	entry.SetConfigFingerprint(fp)
	s.counters.ConfigReloads.Add(1)
	log.Printf("[service] %s: plant config reloaded: plant=%s target=%.1f (fingerprint %s)",
		id, cfg.PlantType, cfg.TargetMoisturePct, fp)
	s.record(journal.KindConfig, id, "reloaded", doc)
	return entry.Snapshot(), true, nil
}

// docTarget extracts the moisture target from a backend config document:
// the ideal when present, else the midpoint of the min/max band.
func docTarget(doc model.PlantConfigDoc) (float64, bool) {
	if doc.SoilMoistureIdeal != nil {
		return *doc.SoilMoistureIdeal, true
	}
	if doc.SoilMoistureMin != nil && doc.SoilMoistureMax != nil {
		return (*doc.SoilMoistureMin + *doc.SoilMoistureMax) / 2, true
	}
	return 0, false
}

// PlantProfile is one row of the plant knowledge table.
type PlantProfile struct {
	PlantType string  `json:"plant_type"`
	Min       float64 `json:"min"`
	Ideal     float64 `json:"ideal"`
	Max       float64 `json:"max"`
}

// ListPlants returns the full plant knowledge table, sorted by tag.
func (s *IrrigationService) ListPlants() []PlantProfile {
	all := s.table.All()
	out := make([]PlantProfile, 0, len(all))
	for tag, p := range all {
		out = append(out, PlantProfile{PlantType: tag, Min: p.Min, Ideal: p.Ideal, Max: p.Max})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlantType < out[j].PlantType })
	return out
}

// PumpStatus queries the greenhouse's actuator node directly. The payload is
// firmware-defined and passed through opaque.
func (s *IrrigationService) PumpStatus(ctx context.Context, id string) (map[string]any, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return nil, notFound("greenhouse not configured: " + id)
	}
	if s.actuator == nil {
		return nil, internal("actuator client not configured", nil)
	}
	status, err := s.actuator.PumpStatus(ctx, entry.Config().ActuatorEndpoint)
	if err != nil {
		return nil, unavailable("pump status: "+err.Error(), err)
	}
	return status, nil
}

// DeactivateAllPumps sends a best-effort stop to every configured actuator.
// Called during shutdown so a pump is never left running when the controller
// that would have stopped it is gone.
func (s *IrrigationService) DeactivateAllPumps(ctx context.Context) {
	if s.actuator == nil {
		return
	}
	s.registry.Range(func(id string, e *greenhouse.Entry) bool {
		if err := s.actuator.Deactivate(ctx, e.Config().ActuatorEndpoint); err != nil {
			log.Printf("[service] %s: shutdown pump deactivate failed: %v", id, err)
		}
		return true
	})
}

// Status returns the snapshot for one greenhouse.
func (s *IrrigationService) Status(id string) (greenhouse.Snapshot, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return greenhouse.Snapshot{}, notFound("greenhouse not configured: " + id)
	}
	return entry.Snapshot(), nil
}

// StatusAll returns snapshots for every configured greenhouse, sorted by ID.
func (s *IrrigationService) StatusAll() []greenhouse.Snapshot {
	snaps := s.registry.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].GreenhouseID < snaps[j].GreenhouseID })
	return snaps
}
