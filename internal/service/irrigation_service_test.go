package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trellis-farm/trellis/internal/config"
	"github.com/trellis-farm/trellis/internal/decision"
	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/plant"
	"github.com/trellis-farm/trellis/internal/pulse"
)

type fakeTelemetry struct {
	latest    model.SensorReading
	latestErr error
	window    []model.SensorReading
	windowErr error

	plantDoc model.PlantConfigDoc
	plantRaw []byte
	plantErr error

	irrigationReports []model.IrrigationEvent
	predictionOutcome model.PredictionOutcome
}

func (f *fakeTelemetry) LatestReading(context.Context, string) (model.SensorReading, error) {
	return f.latest, f.latestErr
}

func (f *fakeTelemetry) RecentWindow(context.Context, string, int, int) ([]model.SensorReading, error) {
	return f.window, f.windowErr
}

func (f *fakeTelemetry) FetchPlantConfig(context.Context) (model.PlantConfigDoc, []byte, error) {
	return f.plantDoc, f.plantRaw, f.plantErr
}

func (f *fakeTelemetry) ReportIrrigation(_ context.Context, ev model.IrrigationEvent) error {
	f.irrigationReports = append(f.irrigationReports, ev)
	return nil
}

func (f *fakeTelemetry) ReportPrediction(context.Context, model.PredictionPayload) (model.PredictionOutcome, error) {
	return f.predictionOutcome, nil
}

type fakeExecutor struct {
	decisions []model.IrrigationDecision
	err       error
	fail      bool
}

func (f *fakeExecutor) Execute(_ context.Context, entry *greenhouse.Entry, d model.IrrigationDecision) (model.IrrigationResult, error) {
	f.decisions = append(f.decisions, d)
	if f.err != nil {
		return model.IrrigationResult{}, f.err
	}
	res := model.IrrigationResult{
		Success:        !f.fail,
		PulsesExecuted: d.PulseCount,
		MoistureBefore: d.CurrentMoisture,
		Timestamp:      time.Now(),
	}
	// Mirror the real executor's terminal transitions.
	if err := entry.Transition(greenhouse.StatusIrrigating); err == nil {
		if f.fail {
			entry.Fail("simulated failure")
		} else {
			entry.Transition(greenhouse.StatusIdle) //nolint:errcheck
			entry.MarkIrrigated(res.Timestamp)
		}
	}
	return res, f.err
}

func newTestService(tel *fakeTelemetry, exec PulseRunner) *IrrigationService {
	table := plant.NewTable()
	var rc atomic.Pointer[config.RuntimeConfig]
	rc.Store(config.NewDefaultRuntimeConfig())
	gain := func() float64 { return rc.Load().GainPerPulse }
	return NewIrrigationService(Options{
		Registry:   greenhouse.NewRegistry(0),
		Telemetry:  tel,
		Executor:   exec,
		Decider:    decision.NewEngine(table, gain),
		Table:      table,
		RuntimeCfg: &rc,
		Info:       SystemInfo{Version: "test", StartedAt: time.Now()},
	})
}

func dayReading(moisture float64) model.SensorReading {
	return model.SensorReading{
		AirTemperature: 25,
		AirHumidity:    55,
		SoilMoisture:   moisture,
		Timestamp:      time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func configureReq() ConfigureRequest {
	return ConfigureRequest{
		GreenhouseID:     "gh-1",
		ActuatorEndpoint: "192.168.1.50:80",
		PlantType:        "tomato",
	}
}

func mustConfigure(t *testing.T, s *IrrigationService, req ConfigureRequest) greenhouse.Snapshot {
	t.Helper()
	snap, err := s.Configure(context.Background(), req)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	return snap
}

func TestConfigure_DefaultsAndWarmFill(t *testing.T) {
	tel := &fakeTelemetry{window: []model.SensorReading{dayReading(50), dayReading(49), dayReading(48)}}
	s := newTestService(tel, &fakeExecutor{})

	snap := mustConfigure(t, s, configureReq())
	cfg := snap.Config
	if cfg.PulseDurationSec != 1.0 || cfg.PulseWaitSec != 30 || cfg.MaxPulses != 15 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if snap.HistoryLen != 3 {
		t.Fatalf("historyLen = %d, want warm-filled 3", snap.HistoryLen)
	}

	// Reconfigure must not re-run the warm fill.
	snap = mustConfigure(t, s, configureReq())
	if snap.HistoryLen != 3 {
		t.Fatalf("historyLen after reconfigure = %d, want 3", snap.HistoryLen)
	}
}

func TestConfigure_Validation(t *testing.T) {
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})

	tests := []struct {
		name string
		mod  func(*ConfigureRequest)
	}{
		{"empty id", func(r *ConfigureRequest) { r.GreenhouseID = " " }},
		{"bad endpoint", func(r *ConfigureRequest) { r.ActuatorEndpoint = "no-port" }},
		{"bad port", func(r *ConfigureRequest) { r.ActuatorEndpoint = "h:70000" }},
		{"pulse too long", func(r *ConfigureRequest) { r.PulseDurationSec = 120 }},
		{"negative wait", func(r *ConfigureRequest) { r.PulseWaitSec = -1 }},
		{"negative max pulses", func(r *ConfigureRequest) { r.MaxPulses = -2 }},
		{"target out of range", func(r *ConfigureRequest) { r.TargetMoisturePct = 150 }},
	}
	for _, tt := range tests {
		req := configureReq()
		tt.mod(&req)
		_, err := s.Configure(context.Background(), req)
		var serr *ServiceError
		if !errors.As(err, &serr) || serr.Code != "INVALID_ARGUMENT" {
			t.Errorf("%s: err = %v, want INVALID_ARGUMENT", tt.name, err)
		}
	}
}

func TestAnalyze(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(40)}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	d, err := s.Analyze(context.Background(), "gh-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !d.NeedsIrrigation || d.TargetMoisture != 70 || d.Urgency != model.UrgencyHigh {
		t.Fatalf("decision = %+v", d)
	}

	snap, _ := s.Status("gh-1")
	if snap.Status != greenhouse.StatusIdle {
		t.Fatalf("status after analyze = %s, want idle", snap.Status)
	}
	if snap.LastDecision == nil || snap.HistoryLen == 0 {
		t.Fatal("analyze must record the decision and push the reading")
	}
	if s.Counters().Snapshot().AnalysesRun != 1 {
		t.Fatal("analysis counter not incremented")
	}
}

func TestAnalyze_NotFound(t *testing.T) {
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})
	_, err := s.Analyze(context.Background(), "nope")
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "NOT_FOUND" {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestAnalyze_TelemetryDownThenRecovers(t *testing.T) {
	tel := &fakeTelemetry{latestErr: errors.New("backend down")}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	_, err := s.Analyze(context.Background(), "gh-1")
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "UNAVAILABLE" {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}
	snap, _ := s.Status("gh-1")
	if snap.Status != greenhouse.StatusError || snap.LastError == "" {
		t.Fatalf("snapshot = %+v, want error state", snap)
	}

	// Backend comes back; the next analyze recovers through idle.
	tel.latestErr = nil
	tel.latest = dayReading(72)
	d, err := s.Analyze(context.Background(), "gh-1")
	if err != nil {
		t.Fatalf("analyze after recovery: %v", err)
	}
	if d.NeedsIrrigation {
		t.Fatal("healthy moisture must not need irrigation")
	}
}

func TestExecuteIrrigation_NoNeedWithoutForce(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(72)}
	exec := &fakeExecutor{}
	s := newTestService(tel, exec)
	mustConfigure(t, s, configureReq())

	d, result, err := s.ExecuteIrrigation(context.Background(), "gh-1", false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if d.NeedsIrrigation || result != nil {
		t.Fatalf("d=%+v result=%+v, want no action", d, result)
	}
	if len(exec.decisions) != 0 {
		t.Fatal("executor must not run")
	}
}

func TestExecuteIrrigation_Force(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(72)}
	exec := &fakeExecutor{}
	s := newTestService(tel, exec)
	mustConfigure(t, s, configureReq())

	_, result, err := s.ExecuteIrrigation(context.Background(), "gh-1", true)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result == nil || !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(exec.decisions) != 1 || exec.decisions[0].PulseCount != 1 {
		t.Fatalf("forced decision = %+v, want single pulse", exec.decisions)
	}
	if s.Counters().Snapshot().SequencesSucceeded != 1 {
		t.Fatal("success counter not incremented")
	}
}

func TestExecuteIrrigation_ForceRejectsSensorError(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(0)}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	_, _, err := s.ExecuteIrrigation(context.Background(), "gh-1", true)
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "CONFLICT" {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
}

func TestExecuteIrrigation_InProgress(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(40)}
	exec := &fakeExecutor{err: pulse.ErrInProgress}
	s := newTestService(tel, exec)
	mustConfigure(t, s, configureReq())

	_, _, err := s.ExecuteIrrigation(context.Background(), "gh-1", false)
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "IN_PROGRESS" {
		t.Fatalf("err = %v, want IN_PROGRESS", err)
	}
}

func TestReloadConfig(t *testing.T) {
	ideal := 72.0
	tel := &fakeTelemetry{
		latest:   dayReading(60),
		plantDoc: model.PlantConfigDoc{GreenhouseID: "gh-1", PlantType: "tomato", SoilMoistureIdeal: &ideal},
		plantRaw: []byte(`{"plantType":"tomato","soilMoistureIdeal":72}`),
	}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())
	if _, err := s.StartMonitoring(context.Background(), "gh-1", ""); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	snap, changed, err := s.ReloadConfig(context.Background(), "gh-1")
	if err != nil || !changed {
		t.Fatalf("reload: changed=%v err=%v", changed, err)
	}
	if snap.Config.TargetMoisturePct != 72 {
		t.Fatalf("target = %g, want 72", snap.Config.TargetMoisturePct)
	}
	if !snap.Monitored {
		t.Fatal("reload must not interrupt monitoring")
	}

	// Identical document short-circuits on the fingerprint.
	_, changed, err = s.ReloadConfig(context.Background(), "gh-1")
	if err != nil || changed {
		t.Fatalf("second reload: changed=%v err=%v, want no-op", changed, err)
	}
	if s.Counters().Snapshot().ConfigReloads != 1 {
		t.Fatal("no-op reload must not count as a reload")
	}

	// Analysis now uses the pinned backend target.
	d, err := s.Analyze(context.Background(), "gh-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.TargetMoisture != 72 {
		t.Fatalf("target after reload = %g, want 72", d.TargetMoisture)
	}
}

func TestReloadConfig_WrongGreenhouse(t *testing.T) {
	tel := &fakeTelemetry{
		plantDoc: model.PlantConfigDoc{GreenhouseID: "other"},
		plantRaw: []byte(`{}`),
	}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	_, _, err := s.ReloadConfig(context.Background(), "gh-1")
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestMonitoringLifecycle(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(72)}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	if s.MonitoringRunning() {
		t.Fatal("loop must not run before StartMonitoring")
	}
	if _, err := s.StartMonitoring(context.Background(), "gh-1", ""); err != nil {
		t.Fatal(err)
	}
	if !s.MonitoringRunning() {
		t.Fatal("loop should be running")
	}
	snap, _ := s.Status("gh-1")
	if !snap.Monitored {
		t.Fatal("entry should be monitored")
	}

	if err := s.StopMonitoring("gh-1"); err != nil {
		t.Fatal(err)
	}
	if s.MonitoringRunning() {
		t.Fatal("loop should stop when nothing is monitored")
	}
}

func TestStartMonitoring_RegistersUnconfiguredGreenhouse(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(72)}
	s := newTestService(tel, &fakeExecutor{})
	defer s.Shutdown()

	snap, err := s.StartMonitoring(context.Background(), "gh-new", "192.168.1.77:80")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Monitored {
		t.Fatal("entry should be monitored")
	}
	cfg := snap.Config
	if cfg.ActuatorEndpoint != "192.168.1.77:80" || cfg.PlantType != plant.DefaultType {
		t.Fatalf("config = %+v, want defaults with the given endpoint", cfg)
	}
	if cfg.PulseDurationSec != 1.0 || cfg.PulseWaitSec != 30 || cfg.MaxPulses != 15 {
		t.Fatalf("config = %+v, want default pulse parameters", cfg)
	}
	if !cfg.AutoIrrigate {
		t.Fatal("implicit registration should auto-irrigate")
	}
	if !s.MonitoringRunning() {
		t.Fatal("loop should be running")
	}
}

func TestStartMonitoring_UnconfiguredWithoutEndpoint(t *testing.T) {
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})

	_, err := s.StartMonitoring(context.Background(), "gh-ghost", "")
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
	if s.MonitoringRunning() {
		t.Fatal("loop must not start on a rejected request")
	}
}

func TestStopAllMonitoring(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(72)}
	s := newTestService(tel, &fakeExecutor{})
	for _, id := range []string{"gh-1", "gh-2", "gh-3"} {
		req := configureReq()
		req.GreenhouseID = id
		mustConfigure(t, s, req)
	}
	for _, id := range []string{"gh-1", "gh-2"} {
		if _, err := s.StartMonitoring(context.Background(), id, ""); err != nil {
			t.Fatal(err)
		}
	}

	if n := s.StopAllMonitoring(); n != 2 {
		t.Fatalf("stopped %d, want 2", n)
	}
	if s.MonitoringRunning() {
		t.Fatal("loop should be stopped")
	}
	for _, id := range []string{"gh-1", "gh-2", "gh-3"} {
		snap, _ := s.Status(id)
		if snap.Monitored {
			t.Fatalf("%s still monitored after stop-all", id)
		}
	}
}

func TestSweep_AutoIrrigates(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(40)}
	exec := &fakeExecutor{}
	s := newTestService(tel, exec)
	req := configureReq()
	req.AutoIrrigate = true
	mustConfigure(t, s, req)
	entry, _ := s.registry.Get("gh-1")
	entry.SetMonitored(true)

	s.superviseTick()

	if len(exec.decisions) != 1 {
		t.Fatalf("executor ran %d times, want 1", len(exec.decisions))
	}
	if exec.decisions[0].Urgency != model.UrgencyHigh {
		t.Fatalf("decision = %+v", exec.decisions[0])
	}
	if s.Counters().Snapshot().MonitorSweeps != 1 {
		t.Fatal("sweep counter not incremented")
	}
}

func TestSweep_NeedsButAutoOff(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(40)}
	exec := &fakeExecutor{}
	s := newTestService(tel, exec)
	mustConfigure(t, s, configureReq()) // auto_irrigate off
	entry, _ := s.registry.Get("gh-1")
	entry.SetMonitored(true)

	s.superviseTick()

	if len(exec.decisions) != 0 {
		t.Fatal("executor must not run with auto_irrigate off")
	}
	snap, _ := s.Status("gh-1")
	if snap.Status != greenhouse.StatusIdle || snap.LastDecision == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSweepInterval(t *testing.T) {
	tel := &fakeTelemetry{latest: dayReading(70)}
	s := newTestService(tel, &fakeExecutor{})

	// No monitored greenhouses: runtime default.
	if got := s.sweepInterval(); got != 5*time.Minute {
		t.Fatalf("interval = %v, want 5m default", got)
	}

	req := configureReq()
	req.CheckIntervalSec = 120
	mustConfigure(t, s, req)
	req2 := configureReq()
	req2.GreenhouseID = "gh-2"
	req2.CheckIntervalSec = 60
	mustConfigure(t, s, req2)
	for _, id := range []string{"gh-1", "gh-2"} {
		e, _ := s.registry.Get(id)
		e.SetMonitored(true)
	}

	if got := s.sweepInterval(); got != time.Minute {
		t.Fatalf("interval = %v, want the smallest configured 1m", got)
	}
}

func TestPatchRuntimeConfig(t *testing.T) {
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})

	got, err := s.PatchRuntimeConfig(json.RawMessage(`{"gain_per_pulse": 2.5}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.GainPerPulse != 2.5 {
		t.Fatalf("gain = %g, want 2.5", got.GainPerPulse)
	}
	if s.GetRuntimeConfig().GainPerPulse != 2.5 {
		t.Fatal("patch not visible through the atomic pointer")
	}
	// Untouched fields survive.
	if got.WarmFillHours != 48 {
		t.Fatalf("warmFillHours = %d, want 48", got.WarmFillHours)
	}

	for name, patch := range map[string]string{
		"unknown field": `{"bogus": 1}`,
		"null value":    `{"gain_per_pulse": null}`,
		"empty patch":   `{}`,
		"invalid value": `{"gain_per_pulse": -1}`,
		"bad interval":  `{"default_check_interval": "1s"}`,
	} {
		if _, err := s.PatchRuntimeConfig(json.RawMessage(patch)); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

type fakeActuator struct {
	status      map[string]any
	statusErr   error
	deactivated []string
}

func (f *fakeActuator) PumpStatus(context.Context, string) (map[string]any, error) {
	return f.status, f.statusErr
}

func (f *fakeActuator) Deactivate(_ context.Context, endpoint string) error {
	f.deactivated = append(f.deactivated, endpoint)
	return nil
}

func TestReloadConfig_MidpointFallback(t *testing.T) {
	lo, hi := 50.0, 90.0
	tel := &fakeTelemetry{
		plantDoc: model.PlantConfigDoc{
			GreenhouseID:    "gh-1",
			PlantType:       "pepper",
			SoilMoistureMin: &lo,
			SoilMoistureMax: &hi,
		},
		plantRaw: []byte(`{"plantType":"pepper","soilMoistureMin":50,"soilMoistureMax":90}`),
	}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	snap, changed, err := s.ReloadConfig(context.Background(), "gh-1")
	if err != nil || !changed {
		t.Fatalf("reload: changed=%v err=%v", changed, err)
	}
	if snap.Config.TargetMoisturePct != 70 {
		t.Fatalf("target = %g, want midpoint 70", snap.Config.TargetMoisturePct)
	}
	if snap.Config.PlantType != "pepper" {
		t.Fatalf("plant = %q", snap.Config.PlantType)
	}
}

func TestPumpStatus(t *testing.T) {
	act := &fakeActuator{status: map[string]any{"running": false}}
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})
	s.actuator = act
	mustConfigure(t, s, configureReq())

	status, err := s.PumpStatus(context.Background(), "gh-1")
	if err != nil {
		t.Fatalf("pump status: %v", err)
	}
	if running, ok := status["running"].(bool); !ok || running {
		t.Fatalf("status = %v", status)
	}

	act.statusErr = errors.New("node unreachable")
	_, err = s.PumpStatus(context.Background(), "gh-1")
	var serr *ServiceError
	if !errors.As(err, &serr) || serr.Code != "UNAVAILABLE" {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}
}

func TestDeactivateAllPumps(t *testing.T) {
	act := &fakeActuator{}
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})
	s.actuator = act
	mustConfigure(t, s, configureReq())
	req2 := configureReq()
	req2.GreenhouseID = "gh-2"
	req2.ActuatorEndpoint = "192.168.1.51:80"
	mustConfigure(t, s, req2)

	s.DeactivateAllPumps(context.Background())
	if len(act.deactivated) != 2 {
		t.Fatalf("deactivated %v, want both endpoints", act.deactivated)
	}
}

func TestListPlants(t *testing.T) {
	s := newTestService(&fakeTelemetry{}, &fakeExecutor{})
	plants := s.ListPlants()
	if len(plants) != 8 {
		t.Fatalf("got %d plants, want 8", len(plants))
	}
	for i := 1; i < len(plants); i++ {
		if plants[i-1].PlantType >= plants[i].PlantType {
			t.Fatal("plants must be sorted by tag")
		}
	}
}

func TestRemoveGreenhouse(t *testing.T) {
	tel := &fakeTelemetry{}
	s := newTestService(tel, &fakeExecutor{})
	mustConfigure(t, s, configureReq())

	entry, _ := s.registry.Get("gh-1")
	entry.TryBeginIrrigation()
	if err := s.RemoveGreenhouse("gh-1"); err == nil {
		t.Fatal("removal during irrigation must be rejected")
	}
	entry.EndIrrigation()

	if err := s.RemoveGreenhouse("gh-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveGreenhouse("gh-1"); err == nil {
		t.Fatal("second removal should be NOT_FOUND")
	}
}
