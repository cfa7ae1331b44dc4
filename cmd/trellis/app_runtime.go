package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trellis-farm/trellis/internal/actuator"
	"github.com/trellis-farm/trellis/internal/api"
	"github.com/trellis-farm/trellis/internal/buildinfo"
	"github.com/trellis-farm/trellis/internal/config"
	"github.com/trellis-farm/trellis/internal/decision"
	"github.com/trellis-farm/trellis/internal/forecast"
	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/metrics"
	"github.com/trellis-farm/trellis/internal/plant"
	"github.com/trellis-farm/trellis/internal/predict"
	"github.com/trellis-farm/trellis/internal/pulse"
	"github.com/trellis-farm/trellis/internal/service"
	"github.com/trellis-farm/trellis/internal/telemetry"
)

type trellisApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	registry     *greenhouse.Registry
	latencyTable *greenhouse.EndpointLatencyTable
	journalRepo  *journal.Repo
	journalSvc   *journal.Service
	counters     *metrics.Counters
	ring         *metrics.RealtimeRing
	sampler      *metrics.Sampler
	svc          *service.IrrigationService
	refresher    *cron.Cron
	apiSrv       *api.Server
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if envCfg.AdminToken != "" && config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("[main] WARNING: TRELLIS_ADMIN_TOKEN is weak, consider a longer random token")
	}

	app, err := newTrellisApp(envCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app.bootstrapFromEnv(ctx)
	cancel()

	serverErrCh := app.startServers()
	runtimeErr := waitForShutdown(serverErrCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(shutdownCtx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newTrellisApp(envCfg *config.EnvConfig) (*trellisApp, error) {
	app := &trellisApp{
		envCfg:     envCfg,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
	}
	app.runtimeCfg.Store(config.NewDefaultRuntimeConfig())
	rc := func() *config.RuntimeConfig { return app.runtimeCfg.Load() }

	table, err := loadPlantTable(envCfg.PlantTablePath)
	if err != nil {
		return nil, err
	}

	app.registry = greenhouse.NewRegistry(0)
	app.latencyTable = greenhouse.NewEndpointLatencyTable(envCfg.MaxLatencyTableEntries)
	observe := func(host string, latency time.Duration) {
		app.latencyTable.Update(host, latency, time.Duration(rc().LatencyDecayWindow))
	}

	telemetryClient := telemetry.NewClient(telemetry.Config{
		BaseURL:       envCfg.BackendURL,
		ReadTimeout:   envCfg.TelemetryTimeout,
		ReportTimeout: envCfg.ReportTimeout,
		Observe:       observe,
	})
	actuatorClient := actuator.NewClient(actuator.Config{
		Timeout: envCfg.ActuatorTimeout,
		Observe: observe,
	})

	if err := app.initJournal(); err != nil {
		return nil, err
	}
	app.initMetrics()

	executor := pulse.NewExecutor(pulse.Config{
		Actuator:  actuatorClient,
		Telemetry: telemetryClient,
		Stabilization: func() time.Duration {
			return time.Duration(rc().StabilizationDelay)
		},
	})
	var forecastModel forecast.Model
	if envCfg.ForecastModelURL != "" {
		forecastModel = forecast.NewHTTPModel(envCfg.ForecastModelURL, envCfg.ForecastTimeout)
		log.Printf("[main] forecast model wired: %s", envCfg.ForecastModelURL)
	}

	gate := predict.NewGate(predict.Config{
		Reporter: telemetryClient,
		Cooldown: func() time.Duration {
			return time.Duration(rc().PredictionCooldown)
		},
	})

	app.svc = service.NewIrrigationService(service.Options{
		Registry:   app.registry,
		Telemetry:  telemetryClient,
		Executor:   executor,
		Actuator:   actuatorClient,
		Decider:    decision.NewEngine(table, func() float64 { return rc().GainPerPulse }),
		Forecaster: forecast.NewAdapter(forecastModel, nil),
		Gate:       gate,
		Journal:    app.journalSvc,
		Counters:   app.counters,
		Table:      table,
		RuntimeCfg: app.runtimeCfg,
		EnvCfg:     envCfg,
		Info: service.SystemInfo{
			Version:   buildinfo.Version,
			GitCommit: buildinfo.GitCommit,
			BuildTime: buildinfo.BuildTime,
			StartedAt: time.Now().UTC(),
		},
	})

	if err := app.initConfigRefresher(); err != nil {
		return nil, err
	}

	app.apiSrv = api.NewServer(api.ServerOptions{
		ListenAddress:   envCfg.ListenAddress,
		Port:            envCfg.TrellisPort,
		AdminToken:      envCfg.AdminToken,
		APIMaxBodyBytes: int64(envCfg.APIMaxBodyBytes),
		Service:         app.svc,
		JournalRepo:     app.journalRepo,
		RealtimeRing:    app.ring,
		LatencyTable:    app.latencyTable,
	})
	return app, nil
}

func loadPlantTable(path string) (*plant.Table, error) {
	if path == "" {
		return plant.NewTable(), nil
	}
	table, err := plant.NewTableFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("plant table %s: %w", path, err)
	}
	log.Printf("[main] plant table loaded from %s", path)
	return table, nil
}

func (a *trellisApp) initJournal() error {
	dir := filepath.Join(a.envCfg.LogDir, "journal")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	a.journalRepo = journal.NewRepo(dir,
		int64(a.envCfg.JournalDBMaxMB)<<20,
		a.envCfg.JournalDBRetainCount,
	)
	if err := a.journalRepo.Open(); err != nil {
		return fmt.Errorf("journal open: %w", err)
	}
	a.journalSvc = journal.NewService(journal.ServiceConfig{
		Repo:          a.journalRepo,
		QueueSize:     a.envCfg.JournalQueueSize,
		FlushBatch:    a.envCfg.JournalFlushBatchSize,
		FlushInterval: a.envCfg.JournalFlushInterval,
	})
	return nil
}

func (a *trellisApp) initMetrics() {
	a.counters = &metrics.Counters{}
	capacity := a.envCfg.MetricRetentionSeconds / a.envCfg.MetricSampleIntervalSeconds
	a.ring = metrics.NewRealtimeRing(capacity)
	state := func() (int, int, map[string]float64) {
		snaps := a.registry.Snapshots()
		monitored := 0
		moisture := make(map[string]float64, len(snaps))
		for _, s := range snaps {
			if s.Monitored {
				monitored++
			}
			if s.LastReading != nil {
				moisture[s.GreenhouseID] = s.LastReading.SoilMoisture
			}
		}
		return len(snaps), monitored, moisture
	}
	a.sampler = metrics.NewSampler(a.counters, a.ring, state,
		time.Duration(a.envCfg.MetricSampleIntervalSeconds)*time.Second)
}

// initConfigRefresher schedules periodic backend config reloads for every
// configured greenhouse.
func (a *trellisApp) initConfigRefresher() error {
	schedule := a.envCfg.ConfigRefreshSchedule
	if schedule == "" {
		return nil
	}
	a.refresher = cron.New()
	_, err := a.refresher.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, snap := range a.svc.StatusAll() {
			if _, changed, err := a.svc.ReloadConfig(ctx, snap.GreenhouseID); err != nil {
				log.Printf("[main] %s: scheduled config reload failed: %v", snap.GreenhouseID, err)
			} else if changed {
				log.Printf("[main] %s: scheduled config reload applied", snap.GreenhouseID)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("config refresh schedule: %w", err)
	}
	log.Printf("[main] config refresh scheduled: %q", schedule)
	return nil
}

// bootstrapRequest builds the configure request for the env-declared
// greenhouse. Monitoring started from env also auto-irrigates; a headless
// controller has nobody to approve pending decisions.
func bootstrapRequest(envCfg *config.EnvConfig) service.ConfigureRequest {
	return service.ConfigureRequest{
		GreenhouseID:      envCfg.GreenhouseID,
		ActuatorEndpoint:  envCfg.BootstrapActuatorEndpoint(),
		PlantType:         envCfg.PlantType,
		PulseDurationSec:  envCfg.PulseDuration,
		PulseWaitSec:      envCfg.PulseWait,
		MaxPulses:         envCfg.MaxPulses,
		AutoIrrigate:      envCfg.AutoStartMonitor,
		TargetMoisturePct: envCfg.TargetMoisture,
	}
}

// bootstrapFromEnv configures the env-declared greenhouse, if any. Failures
// are logged, not fatal: the API can still configure greenhouses later.
func (a *trellisApp) bootstrapFromEnv(ctx context.Context) {
	if a.envCfg.GreenhouseID == "" {
		return
	}
	id := a.envCfg.GreenhouseID

	if _, err := a.svc.Configure(ctx, bootstrapRequest(a.envCfg)); err != nil {
		log.Printf("[main] bootstrap configure %s failed: %v", id, err)
		return
	}
	if a.envCfg.FetchConfigFromBackend {
		if _, _, err := a.svc.ReloadConfig(ctx, id); err != nil {
			log.Printf("[main] bootstrap config reload %s failed: %v", id, err)
		}
	}
	if a.envCfg.AutoStartMonitor {
		if _, err := a.svc.StartMonitoring(ctx, id, ""); err != nil {
			log.Printf("[main] bootstrap monitoring %s failed: %v", id, err)
		} else {
			log.Printf("[main] bootstrap: monitoring started for %s", id)
		}
	}
}

func (a *trellisApp) startServers() <-chan error {
	a.journalSvc.Start()
	a.sampler.Start()
	if a.refresher != nil {
		a.refresher.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[main] trellis API listening on %s:%d", a.envCfg.ListenAddress, a.envCfg.TrellisPort)
		if err := a.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("[main] received signal %s, shutting down", sig)
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *trellisApp) shutdown(ctx context.Context) {
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("[main] API shutdown error: %v", err)
	}
	a.svc.Shutdown()
	a.svc.DeactivateAllPumps(ctx)
	if a.refresher != nil {
		<-a.refresher.Stop().Done()
	}
	a.sampler.Stop()
	a.journalSvc.Stop()
	if err := a.journalRepo.Close(); err != nil {
		log.Printf("[main] journal close error: %v", err)
	}
	a.latencyTable.Close()
	log.Printf("[main] shutdown complete")
}
