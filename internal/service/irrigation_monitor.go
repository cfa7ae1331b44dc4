package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/pulse"
)

// StartMonitoring puts a greenhouse under supervisor coverage and makes sure
// the supervisor loop is running. An unconfigured greenhouse is registered on
// the spot with default parameters when actuatorEndpoint is given; monitoring
// started that way also auto-irrigates, since nobody is around to approve
// pending decisions. Without an endpoint an unconfigured id is an error.
func (s *IrrigationService) StartMonitoring(ctx context.Context, id, actuatorEndpoint string) (greenhouse.Snapshot, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		if strings.TrimSpace(actuatorEndpoint) == "" {
			return greenhouse.Snapshot{}, invalidArg(
				"actuator_endpoint: required to start monitoring unconfigured greenhouse " + id)
		}
		if _, err := s.Configure(ctx, ConfigureRequest{
			GreenhouseID:     id,
			ActuatorEndpoint: actuatorEndpoint,
			AutoIrrigate:     true,
		}); err != nil {
			return greenhouse.Snapshot{}, err
		}
		entry, _ = s.registry.Get(id)
	}
	entry.SetMonitored(true)
	if s.supervisor.Start() {
		log.Printf("[service] monitoring loop started for %s", id)
	}
	s.record(journal.KindMonitor, id, "started", nil)
	return entry.Snapshot(), nil
}

// StopMonitoring removes a greenhouse from supervisor coverage. The loop
// shuts down once no greenhouse is monitored.
func (s *IrrigationService) StopMonitoring(id string) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		return notFound("greenhouse not configured: " + id)
	}
	entry.SetMonitored(false)
	s.record(journal.KindMonitor, id, "stopped", nil)

	if s.monitoredCount() == 0 && s.supervisor.Stop() {
		log.Printf("[service] monitoring loop stopped, no greenhouses monitored")
	}
	return nil
}

// StopAllMonitoring clears the monitored flag on every greenhouse and stops
// the supervisor loop. It returns how many greenhouses were being watched.
func (s *IrrigationService) StopAllMonitoring() int {
	n := 0
	s.registry.Range(func(id string, e *greenhouse.Entry) bool {
		if e.Monitored() {
			e.SetMonitored(false)
			s.record(journal.KindMonitor, id, "stopped", nil)
			n++
		}
		return true
	})
	if s.supervisor.Stop() {
		log.Printf("[service] monitoring loop stopped for all greenhouses")
	}
	return n
}

// MonitoringRunning reports whether the supervisor loop is active.
func (s *IrrigationService) MonitoringRunning() bool {
	return s.supervisor.Running()
}

// Shutdown stops the supervisor loop, waiting for an in-flight sweep.
func (s *IrrigationService) Shutdown() {
	s.supervisor.Stop()
}

func (s *IrrigationService) monitoredCount() int {
	n := 0
	s.registry.Range(func(_ string, e *greenhouse.Entry) bool {
		if e.Monitored() {
			n++
		}
		return true
	})
	return n
}

// superviseTick sweeps every monitored greenhouse once.
func (s *IrrigationService) superviseTick() {
	s.counters.MonitorSweeps.Add(1)
	s.registry.Range(func(id string, entry *greenhouse.Entry) bool {
		if !entry.Monitored() {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		s.sweepOne(ctx, entry)
		cancel()
		return true
	})
}

// sweepOne runs one greenhouse through the check-decide-act cycle.
func (s *IrrigationService) sweepOne(ctx context.Context, entry *greenhouse.Entry) {
	d, err := s.analyzeEntry(ctx, entry)
	if err != nil {
		// A busy entry (manual irrigation in flight) is not a failure; real
		// failures were already journaled by analyzeEntry.
		log.Printf("[monitor] %s: sweep skipped: %v", entry.GreenhouseID, err)
		return
	}

	if latest, ok := entry.History.Latest(); ok {
		s.evaluatePrediction(ctx, entry, latest, d)
	}

	cfg := entry.Config()
	if d.NeedsIrrigation && cfg.AutoIrrigate {
		if _, err := s.runSequence(ctx, entry, d); err != nil {
			if errors.Is(err, pulse.ErrInProgress) {
				log.Printf("[monitor] %s: irrigation already running, sweep skipped", entry.GreenhouseID)
			} else {
				log.Printf("[monitor] %s: irrigation failed: %v", entry.GreenhouseID, err)
			}
		}
		return
	}
	if d.NeedsIrrigation {
		log.Printf("[monitor] %s: needs irrigation (%s) but auto_irrigate is off", entry.GreenhouseID, d.Urgency)
	}
	if err := entry.Transition(greenhouse.StatusIdle); err != nil {
		log.Printf("[monitor] %s: %v", entry.GreenhouseID, err)
	}
}

// sweepInterval is the supervisor cadence: the smallest check interval among
// monitored greenhouses, or the runtime default when none set one.
func (s *IrrigationService) sweepInterval() time.Duration {
	min := 0
	s.registry.Range(func(_ string, e *greenhouse.Entry) bool {
		if !e.Monitored() {
			return true
		}
		if iv := e.Config().CheckIntervalSec; iv > 0 && (min == 0 || iv < min) {
			min = iv
		}
		return true
	})

	interval := time.Duration(s.rc().DefaultCheckInterval)
	if min > 0 {
		interval = time.Duration(min) * time.Second
	}
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}
