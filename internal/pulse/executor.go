// Package pulse runs irrigation pulse sequences against the actuator,
// including early stop, stabilization, and the mandatory backend report.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/netutil"
)

// ErrInProgress is returned when a pulse sequence is already running for the
// greenhouse. The caller must not queue behind it.
var ErrInProgress = errors.New("pulse: irrigation already in progress")

// Actuator is the pump-side dependency.
type Actuator interface {
	ActivatePulse(ctx context.Context, endpoint string, durationMs int) error
}

// Telemetry is the backend-side dependency: moisture re-reads plus the
// post-sequence report.
type Telemetry interface {
	LatestReading(ctx context.Context, greenhouseID string) (model.SensorReading, error)
	ReportIrrigation(ctx context.Context, ev model.IrrigationEvent) error
}

// SleepFunc pauses for d or until ctx is done. Injected so tests run without
// wall-clock waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config configures an Executor.
type Config struct {
	Actuator      Actuator
	Telemetry     Telemetry
	Stabilization func() time.Duration // soak delay before the final reading
	Sleep         SleepFunc            // nil uses a real timer
}

// Executor runs pulse sequences. One executor serves all greenhouses; the
// per-greenhouse lock lives on the entry.
type Executor struct {
	actuator      Actuator
	telemetry     Telemetry
	stabilization func() time.Duration
	sleep         SleepFunc
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	stab := cfg.Stabilization
	if stab == nil {
		stab = func() time.Duration { return 5 * time.Second }
	}
	return &Executor{
		actuator:      cfg.Actuator,
		telemetry:     cfg.Telemetry,
		stabilization: stab,
		sleep:         sleep,
	}
}

// Execute runs the planned pulse sequence for entry. It claims the entry's
// irrigation lock without blocking and returns ErrInProgress when a sequence
// is already running. Exactly one irrigation report is posted to the backend
// per call, success or failure.
func (x *Executor) Execute(ctx context.Context, entry *greenhouse.Entry, decision model.IrrigationDecision) (model.IrrigationResult, error) {
	if decision.PulseCount < 1 {
		return model.IrrigationResult{}, fmt.Errorf("pulse: decision plans no pulses")
	}
	if !entry.TryBeginIrrigation() {
		return model.IrrigationResult{}, ErrInProgress
	}
	defer entry.EndIrrigation()

	if err := entry.Transition(greenhouse.StatusIrrigating); err != nil {
		return model.IrrigationResult{}, err
	}

	cfg := entry.Config()
	durationMs := int(cfg.PulseDurationSec * 1000)
	pulseWait := time.Duration(cfg.PulseWaitSec) * time.Second

	executed := 0
	earlyStop := false
	var runErr error

	for i := 0; i < decision.PulseCount; i++ {
		if i > 0 {
			if err := entry.Transition(greenhouse.StatusIrrigating); err != nil {
				runErr = err
				break
			}
		}
		if err := x.actuator.ActivatePulse(ctx, cfg.ActuatorEndpoint, durationMs); err != nil {
			runErr = err
			break
		}
		executed++
		if err := entry.Transition(greenhouse.StatusWaiting); err != nil {
			runErr = err
			break
		}

		if i == decision.PulseCount-1 {
			break
		}
		if err := x.sleep(ctx, pulseWait); err != nil {
			runErr = err
			break
		}
		// One re-read between pulses decides early stop. A failed re-read is
		// not fatal; the sequence just runs its planned length.
		reading, err := x.telemetry.LatestReading(ctx, entry.GreenhouseID)
		if err != nil {
			log.Printf("[pulse] %s: re-read failed after pulse %d: %v", entry.GreenhouseID, executed, err)
			continue
		}
		if reading.SoilMoisture >= decision.TargetMoisture {
			earlyStop = true
			break
		}
	}

	result := model.IrrigationResult{
		PulsesExecuted:   executed,
		TotalDurationSec: float64(executed) * cfg.PulseDurationSec,
		MoistureBefore:   decision.CurrentMoisture,
		Timestamp:        time.Now(),
	}

	if runErr != nil {
		result.Message = fmt.Sprintf("irrigation aborted after %d pulse(s): %v", executed, runErr)
		entry.Fail(result.Message)
	} else {
		// Let the soil settle before the closing measurement.
		if err := x.sleep(ctx, x.stabilization()); err != nil {
			runErr = err
			result.Message = fmt.Sprintf("irrigation interrupted during stabilization: %v", err)
			entry.Fail(result.Message)
		}
	}

	if runErr == nil {
		if reading, err := x.telemetry.LatestReading(ctx, entry.GreenhouseID); err == nil {
			after := reading.SoilMoisture
			result.MoistureAfter = &after
		} else {
			log.Printf("[pulse] %s: final reading failed: %v", entry.GreenhouseID, err)
		}
		result.Success = true
		switch {
		case earlyStop:
			result.Message = fmt.Sprintf("target reached early after %d of %d pulse(s)", executed, decision.PulseCount)
		default:
			result.Message = fmt.Sprintf("completed %d pulse(s)", executed)
		}
		entry.MarkIrrigated(result.Timestamp)
		if err := entry.Transition(greenhouse.StatusIdle); err != nil {
			log.Printf("[pulse] %s: %v", entry.GreenhouseID, err)
		}
	}

	x.report(entry, decision, result, durationMs, runErr)
	entry.SetLastResult(result)
	return result, runErr
}

// report posts the single per-sequence irrigation event. Reporting runs on a
// fresh context so a canceled sequence still gets its failure report out.
func (x *Executor) report(entry *greenhouse.Entry, decision model.IrrigationDecision, result model.IrrigationResult, durationMs int, runErr error) {
	cfg := entry.Config()
	ev := model.IrrigationEvent{
		GreenhouseID:   entry.GreenhouseID,
		Status:         "success",
		DurationMs:     result.PulsesExecuted * durationMs,
		PulseCount:     result.PulsesExecuted,
		MoistureBefore: result.MoistureBefore,
		MoistureAfter:  result.MoistureAfter,
		TargetMoisture: decision.TargetMoisture,
		PlantType:      cfg.PlantType,
		ActuatorHost:   netutil.HostOnly(cfg.ActuatorEndpoint),
	}
	if runErr != nil {
		ev.Status = "failed"
		ev.ErrorMessage = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.telemetry.ReportIrrigation(ctx, ev); err != nil {
		log.Printf("[pulse] %s: irrigation report failed: %v", entry.GreenhouseID, err)
	}
}
