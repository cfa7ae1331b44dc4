package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/journal"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/pulse"
)

// Analyze fetches the latest reading for a greenhouse and computes the
// irrigation decision without acting on it.
func (s *IrrigationService) Analyze(ctx context.Context, id string) (model.IrrigationDecision, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return model.IrrigationDecision{}, notFound("greenhouse not configured: " + id)
	}

	d, err := s.analyzeEntry(ctx, entry)
	if err != nil {
		return model.IrrigationDecision{}, err
	}
	if terr := entry.Transition(greenhouse.StatusIdle); terr != nil {
		log.Printf("[service] %s: %v", id, terr)
	}
	return d, nil
}

// analyzeEntry runs the analysis pipeline and leaves the entry in the
// analyzing state for callers that proceed to irrigation. On error the entry
// is moved to the error state.
func (s *IrrigationService) analyzeEntry(ctx context.Context, entry *greenhouse.Entry) (model.IrrigationDecision, error) {
	if entry.Status() == greenhouse.StatusError {
		if err := entry.Transition(greenhouse.StatusIdle); err != nil {
			return model.IrrigationDecision{}, internal("recover from error state", err)
		}
	}
	if err := entry.Transition(greenhouse.StatusAnalyzing); err != nil {
		return model.IrrigationDecision{}, inProgress("greenhouse " + entry.GreenhouseID + " is busy: " + string(entry.Status()))
	}

	latest, err := s.telemetry.LatestReading(ctx, entry.GreenhouseID)
	if err != nil {
		msg := "latest reading unavailable: " + err.Error()
		entry.Fail(msg)
		s.record(journal.KindError, entry.GreenhouseID, "read_failed", map[string]string{"error": err.Error()})
		return model.IrrigationDecision{}, unavailable(msg, err)
	}
	s.counters.ReadingsFetched.Add(1)
	entry.History.Push(latest)

	var fc []float64
	if s.forecaster != nil {
		fc, _ = s.forecaster.Forecast(entry.History.Snapshot())
	}

	d := s.decider.Decide(entry.Config(), latest, fc)
	entry.SetLastDecision(d)
	s.counters.AnalysesRun.Add(1)
	return d, nil
}

// ExecuteIrrigation analyzes and, when irrigation is needed (or force is
// set), runs the pulse sequence. force on a greenhouse that does not need
// water runs a single conservative pulse.
func (s *IrrigationService) ExecuteIrrigation(ctx context.Context, id string, force bool) (model.IrrigationDecision, *model.IrrigationResult, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return model.IrrigationDecision{}, nil, notFound("greenhouse not configured: " + id)
	}

	d, err := s.analyzeEntry(ctx, entry)
	if err != nil {
		return model.IrrigationDecision{}, nil, err
	}

	if !d.NeedsIrrigation {
		if !force {
			if terr := entry.Transition(greenhouse.StatusIdle); terr != nil {
				log.Printf("[service] %s: %v", id, terr)
			}
			return d, nil, nil
		}
		if d.Confidence == 0 {
			// Forced or not, a faulted probe means pumping blind.
			if terr := entry.Transition(greenhouse.StatusIdle); terr != nil {
				log.Printf("[service] %s: %v", id, terr)
			}
			return d, nil, conflict("sensor reading not plausible, refusing forced irrigation")
		}
		d.NeedsIrrigation = true
		d.PulseCount = 1
		d.Summary = "forced irrigation: single pulse despite no measured need"
	}

	result, err := s.runSequence(ctx, entry, d)
	if err != nil {
		if errors.Is(err, pulse.ErrInProgress) {
			return d, nil, inProgress("irrigation already in progress for " + id)
		}
		return d, &result, nil // failure details live in the result
	}
	return d, &result, nil
}

// runSequence executes the pulse sequence and records its outcome in
// counters and the journal.
func (s *IrrigationService) runSequence(ctx context.Context, entry *greenhouse.Entry, d model.IrrigationDecision) (model.IrrigationResult, error) {
	result, err := s.executor.Execute(ctx, entry, d)
	if errors.Is(err, pulse.ErrInProgress) {
		return result, err
	}

	s.counters.PulsesExecuted.Add(int64(result.PulsesExecuted))
	if result.Success {
		s.counters.SequencesSucceeded.Add(1)
	} else {
		s.counters.SequencesFailed.Add(1)
	}

	status := "success"
	if !result.Success {
		status = "failed"
	}
	s.record(journal.KindIrrigation, entry.GreenhouseID, status, result)
	return result, err
}

// evaluatePrediction runs the prediction gate for one entry during a sweep.
func (s *IrrigationService) evaluatePrediction(ctx context.Context, entry *greenhouse.Entry, latest model.SensorReading, d model.IrrigationDecision) {
	if s.gate == nil || s.forecaster == nil {
		return
	}
	fc, ok := s.forecaster.Forecast(entry.History.Snapshot())
	if !ok {
		return
	}
	outcome, err := s.gate.Evaluate(ctx, entry, latest, d.TargetMoisture, fc, entry.History.Len())
	if err != nil {
		log.Printf("[service] %s: prediction report failed: %v", entry.GreenhouseID, err)
		return
	}
	if outcome == nil {
		return
	}
	if outcome.Accepted {
		s.counters.PredictionsSent.Add(1)
		s.record(journal.KindPrediction, entry.GreenhouseID, "accepted", outcome)
	} else {
		s.counters.PredictionsSkipped.Add(1)
		s.record(journal.KindPrediction, entry.GreenhouseID, "skipped", outcome)
	}
}

// sweepTimeout bounds one greenhouse's share of a monitoring sweep.
const sweepTimeout = 2 * time.Minute
