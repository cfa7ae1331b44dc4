// Package metrics tracks controller activity: cumulative counters plus a
// realtime ring of periodic samples for the diagnostics API.
package metrics

import "sync/atomic"

// Counters holds the cumulative controller counters. All fields are atomic;
// the zero value is ready to use.
type Counters struct {
	MonitorSweeps      atomic.Int64
	AnalysesRun        atomic.Int64
	PulsesExecuted     atomic.Int64
	SequencesSucceeded atomic.Int64
	SequencesFailed    atomic.Int64
	PredictionsSent    atomic.Int64
	PredictionsSkipped atomic.Int64
	ReadingsFetched    atomic.Int64
	ConfigReloads      atomic.Int64
	JournalDrops       atomic.Int64
}

// CountersSnapshot is a point-in-time copy of all counters.
type CountersSnapshot struct {
	MonitorSweeps      int64 `json:"monitor_sweeps"`
	AnalysesRun        int64 `json:"analyses_run"`
	PulsesExecuted     int64 `json:"pulses_executed"`
	SequencesSucceeded int64 `json:"sequences_succeeded"`
	SequencesFailed    int64 `json:"sequences_failed"`
	PredictionsSent    int64 `json:"predictions_sent"`
	PredictionsSkipped int64 `json:"predictions_skipped"`
	ReadingsFetched    int64 `json:"readings_fetched"`
	ConfigReloads      int64 `json:"config_reloads"`
	JournalDrops       int64 `json:"journal_drops"`
}

// Snapshot reads every counter once.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		MonitorSweeps:      c.MonitorSweeps.Load(),
		AnalysesRun:        c.AnalysesRun.Load(),
		PulsesExecuted:     c.PulsesExecuted.Load(),
		SequencesSucceeded: c.SequencesSucceeded.Load(),
		SequencesFailed:    c.SequencesFailed.Load(),
		PredictionsSent:    c.PredictionsSent.Load(),
		PredictionsSkipped: c.PredictionsSkipped.Load(),
		ReadingsFetched:    c.ReadingsFetched.Load(),
		ConfigReloads:      c.ConfigReloads.Load(),
		JournalDrops:       c.JournalDrops.Load(),
	}
}
