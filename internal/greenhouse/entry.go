// Package greenhouse holds the in-memory runtime state for configured
// greenhouses: the registry, per-greenhouse entries, and the shared endpoint
// latency table.
package greenhouse

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trellis-farm/trellis/internal/history"
	"github.com/trellis-farm/trellis/internal/model"
)

// Status is the control-loop state of one greenhouse.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusAnalyzing  Status = "analyzing"
	StatusIrrigating Status = "irrigating"
	StatusWaiting    Status = "waiting"
	StatusError      Status = "error"
)

// allowedTransitions encodes the status machine. Error is reachable from any
// state; recovery from error goes through idle.
var allowedTransitions = map[Status][]Status{
	StatusIdle:       {StatusAnalyzing, StatusError},
	StatusAnalyzing:  {StatusIdle, StatusIrrigating, StatusError},
	StatusIrrigating: {StatusWaiting, StatusIdle, StatusError},
	StatusWaiting:    {StatusIrrigating, StatusIdle, StatusError},
	StatusError:      {StatusIdle, StatusError},
}

// Entry represents one configured greenhouse.
// Static fields are set at creation; dynamic fields use atomics or mutex.
type Entry struct {
	// --- Static (immutable after creation) ---
	GreenhouseID string
	CreatedAt    time.Time

	// History is the bounded in-memory reading window.
	History *history.Ring

	// Active config; replaced wholesale, never mutated in place.
	config atomic.Pointer[model.GreenhouseConfig]

	// execMu serializes pulse sequences. TryLock keeps a second trigger from
	// queueing behind a running one.
	execMu sync.Mutex

	// --- Dynamic (guarded by mu) ---
	mu           sync.RWMutex
	status       Status
	lastError    string
	lastDecision *model.IrrigationDecision
	lastResult   *model.IrrigationResult

	// Atomic dynamic fields for concurrent hot-path reads.
	lastIrrigationAt  atomic.Int64 // unix-nano; 0 = never
	lastPredictionAt  atomic.Int64 // unix-nano of last accepted prediction
	monitored         atomic.Bool
	configFingerprint atomic.Pointer[Fingerprint]
}

// NewEntry creates an Entry in the idle state with the given config.
func NewEntry(cfg model.GreenhouseConfig, historyCapacity int) *Entry {
	e := &Entry{
		GreenhouseID: cfg.GreenhouseID,
		CreatedAt:    time.Now(),
		History:      history.NewRing(historyCapacity),
		status:       StatusIdle,
	}
	e.config.Store(&cfg)
	return e
}

// Config returns the active config. The returned value is a copy.
func (e *Entry) Config() model.GreenhouseConfig {
	return *e.config.Load()
}

// SetConfig atomically replaces the active config.
func (e *Entry) SetConfig(cfg model.GreenhouseConfig) {
	e.config.Store(&cfg)
}

// Status returns the current control-loop status.
func (e *Entry) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Transition moves the status machine to next, rejecting moves the machine
// does not allow.
func (e *Entry) Transition(next Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range allowedTransitions[e.status] {
		if s == next {
			e.status = next
			if next != StatusError {
				e.lastError = ""
			}
			return nil
		}
	}
	return fmt.Errorf("greenhouse %s: illegal status transition %s -> %s", e.GreenhouseID, e.status, next)
}

// Fail moves to the error state and records the message. Always succeeds.
func (e *Entry) Fail(msg string) {
	e.mu.Lock()
	e.status = StatusError
	e.lastError = msg
	e.mu.Unlock()
}

// LastError returns the most recent failure message, empty when healthy.
func (e *Entry) LastError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// TryBeginIrrigation attempts to claim the pulse-sequence lock without
// blocking. The caller must call EndIrrigation exactly once on success.
func (e *Entry) TryBeginIrrigation() bool {
	return e.execMu.TryLock()
}

// EndIrrigation releases the pulse-sequence lock.
func (e *Entry) EndIrrigation() {
	e.execMu.Unlock()
}

// SetLastDecision records the most recent analysis outcome.
func (e *Entry) SetLastDecision(d model.IrrigationDecision) {
	e.mu.Lock()
	e.lastDecision = &d
	e.mu.Unlock()
}

// LastDecision returns a copy of the most recent decision, if any.
func (e *Entry) LastDecision() (model.IrrigationDecision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastDecision == nil {
		return model.IrrigationDecision{}, false
	}
	return *e.lastDecision, true
}

// SetLastResult records the outcome of the most recent pulse sequence.
func (e *Entry) SetLastResult(r model.IrrigationResult) {
	e.mu.Lock()
	e.lastResult = &r
	e.mu.Unlock()
}

// LastResult returns a copy of the most recent irrigation result, if any.
func (e *Entry) LastResult() (model.IrrigationResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastResult == nil {
		return model.IrrigationResult{}, false
	}
	return *e.lastResult, true
}

// MarkIrrigated records a successful pulse sequence completion time.
func (e *Entry) MarkIrrigated(t time.Time) {
	e.lastIrrigationAt.Store(t.UnixNano())
}

// LastIrrigationAt returns the last successful irrigation time, zero if never.
func (e *Entry) LastIrrigationAt() time.Time {
	return nanoTime(e.lastIrrigationAt.Load())
}

// MarkPredicted records an accepted prediction notification time.
func (e *Entry) MarkPredicted(t time.Time) {
	e.lastPredictionAt.Store(t.UnixNano())
}

// LastPredictionAt returns the last accepted prediction time, zero if never.
func (e *Entry) LastPredictionAt() time.Time {
	return nanoTime(e.lastPredictionAt.Load())
}

// SetMonitored flags whether the supervisor loop covers this greenhouse.
func (e *Entry) SetMonitored(on bool) {
	e.monitored.Store(on)
}

// Monitored reports whether the supervisor loop covers this greenhouse.
func (e *Entry) Monitored() bool {
	return e.monitored.Load()
}

// SetConfigFingerprint stores the fingerprint of the backend config document
// the active config was derived from.
func (e *Entry) SetConfigFingerprint(fp Fingerprint) {
	e.configFingerprint.Store(&fp)
}

// ConfigFingerprint returns the stored backend-config fingerprint, if any.
func (e *Entry) ConfigFingerprint() (Fingerprint, bool) {
	p := e.configFingerprint.Load()
	if p == nil {
		return Fingerprint{}, false
	}
	return *p, true
}

func nanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Snapshot is a point-in-time read of one entry for status surfaces.
type Snapshot struct {
	GreenhouseID     string                    `json:"greenhouse_id"`
	Status           Status                    `json:"status"`
	Monitored        bool                      `json:"monitored"`
	Config           model.GreenhouseConfig    `json:"config"`
	HistoryLen       int                       `json:"history_len"`
	LastReading      *model.SensorReading      `json:"last_reading,omitempty"`
	LastDecision     *model.IrrigationDecision `json:"last_decision,omitempty"`
	LastResult       *model.IrrigationResult   `json:"last_result,omitempty"`
	LastIrrigationAt *time.Time                `json:"last_irrigation_at,omitempty"`
	LastPredictionAt *time.Time                `json:"last_prediction_at,omitempty"`
	LastError        string                    `json:"last_error,omitempty"`
}

// Snapshot captures a consistent view of the entry.
func (e *Entry) Snapshot() Snapshot {
	e.mu.RLock()
	s := Snapshot{
		GreenhouseID: e.GreenhouseID,
		Status:       e.status,
		Config:       *e.config.Load(),
		LastError:    e.lastError,
	}
	if e.lastDecision != nil {
		d := *e.lastDecision
		s.LastDecision = &d
	}
	if e.lastResult != nil {
		r := *e.lastResult
		s.LastResult = &r
	}
	e.mu.RUnlock()

	s.Monitored = e.monitored.Load()
	s.HistoryLen = e.History.Len()
	if latest, ok := e.History.Latest(); ok {
		s.LastReading = &latest
	}
	if t := e.LastIrrigationAt(); !t.IsZero() {
		s.LastIrrigationAt = &t
	}
	if t := e.LastPredictionAt(); !t.IsZero() {
		s.LastPredictionAt = &t
	}
	return s
}
