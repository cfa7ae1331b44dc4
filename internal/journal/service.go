package journal

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service provides an async journal writer.
// Record performs a non-blocking channel send (drops on overflow).
// A background goroutine flushes batches to the Repo.
type Service struct {
	repo      *Repo
	queue     chan Event
	batchSize int
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the journal service.
type ServiceConfig struct {
	Repo          *Repo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewService creates a journal service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		repo:      cfg.Repo,
		queue:     make(chan Event, queueSize),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining events, and returns.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Record journals one event. detail is marshaled to JSON; a nil detail
// journals an empty payload. Non-blocking; drops on overflow.
func (s *Service) Record(kind, greenhouseID, status string, detail any) {
	e := Event{
		ID:           uuid.NewString(),
		TsNs:         time.Now().UnixNano(),
		Kind:         kind,
		GreenhouseID: greenhouseID,
		Status:       status,
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			log.Printf("[journal] warning: marshal detail for %s/%s: %v", kind, greenhouseID, err)
		} else {
			e.Detail = string(b)
		}
	}
	s.Emit(e)
}

// Emit enqueues a prepared event. Non-blocking; drops on overflow.
func (s *Service) Emit(e Event) {
	select {
	case s.queue <- e:
	default:
		// Queue full — drop to keep the control loop from blocking.
	}
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]Event, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []Event) {
	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(events []Event) {
	if n, err := s.repo.InsertBatch(events); err != nil {
		log.Printf("[journal] flush %d events failed: %v", len(events), err)
	} else if n > 0 {
		log.Printf("[journal] flushed %d events", n)
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}
