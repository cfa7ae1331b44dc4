package journal

import (
	"encoding/json"
	"testing"
	"time"
)

func TestService_RecordFlushOnStop(t *testing.T) {
	repo := newOpenRepo(t, t.TempDir(), 0, 0)
	svc := NewService(ServiceConfig{Repo: repo, FlushInterval: time.Hour})
	svc.Start()

	svc.Record(KindIrrigation, "gh-1", "success", map[string]int{"pulses": 3})
	svc.Record(KindPrediction, "gh-1", "accepted", nil)
	svc.Stop() // drains the queue

	all, err := repo.List(ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}
	for _, e := range all {
		if e.ID == "" || e.TsNs == 0 {
			t.Fatalf("event missing identity: %+v", e)
		}
	}
}

func TestService_DetailIsJSON(t *testing.T) {
	repo := newOpenRepo(t, t.TempDir(), 0, 0)
	svc := NewService(ServiceConfig{Repo: repo, FlushInterval: time.Hour})
	svc.Start()
	svc.Record(KindIrrigation, "gh-1", "success", map[string]any{"pulses": 3, "after": 68.5})
	svc.Stop()

	all, err := repo.List(ListFilter{})
	if err != nil || len(all) != 1 {
		t.Fatalf("events = %+v, err %v", all, err)
	}
	var detail map[string]any
	if err := json.Unmarshal([]byte(all[0].Detail), &detail); err != nil {
		t.Fatalf("detail is not JSON: %q", all[0].Detail)
	}
	if detail["pulses"] != float64(3) {
		t.Fatalf("detail = %v", detail)
	}
}

func TestService_FlushOnBatchSize(t *testing.T) {
	repo := newOpenRepo(t, t.TempDir(), 0, 0)
	svc := NewService(ServiceConfig{Repo: repo, FlushBatch: 2, FlushInterval: time.Hour})
	svc.Start()
	defer svc.Stop()

	svc.Record(KindMonitor, "gh-1", "ok", nil)
	svc.Record(KindMonitor, "gh-1", "ok", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all, err := repo.List(ListFilter{})
		if err == nil && len(all) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch was not flushed without a timer tick")
}

func TestService_OverflowDropsInsteadOfBlocking(t *testing.T) {
	repo := newOpenRepo(t, t.TempDir(), 0, 0)
	svc := NewService(ServiceConfig{Repo: repo, QueueSize: 2, FlushBatch: 100, FlushInterval: time.Hour})
	// Not started: nothing drains the queue.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			svc.Record(KindMonitor, "gh-1", "ok", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
