package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newOpenRepo(t *testing.T, dir string, maxBytes int64, retain int) *Repo {
	t.Helper()
	r := NewRepo(dir, maxBytes, retain)
	if err := r.Open(); err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func event(id string, ts int64, kind, gh, status string) Event {
	return Event{ID: id, TsNs: ts, Kind: kind, GreenhouseID: gh, Status: status, Detail: `{"n":1}`}
}

func TestRepo_OpenCreatesDB(t *testing.T) {
	dir := t.TempDir()
	newOpenRepo(t, dir, 0, 0)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "journal-") && strings.HasSuffix(e.Name(), ".db") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a journal-<ms>.db file")
	}
}

func TestRepo_InsertAndList(t *testing.T) {
	r := newOpenRepo(t, t.TempDir(), 0, 0)

	base := time.Now().UnixNano()
	events := []Event{
		event("a", base+1, KindIrrigation, "gh-1", "success"),
		event("b", base+2, KindPrediction, "gh-1", "accepted"),
		event("c", base+3, KindIrrigation, "gh-2", "failed"),
	}
	n, err := r.InsertBatch(events)
	if err != nil || n != 3 {
		t.Fatalf("inserted %d, err %v", n, err)
	}

	all, err := r.List(ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	byKind, err := r.List(ListFilter{Kind: KindIrrigation})
	if err != nil || len(byKind) != 2 {
		t.Fatalf("kind filter: %d events, err %v", len(byKind), err)
	}
	byGh, err := r.List(ListFilter{GreenhouseID: "gh-1"})
	if err != nil || len(byGh) != 2 {
		t.Fatalf("greenhouse filter: %d events, err %v", len(byGh), err)
	}
	byStatus, err := r.List(ListFilter{Status: "failed"})
	if err != nil || len(byStatus) != 1 || byStatus[0].ID != "c" {
		t.Fatalf("status filter: %+v, err %v", byStatus, err)
	}
	windowed, err := r.List(ListFilter{After: base + 1, Before: base + 3})
	if err != nil || len(windowed) != 1 || windowed[0].ID != "b" {
		t.Fatalf("window filter: %+v, err %v", windowed, err)
	}
}

func TestRepo_LimitAndOffset(t *testing.T) {
	r := newOpenRepo(t, t.TempDir(), 0, 0)

	base := time.Now().UnixNano()
	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, event(fmt.Sprintf("e-%02d", i), base+int64(i), KindMonitor, "gh-1", "ok"))
	}
	if _, err := r.InsertBatch(events); err != nil {
		t.Fatal(err)
	}

	page, err := r.List(ListFilter{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].ID != "e-07" {
		t.Fatalf("page = %+v", page)
	}
}

func TestRepo_DuplicateIDsIgnored(t *testing.T) {
	r := newOpenRepo(t, t.TempDir(), 0, 0)
	ts := time.Now().UnixNano()

	if _, err := r.InsertBatch([]Event{event("dup", ts, KindError, "", "x")}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.InsertBatch([]Event{event("dup", ts, KindError, "", "x")}); err != nil {
		t.Fatal(err)
	}
	all, err := r.List(ListFilter{})
	if err != nil || len(all) != 1 {
		t.Fatalf("got %d events, want 1", len(all))
	}
}

func TestRepo_RotationAndRetention(t *testing.T) {
	dir := t.TempDir()
	// 1-byte threshold: every insert triggers a rotation first.
	r := newOpenRepo(t, dir, 1, 2)

	base := time.Now().UnixNano()
	for i := 0; i < 4; i++ {
		if _, err := r.InsertBatch([]Event{event(fmt.Sprintf("r-%d", i), base+int64(i), KindConfig, "gh-1", "ok")}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct unix-ms filenames
	}

	files, err := filepath.Glob(filepath.Join(dir, "journal-*.db"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) > 2 {
		t.Fatalf("retention kept %d files, want <= 2", len(files))
	}

	// Listing still merges what the retained DBs hold.
	all, err := r.List(ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) == 0 {
		t.Fatal("expected surviving events after rotation")
	}
	if all[0].ID != "r-3" {
		t.Fatalf("newest = %s, want r-3", all[0].ID)
	}
}

func TestRepo_ReopenReusesLatest(t *testing.T) {
	dir := t.TempDir()
	r := NewRepo(dir, 0, 0)
	if err := r.Open(); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UnixNano()
	if _, err := r.InsertBatch([]Event{event("persist", ts, KindIrrigation, "gh-1", "success")}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2 := newOpenRepo(t, dir, 0, 0)
	all, err := r2.List(ListFilter{})
	if err != nil || len(all) != 1 || all[0].ID != "persist" {
		t.Fatalf("events after reopen = %+v, err %v", all, err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "journal-*.db"))
	if len(files) != 1 {
		t.Fatalf("reopen created a new DB, have %d files", len(files))
	}
}
