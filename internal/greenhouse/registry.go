package greenhouse

import (
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/trellis-farm/trellis/internal/model"
)

// Registry is the source of truth for configured greenhouses.
// It uses xsync.Map for concurrent access and xsync.Compute for atomic
// upsert semantics.
type Registry struct {
	entries         *xsync.Map[string, *Entry]
	historyCapacity int
}

// NewRegistry creates a Registry whose entries carry reading rings of the
// given capacity (0 uses the history default).
func NewRegistry(historyCapacity int) *Registry {
	return &Registry{
		entries:         xsync.NewMap[string, *Entry](),
		historyCapacity: historyCapacity,
	}
}

// Upsert installs cfg, creating the entry on first configure and swapping the
// config pointer on reconfigure. History, status, and timing survive a
// reconfigure. Returns the entry and whether it was newly created.
func (r *Registry) Upsert(cfg model.GreenhouseConfig) (*Entry, bool) {
	created := false
	entry, _ := r.entries.Compute(cfg.GreenhouseID, func(e *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		if !loaded {
			e = NewEntry(cfg, r.historyCapacity)
			created = true
		} else {
			e.SetConfig(cfg)
		}
		return e, xsync.UpdateOp
	})
	return entry, created
}

// Get retrieves an entry by greenhouse ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	return r.entries.Load(id)
}

// Remove deletes an entry. Idempotent.
func (r *Registry) Remove(id string) (removed bool) {
	r.entries.Compute(id, func(e *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		if !loaded {
			return e, xsync.CancelOp
		}
		removed = true
		return nil, xsync.DeleteOp
	})
	return removed
}

// Range iterates all entries. Returning false stops iteration.
func (r *Registry) Range(fn func(id string, e *Entry) bool) {
	r.entries.Range(fn)
}

// Size returns the number of configured greenhouses.
func (r *Registry) Size() int {
	return r.entries.Size()
}

// Snapshots returns a point-in-time view of every entry.
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, r.entries.Size())
	r.entries.Range(func(_ string, e *Entry) bool {
		out = append(out, e.Snapshot())
		return true
	})
	return out
}
