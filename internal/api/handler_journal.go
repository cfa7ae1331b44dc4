package api

import (
	"net/http"

	"github.com/trellis-farm/trellis/internal/journal"
)

// HandleListJournal returns a handler for GET /api/v1/journal.
// Filters: kind, greenhouse_id, status, before, after (RFC 3339).
func HandleListJournal(repo *journal.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		before, ok := parseTimeQueryOrWriteInvalid(w, r, "before")
		if !ok {
			return
		}
		after, ok := parseTimeQueryOrWriteInvalid(w, r, "after")
		if !ok {
			return
		}

		q := r.URL.Query()
		f := journal.ListFilter{
			Kind:         q.Get("kind"),
			GreenhouseID: q.Get("greenhouse_id"),
			Status:       q.Get("status"),
			Limit:        pg.Limit,
			Offset:       pg.Offset,
		}
		if !before.IsZero() {
			f.Before = before.UnixNano()
		}
		if !after.IsZero() {
			f.After = after.UnixNano()
		}

		events, err := repo.List(f)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "journal query failed")
			return
		}
		if events == nil {
			events = []journal.Event{}
		}
		WriteJSON(w, http.StatusOK, PageResponse[journal.Event]{
			Items:  events,
			Total:  len(events),
			Limit:  pg.Limit,
			Offset: pg.Offset,
		})
	}
}
