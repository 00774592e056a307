package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/journal"
)

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// handleDeviceLog returns the in-memory log of recent events for a device,
// oldest first.
//
// Query parameters:
//   - limit: newest N events (default all held)
func (s *Server) handleDeviceLog(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	limit, ok := queryInt(r, "limit")
	if !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}

	entries := s.recent.Entries(serial, limit)
	if entries == nil {
		entries = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"serial": serial, "events": entries, "count": len(entries)})
}

// handleJournal queries the persisted event journal, newest first.
//
// Query parameters:
//   - serial: filter by device
//   - severity: filter by severity (info, notice, warning, error)
//   - limit: page size (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Serial:   q.Get("serial"),
		Severity: events.Severity(q.Get("severity")),
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		writeBadRequest(w, "unknown severity: "+string(filter.Severity))
		return
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to query journal")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
