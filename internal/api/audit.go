package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/fieldrelay/internal/audit"
)

const maxLimit = 200

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeUnavailable(w, "audit log disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.deps.Audit.ListCommands(r.Context(), audit.CommandFilter{
		Device: r.URL.Query().Get("device"),
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("listing command log failed", "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": entries,
		"count":    len(entries),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeUnavailable(w, "audit log disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := s.deps.Audit.ListConnectionEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing connection events failed", "error", err)
		writeInternalError(w, "failed to read connection events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// parseLimit reads ?limit=. Absent means the repository default; values
// outside 1..200 are rejected.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		writeBadRequest(w, "limit must be an integer between 1 and 200")
		return 0, false
	}
	return n, true
}
