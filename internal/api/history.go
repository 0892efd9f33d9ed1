package api

import (
	"net/http"
	"strconv"
)

// maxListLimit caps ?limit= on history routes.
const maxListLimit = 500

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	blocks, err := s.history.ListBlocks(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing blocks", "error", err)
		writeInternalError(w, "listing blocks failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": blocks,
		"count":  len(blocks),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeInternalError(w, "listing runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// parseLimit reads ?limit=. 0 (absent) leaves the repository default.
// It writes a 400 and returns false on a malformed value.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}
