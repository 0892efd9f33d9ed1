package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/minerctl/internal/audit"
)

// recordAudit stores an operator action. It is best effort: a failed insert
// is logged and does not change the response.
func (s *Server) recordAudit(r *http.Request, action string, err error, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := audit.NewEntry(action, audit.SourceAPI, caller(r), err, details)
	if recErr := s.audit.Record(context.WithoutCancel(r.Context()), &e); recErr != nil {
		s.logger.Warn("recording audit entry failed", "action", action, "error", recErr)
	}
}

// handleListAudit serves GET /audit?action=&source=&limit=&offset=.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "history database is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		writeInternalError(w, "listing audit log failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
