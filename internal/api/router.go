package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/minerctl/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})

	// Prometheus scrape endpoint (no auth, like /health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))

				r.Get("/status", s.handleStatus)
				r.Get("/snapshot", s.handleSnapshot)
				r.Get("/metrics", s.handleSystemMetrics)
				r.Get("/logs/tail", s.handleLogTail)

				r.Get("/blocks", s.handleListBlocks)
				r.Get("/runs", s.handleListRuns)

				r.Get("/tuning/profiles", s.handleListProfiles)
				r.Get("/tuning/history", s.handleTuningHistory)

				// WebSocket (token via query parameter for browsers)
				r.Get("/ws", s.handleWebSocket)
			})

			r.With(s.requirePermission(auth.PermMinerControl)).Route("/miner", func(r chi.Router) {
				r.Post("/start", s.handleMinerStart)
				r.Post("/stop", s.handleMinerStop)
			})

			r.With(s.requirePermission(auth.PermTuningApply)).Post("/tuning/apply", s.handleTuningApply)
			r.With(s.requirePermission(auth.PermTuningDiagnose)).Post("/tuning/diagnose", s.handleTuningDiagnose)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
