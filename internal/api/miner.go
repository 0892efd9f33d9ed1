package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/miner"
	"github.com/nerrad567/minerctl/internal/rollinglog"
	"github.com/nerrad567/minerctl/internal/telemetry"
)

const (
	defaultTailBytes = 16 << 10
	maxTailBytes     = 1 << 20
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State         string             `json:"state"`
	PID           int                `json:"pid,omitempty"`
	Generation    uint64             `json:"generation"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Snapshot      telemetry.Snapshot `json:"snapshot"`
	BlocksFound   uint64             `json:"blocks_found"`
	LastExit      string             `json:"last_exit,omitempty"`
	WebURL        string             `json:"web_url,omitempty"`
	TuningMode    string             `json:"tuning_mode"`
	Version       string             `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.miner.Stats()

	mode := "none"
	if s.tuner != nil {
		mode = string(s.tuner.Config().Mode)
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		State:         st.State.String(),
		PID:           st.PID,
		Generation:    st.Generation,
		UptimeSeconds: int64(st.Uptime.Seconds()),
		Snapshot:      st.Snapshot,
		BlocksFound:   st.BlocksFound,
		LastExit:      st.LastExit,
		WebURL:        s.webURL,
		TuningMode:    mode,
		Version:       s.version,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.miner.Snapshot())
}

// handleMinerStart starts the miner. The request context only bounds the
// start sequence; a client disconnect does not abort it.
func (s *Server) handleMinerStart(w http.ResponseWriter, r *http.Request) {
	err := s.miner.Start(context.WithoutCancel(r.Context()))
	s.recordAudit(r, audit.ActionMinerStart, err, nil)
	switch {
	case errors.Is(err, miner.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeAlreadyRunning, "miner is already running")
		return
	case err != nil:
		s.logger.Error("miner start via API failed", "error", err)
		writeInternalError(w, err.Error())
		return
	}

	st := s.miner.Stats()
	s.logger.Info("miner started via API", "pid", st.PID, "generation", st.Generation, "caller", caller(r))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"state":      st.State.String(),
		"pid":        st.PID,
		"generation": st.Generation,
	})
}

func (s *Server) handleMinerStop(w http.ResponseWriter, r *http.Request) {
	err := s.miner.Stop(context.WithoutCancel(r.Context()))
	s.recordAudit(r, audit.ActionMinerStop, err, nil)
	if err != nil {
		s.logger.Error("miner stop via API failed", "error", err)
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info("miner stopped via API", "caller", caller(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.miner.Stats().State.String(),
	})
}

// handleLogTail returns the last ?bytes= of the miner's rolling log as
// complete lines.
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		writeUnavailable(w, "miner log is not configured")
		return
	}

	n := int64(defaultTailBytes)
	if v := r.URL.Query().Get("bytes"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "bytes must be a positive integer")
			return
		}
		n = min(parsed, maxTailBytes)
	}

	lines, err := rollinglog.TailLines(s.logPath, n)
	if err != nil {
		s.logger.Error("reading miner log tail", "path", s.logPath, "error", err)
		writeInternalError(w, "reading miner log failed")
		return
	}
	if lines == nil {
		lines = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":  s.logPath,
		"lines": lines,
	})
}

// caller names the authenticated subject for logs.
func caller(r *http.Request) string {
	if c := claimsFromContext(r.Context()); c != nil {
		return c.Subject
	}
	return "anonymous"
}
