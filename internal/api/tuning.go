package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/tuning"
)

// TuningApplyRequest is the body of POST /tuning/apply.
// GPUIndex defaults to the configured index when omitted.
type TuningApplyRequest struct {
	Profile  string `json:"profile"`
	GPUIndex *int   `json:"gpu_index,omitempty"`
}

// TuningResultResponse is a tuning.Result in wire form.
type TuningResultResponse struct {
	Outcome  string `json:"outcome"`
	Profile  string `json:"profile"`
	GPUIndex int    `json:"gpu_index"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newTuningResultResponse(r tuning.Result) TuningResultResponse {
	resp := TuningResultResponse{
		Outcome:  r.Outcome.String(),
		Profile:  r.Profile,
		GPUIndex: r.GPUIndex,
		Message:  r.Message,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	if s.tuner == nil {
		writeUnavailable(w, "tuning is not configured")
		return
	}

	profiles, err := s.tuner.Profiles()
	if err != nil {
		s.logger.Warn("listing tuning profiles", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeTuningFailed, err.Error())
		return
	}
	if profiles == nil {
		profiles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// handleTuningApply applies a profile outside the supervisor lifecycle.
// The result is also published on the bus so every consumer sees it.
func (s *Server) handleTuningApply(w http.ResponseWriter, r *http.Request) {
	if s.tuner == nil {
		writeUnavailable(w, "tuning is not configured")
		return
	}

	var req TuningApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Profile = strings.TrimSpace(req.Profile)
	if req.Profile == "" {
		writeBadRequest(w, "profile is required")
		return
	}
	gpu := s.tuner.Config().GPUIndex
	if req.GPUIndex != nil {
		if *req.GPUIndex < 0 {
			writeBadRequest(w, "gpu_index must not be negative")
			return
		}
		gpu = *req.GPUIndex
	}

	res := s.tuner.Apply(r.Context(), req.Profile, gpu)
	s.bus.Publish(events.NewTuningResult(events.PhaseManual, res))
	s.recordAudit(r, audit.ActionTuningApply, res.Err, map[string]any{
		"profile":   res.Profile,
		"gpu_index": res.GPUIndex,
	})
	s.logger.Info("tuning applied via API",
		"profile", res.Profile,
		"gpu", res.GPUIndex,
		"outcome", res.Outcome.String(),
		"caller", caller(r),
	)

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, tuning.ErrUnknownProfile):
		status = http.StatusNotFound
	case errors.Is(res.Err, tuning.ErrPrivilegeRequired):
		status = http.StatusForbidden
	case res.Outcome == tuning.OutcomeFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, newTuningResultResponse(res))
}

// handleTuningDiagnose runs one trial of the tool. It executes the tool even
// when tuning mode is none.
func (s *Server) handleTuningDiagnose(w http.ResponseWriter, r *http.Request) {
	if s.tuner == nil {
		writeUnavailable(w, "tuning is not configured")
		return
	}

	profile := r.URL.Query().Get("profile")
	if profile == "" {
		profile = s.profileActive
	}
	d := s.tuner.Diagnose(r.Context(), profile)
	var diagErr error
	if d.Error != "" {
		diagErr = errors.New(d.Error)
	}
	s.recordAudit(r, audit.ActionTuningDiagnose, diagErr, map[string]any{
		"profile":   profile,
		"exit_code": d.ExitCode,
	})
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTuningHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history database is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	recs, err := s.history.ListTuning(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing tuning history", "error", err)
		writeInternalError(w, "listing tuning history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": recs,
		"count":   len(recs),
	})
}
