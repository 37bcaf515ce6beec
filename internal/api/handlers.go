package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/state"
	"github.com/mattjoyce/deviceui/internal/supervisor"
	"github.com/mattjoyce/deviceui/internal/uisync"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		UIState:       s.ui.Status().State.String(),
	})
}

// handleStatus handles GET /v1/ui/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{Name: s.ui.Name(), Status: s.ui.Status()})
}

// handleEnable handles POST /v1/ui/enable. With ?wait=true the response is
// sent after the handshake finished.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	result, err := s.ui.Enable(r.Context())
	switch {
	case errors.Is(err, supervisor.ErrAlreadyStarted):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to enable device UI", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, EnableResponse{Status: "starting"})
		return
	}

	timer := time.NewTimer(s.config.EnableWait)
	defer timer.Stop()
	select {
	case err := <-result:
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, EnableResponse{Status: "running"})
		case errors.Is(err, supervisor.ErrHandshakeTimeout):
			respondJSON(w, http.StatusGatewayTimeout, EnableResponse{Status: "failed", Error: err.Error()})
		default:
			respondJSON(w, http.StatusInternalServerError, EnableResponse{Status: "failed", Error: err.Error()})
		}
	case <-timer.C:
		respondJSON(w, http.StatusAccepted, EnableResponse{Status: "starting"})
	case <-r.Context().Done():
	}
}

// handleDisable handles POST /v1/ui/disable.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.ui.Disable(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{Name: s.ui.Name(), Status: s.ui.Status()})
}

// handleLiveSettings handles GET /v1/settings/live.
func (s *Server) handleLiveSettings(w http.ResponseWriter, r *http.Request) {
	wire, err := s.ui.LiveSettings(r.Context())
	if err != nil {
		s.writeUIError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire)
}

// handleStoredSettings handles GET /v1/settings/stored.
func (s *Server) handleStoredSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.ui.StoredSettings(r.Context())
	if err != nil {
		s.logger.Error("failed to read stored settings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read stored settings")
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

// handlePersist handles POST /v1/settings/persist.
func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	written, err := s.ui.PersistLive(r.Context())
	if err != nil {
		s.writeUIError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PersistResponse{Written: written})
}

// handlePush handles POST /v1/settings/push.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	res, err := s.ui.PushStored(r.Context())
	if err != nil {
		s.writeUIError(w, err)
		return
	}
	resp := PushResponse{Sent: res.Sent}
	if resp.Sent == nil {
		resp.Sent = []string{}
	}
	if len(res.Failed) > 0 {
		resp.Failed = make(map[string]string, len(res.Failed))
		for field, err := range res.Failed {
			resp.Failed[field] = err.Error()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetStepOptions handles GET /v1/steps/{step}/options.
func (s *Server) handleGetStepOptions(w http.ResponseWriter, r *http.Request) {
	step, ok := s.stepParam(w, r)
	if !ok {
		return
	}
	opts, err := s.steps.Get(r.Context(), s.ui.Name(), step)
	if err != nil {
		s.logger.Error("failed to read step options", "step", step, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read step options")
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

// handlePutStepOptions handles PUT /v1/steps/{step}/options.
func (s *Server) handlePutStepOptions(w http.ResponseWriter, r *http.Request) {
	step, ok := s.stepParam(w, r)
	if !ok {
		return
	}
	opts, err := s.steps.Get(r.Context(), s.ui.Name(), step)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read step options")
		return
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.steps.Put(r.Context(), s.ui.Name(), step, opts); err != nil {
		s.logger.Error("failed to write step options", "step", step, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to write step options")
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

// handleDeleteStepOptions handles DELETE /v1/steps/{step}/options. The
// step falls back to default options.
func (s *Server) handleDeleteStepOptions(w http.ResponseWriter, r *http.Request) {
	step, ok := s.stepParam(w, r)
	if !ok {
		return
	}
	if err := s.steps.Delete(r.Context(), s.ui.Name(), step); err != nil {
		s.logger.Error("failed to delete step options", "step", step, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete step options")
		return
	}
	respondJSON(w, http.StatusOK, state.DefaultStepOptions())
}

// handleStepRun handles POST /v1/steps/{step}/run.
func (s *Server) handleStepRun(w http.ResponseWriter, r *http.Request) {
	step, ok := s.stepParam(w, r)
	if !ok {
		return
	}
	var req StepRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	res, err := s.ui.StepRun(r.Context(), step, req.AppState)
	if err != nil && res.Command == "" {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleListEvents handles GET /v1/events?since=N.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	since := parseLastEventID(r.URL.Query().Get("since"))
	respondJSON(w, http.StatusOK, s.ui.Events().SnapshotSince(since))
}

func (s *Server) stepParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || step < 0 {
		s.writeError(w, http.StatusBadRequest, "step must be a non-negative integer")
		return 0, false
	}
	return step, true
}

// writeUIError maps device UI errors to status codes.
func (s *Server) writeUIError(w http.ResponseWriter, err error) {
	if errors.Is(err, uisync.ErrNotReady) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Error("device UI request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
