package api

import (
	"github.com/mattjoyce/deviceui/internal/plugin"
	"github.com/mattjoyce/deviceui/internal/supervisor"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	UIState       string `json:"ui_state"`
}

// StatusResponse is returned by GET /v1/ui/status.
type StatusResponse struct {
	Name string `json:"name"`
	supervisor.Status
}

// EnableResponse is returned by POST /v1/ui/enable.
type EnableResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PersistResponse is returned by POST /v1/settings/persist.
type PersistResponse struct {
	Written bool `json:"written"`
}

// PushResponse is returned by POST /v1/settings/push.
type PushResponse struct {
	Sent   []string          `json:"sent"`
	Failed map[string]string `json:"failed,omitempty"`
}

// StepRunRequest is the optional body of POST /v1/steps/{step}/run.
type StepRunRequest struct {
	plugin.AppState
}
