package api

import (
	"github.com/mattjoyce/wheelforge/internal/history"
	"github.com/mattjoyce/wheelforge/internal/pipeline"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Active bool `json:"active"`
	// Run is the active (or last finished) run, absent before the first one.
	Run *pipeline.Snapshot `json:"run,omitempty"`
}

// HistoryResponse is returned by GET /v1/history.
type HistoryResponse struct {
	Runs []history.Record `json:"runs"`
}
