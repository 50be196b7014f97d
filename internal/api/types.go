package api

import (
	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// WorkerErrorResponse is returned when the matching worker fails.
type WorkerErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	// Diagnostic is omitted in production.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Environment   string       `json:"environment"`
	Workers       *guard.Stats `json:"workers,omitempty"`
	Events        EventStats   `json:"events"`
}

// EventStats describes the SSE fan-out.
type EventStats struct {
	Subscribers int   `json:"subscribers"`
	Dropped     int64 `json:"dropped"`
}

// MessageResponse acknowledges updates and deletes.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreatePatientResponse is returned by POST /api/patients. A worker failure
// does not fail creation; it is reported in MatchError.
type CreatePatientResponse struct {
	Patient    *records.Patient     `json:"patient"`
	Match      *matching.Outcome    `json:"match,omitempty"`
	MatchError *WorkerErrorResponse `json:"match_error,omitempty"`
}
