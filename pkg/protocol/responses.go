// Package protocol defines the HTTP API request and response types.
package protocol

import (
	"time"

	"cymbytes.com/doppelganger/pkg/simulation"
)

// ============================================================
// Simulation Responses
// ============================================================

// SimulationAccepted is returned when a run has been started in the background.
type SimulationAccepted struct {
	// Run ID
	RunID string `json:"run_id"`

	// Always "running"
	Status string `json:"status"`

	// Where to poll for the outcome
	StatusURL string `json:"status_url"`

	// Where to poll for the live stage
	ProgressURL string `json:"progress_url"`
}

// SimulationStatus describes a run that is running or finished.
type SimulationStatus struct {
	// Run ID
	RunID string `json:"run_id"`

	// Status: running, completed, failed
	Status string `json:"status"`

	// Current or frozen stage id
	Stage string `json:"stage"`

	// Human-readable stage name
	StageName string `json:"stage_name"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Complete result, only when completed
	Result *simulation.Result `json:"result,omitempty"`

	// Failure, only when failed
	Error *ErrorResponse `json:"error,omitempty"`
}

// ListSimulationsResponse is returned when listing runs.
type ListSimulationsResponse struct {
	// Runs, newest first (results omitted)
	Simulations []SimulationStatus `json:"simulations"`

	// Total count
	Total int `json:"total"`
}

// ============================================================
// Stage Catalog Response
// ============================================================

// StageInfo describes one stage of the generation pipeline.
type StageInfo struct {
	Name      string   `json:"name"`
	Summary   string   `json:"summary"`
	DependsOn []string `json:"depends_on"`

	// Fan-out: once, per_phase, per_phase_per_honeydoc, per_honeydoc
	FanOut string `json:"fan_out"`
}

// ProgressStep is one state of the run progress sequence.
type ProgressStep struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StagesResponse lists the pipeline stages and the progress sequence.
type StagesResponse struct {
	Stages   []StageInfo    `json:"stages"`
	Progress []ProgressStep `json:"progress"`
}

// ============================================================
// Error Response
// ============================================================

// ErrorResponse is the standard error format for all API errors.
type ErrorResponse struct {
	// Error code for programmatic handling
	Error string `json:"error"`

	// Human-readable error message
	Message string `json:"message"`

	// Additional error details
	Details map[string]interface{} `json:"details,omitempty"`

	// Request ID for debugging
	RequestID string `json:"request_id,omitempty"`
}

// ============================================================
// Health Check Response
// ============================================================

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	// Service status: healthy, degraded, unhealthy
	Status string `json:"status"`

	// Service version
	Version string `json:"version"`

	// Service uptime in seconds
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Component health
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of a subsystem.
type ComponentHealth struct {
	// Component status
	Status string `json:"status"`

	// Last check time
	LastCheck time.Time `json:"last_check"`

	// Additional details
	Details string `json:"details,omitempty"`
}
