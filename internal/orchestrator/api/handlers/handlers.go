// Package handlers provides HTTP request handlers for the simulation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/orchestrator"
	"cymbytes.com/doppelganger/internal/orchestrator/registry"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/protocol"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// maxInputBytes bounds the size of a run request body.
const maxInputBytes = 1 << 20

// Handlers contains all API handlers.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	registry  *registry.Registry
	version   string
	startTime time.Time
	logger    zerolog.Logger

	// runCtx is the parent of background runs; runs outlive their request
	runCtx context.Context
}

// New creates a new Handlers instance.
func New(orch *orchestrator.Orchestrator, reg *registry.Registry, version string, startTime time.Time, logger zerolog.Logger) *Handlers {
	return &Handlers{
		orch:      orch,
		registry:  reg,
		version:   version,
		startTime: startTime,
		logger:    logger.With().Str("component", "handlers").Logger(),
		runCtx:    context.Background(),
	}
}

// ============================================================
// Simulation Handlers
// ============================================================

// CreateSimulation handles POST /api/simulations
//
// The run executes in the background and 202 is returned with its id, unless
// ?wait=true is given, in which case the response is the complete result or
// the run's error.
func (h *Handlers) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes+1))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}
	if len(body) > maxInputBytes {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "invalid_request", "Request body too large")
		return
	}

	cfg, err := orchestrator.ParseInput(body, h.orch.Validator())
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}

	runID := uuid.New().String()
	if err := h.registry.Begin(runID); err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to register run")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to register run")
		return
	}

	// A run is never tied to the request: a client that disconnects while
	// waiting does not abort it.
	wait := r.URL.Query().Get("wait") == "true"
	ctx := h.runCtx
	if wait {
		ctx = context.WithoutCancel(r.Context())
	}

	type outcome struct {
		result *simulation.Result
		err    error
	}
	done := make(chan outcome, 1)

	err = h.orch.Start(ctx, cfg, func(result *simulation.Result, err error) {
		h.record(runID, result, err)
		done <- outcome{result: result, err: err}
	},
		orchestrator.WithRunID(runID),
		orchestrator.WithObserver(h.registry),
	)
	if err != nil {
		h.registry.Discard(runID)
		h.writeRunError(w, r, err)
		return
	}

	if wait {
		out := <-done
		if out.err != nil {
			h.writeRunError(w, r, out.err)
			return
		}
		h.writeJSON(w, http.StatusOK, out.result)
		return
	}

	h.writeJSON(w, http.StatusAccepted, protocol.SimulationAccepted{
		RunID:       runID,
		Status:      registry.StatusRunning,
		StatusURL:   "/api/simulations/" + runID,
		ProgressURL: "/api/simulations/" + runID + "/progress",
	})
}

// record stores the outcome of a run in the registry.
func (h *Handlers) record(runID string, result *simulation.Result, err error) {
	if err != nil {
		stage := progress.Start
		var runErr *orchestrator.RunError
		if errors.As(err, &runErr) {
			stage = runErr.Stage
		}
		h.registry.Fail(runID, stage, err)
		return
	}
	h.registry.Complete(runID, result)
}

// GetSimulation handles GET /api/simulations/{runID}
func (h *Handlers) GetSimulation(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, ok := h.registry.Get(runID)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "run_not_found", "Simulation not found")
		return
	}

	h.writeJSON(w, http.StatusOK, h.runStatus(r, run, true))
}

// GetSimulationProgress handles GET /api/simulations/{runID}/progress
func (h *Handlers) GetSimulationProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, ok := h.registry.Get(runID)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "run_not_found", "Simulation not found")
		return
	}

	h.writeJSON(w, http.StatusOK, progress.Snapshot{
		RunID:    run.ID,
		Stage:    run.Stage,
		Name:     run.Stage.Name(),
		Step:     run.Stage.Index(),
		Total:    len(progress.Steps()) - 1,
		Frozen:   run.Status == registry.StatusFailed,
		Complete: run.Status == registry.StatusCompleted,
	})
}

// ListSimulations handles GET /api/simulations
func (h *Handlers) ListSimulations(w http.ResponseWriter, r *http.Request) {
	runs := h.registry.List()

	statuses := make([]protocol.SimulationStatus, 0, len(runs))
	for _, run := range runs {
		statuses = append(statuses, h.runStatus(r, run, false))
	}

	h.writeJSON(w, http.StatusOK, protocol.ListSimulationsResponse{
		Simulations: statuses,
		Total:       len(statuses),
	})
}

// ListStages handles GET /api/stages
func (h *Handlers) ListStages(w http.ResponseWriter, r *http.Request) {
	var resp protocol.StagesResponse

	for _, def := range stages.Catalog() {
		deps := make([]string, 0, len(def.DependsOn))
		for _, d := range def.DependsOn {
			deps = append(deps, string(d))
		}
		resp.Stages = append(resp.Stages, protocol.StageInfo{
			Name:      string(def.Name),
			Summary:   def.Summary,
			DependsOn: deps,
			FanOut:    string(def.FanOut),
		})
	}
	for _, step := range progress.Steps() {
		resp.Progress = append(resp.Progress, protocol.ProgressStep{ID: string(step.ID), Name: step.Name})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) runStatus(r *http.Request, run registry.Run, withResult bool) protocol.SimulationStatus {
	status := protocol.SimulationStatus{
		RunID:     run.ID,
		Status:    run.Status,
		Stage:     string(run.Stage),
		StageName: run.Stage.Name(),
		StartedAt: run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		status.FinishedAt = &finished
	}
	if withResult {
		status.Result = run.Result
	}
	if run.Err != nil {
		_, resp := errorResponse(run.Err)
		resp.RequestID = middleware.GetReqID(r.Context())
		status.Error = &resp
	}
	return status
}

// ============================================================
// Health Handlers
// ============================================================

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	running, completed, failed := h.registry.CountRuns()

	runner := "idle"
	if h.orch.Busy() {
		runner = "busy"
	}

	resp := protocol.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components: map[string]protocol.ComponentHealth{
			"runner": {
				Status:    runner,
				LastCheck: time.Now(),
			},
			"registry": {
				Status:    "healthy",
				LastCheck: time.Now(),
				Details:   runCounts(running, completed, failed),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ReadyCheck handles GET /ready
func (h *Handlers) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{
		"ready": true,
		"busy":  h.orch.Busy(),
	})
}

// ============================================================
// Helper methods
// ============================================================

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := protocol.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}
	h.writeJSON(w, status, resp)
}

// writeRunError maps a run failure onto an HTTP status and error body.
func (h *Handlers) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	resp.RequestID = middleware.GetReqID(r.Context())
	h.writeJSON(w, status, resp)
}

func errorResponse(err error) (int, protocol.ErrorResponse) {
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		return http.StatusConflict, protocol.ErrorResponse{Error: "run_in_progress", Message: err.Error()}
	}

	kind := contract.KindOf(err)
	resp := protocol.ErrorResponse{
		Error:   string(kind),
		Message: err.Error(),
		Details: map[string]interface{}{"kind": string(kind)},
	}

	var cfgErr *contract.ConfigError
	if errors.As(err, &cfgErr) {
		if len(cfgErr.Violations) > 0 {
			resp.Details["violations"] = cfgErr.Violations
		}
		return http.StatusBadRequest, resp
	}

	var runErr *orchestrator.RunError
	if errors.As(err, &runErr) {
		resp.Details["stage"] = string(runErr.Stage)
		resp.Details["stage_name"] = runErr.StageName()
		if runErr.Step != "" {
			resp.Details["step"] = string(runErr.Step)
		}
		if runErr.PhaseID != "" {
			resp.Details["phase_id"] = runErr.PhaseID
		}
	}
	var schemaErr *contract.SchemaViolation
	if errors.As(err, &schemaErr) {
		resp.Details["violations"] = schemaErr.Violations
	}

	if kind == "" {
		resp.Error = "internal_error"
		return http.StatusInternalServerError, resp
	}
	return http.StatusBadGateway, resp
}

func runCounts(running, completed, failed int) string {
	b, _ := json.Marshal(map[string]int{
		"running":   running,
		"completed": completed,
		"failed":    failed,
	})
	return string(b)
}
