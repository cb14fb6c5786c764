// Package registry tracks simulation runs started through the API: their
// live stage, and their result or error once finished.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrDuplicateRun is returned when beginning a run id that is already tracked.
var ErrDuplicateRun = errors.New("run already registered")

// Run is the registry's view of one simulation run.
type Run struct {
	ID         string
	Status     string
	Stage      progress.Stage
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *simulation.Result
	Err        error
}

// Registry keeps runs in memory and forgets finished runs after a retention
// period.
type Registry struct {
	logger zerolog.Logger

	// Configuration
	retention       time.Duration
	cleanupInterval time.Duration

	runs   map[string]*Run
	runsMu sync.RWMutex

	// Shutdown
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config holds registry configuration.
type Config struct {
	// Retention is how long finished runs stay queryable
	Retention time.Duration `yaml:"retention"`

	// CleanupInterval is how often expired runs are removed
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Retention:       time.Hour,
		CleanupInterval: time.Minute,
	}
}

// New creates a new run registry.
func New(cfg Config, logger zerolog.Logger) *Registry {
	return &Registry{
		logger:          logger.With().Str("component", "registry").Logger(),
		retention:       cfg.Retention,
		cleanupInterval: cfg.CleanupInterval,
		runs:            make(map[string]*Run),
		stopCh:          make(chan struct{}),
	}
}

// Start begins background cleanup of expired runs.
func (r *Registry) Start(ctx context.Context) {
	r.logger.Info().
		Dur("retention", r.retention).
		Dur("cleanup_interval", r.cleanupInterval).
		Msg("Starting run registry")

	r.wg.Add(1)
	go r.cleanupLoop(ctx)
}

// Stop halts background tasks.
func (r *Registry) Stop() {
	r.logger.Info().Msg("Stopping run registry")
	close(r.stopCh)
	r.wg.Wait()
}

// cleanupLoop periodically drops expired runs.
func (r *Registry) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n := r.Prune(time.Now()); n > 0 {
				r.logger.Debug().Int("removed", n).Msg("Pruned expired runs")
			}
		}
	}
}

// Prune removes finished runs older than the retention period and returns
// how many were removed.
func (r *Registry) Prune(now time.Time) int {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	removed := 0
	for id, run := range r.runs {
		if run.Status != StatusRunning && now.Sub(run.FinishedAt) > r.retention {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

// Begin registers a new running run.
func (r *Registry) Begin(runID string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if _, ok := r.runs[runID]; ok {
		return ErrDuplicateRun
	}
	r.runs[runID] = &Run{
		ID:        runID,
		Status:    StatusRunning,
		Stage:     progress.Start,
		StartedAt: time.Now(),
	}
	return nil
}

// Discard removes a run that was registered but never started.
func (r *Registry) Discard(runID string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	delete(r.runs, runID)
}

// StageEntered records the live stage of a run. It satisfies progress.Observer.
func (r *Registry) StageEntered(runID string, stage progress.Stage) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if run, ok := r.runs[runID]; ok {
		run.Stage = stage
	}
}

// Complete stores the result of a successful run.
func (r *Registry) Complete(runID string, result *simulation.Result) {
	r.finish(runID, func(run *Run) {
		run.Status = StatusCompleted
		run.Stage = progress.Complete
		run.Result = result
	})
}

// Fail stores the error of a failed run and the stage it stopped at.
func (r *Registry) Fail(runID string, stage progress.Stage, err error) {
	r.finish(runID, func(run *Run) {
		run.Status = StatusFailed
		run.Stage = stage
		run.Err = err
	})
}

func (r *Registry) finish(runID string, update func(*Run)) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		r.logger.Warn().Str("run_id", runID).Msg("Finishing unknown run")
		return
	}
	update(run)
	run.FinishedAt = time.Now()
}

// Get returns a copy of a run.
func (r *Registry) Get(runID string) (Run, bool) {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns copies of all tracked runs, newest first.
func (r *Registry) List() []Run {
	r.runsMu.RLock()
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	r.runsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// CountRuns returns run counts by status.
func (r *Registry) CountRuns() (running, completed, failed int) {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	for _, run := range r.runs {
		switch run.Status {
		case StatusRunning:
			running++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return running, completed, failed
}
