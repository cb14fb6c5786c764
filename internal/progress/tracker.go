// Package progress tracks which stage of a simulation run is executing.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Stage is one state of a simulation run.
type Stage string

// Run states, in order.
const (
	Start      Stage = "start"
	Safety     Stage = "safety"
	Persona    Stage = "persona"
	Campaign   Stage = "campaign"
	Lures      Stage = "lures"
	Honeydocs  Stage = "honeydocs"
	Detections Stage = "detections"
	Simulation Stage = "simulation"
	AAR        Stage = "aar"
	Complete   Stage = "complete"
)

// Step pairs a stage with its display name.
type Step struct {
	ID   Stage  `json:"id"`
	Name string `json:"name"`
}

var steps = []Step{
	{Start, "Initiating Simulation"},
	{Safety, "Performing Safety Check"},
	{Persona, "Building Persona"},
	{Campaign, "Composing Campaign"},
	{Lures, "Generating Lures"},
	{Honeydocs, "Creating Honeydocs"},
	{Detections, "Mapping Detections"},
	{Simulation, "Running Simulation"},
	{AAR, "Generating Report"},
	{Complete, "Complete"},
}

var (
	// ErrFrozen is returned when advancing a tracker that has been frozen.
	ErrFrozen = errors.New("progress tracker is frozen")

	// ErrBackTransition is returned when advancing to an earlier stage.
	ErrBackTransition = errors.New("progress cannot move backwards")

	// ErrSkippedStage is returned when advancing past an unvisited stage.
	ErrSkippedStage = errors.New("progress cannot skip a stage")

	// ErrUnknownStage is returned for a stage that is not part of the sequence.
	ErrUnknownStage = errors.New("unknown stage")
)

// Steps returns the full stage sequence.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// Index returns the position of s in the sequence, or -1.
func (s Stage) Index() int {
	for i, step := range steps {
		if step.ID == s {
			return i
		}
	}
	return -1
}

// Name returns the human-readable name of s.
func (s Stage) Name() string {
	if i := s.Index(); i >= 0 {
		return steps[i].Name
	}
	return string(s)
}

// Observer is notified each time a tracker enters a new stage.
type Observer interface {
	StageEntered(runID string, stage Stage)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(runID string, stage Stage)

// StageEntered calls f.
func (f ObserverFunc) StageEntered(runID string, stage Stage) { f(runID, stage) }

// Tracker is a monotonic state machine over the run stages. Only the run
// goroutine advances it; Current, Frozen and History may be read from any
// goroutine.
type Tracker struct {
	runID     string
	current   atomic.Int32
	frozen    atomic.Bool
	observers []Observer

	mu      sync.Mutex
	history []Stage
}

// NewTracker returns a tracker positioned at Start.
func NewTracker(runID string, observers ...Observer) *Tracker {
	return &Tracker{
		runID:     runID,
		observers: observers,
		history:   []Stage{Start},
	}
}

// RunID returns the id of the tracked run.
func (t *Tracker) RunID() string {
	return t.runID
}

// Current returns the stage most recently entered.
func (t *Tracker) Current() Stage {
	return steps[t.current.Load()].ID
}

// Frozen reports whether the tracker was frozen by a failure.
func (t *Tracker) Frozen() bool {
	return t.frozen.Load()
}

// Advance enters next. Re-entering the current stage is a no-op; moving
// backwards, skipping a stage or advancing a frozen tracker is an error.
func (t *Tracker) Advance(next Stage) error {
	if t.frozen.Load() {
		return ErrFrozen
	}

	idx := next.Index()
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStage, next)
	}

	cur := int(t.current.Load())
	switch {
	case idx == cur:
		return nil
	case idx < cur:
		return fmt.Errorf("%w: %s -> %s", ErrBackTransition, steps[cur].ID, next)
	case idx > cur+1:
		return fmt.Errorf("%w: %s -> %s", ErrSkippedStage, steps[cur].ID, next)
	}

	t.current.Store(int32(idx))

	t.mu.Lock()
	t.history = append(t.history, next)
	t.mu.Unlock()

	for _, o := range t.observers {
		o.StageEntered(t.runID, next)
	}
	return nil
}

// Freeze stops the tracker at its current stage and returns that stage.
func (t *Tracker) Freeze() Stage {
	t.frozen.Store(true)
	return t.Current()
}

// History returns the stages entered so far, in order.
func (t *Tracker) History() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stage, len(t.history))
	copy(out, t.history)
	return out
}

// Snapshot is a point-in-time view of a tracker.
type Snapshot struct {
	RunID    string `json:"run_id"`
	Stage    Stage  `json:"stage"`
	Name     string `json:"name"`
	Step     int    `json:"step"`
	Total    int    `json:"total"`
	Frozen   bool   `json:"frozen"`
	Complete bool   `json:"complete"`
}

// Snapshot returns the tracker's current position.
func (t *Tracker) Snapshot() Snapshot {
	cur := t.Current()
	return Snapshot{
		RunID:    t.runID,
		Stage:    cur,
		Name:     cur.Name(),
		Step:     cur.Index(),
		Total:    len(steps) - 1,
		Frozen:   t.Frozen(),
		Complete: cur == Complete,
	}
}
