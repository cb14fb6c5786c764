package orchestrator

import (
	"errors"
	"fmt"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/internal/stages"
)

// ErrRunInProgress is returned when a run is started while another is executing.
var ErrRunInProgress = errors.New("a simulation is already running")

// RunError is the single error surfaced by a failed run. It carries the
// stage the tracker was frozen at together with the underlying failure,
// which is one of the contract error types.
type RunError struct {
	RunID string

	// Stage is the tracker state the run was frozen at
	Stage progress.Stage

	// Step is the library stage whose call failed, when there was one
	Step stages.Name

	// PhaseID is set for failures inside the per-phase fan-out
	PhaseID string

	Err error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("simulation failed during %q", e.Stage.Name())
	if e.Step != "" {
		msg += fmt.Sprintf(" (%s", e.Step)
		if e.PhaseID != "" {
			msg += " phase " + e.PhaseID
		}
		msg += ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

// Kind returns the kind of the underlying failure.
func (e *RunError) Kind() contract.Kind {
	return contract.KindOf(e.Err)
}

// StageName returns the human-readable name of the frozen stage.
func (e *RunError) StageName() string {
	return e.Stage.Name()
}
