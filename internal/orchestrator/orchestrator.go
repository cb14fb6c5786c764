// Package orchestrator runs an adversary simulation end to end: it walks the
// stage catalog in dependency order, fans out per campaign phase and per
// honeydoc, and assembles the result only when every stage has succeeded.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/orchestrator/webhooks"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Orchestrator executes simulation runs one at a time against a single
// generation service.
type Orchestrator struct {
	contract  *contract.Contract
	logger    zerolog.Logger
	observers []progress.Observer
	forwarder *webhooks.Forwarder

	running atomic.Bool

	mu      sync.RWMutex
	tracker *progress.Tracker
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID     string
	observers []progress.Observer
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithObserver adds a progress observer for this run only.
func WithObserver(obs progress.Observer) RunOption {
	return func(o *runOptions) { o.observers = append(o.observers, obs) }
}

// New creates an orchestrator around a generation service.
func New(service contract.Service, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		contract: contract.New(service, logger),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// AddObserver registers an observer notified on every stage of every run.
// It must be called before the first run starts.
func (o *Orchestrator) AddObserver(obs progress.Observer) {
	o.observers = append(o.observers, obs)
}

// SetForwarder sets the webhook forwarder notified of stages and outcomes.
// It must be called before the first run starts.
func (o *Orchestrator) SetForwarder(forwarder *webhooks.Forwarder) {
	o.forwarder = forwarder
	if forwarder != nil {
		o.observers = append(o.observers, forwarder)
	}
	o.logger.Info().Bool("enabled", forwarder != nil && forwarder.IsEnabled()).Msg("Webhook forwarder configured")
}

// Validator returns the validator used for inputs and stage outputs.
func (o *Orchestrator) Validator() *contract.Validator {
	return o.contract.Validator()
}

// Progress returns the position of the current or most recent run.
// ok is false if no run has started yet.
func (o *Orchestrator) Progress() (snap progress.Snapshot, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.tracker == nil {
		return progress.Snapshot{}, false
	}
	return o.tracker.Snapshot(), true
}

// Run parses a JSON run input and executes the simulation. Input problems
// are returned as *contract.ConfigError before any stage starts; stage
// failures are returned as *RunError. A result is returned only on success.
func (o *Orchestrator) Run(ctx context.Context, input []byte, opts ...RunOption) (*simulation.Result, error) {
	cfg, err := ParseInput(input, o.contract.Validator())
	if err != nil {
		o.logger.Warn().Err(err).Msg("Rejected simulation input")
		return nil, err
	}
	return o.RunConfig(ctx, cfg, opts...)
}

// RunConfig executes the simulation for an already resolved configuration.
func (o *Orchestrator) RunConfig(ctx context.Context, cfg simulation.Config, opts ...RunOption) (*simulation.Result, error) {
	if err := o.claim(cfg); err != nil {
		return nil, err
	}
	defer o.running.Store(false)

	return o.runClaimed(ctx, cfg, opts...)
}

// Start claims the orchestrator and executes the run on a new goroutine.
// Configuration errors and ErrRunInProgress are returned synchronously.
// done receives the outcome before the orchestrator accepts another run.
func (o *Orchestrator) Start(ctx context.Context, cfg simulation.Config, done func(*simulation.Result, error), opts ...RunOption) error {
	if err := o.claim(cfg); err != nil {
		return err
	}

	go func() {
		defer o.running.Store(false)
		result, err := o.runClaimed(ctx, cfg, opts...)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

// Busy reports whether a run is in flight.
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

func (o *Orchestrator) claim(cfg simulation.Config) error {
	if err := checkConfig(cfg); err != nil {
		return err
	}
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) runClaimed(ctx context.Context, cfg simulation.Config, opts ...RunOption) (*simulation.Result, error) {
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.New().String()
	}

	observers := append(append([]progress.Observer{}, o.observers...), ro.observers...)
	tracker := progress.NewTracker(ro.runID, observers...)

	o.mu.Lock()
	o.tracker = tracker
	o.mu.Unlock()

	ctx, span := otel.Tracer("doppelganger/orchestrator").Start(ctx, "simulation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", ro.runID),
		attribute.Int("run.lures", cfg.Lures),
		attribute.Int("run.honeydocs", cfg.Honeydocs),
	)

	r := &run{
		id:       ro.runID,
		cfg:      cfg,
		contract: o.contract,
		tracker:  tracker,
		logger:   o.logger.With().Str("run_id", ro.runID).Logger(),
	}

	start := time.Now()
	r.logger.Info().
		Str("language", cfg.Language).
		Str("aggressiveness", cfg.Aggressiveness).
		Int("lures", cfg.Lures).
		Int("honeydocs", cfg.Honeydocs).
		Msg("Simulation started")

	result, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(contract.KindOf(err)))
		r.logger.Error().
			Err(err).
			Str("stage", string(tracker.Current())).
			Str("kind", string(contract.KindOf(err))).
			Dur("duration", time.Since(start)).
			Msg("Simulation failed")
		if o.forwarder != nil {
			o.forwarder.ForwardRunFailed(ro.runID, tracker.Current(), err)
		}
		return nil, err
	}

	r.logger.Info().
		Int("phases", len(result.Campaign.Phases)).
		Int("detection_rules", len(result.DetectionRules)).
		Int("simulation_logs", len(result.SimulationLogs)).
		Dur("duration", time.Since(start)).
		Msg("Simulation complete")

	if o.forwarder != nil {
		o.forwarder.ForwardRunCompleted(ro.runID, result, time.Since(start))
	}

	return result, nil
}

// checkConfig rejects configurations that did not come through ParseInput.
func checkConfig(cfg simulation.Config) error {
	var violations []contract.ValidationError
	if cfg.TargetDescription == "" {
		violations = append(violations, contract.ValidationError{Field: "target_description", Rule: "required", Message: "target_description is required"})
	}
	if cfg.Language == "" {
		violations = append(violations, contract.ValidationError{Field: "languages", Rule: "required", Message: "a language is required"})
	}
	if cfg.Lures < 0 || cfg.Lures > simulation.MaxLures {
		violations = append(violations, contract.ValidationError{
			Field:   "numberOfLures",
			Rule:    "range",
			Message: fmt.Sprintf("numberOfLures must be between 0 and %d", simulation.MaxLures),
		})
	}
	if cfg.Honeydocs < 0 || cfg.Honeydocs > simulation.MaxHoneydocs {
		violations = append(violations, contract.ValidationError{
			Field:   "numberOfHoneydocs",
			Rule:    "range",
			Message: fmt.Sprintf("numberOfHoneydocs must be between 0 and %d", simulation.MaxHoneydocs),
		})
	}
	if len(violations) > 0 {
		return &contract.ConfigError{Message: "invalid simulation config", Violations: violations}
	}
	return nil
}

// run holds the state of one in-flight simulation. It is owned by the
// goroutine executing it and discarded when the run ends.
type run struct {
	id       string
	cfg      simulation.Config
	contract *contract.Contract
	tracker  *progress.Tracker
	logger   zerolog.Logger

	// honeydoc id -> phase id
	docIDs map[string]string
}

func (r *run) execute(ctx context.Context) (*simulation.Result, error) {
	// Safety check
	if err := r.enter(progress.Safety); err != nil {
		return nil, err
	}
	var safety simulation.SafetyCheckResult
	if err := r.invoke(ctx, stages.SafetyCheck(stages.SafetyCheckInput{Consent: true}), "", &safety); err != nil {
		return nil, err
	}

	// Persona
	if err := r.enter(progress.Persona); err != nil {
		return nil, err
	}
	var persona simulation.Persona
	req := stages.Persona(stages.PersonaInput{TargetDescription: r.cfg.TargetDescription})
	if err := r.invoke(ctx, req, "", &persona); err != nil {
		return nil, err
	}

	// Campaign
	if err := r.enter(progress.Campaign); err != nil {
		return nil, err
	}
	var campaign simulation.Campaign
	req = stages.Campaign(stages.CampaignInput{
		Persona:           persona,
		TargetDescription: r.cfg.TargetDescription,
		Aggressiveness:    r.cfg.Aggressiveness,
	})
	if err := r.invoke(ctx, req, "", &campaign); err != nil {
		return nil, err
	}

	// Per-phase artifacts
	if err := r.enter(progress.Lures); err != nil {
		return nil, err
	}
	artifacts := make([]simulation.Artifact, 0, len(campaign.Phases))
	for _, phase := range campaign.Phases {
		artifact, err := r.phaseArtifact(ctx, persona, phase)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	// Entered here as well so that runs without honeydocs do not skip the state.
	if err := r.enter(progress.Honeydocs); err != nil {
		return nil, err
	}

	// Detections
	if err := r.enter(progress.Detections); err != nil {
		return nil, err
	}
	var ruleSet simulation.DetectionRuleSet
	req = stages.DetectionMapping(stages.DetectionInput{Campaign: campaign, Artifacts: artifacts})
	if err := r.invoke(ctx, req, "", &ruleSet); err != nil {
		return nil, err
	}
	if err := checkDetections(req.Stage, ruleSet.Rules, artifacts); err != nil {
		return nil, r.fail(stages.StageDetectionMapping, "", err)
	}

	// Simulated access, one log per honeydoc in phase order
	if err := r.enter(progress.Simulation); err != nil {
		return nil, err
	}
	logs := make([]simulation.SimulatedEventLog, 0, simulation.HoneydocCount(artifacts))
	for _, artifact := range artifacts {
		for _, doc := range artifact.Honeydocs {
			var log simulation.SimulatedEventLog
			req = stages.SimulatedAccess(stages.AccessInput{Honeydoc: doc})
			if err := r.invoke(ctx, req, artifact.PhaseID, &log); err != nil {
				return nil, err
			}
			if err := checkAccessLog(req.Stage, doc, log); err != nil {
				return nil, r.fail(stages.StageSimulatedAccess, artifact.PhaseID, err)
			}
			logs = append(logs, log)
		}
	}

	// After-action report
	if err := r.enter(progress.AAR); err != nil {
		return nil, err
	}
	var aar simulation.AAR
	req = stages.AAR(stages.AARInput{
		Persona:    persona,
		Campaign:   campaign,
		Artifacts:  artifacts,
		Logs:       logs,
		Detections: ruleSet.Rules,
	})
	if err := r.invoke(ctx, req, "", &aar); err != nil {
		return nil, err
	}
	if err := checkAAR(req.Stage, aar, ruleSet.Rules, logs); err != nil {
		return nil, r.fail(stages.StageAAR, "", err)
	}

	result := &simulation.Result{
		SafetyCheck:    safety,
		Persona:        persona,
		Campaign:       campaign,
		Artifacts:      artifacts,
		DetectionRules: nonNil(ruleSet.Rules),
		SimulationLogs: logs,
		AAR:            aar,
	}

	if err := r.enter(progress.Complete); err != nil {
		return nil, err
	}
	return result, nil
}

// phaseArtifact generates the lures, SMS lures and honeydocs of one phase.
func (r *run) phaseArtifact(ctx context.Context, persona simulation.Persona, phase simulation.CampaignPhase) (simulation.Artifact, error) {
	artifact := simulation.Artifact{
		PhaseID:   phase.PhaseID,
		Phase:     phase.PhaseName,
		Lures:     []simulation.LureTemplate{},
		SmsLures:  []simulation.SmsLureTemplate{},
		Honeydocs: []simulation.Honeydoc{},
	}

	lureIn := stages.LureInput{
		Persona:        persona,
		Phase:          phase,
		Language:       r.cfg.Language,
		Aggressiveness: r.cfg.Aggressiveness,
		Count:          r.cfg.Lures,
	}

	if r.cfg.Lures > 0 {
		var lures stages.LureBatch
		if err := r.invoke(ctx, stages.Lure(lureIn), phase.PhaseID, &lures); err != nil {
			return simulation.Artifact{}, err
		}
		artifact.Lures = lures.Templates

		var sms stages.SmsLureBatch
		if err := r.invoke(ctx, stages.SMSLure(lureIn), phase.PhaseID, &sms); err != nil {
			return simulation.Artifact{}, err
		}
		artifact.SmsLures = sms.Templates
	}

	for i := 0; i < r.cfg.Honeydocs; i++ {
		if err := r.enter(progress.Honeydocs); err != nil {
			return simulation.Artifact{}, err
		}
		var doc simulation.Honeydoc
		req := stages.Honeydoc(stages.HoneydocInput{
			Persona: persona,
			Phase:   phase,
			Index:   i,
			Total:   r.cfg.Honeydocs,
		})
		if err := r.invoke(ctx, req, phase.PhaseID, &doc); err != nil {
			return simulation.Artifact{}, err
		}
		if err := r.claimDocID(req.Stage, phase.PhaseID, doc.DocID); err != nil {
			return simulation.Artifact{}, r.fail(stages.StageHoneydoc, phase.PhaseID, err)
		}
		artifact.Honeydocs = append(artifact.Honeydocs, doc)
	}

	r.logger.Debug().
		Str("phase_id", phase.PhaseID).
		Int("lures", len(artifact.Lures)).
		Int("sms_lures", len(artifact.SmsLures)).
		Int("honeydocs", len(artifact.Honeydocs)).
		Msg("Phase artifacts generated")

	return artifact, nil
}

// claimDocID records a honeydoc id and rejects one already issued in this run.
// Access logs are matched to honeydocs by id, so ids must be unique.
func (r *run) claimDocID(stage, phaseID, docID string) error {
	if r.docIDs == nil {
		r.docIDs = make(map[string]string)
	}
	if prev, ok := r.docIDs[docID]; ok {
		return violation(stage, []contract.ValidationError{{
			Field:   "doc_id",
			Rule:    "unique",
			Message: fmt.Sprintf("doc_id %q already issued in phase %q", docID, prev),
		}})
	}
	r.docIDs[docID] = phaseID
	return nil
}

func (r *run) enter(stage progress.Stage) error {
	if err := r.tracker.Advance(stage); err != nil {
		return r.fail("", "", fmt.Errorf("advance progress: %w", err))
	}
	return nil
}

func (r *run) invoke(ctx context.Context, req contract.Request, phaseID string, out interface{}) error {
	r.logger.Debug().Str("stage", req.Stage).Str("phase_id", phaseID).Msg("Invoking stage")
	if err := r.contract.Invoke(ctx, req, out); err != nil {
		return r.fail(stages.Name(req.Stage), phaseID, err)
	}
	return nil
}

// fail freezes the tracker and wraps err with the frozen stage.
func (r *run) fail(step stages.Name, phaseID string, err error) error {
	return &RunError{
		RunID:   r.id,
		Stage:   r.tracker.Freeze(),
		Step:    step,
		PhaseID: phaseID,
		Err:     err,
	}
}

func nonNil(rules []simulation.DetectionRule) []simulation.DetectionRule {
	if rules == nil {
		return []simulation.DetectionRule{}
	}
	return rules
}
