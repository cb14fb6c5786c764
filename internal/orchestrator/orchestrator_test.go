package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/generation"
	"cymbytes.com/doppelganger/internal/orchestrator/webhooks"
	"cymbytes.com/doppelganger/internal/progress"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

const endToEndInput = `{"target_description":"X","safety_consent":true,"languages":["en"],"numberOfLures":1,"numberOfHoneydocs":1}`

type stageRecorder struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *stageRecorder) StageEntered(_ string, s progress.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func TestRun_EndToEnd(t *testing.T) {
	stub := generation.NewScripted(generation.NewStub(3))
	orch := New(stub, zerolog.Nop())
	rec := &stageRecorder{}

	result, err := orch.Run(context.Background(), []byte(endToEndInput), WithObserver(rec))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Artifacts) != 3 {
		t.Errorf("Expected 3 artifacts, got %d", len(result.Artifacts))
	}
	if len(result.SimulationLogs) != 3 {
		t.Errorf("Expected 3 simulation logs, got %d", len(result.SimulationLogs))
	}

	snap, ok := orch.Progress()
	if !ok || snap.Stage != progress.Complete || !snap.Complete {
		t.Errorf("Expected run to reach complete, got %+v", snap)
	}

	want := []progress.Stage{
		progress.Safety, progress.Persona, progress.Campaign, progress.Lures,
		progress.Honeydocs, progress.Detections, progress.Simulation, progress.AAR, progress.Complete,
	}
	if diff := cmp.Diff(want, rec.stages); diff != "" {
		t.Errorf("Stage sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Counts(t *testing.T) {
	tests := []struct {
		name      string
		phases    int
		lures     int
		honeydocs int
	}{
		{"defaults-ish", 3, 3, 1},
		{"five phases", 5, 2, 2},
		{"no lures", 4, 0, 1},
		{"no honeydocs", 3, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := generation.NewScripted(generation.NewStub(tt.phases))
			orch := New(service, zerolog.Nop())

			cfg := simulation.Config{
				TargetDescription: "A regional credit union",
				Language:          "en",
				Aggressiveness:    "medium",
				Lures:             tt.lures,
				Honeydocs:         tt.honeydocs,
			}
			result, err := orch.RunConfig(context.Background(), cfg)
			if err != nil {
				t.Fatalf("RunConfig failed: %v", err)
			}

			if len(result.Artifacts) != tt.phases {
				t.Fatalf("Expected %d artifacts, got %d", tt.phases, len(result.Artifacts))
			}
			for i, a := range result.Artifacts {
				if len(a.Lures) != tt.lures || len(a.SmsLures) != tt.lures || len(a.Honeydocs) != tt.honeydocs {
					t.Errorf("Artifact %d: lures=%d sms=%d honeydocs=%d", i, len(a.Lures), len(a.SmsLures), len(a.Honeydocs))
				}
				if a.PhaseID != result.Campaign.Phases[i].PhaseID {
					t.Errorf("Artifact %d belongs to %s, want %s", i, a.PhaseID, result.Campaign.Phases[i].PhaseID)
				}
			}
			if len(result.SimulationLogs) != tt.phases*tt.honeydocs {
				t.Errorf("Expected %d logs, got %d", tt.phases*tt.honeydocs, len(result.SimulationLogs))
			}

			calls := countStages(service.Calls())
			if tt.lures == 0 && (calls[stages.StageLure] != 0 || calls[stages.StageSMSLure] != 0) {
				t.Errorf("Expected no lure calls, got %v", calls)
			}
			if calls[stages.StageHoneydoc] != tt.phases*tt.honeydocs {
				t.Errorf("Expected %d honeydoc calls, got %d", tt.phases*tt.honeydocs, calls[stages.StageHoneydoc])
			}
			if calls[stages.StageSimulatedAccess] != tt.phases*tt.honeydocs {
				t.Errorf("Expected %d access calls, got %d", tt.phases*tt.honeydocs, calls[stages.StageSimulatedAccess])
			}
		})
	}
}

func TestRun_CrossReferences(t *testing.T) {
	orch := New(generation.NewStub(4), zerolog.Nop())

	result, err := orch.Run(context.Background(), []byte(endToEndInput))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ids := simulation.ArtifactIDs(result.Artifacts)
	for _, rule := range result.DetectionRules {
		for _, ref := range rule.MappedArtifacts {
			if _, ok := ids[ref]; !ok {
				t.Errorf("Rule %s maps unknown artifact %s", rule.ID, ref)
			}
		}
	}

	for _, entry := range append(append([]string{}, result.AAR.WhatWorked...), result.AAR.Missed...) {
		if !mentionsRule(entry, result.DetectionRules) {
			t.Errorf("AAR entry %q references no rule", entry)
		}
	}

	if len(result.AAR.Timeline) < len(result.SimulationLogs) {
		t.Errorf("Timeline has %d events for %d logs", len(result.AAR.Timeline), len(result.SimulationLogs))
	}
	var prev time.Time
	for _, ev := range result.AAR.Timeline {
		at, err := time.Parse(time.RFC3339, ev.Time)
		if err != nil {
			t.Fatalf("Bad timeline time %q: %v", ev.Time, err)
		}
		if at.Before(prev) {
			t.Errorf("Timeline not sorted at %s", ev.Time)
		}
		prev = at
	}
}

func TestRun_ConsentFalse(t *testing.T) {
	service := generation.NewScripted(generation.NewStub(3))
	orch := New(service, zerolog.Nop())

	_, err := orch.Run(context.Background(), []byte(`{"target_description":"X","safety_consent":false,"languages":["en"]}`))

	var cfgErr *contract.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if len(service.Calls()) != 0 {
		t.Errorf("Expected no service calls, got %d", len(service.Calls()))
	}
	if _, ok := orch.Progress(); ok {
		t.Error("Expected no run to be tracked")
	}
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", `{"target_description":`},
		{"missing consent", `{"target_description":"X","languages":["en"]}`},
		{"no languages", `{"target_description":"X","safety_consent":true,"languages":[]}`},
		{"no target", `{"safety_consent":true,"languages":["en"]}`},
		{"bad aggressiveness", `{"target_description":"X","safety_consent":true,"languages":["en"],"aggressiveness":"extreme"}`},
		{"negative lures", `{"target_description":"X","safety_consent":true,"languages":["en"],"numberOfLures":-1}`},
		{"too many lures", `{"target_description":"X","safety_consent":true,"languages":["en"],"numberOfLures":11}`},
		{"huge honeydocs", `{"target_description":"X","safety_consent":true,"languages":["en"],"numberOfHoneydocs":1099511627776}`},
		{"trailing data", `{"target_description":"X","safety_consent":true,"languages":["en"]} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := generation.NewScripted(nil)
			orch := New(service, zerolog.Nop())

			_, err := orch.Run(context.Background(), []byte(tt.input))
			if contract.KindOf(err) != contract.KindConfig {
				t.Errorf("Expected ConfigError, got %v", err)
			}
			if len(service.Calls()) != 0 {
				t.Errorf("Expected no service calls, got %d", len(service.Calls()))
			}
		})
	}
}

func TestRun_ParseErrorTaggedWithStage(t *testing.T) {
	tests := []struct {
		stage     stages.Name
		wantFroze progress.Stage
	}{
		{stages.StageSafetyCheck, progress.Safety},
		{stages.StagePersona, progress.Persona},
		{stages.StageCampaign, progress.Campaign},
		{stages.StageLure, progress.Lures},
		{stages.StageSMSLure, progress.Lures},
		{stages.StageHoneydoc, progress.Honeydocs},
		{stages.StageDetectionMapping, progress.Detections},
		{stages.StageSimulatedAccess, progress.Simulation},
		{stages.StageAAR, progress.AAR},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			service := generation.NewScripted(generation.NewStub(3)).Push(string(tt.stage), "Sure! Here is your JSON:")
			orch := New(service, zerolog.Nop())

			result, err := orch.Run(context.Background(), []byte(endToEndInput))
			if result != nil {
				t.Error("Expected no result on failure")
			}

			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("Expected RunError, got %v", err)
			}
			if runErr.Kind() != contract.KindParse {
				t.Errorf("Expected ParseError, got %s", runErr.Kind())
			}
			if runErr.Step != tt.stage {
				t.Errorf("Expected failing step %s, got %s", tt.stage, runErr.Step)
			}
			if runErr.Stage != tt.wantFroze {
				t.Errorf("Expected frozen stage %s, got %s", tt.wantFroze, runErr.Stage)
			}
			if !strings.Contains(err.Error(), tt.wantFroze.Name()) {
				t.Errorf("Expected error to name %q, got %q", tt.wantFroze.Name(), err.Error())
			}

			snap, _ := orch.Progress()
			if !snap.Frozen || snap.Complete {
				t.Errorf("Expected frozen incomplete tracker, got %+v", snap)
			}
		})
	}
}

func TestRun_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		script func(*generation.Scripted)
		want   contract.Kind
	}{
		{
			name:   "service failure",
			script: func(s *generation.Scripted) { s.Fail("persona", "connection reset") },
			want:   contract.KindGeneration,
		},
		{
			name:   "too few phases",
			script: func(s *generation.Scripted) { s.Push("campaign", `{"phases":[]}`) },
			want:   contract.KindSchema,
		},
		{
			name:   "wrong lure count",
			script: func(s *generation.Scripted) { s.Push("lure", `{"templates":[]}`) },
			want:   contract.KindSchema,
		},
		{
			name: "consent not recorded",
			script: func(s *generation.Scripted) {
				s.Push("safety-check", `{"safety":{"authorized_only":true,"sandbox_required":true,"no_exploit_code":true,"consent_recorded":""}}`)
			},
			want: contract.KindSchema,
		},
		{
			name: "unknown mapped artifact",
			script: func(s *generation.Scripted) {
				s.Push("detection-mapping", `{"rules":[{"id":"DR-1","name":"n","description":"","detection_logic_high_level":"","suggested_data_sources":[],"confidence":"low","mapped_artifacts":["NOPE"]}]}`)
			},
			want: contract.KindSchema,
		},
		{
			name: "access log for wrong document",
			script: func(s *generation.Scripted) {
				s.Push("simulated-access", `{"event_id":"e","timestamp":"2025-01-06T09:00:00Z","doc_id":"OTHER","event_type":"","user_agent":"","ip":"","attack_steps":[{"command":"c","description":"d","technique_id":"T1"}],"notes":""}`)
			},
			want: contract.KindSchema,
		},
		{
			name: "unsorted timeline",
			script: func(s *generation.Scripted) {
				s.Push("aar", `{"executive_summary":[],"timeline":[{"time":"2025-01-06T10:00:00Z","event":"b"},{"time":"2025-01-06T09:00:00Z","event":"a"},{"time":"2025-01-06T11:00:00Z","event":"c"}],"what_worked":[],"missed":[],"recommendations":[],"confidence":"low"}`)
			},
			want: contract.KindSchema,
		},
		{
			name: "report cites unknown rule",
			script: func(s *generation.Scripted) {
				s.Push("aar", `{"executive_summary":[],"timeline":[{"time":"2025-01-06T09:00:00Z","event":"a"},{"time":"2025-01-06T09:00:00Z","event":"b"},{"time":"2025-01-06T09:30:00Z","event":"c"}],"what_worked":["DR-999 fired"],"missed":[],"recommendations":[],"confidence":"low"}`)
			},
			want: contract.KindSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := generation.NewScripted(generation.NewStub(3))
			tt.script(service)
			orch := New(service, zerolog.Nop())

			result, err := orch.Run(context.Background(), []byte(endToEndInput))
			if result != nil {
				t.Error("Expected no result on failure")
			}
			if got := contract.KindOf(err); got != tt.want {
				t.Errorf("Expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	service := generation.NewScripted(generation.NewStub(3)).Fail("campaign", "boom")
	orch := New(service, zerolog.Nop())

	if _, err := orch.Run(context.Background(), []byte(endToEndInput)); err == nil {
		t.Fatal("Expected failure")
	}

	calls := countStages(service.Calls())
	for _, later := range []stages.Name{stages.StageLure, stages.StageHoneydoc, stages.StageDetectionMapping, stages.StageAAR} {
		if calls[later] != 0 {
			t.Errorf("Stage %s ran after the failure", later)
		}
	}
}

func TestRun_IdempotentCounts(t *testing.T) {
	input := []byte(`{"target_description":"X","safety_consent":true,"languages":["fr"],"numberOfLures":2,"numberOfHoneydocs":2}`)
	orch := New(generation.NewStub(4), zerolog.Nop())

	first, err := orch.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := orch.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	shape := func(r *simulation.Result) []int {
		out := []int{len(r.Campaign.Phases), len(r.Artifacts), len(r.SimulationLogs)}
		for _, a := range r.Artifacts {
			out = append(out, len(a.Lures), len(a.SmsLures), len(a.Honeydocs))
		}
		return out
	}
	if diff := cmp.Diff(shape(first), shape(second)); diff != "" {
		t.Errorf("Run shapes differ (-first +second):\n%s", diff)
	}
}

func TestRun_LanguageAndAggressivenessReachPrompts(t *testing.T) {
	service := generation.NewScripted(generation.NewStub(3))
	orch := New(service, zerolog.Nop())

	input := `{"target_description":"X","safety_consent":true,"languages":["de","en"],"aggressiveness":"high","numberOfLures":1,"numberOfHoneydocs":0}`
	if _, err := orch.Run(context.Background(), []byte(input)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, req := range service.Calls() {
		if req.Stage == string(stages.StageLure) && !strings.Contains(req.Prompt, "Language: de\n") {
			t.Error("Expected lure prompt to carry the first language")
		}
		if req.Stage == string(stages.StageCampaign) && !strings.Contains(req.Prompt, "Aggressiveness: high\n") {
			t.Error("Expected campaign prompt to carry the aggressiveness")
		}
	}
}

type blockingService struct {
	entered chan struct{}
	release chan struct{}
	inner   contract.Service
}

func (b *blockingService) Generate(ctx context.Context, req contract.Request) (string, error) {
	if req.Stage == string(stages.StageSafetyCheck) {
		close(b.entered)
		<-b.release
	}
	return b.inner.Generate(ctx, req)
}

func TestRun_SingleFlight(t *testing.T) {
	svc := &blockingService{entered: make(chan struct{}), release: make(chan struct{}), inner: generation.NewStub(3)}
	orch := New(svc, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background(), []byte(endToEndInput))
		done <- err
	}()

	<-svc.entered
	if _, err := orch.Run(context.Background(), []byte(endToEndInput)); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	close(svc.release)

	if err := <-done; err != nil {
		t.Errorf("First run failed: %v", err)
	}
}

func TestRun_WithRunID(t *testing.T) {
	orch := New(generation.NewStub(3), zerolog.Nop())
	var seen []string
	orch.AddObserver(progress.ObserverFunc(func(runID string, _ progress.Stage) {
		seen = append(seen, runID)
	}))

	if _, err := orch.Run(context.Background(), []byte(endToEndInput), WithRunID("run-fixed")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) == 0 || seen[0] != "run-fixed" {
		t.Errorf("Expected observers to see run-fixed, got %v", seen)
	}
}

func countStages(calls []contract.Request) map[stages.Name]int {
	out := make(map[stages.Name]int)
	for _, c := range calls {
		out[stages.Name(c.Stage)]++
	}
	return out
}

func TestRun_ForwardsOutcome(t *testing.T) {
	var mu sync.Mutex
	var events []webhooks.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhooks.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	defer srv.Close()

	fwd := webhooks.NewForwarder(webhooks.Config{Enabled: true, URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	service := generation.NewScripted(generation.NewStub(3)).Fail("aar", "quota exceeded")
	orch := New(service, zerolog.Nop())
	orch.SetForwarder(fwd)

	if _, err := orch.Run(context.Background(), []byte(endToEndInput)); err == nil {
		t.Fatal("Expected failure")
	}
	fwd.Wait()

	stagesSeen, failed := 0, 0
	for _, ev := range events {
		switch ev.EventType {
		case webhooks.EventStage:
			stagesSeen++
		case webhooks.EventFailed:
			failed++
			if ev.Payload["stage"] != string(progress.AAR) || ev.Payload["kind"] != string(contract.KindGeneration) {
				t.Errorf("Unexpected failure payload: %v", ev.Payload)
			}
		}
	}
	if stagesSeen != 8 {
		t.Errorf("Expected 8 stage events before the failure, got %d", stagesSeen)
	}
	if failed != 1 {
		t.Errorf("Expected 1 failure event, got %d", failed)
	}
}

func TestRunConfig_CountBounds(t *testing.T) {
	tests := []struct {
		name      string
		lures     int
		honeydocs int
	}{
		{"lures above max", simulation.MaxLures + 1, 1},
		{"honeydocs above max", 1, simulation.MaxHoneydocs + 1},
		{"huge honeydocs", 1, 1 << 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := generation.NewScripted(nil)
			orch := New(service, zerolog.Nop())

			cfg := simulation.Config{
				TargetDescription: "X",
				Language:          "en",
				Aggressiveness:    "low",
				Lures:             tt.lures,
				Honeydocs:         tt.honeydocs,
			}
			_, err := orch.RunConfig(context.Background(), cfg)
			if contract.KindOf(err) != contract.KindConfig {
				t.Errorf("Expected ConfigError, got %v", err)
			}
			if len(service.Calls()) != 0 {
				t.Errorf("Expected no service calls, got %d", len(service.Calls()))
			}
		})
	}
}

func TestRun_MaxCounts(t *testing.T) {
	orch := New(generation.NewStub(3), zerolog.Nop())
	input := fmt.Sprintf(`{"target_description":"X","safety_consent":true,"languages":["en"],"numberOfLures":%d,"numberOfHoneydocs":%d}`,
		simulation.MaxLures, simulation.MaxHoneydocs)

	result, err := orch.Run(context.Background(), []byte(input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.SimulationLogs) != 3*simulation.MaxHoneydocs {
		t.Errorf("Expected %d logs, got %d", 3*simulation.MaxHoneydocs, len(result.SimulationLogs))
	}
}

// fixedDocIDService rewrites every honeydoc to carry the same doc_id.
type fixedDocIDService struct {
	inner contract.Service
}

func (f *fixedDocIDService) Generate(ctx context.Context, req contract.Request) (string, error) {
	text, err := f.inner.Generate(ctx, req)
	if err != nil || req.Stage != string(stages.StageHoneydoc) {
		return text, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return "", err
	}
	doc["doc_id"] = "HD-X"
	out, err := json.Marshal(doc)
	return string(out), err
}

func TestRun_DuplicateHoneydocIDs(t *testing.T) {
	orch := New(&fixedDocIDService{inner: generation.NewStub(3)}, zerolog.Nop())

	_, err := orch.Run(context.Background(), []byte(endToEndInput))

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Expected RunError, got %v", err)
	}
	if runErr.Kind() != contract.KindSchema {
		t.Errorf("Expected SchemaViolation, got %s", runErr.Kind())
	}
	if runErr.Step != stages.StageHoneydoc || runErr.PhaseID != "P2" {
		t.Errorf("Expected failure at honeydoc in P2, got %s in %q", runErr.Step, runErr.PhaseID)
	}
	if runErr.Stage != progress.Honeydocs {
		t.Errorf("Expected frozen stage honeydocs, got %s", runErr.Stage)
	}
}

func TestStart_DeliversOutcome(t *testing.T) {
	orch := New(generation.NewStub(3), zerolog.Nop())
	cfg, err := ParseInput([]byte(endToEndInput), orch.Validator())
	if err != nil {
		t.Fatalf("ParseInput failed: %v", err)
	}

	type outcome struct {
		result *simulation.Result
		err    error
		busy   bool
	}
	done := make(chan outcome, 1)
	err = orch.Start(context.Background(), cfg, func(result *simulation.Result, err error) {
		done <- outcome{result: result, err: err, busy: orch.Busy()}
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Run failed: %v", got.err)
		}
		if len(got.result.Artifacts) != 3 {
			t.Errorf("Expected 3 artifacts, got %d", len(got.result.Artifacts))
		}
		if !got.busy {
			t.Error("Expected the orchestrator to stay claimed until the outcome is delivered")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish in time")
	}
}

func TestStart_RejectsWhileBusy(t *testing.T) {
	svc := &blockingService{entered: make(chan struct{}), release: make(chan struct{}), inner: generation.NewStub(3)}
	orch := New(svc, zerolog.Nop())
	cfg, err := ParseInput([]byte(endToEndInput), orch.Validator())
	if err != nil {
		t.Fatalf("ParseInput failed: %v", err)
	}

	finished := make(chan struct{})
	if err := orch.Start(context.Background(), cfg, func(*simulation.Result, error) { close(finished) }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-svc.entered

	if err := orch.Start(context.Background(), cfg, nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	if !orch.Busy() {
		t.Error("Expected Busy while a run is in flight")
	}

	close(svc.release)
	<-finished
}
