package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

func TestStub_SatisfiesStageContracts(t *testing.T) {
	stub := NewStub(3)
	c := contract.New(stub, zerolog.Nop())
	ctx := context.Background()

	var safety simulation.SafetyCheckResult
	if err := c.Invoke(ctx, stages.SafetyCheck(stages.SafetyCheckInput{Consent: true}), &safety); err != nil {
		t.Fatalf("safety-check: %v", err)
	}
	if !strings.HasPrefix(safety.Safety.ConsentRecorded, "sim-consent-") {
		t.Errorf("Unexpected consent record %q", safety.Safety.ConsentRecorded)
	}

	var persona simulation.Persona
	if err := c.Invoke(ctx, stages.Persona(stages.PersonaInput{TargetDescription: "X"}), &persona); err != nil {
		t.Fatalf("persona: %v", err)
	}

	var campaign simulation.Campaign
	if err := c.Invoke(ctx, stages.Campaign(stages.CampaignInput{Persona: persona}), &campaign); err != nil {
		t.Fatalf("campaign: %v", err)
	}
	if len(campaign.Phases) != 3 {
		t.Fatalf("Expected 3 phases, got %d", len(campaign.Phases))
	}

	in := stages.LureInput{Persona: persona, Phase: campaign.Phases[0], Language: "en", Count: 2}
	var lures stages.LureBatch
	if err := c.Invoke(ctx, stages.Lure(in), &lures); err != nil {
		t.Fatalf("lure: %v", err)
	}
	var sms stages.SmsLureBatch
	if err := c.Invoke(ctx, stages.SMSLure(in), &sms); err != nil {
		t.Fatalf("sms-lure: %v", err)
	}

	var doc simulation.Honeydoc
	if err := c.Invoke(ctx, stages.Honeydoc(stages.HoneydocInput{Persona: persona, Phase: campaign.Phases[0], Total: 1}), &doc); err != nil {
		t.Fatalf("honeydoc: %v", err)
	}

	var log simulation.SimulatedEventLog
	if err := c.Invoke(ctx, stages.SimulatedAccess(stages.AccessInput{Honeydoc: doc}), &log); err != nil {
		t.Fatalf("simulated-access: %v", err)
	}
	if log.DocID != doc.DocID {
		t.Errorf("Expected log for %s, got %s", doc.DocID, log.DocID)
	}
}

func TestStub_CampaignLengthClamped(t *testing.T) {
	tests := map[int]int{0: 3, 4: 4, 9: 5}
	for phases, want := range tests {
		if got := len(NewStub(phases).campaign().Phases); got != want {
			t.Errorf("NewStub(%d) produced %d phases, want %d", phases, got, want)
		}
	}
}

func TestStub_UnknownStage(t *testing.T) {
	if _, err := NewStub(3).Generate(context.Background(), contract.Request{Stage: "nope"}); err == nil {
		t.Error("Expected error for unknown stage")
	}
}
