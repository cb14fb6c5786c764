package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/internal/stages"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// stubEpoch anchors the timestamps the stub produces.
var stubEpoch = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// Stub is an offline generation service that answers every stage with
// well-formed, mutually consistent content. It remembers what it produced
// within a run so detections and the report reference real ids. A
// safety-check request starts a new run.
type Stub struct {
	// Phases is the campaign length; values outside 3..5 are clamped
	Phases int

	mu      sync.Mutex
	lures   int
	sms     int
	docIDs  []string
	ruleIDs []string
	logs    []time.Time
}

// NewStub creates a stub producing campaigns of the given length.
func NewStub(phases int) *Stub {
	return &Stub{Phases: phases}
}

// Generate returns the stub response for the request's stage.
func (s *Stub) Generate(ctx context.Context, req contract.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var v interface{}
	switch stages.Name(req.Stage) {
	case stages.StageSafetyCheck:
		s.reset()
		v = simulation.SafetyCheckResult{Safety: simulation.SafetyCheck{
			AuthorizedOnly:  true,
			SandboxRequired: true,
			NoExploitCode:   true,
			ConsentRecorded: "sim-consent-" + uuid.New().String(),
		}}
	case stages.StagePersona:
		v = stubPersona()
	case stages.StageCampaign:
		v = s.campaign()
	case stages.StageLure:
		v = s.lureBatch(arrayLength(req.Schema, "templates"))
	case stages.StageSMSLure:
		v = s.smsBatch(arrayLength(req.Schema, "templates"))
	case stages.StageHoneydoc:
		v = s.honeydoc()
	case stages.StageDetectionMapping:
		v = s.detections()
	case stages.StageSimulatedAccess:
		v = s.accessLog(pinnedValue(req.Schema, "doc_id"))
	case stages.StageAAR:
		v = s.report()
	default:
		return "", fmt.Errorf("stub has no response for stage %q", req.Stage)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Stub) reset() {
	s.lures, s.sms = 0, 0
	s.docIDs, s.ruleIDs, s.logs = nil, nil, nil
}

func stubPersona() simulation.Persona {
	return simulation.Persona{
		Name:            "Quiet Ledger",
		OriginCountry:   "Unspecified",
		Motivation:      "financial",
		PrimaryChannels: []string{"email", "sms"},
		LinguisticStyle: simulation.LinguisticStyle{
			Tone:                  "formal",
			CommonPhrases:         []string{"per our last conversation", "at your earliest convenience"},
			TypicalSentenceLength: "medium",
		},
		PretextTemplates: []simulation.PretextTemplate{
			{ID: "PT-1", Description: "Vendor requesting updated remittance details."},
			{ID: "PT-2", Description: "IT notice about a mandatory password policy review."},
		},
		LikelyTools: []string{"credential harvesting page", "document macro lure"},
		OpsecNotes:  []string{"Uses lookalike domains registered shortly before contact."},
	}
}

func (s *Stub) campaign() simulation.Campaign {
	n := s.Phases
	if n < stages.MinPhases {
		n = stages.MinPhases
	}
	if n > stages.MaxPhases {
		n = stages.MaxPhases
	}

	names := []string{"Reconnaissance", "Initial Contact", "Credential Harvest", "Internal Pivot", "Exfiltration Rehearsal"}
	c := simulation.Campaign{Phases: make([]simulation.CampaignPhase, 0, n)}
	for i := 0; i < n; i++ {
		c.Phases = append(c.Phases, simulation.CampaignPhase{
			PhaseID:          fmt.Sprintf("P%d", i+1),
			PhaseName:        names[i],
			Objective:        fmt.Sprintf("Exercise the %s phase in the sandbox.", names[i]),
			MethodsHighLevel: []string{"pretext email", "follow-up sms"},
			DurationDays:     i + 1,
			ExpectedOutcome:  "Detection team observes the simulated activity.",
		})
	}
	return c
}

func (s *Stub) lureBatch(count int) stages.LureBatch {
	b := stages.LureBatch{Templates: make([]simulation.LureTemplate, 0, count)}
	for i := 0; i < count; i++ {
		s.lures++
		b.Templates = append(b.Templates, simulation.LureTemplate{
			TemplateID:        fmt.Sprintf("LURE-%03d", s.lures),
			Subject:           "Action required: remittance details",
			Preheader:         "Please confirm before Friday",
			BodyPlaintext:     "Hello,\n\nPlease review the updated remittance form at " + simulation.TokenPlaceholder + " before Friday.\n\nRegards",
			CallToActionText:  "Review form",
			PersuasionVectors: []string{"urgency", "authority"},
			SafetyNotes:       "Sandbox training content only.",
		})
	}
	return b
}

func (s *Stub) smsBatch(count int) stages.SmsLureBatch {
	b := stages.SmsLureBatch{Templates: make([]simulation.SmsLureTemplate, 0, count)}
	for i := 0; i < count; i++ {
		s.sms++
		b.Templates = append(b.Templates, simulation.SmsLureTemplate{
			TemplateID:        fmt.Sprintf("SMS-%03d", s.sms),
			BodyShort:         "Payroll update pending. Confirm: " + simulation.TokenPlaceholder,
			PersuasionVectors: []string{"urgency"},
			SafetyNotes:       "Sandbox training content only.",
		})
	}
	return b
}

func (s *Stub) honeydoc() simulation.Honeydoc {
	id := fmt.Sprintf("HD-%03d", len(s.docIDs)+1)
	s.docIDs = append(s.docIDs, id)
	return simulation.Honeydoc{
		DocID:    id,
		Title:    "Q3 Vendor Payment Reconciliation",
		Author:   "Finance Operations",
		BodyText: "Internal use only. Reconciliation workbook: " + simulation.TokenPlaceholder,
		Metadata: simulation.HoneydocMetadata{
			LastModifiedHint: "last Tuesday",
			Department:       "Finance",
		},
		MetadataNotes: "Matches the quarterly close cadence.",
		SafetyNotes:   "Decoy document for sandbox use.",
	}
}

func (s *Stub) detections() simulation.DetectionRuleSet {
	set := simulation.DetectionRuleSet{Rules: []simulation.DetectionRule{}}
	if len(s.docIDs) > 0 {
		set.Rules = append(set.Rules, simulation.DetectionRule{
			ID:                      "DR-001",
			Name:                    "Honeydoc token beacon",
			Description:             "A tracking token embedded in a decoy document was resolved.",
			DetectionLogicHighLevel: "Alert on any request for a honeydoc tracking token.",
			SuggestedDataSources:    []string{"web proxy", "dns"},
			Confidence:              "high",
			MappedArtifacts:         append([]string(nil), s.docIDs...),
		})
	}
	set.Rules = append(set.Rules, simulation.DetectionRule{
		ID:                      fmt.Sprintf("DR-%03d", len(set.Rules)+1),
		Name:                    "Lookalike sender domain",
		Description:             "Inbound mail from a recently registered lookalike domain.",
		DetectionLogicHighLevel: "Compare sender domains against the organization's domains by edit distance.",
		SuggestedDataSources:    []string{"mail gateway"},
		Confidence:              "medium",
		MappedArtifacts:         []string{},
	})
	for _, r := range set.Rules {
		s.ruleIDs = append(s.ruleIDs, r.ID)
	}
	return set
}

func (s *Stub) accessLog(docID string) simulation.SimulatedEventLog {
	at := stubEpoch.Add(time.Duration(len(s.logs)+1) * 15 * time.Minute)
	s.logs = append(s.logs, at)
	return simulation.SimulatedEventLog{
		EventID:   fmt.Sprintf("EV-%03d", len(s.logs)),
		Timestamp: at.Format(time.RFC3339),
		DocID:     docID,
		EventType: "honeydoc_exploitation_simulation",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		IP:        "203.0.113.10",
		AttackSteps: []simulation.AttackCommand{{
			Command:     "net view \\\\<TARGET_HOST>",
			Description: "Enumerate shares reachable from the opened document.",
			TechniqueID: "T1135",
		}},
		Notes: "Simulated access in the sandbox.",
	}
}

func (s *Stub) report() simulation.AAR {
	aar := simulation.AAR{
		ExecutiveSummary: []string{
			"The simulated adversary reached every planned phase.",
			"Decoy documents produced the expected beacons.",
			"Mail filtering did not flag the lookalike domain.",
		},
		Timeline: []simulation.AARTimelineEvent{{
			Time:  stubEpoch.Format(time.RFC3339),
			Event: "Campaign started",
		}},
		WhatWorked: []string{},
		Missed:     []string{},
		Recommendations: []simulation.AARRecommendation{
			{Priority: "P1", Action: "Block newly registered lookalike domains at the mail gateway."},
			{Priority: "P3", Action: "Expand honeydoc coverage to shared drives."},
		},
		Confidence: "medium",
	}
	for i, at := range s.logs {
		aar.Timeline = append(aar.Timeline, simulation.AARTimelineEvent{
			Time:  at.Format(time.RFC3339),
			Event: fmt.Sprintf("Honeydoc access EV-%03d", i+1),
		})
	}
	for i, id := range s.ruleIDs {
		if i == 0 {
			aar.WhatWorked = append(aar.WhatWorked, id+": fired on simulated access")
		} else {
			aar.Missed = append(aar.Missed, id+": no alert raised")
		}
	}
	return aar
}

// arrayLength reads the exact length requested for an array property.
func arrayLength(s *contract.Schema, name string) int {
	if s == nil {
		return 0
	}
	p, ok := s.Property(name)
	if !ok || p.Length == nil {
		return 0
	}
	return *p.Length
}

// pinnedValue reads a string property restricted to a single value.
func pinnedValue(s *contract.Schema, name string) string {
	if s == nil {
		return ""
	}
	p, ok := s.Property(name)
	if !ok || len(p.Enum) != 1 {
		return ""
	}
	return p.Enum[0]
}
