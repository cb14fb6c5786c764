// Package simulation defines the data model of an adversary simulation run.
package simulation

// TokenPlaceholder is the substitution marker every lure, SMS lure and
// honeydoc body must carry for its tracking token.
const TokenPlaceholder = "{{TOKEN}}"

// SafetyCheck records the safety guarantees confirmed before a run.
type SafetyCheck struct {
	AuthorizedOnly  bool `json:"authorized_only" validate:"eq=true"`
	SandboxRequired bool `json:"sandbox_required" validate:"eq=true"`
	NoExploitCode   bool `json:"no_exploit_code" validate:"eq=true"`

	// Freshly generated, non-guessable consent record identifier
	ConsentRecorded string `json:"consent_recorded" validate:"required,min=16"`
}

// SafetyCheckResult wraps the safety check as returned by the generation service.
type SafetyCheckResult struct {
	Safety SafetyCheck `json:"safety"`
}

// LinguisticStyle describes how the persona writes.
type LinguisticStyle struct {
	Tone                  string   `json:"tone" validate:"required"`
	CommonPhrases         []string `json:"common_phrases"`
	TypicalSentenceLength string   `json:"typical_sentence_length" validate:"required,oneof=short medium long"`
}

// PretextTemplate is one pretext the persona is likely to use.
type PretextTemplate struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// Persona is the synthetic adversary produced once per run.
type Persona struct {
	Name             string            `json:"name" validate:"required"`
	OriginCountry    string            `json:"origin_country" validate:"required"`
	Motivation       string            `json:"motivation" validate:"required"`
	PrimaryChannels  []string          `json:"primary_channels"`
	LinguisticStyle  LinguisticStyle   `json:"linguistic_style"`
	PretextTemplates []PretextTemplate `json:"pretext_templates" validate:"unique=ID,dive"`
	LikelyTools      []string          `json:"likely_tools_high_level"`
	OpsecNotes       []string          `json:"opsec_notes"`
}

// CampaignPhase is one step of the campaign plan.
type CampaignPhase struct {
	PhaseID          string   `json:"phase_id" validate:"required"`
	PhaseName        string   `json:"phase_name" validate:"required"`
	Objective        string   `json:"objective" validate:"required"`
	MethodsHighLevel []string `json:"methods_high_level"`
	DurationDays     int      `json:"duration_days" validate:"gt=0"`
	ExpectedOutcome  string   `json:"expected_outcome"`
}

// Campaign is the ordered phase plan. Phase order defines fan-out order.
type Campaign struct {
	Phases []CampaignPhase `json:"phases" validate:"min=3,max=5,unique=PhaseID,dive"`
}

// LureTemplate is a training phishing email template.
type LureTemplate struct {
	TemplateID        string   `json:"template_id" validate:"required"`
	Subject           string   `json:"subject" validate:"required"`
	Preheader         string   `json:"preheader"`
	BodyPlaintext     string   `json:"body_plaintext" validate:"has_token"`
	CallToActionText  string   `json:"call_to_action_text"`
	PersuasionVectors []string `json:"persuasion_vectors"`
	TranslationNotes  string   `json:"translation_notes"`
	SafetyNotes       string   `json:"safety_notes"`
}

// SmsLureTemplate is a training SMS lure.
type SmsLureTemplate struct {
	TemplateID        string   `json:"template_id" validate:"required"`
	BodyShort         string   `json:"body_short" validate:"has_token"`
	PersuasionVectors []string `json:"persuasion_vectors"`
	SafetyNotes       string   `json:"safety_notes"`
}

// HoneydocMetadata carries plausibility hints for a decoy document.
type HoneydocMetadata struct {
	LastModifiedHint string `json:"last_modified_hint"`
	Department       string `json:"department"`
}

// Honeydoc is a decoy document instrumented with a tracking placeholder.
type Honeydoc struct {
	DocID         string           `json:"doc_id" validate:"required"`
	Title         string           `json:"title" validate:"required"`
	Author        string           `json:"author"`
	BodyText      string           `json:"body_text" validate:"has_token"`
	Metadata      HoneydocMetadata `json:"metadata"`
	MetadataNotes string           `json:"metadata_notes"`
	SafetyNotes   string           `json:"safety_notes"`
}

// Artifact bundles everything generated for one campaign phase.
type Artifact struct {
	PhaseID   string            `json:"phase_id"`
	Phase     string            `json:"phase"`
	Lures     []LureTemplate    `json:"lures"`
	SmsLures  []SmsLureTemplate `json:"sms_lures"`
	Honeydocs []Honeydoc        `json:"honeydocs"`
}

// AttackCommand is one illustrative, non-executable attacker step.
type AttackCommand struct {
	Command     string `json:"command" validate:"required"`
	Description string `json:"description"`
	TechniqueID string `json:"technique_id" validate:"required"`
}

// SimulatedEventLog is the simulated access trail for one honeydoc.
type SimulatedEventLog struct {
	EventID     string          `json:"event_id" validate:"required"`
	Timestamp   string          `json:"timestamp" validate:"required"`
	DocID       string          `json:"doc_id" validate:"required"`
	EventType   string          `json:"event_type"`
	UserAgent   string          `json:"user_agent"`
	IP          string          `json:"ip"`
	AttackSteps []AttackCommand `json:"attack_steps" validate:"min=1,dive"`
	Notes       string          `json:"notes"`
}

// DetectionRule is a high-level detection mapped onto generated artifacts.
type DetectionRule struct {
	ID                      string   `json:"id" validate:"required"`
	Name                    string   `json:"name" validate:"required"`
	Description             string   `json:"description"`
	DetectionLogicHighLevel string   `json:"detection_logic_high_level"`
	SuggestedDataSources    []string `json:"suggested_data_sources"`
	Confidence              string   `json:"confidence" validate:"oneof=high medium low"`
	MappedArtifacts         []string `json:"mapped_artifacts"`
}

// DetectionRuleSet is the detection-mapping stage output.
type DetectionRuleSet struct {
	Rules []DetectionRule `json:"rules" validate:"max=7,unique=ID,dive"`
}

// AARRecommendation is one prioritized follow-up action.
type AARRecommendation struct {
	Priority string `json:"priority" validate:"oneof=P1 P2 P3 P4"`
	Action   string `json:"action" validate:"required"`
}

// AARTimelineEvent is one entry of the reconstructed timeline.
type AARTimelineEvent struct {
	Time  string `json:"time" validate:"required"`
	Event string `json:"event" validate:"required"`
}

// AAR is the after-action report synthesized last.
type AAR struct {
	ExecutiveSummary []string            `json:"executive_summary"`
	Timeline         []AARTimelineEvent  `json:"timeline" validate:"dive"`
	WhatWorked       []string            `json:"what_worked"`
	Missed           []string            `json:"missed"`
	Recommendations  []AARRecommendation `json:"recommendations" validate:"dive"`
	Confidence       string              `json:"confidence" validate:"oneof=high medium low"`
}

// Result is the complete, immutable output of one run.
type Result struct {
	SafetyCheck    SafetyCheckResult   `json:"safety_check"`
	Persona        Persona             `json:"persona"`
	Campaign       Campaign            `json:"campaign"`
	Artifacts      []Artifact          `json:"artifacts"`
	DetectionRules []DetectionRule     `json:"detection_rules"`
	SimulationLogs []SimulatedEventLog `json:"simulation_logs"`
	AAR            AAR                 `json:"aar"`
}

// ArtifactIDs returns every id a detection rule may reference: phase ids,
// phase names, template ids and honeydoc ids.
func ArtifactIDs(artifacts []Artifact) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, a := range artifacts {
		if a.PhaseID != "" {
			ids[a.PhaseID] = struct{}{}
		}
		if a.Phase != "" {
			ids[a.Phase] = struct{}{}
		}
		for _, l := range a.Lures {
			ids[l.TemplateID] = struct{}{}
		}
		for _, s := range a.SmsLures {
			ids[s.TemplateID] = struct{}{}
		}
		for _, h := range a.Honeydocs {
			ids[h.DocID] = struct{}{}
		}
	}
	return ids
}

// HoneydocCount returns the number of honeydocs across all artifacts.
func HoneydocCount(artifacts []Artifact) int {
	n := 0
	for _, a := range artifacts {
		n += len(a.Honeydocs)
	}
	return n
}
