// Package stages is the catalog of pipeline stages. Each stage turns a typed
// input into a generation request: a prompt plus the output schema its answer
// must satisfy.
package stages

import (
	"encoding/json"
	"fmt"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Name identifies a stage.
type Name string

// Stage names, in dependency order.
const (
	StageSafetyCheck      Name = "safety-check"
	StagePersona          Name = "persona"
	StageCampaign         Name = "campaign"
	StageLure             Name = "lure"
	StageSMSLure          Name = "sms-lure"
	StageHoneydoc         Name = "honeydoc"
	StageDetectionMapping Name = "detection-mapping"
	StageSimulatedAccess  Name = "simulated-access"
	StageAAR              Name = "aar"
)

// Campaign and detection bounds.
const (
	MinPhases = 3
	MaxPhases = 5
	MaxRules  = 7
)

// lureTemperature is used for lure batches so the templates in one batch differ.
const lureTemperature float32 = 0.6

// SafetyCheckInput is the input of the safety-check stage.
type SafetyCheckInput struct {
	Consent bool
}

// PersonaInput is the input of the persona stage.
type PersonaInput struct {
	TargetDescription string
}

// CampaignInput is the input of the campaign stage.
type CampaignInput struct {
	Persona           simulation.Persona
	TargetDescription string
	Aggressiveness    string
}

// LureInput is the input of the lure and sms-lure stages.
type LureInput struct {
	Persona        simulation.Persona
	Phase          simulation.CampaignPhase
	Language       string
	Aggressiveness string
	Count          int
}

// HoneydocInput is the input of the honeydoc stage.
type HoneydocInput struct {
	Persona simulation.Persona
	Phase   simulation.CampaignPhase

	// Index of this document within the phase (0-based) and the phase total
	Index int
	Total int
}

// DetectionInput is the input of the detection-mapping stage.
type DetectionInput struct {
	Campaign  simulation.Campaign
	Artifacts []simulation.Artifact
}

// AccessInput is the input of the simulated-access stage.
type AccessInput struct {
	Honeydoc simulation.Honeydoc
}

// AARInput is the input of the aar stage.
type AARInput struct {
	Persona    simulation.Persona
	Campaign   simulation.Campaign
	Artifacts  []simulation.Artifact
	Logs       []simulation.SimulatedEventLog
	Detections []simulation.DetectionRule
}

// LureBatch is the lure stage response envelope.
type LureBatch struct {
	Templates []simulation.LureTemplate `json:"templates" validate:"unique=TemplateID,dive"`
}

// SmsLureBatch is the sms-lure stage response envelope.
type SmsLureBatch struct {
	Templates []simulation.SmsLureTemplate `json:"templates" validate:"unique=TemplateID,dive"`
}

// SafetyCheck builds the safety-check request.
func SafetyCheck(in SafetyCheckInput) contract.Request {
	return contract.Request{
		Stage:  string(StageSafetyCheck),
		Prompt: fmt.Sprintf(safetyCheckPrompt, Preamble, in.Consent),
		Schema: contract.Object(
			contract.Field("safety", contract.Object(
				contract.Field("authorized_only", contract.Boolean("always true")),
				contract.Field("sandbox_required", contract.Boolean("always true")),
				contract.Field("no_exploit_code", contract.Boolean("always true")),
				contract.Field("consent_recorded", contract.String("unique, non-guessable consent identifier")),
			)),
		),
	}
}

// Persona builds the persona request.
func Persona(in PersonaInput) contract.Request {
	return contract.Request{
		Stage:  string(StagePersona),
		Prompt: fmt.Sprintf(personaPrompt, Preamble, in.TargetDescription),
		Schema: contract.Object(
			contract.Field("name", contract.String("plausible, non-identifying persona handle")),
			contract.Field("origin_country", contract.String("country or region")),
			contract.Field("motivation", contract.String("espionage, financial, ideological or social engineering")),
			contract.Field("primary_channels", contract.Strings("contact channels")),
			contract.Field("linguistic_style", contract.Object(
				contract.Field("tone", contract.String("e.g. urgent, formal, casual")),
				contract.Field("common_phrases", contract.Strings("")),
				contract.Field("typical_sentence_length", contract.Enum("", "short", "medium", "long")),
			)),
			contract.Field("pretext_templates", contract.ArrayOf(contract.Object(
				contract.Field("id", contract.String("")),
				contract.Field("description", contract.String("one-sentence pretext summary")),
			))),
			contract.Field("likely_tools_high_level", contract.Strings("")),
			contract.Field("opsec_notes", contract.Strings("")),
		),
	}
}

// Campaign builds the campaign request.
func Campaign(in CampaignInput) contract.Request {
	return contract.Request{
		Stage:  string(StageCampaign),
		Prompt: fmt.Sprintf(campaignPrompt, Preamble, toJSON(in.Persona), in.TargetDescription, in.Aggressiveness),
		Schema: contract.Object(
			contract.Field("phases", contract.ArrayOf(phaseSchema()).
				WithMinItems(MinPhases).
				WithMaxItems(MaxPhases)),
		),
	}
}

// Lure builds the lure request for one phase.
func Lure(in LureInput) contract.Request {
	temp := lureTemperature
	return contract.Request{
		Stage: string(StageLure),
		Prompt: fmt.Sprintf(lurePrompt, Preamble, toJSON(in.Persona),
			in.Phase.PhaseName, in.Phase.PhaseID, in.Phase.Objective,
			in.Language, in.Aggressiveness, in.Count),
		Schema: contract.Object(
			contract.Field("templates", contract.ArrayOf(contract.Object(
				contract.Field("template_id", contract.String("")),
				contract.Field("subject", contract.String("")),
				contract.Field("preheader", contract.String("")),
				contract.Field("body_plaintext", contract.String("email body containing the {{TOKEN}} placeholder")),
				contract.Field("call_to_action_text", contract.String("")),
				contract.Field("persuasion_vectors", contract.Strings("")),
				contract.Field("translation_notes", contract.String("")),
				contract.Field("safety_notes", contract.String("sandbox training only")),
			)).WithLength(in.Count)),
		),
		Temperature: &temp,
	}
}

// SMSLure builds the sms-lure request for one phase.
func SMSLure(in LureInput) contract.Request {
	temp := lureTemperature
	return contract.Request{
		Stage: string(StageSMSLure),
		Prompt: fmt.Sprintf(smsLurePrompt, Preamble, toJSON(in.Persona),
			in.Phase.PhaseName, in.Phase.PhaseID, in.Phase.Objective,
			in.Language, in.Aggressiveness, in.Count),
		Schema: contract.Object(
			contract.Field("templates", contract.ArrayOf(contract.Object(
				contract.Field("template_id", contract.String("")),
				contract.Field("body_short", contract.String("SMS body containing the {{TOKEN}} placeholder")),
				contract.Field("persuasion_vectors", contract.Strings("")),
				contract.Field("safety_notes", contract.String("sandbox training only")),
			)).WithLength(in.Count)),
		),
		Temperature: &temp,
	}
}

// Honeydoc builds the request for one honeydoc of a phase.
func Honeydoc(in HoneydocInput) contract.Request {
	return contract.Request{
		Stage: string(StageHoneydoc),
		Prompt: fmt.Sprintf(honeydocPrompt, Preamble, toJSON(in.Persona),
			in.Phase.PhaseName, in.Phase.Objective, in.Index+1, in.Total),
		Schema: contract.Object(
			contract.Field("doc_id", contract.String("")),
			contract.Field("title", contract.String("plausible document title")),
			contract.Field("author", contract.String("plausible author")),
			contract.Field("body_text", contract.String("internal memo containing a visible {{TOKEN}} link placeholder")),
			contract.Field("metadata", contract.Object(
				contract.Field("last_modified_hint", contract.String("")),
				contract.Field("department", contract.String("")),
			)),
			contract.Field("metadata_notes", contract.String("why the metadata is plausible")),
			contract.Field("safety_notes", contract.String("sandbox only")),
		),
	}
}

// DetectionMapping builds the detection-mapping request over all artifacts.
func DetectionMapping(in DetectionInput) contract.Request {
	return contract.Request{
		Stage:  string(StageDetectionMapping),
		Prompt: fmt.Sprintf(detectionPrompt, Preamble, toJSON(in.Campaign), toJSON(in.Artifacts), MaxRules),
		Schema: contract.Object(
			contract.Field("rules", contract.ArrayOf(contract.Object(
				contract.Field("id", contract.String("")),
				contract.Field("name", contract.String("")),
				contract.Field("description", contract.String("")),
				contract.Field("detection_logic_high_level", contract.String("")),
				contract.Field("suggested_data_sources", contract.Strings("")),
				contract.Field("confidence", contract.Enum("", "high", "medium", "low")),
				contract.Field("mapped_artifacts", contract.Strings("ids of generated phases, templates or honeydocs")),
			)).WithMaxItems(MaxRules)),
		),
	}
}

// SimulatedAccess builds the simulated-access request for one honeydoc.
func SimulatedAccess(in AccessInput) contract.Request {
	return contract.Request{
		Stage: string(StageSimulatedAccess),
		Prompt: fmt.Sprintf(accessPrompt, Preamble,
			in.Honeydoc.DocID, in.Honeydoc.Title, in.Honeydoc.DocID),
		Schema: contract.Object(
			contract.Field("event_id", contract.String("")),
			contract.Field("timestamp", contract.String("RFC 3339")),
			contract.Field("doc_id", contract.Enum("id of the accessed honeydoc", in.Honeydoc.DocID)),
			contract.Field("event_type", contract.String("e.g. honeydoc_exploitation_simulation")),
			contract.Field("user_agent", contract.String("simulated User-Agent")),
			contract.Field("ip", contract.String("simulated external IP address")),
			contract.Field("attack_steps", contract.ArrayOf(contract.Object(
				contract.Field("command", contract.String("safe, simulated command line with placeholders")),
				contract.Field("description", contract.String("attacker intent")),
				contract.Field("technique_id", contract.String("MITRE ATT&CK technique id, e.g. T1059.003")),
			)).WithMinItems(1)),
			contract.Field("notes", contract.String("sandbox-only event summary")),
		),
	}
}

// AAR builds the after-action report request.
func AAR(in AARInput) contract.Request {
	return contract.Request{
		Stage: string(StageAAR),
		Prompt: fmt.Sprintf(aarPrompt, Preamble,
			toJSON(in.Persona), toJSON(in.Campaign), toJSON(in.Artifacts),
			toJSON(in.Detections), toJSON(in.Logs)),
		Schema: contract.Object(
			contract.Field("executive_summary", contract.Strings("three concise bullet points")),
			contract.Field("timeline", contract.ArrayOf(contract.Object(
				contract.Field("time", contract.String("RFC 3339")),
				contract.Field("event", contract.String("")),
			)).WithMinItems(len(in.Logs))),
			contract.Field("what_worked", contract.Strings("rule ids that fired, each with a short rationale")),
			contract.Field("missed", contract.Strings("rule ids that missed, each with a short rationale")),
			contract.Field("recommendations", contract.ArrayOf(contract.Object(
				contract.Field("priority", contract.Enum("", "P1", "P2", "P3", "P4")),
				contract.Field("action", contract.String("one-line action")),
			))),
			contract.Field("confidence", contract.Enum("", "high", "medium", "low")),
		),
	}
}

func phaseSchema() *contract.Schema {
	return contract.Object(
		contract.Field("phase_id", contract.String("")),
		contract.Field("phase_name", contract.String("")),
		contract.Field("objective", contract.String("")),
		contract.Field("methods_high_level", contract.Strings("")),
		contract.Field("duration_days", contract.Integer("whole days, at least 1")),
		contract.Field("expected_outcome", contract.String("")),
	)
}

// toJSON renders stage context for a prompt.
func toJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
