package stages

// FanOut describes how often a stage runs within one simulation.
type FanOut string

const (
	FanOutOnce        FanOut = "once"
	FanOutPerPhase    FanOut = "per_phase"
	FanOutPerHoneydoc FanOut = "per_phase_per_honeydoc"
	FanOutPerLog      FanOut = "per_honeydoc"
)

// Definition describes one catalog entry.
type Definition struct {
	Name      Name   `json:"name"`
	Summary   string `json:"summary"`
	DependsOn []Name `json:"depends_on"`
	FanOut    FanOut `json:"fan_out"`
}

var catalog = []Definition{
	{
		Name:    StageSafetyCheck,
		Summary: "Confirms the safety controls and records operator consent",
		FanOut:  FanOutOnce,
	},
	{
		Name:    StagePersona,
		Summary: "Builds the synthetic adversary persona from the target description",
		FanOut:  FanOutOnce,
	},
	{
		Name:      StageCampaign,
		Summary:   "Plans a 3-5 phase campaign for the persona",
		DependsOn: []Name{StagePersona},
		FanOut:    FanOutOnce,
	},
	{
		Name:      StageLure,
		Summary:   "Writes the requested number of email lure templates for a phase",
		DependsOn: []Name{StagePersona, StageCampaign},
		FanOut:    FanOutPerPhase,
	},
	{
		Name:      StageSMSLure,
		Summary:   "Writes the requested number of SMS lure templates for a phase",
		DependsOn: []Name{StagePersona, StageCampaign},
		FanOut:    FanOutPerPhase,
	},
	{
		Name:      StageHoneydoc,
		Summary:   "Creates one decoy document for a phase",
		DependsOn: []Name{StagePersona, StageCampaign},
		FanOut:    FanOutPerHoneydoc,
	},
	{
		Name:      StageDetectionMapping,
		Summary:   "Maps up to 7 detection rules onto the complete artifact set",
		DependsOn: []Name{StageCampaign, StageLure, StageSMSLure, StageHoneydoc},
		FanOut:    FanOutOnce,
	},
	{
		Name:      StageSimulatedAccess,
		Summary:   "Simulates an attacker opening one honeydoc",
		DependsOn: []Name{StageHoneydoc},
		FanOut:    FanOutPerLog,
	},
	{
		Name:    StageAAR,
		Summary: "Synthesizes the after-action report from everything above",
		DependsOn: []Name{
			StagePersona, StageCampaign, StageLure, StageSMSLure,
			StageHoneydoc, StageDetectionMapping, StageSimulatedAccess,
		},
		FanOut: FanOutOnce,
	},
}

// Catalog returns the stage definitions in dependency order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	for i, d := range catalog {
		out[i] = d.clone()
	}
	return out
}

func (d Definition) clone() Definition {
	if d.DependsOn != nil {
		d.DependsOn = append([]Name(nil), d.DependsOn...)
	}
	return d
}

// Lookup returns the definition of a stage.
func Lookup(name Name) (Definition, bool) {
	for _, d := range catalog {
		if d.Name == name {
			return d.clone(), true
		}
	}
	return Definition{}, false
}
