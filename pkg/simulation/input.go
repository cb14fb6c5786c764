package simulation

import "strings"

// Input defaults.
const (
	DefaultLures          = 3
	DefaultHoneydocs      = 1
	DefaultAggressiveness = "low"
	DefaultLanguage       = "en"
)

// Upper bounds on per-phase counts. Keep in step with the max= tags on Input.
const (
	MaxLures     = 10
	MaxHoneydocs = 10
)

// Input is the run request as submitted by a caller.
type Input struct {
	// Description of the (fictional) target organization
	TargetDescription string `json:"target_description" validate:"required,max=5000"`

	// Operator consent; the run is rejected unless true
	SafetyConsent bool `json:"safety_consent"`

	// Requested languages; only the first is used
	Languages []string `json:"languages" validate:"required,min=1"`

	// Aggressiveness: low, medium, high
	Aggressiveness string `json:"aggressiveness,omitempty" validate:"omitempty,oneof=low medium high"`

	// Lure templates per phase (default 3, at most MaxLures)
	NumberOfLures *int `json:"numberOfLures,omitempty" validate:"omitempty,min=0,max=10"`

	// Honeydocs per phase (default 1, at most MaxHoneydocs)
	NumberOfHoneydocs *int `json:"numberOfHoneydocs,omitempty" validate:"omitempty,min=0,max=10"`
}

// Config is the resolved, immutable configuration of one run.
type Config struct {
	TargetDescription string
	Language          string
	Aggressiveness    string
	Lures             int
	Honeydocs         int
}

// Resolve applies defaults and returns the run configuration.
func (in Input) Resolve() Config {
	cfg := Config{
		TargetDescription: in.TargetDescription,
		Language:          DefaultLanguage,
		Aggressiveness:    in.Aggressiveness,
		Lures:             DefaultLures,
		Honeydocs:         DefaultHoneydocs,
	}
	if len(in.Languages) > 0 && strings.TrimSpace(in.Languages[0]) != "" {
		cfg.Language = strings.TrimSpace(in.Languages[0])
	}
	if cfg.Aggressiveness == "" {
		cfg.Aggressiveness = DefaultAggressiveness
	}
	if in.NumberOfLures != nil {
		cfg.Lures = *in.NumberOfLures
	}
	if in.NumberOfHoneydocs != nil {
		cfg.Honeydocs = *in.NumberOfHoneydocs
	}
	return cfg
}

// ExampleInput returns a ready-to-run input document.
func ExampleInput() Input {
	lures, docs := 2, 1
	return Input{
		TargetDescription: "A mid-sized financial technology company specializing in cloud-based payment processing solutions.",
		SafetyConsent:     true,
		Languages:         []string{"en"},
		Aggressiveness:    "low",
		NumberOfLures:     &lures,
		NumberOfHoneydocs: &docs,
	}
}
