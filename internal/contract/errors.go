package contract

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a run failure.
type Kind string

const (
	// KindConfig is an invalid run input, detected before any stage runs.
	KindConfig Kind = "ConfigError"

	// KindGeneration is a failed call to the generation service.
	KindGeneration Kind = "GenerationError"

	// KindParse is a generation response that is not valid JSON.
	KindParse Kind = "ParseError"

	// KindSchema is a parsed response that does not satisfy its schema.
	KindSchema Kind = "SchemaViolation"
)

// ErrEmptyPrompt is returned when a stage produced no prompt text.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// ErrNoSchema is returned when a request carries no output schema.
var ErrNoSchema = errors.New("output schema is required")

// ConfigError reports an invalid simulation input.
type ConfigError struct {
	Message    string
	Violations []ValidationError
	Err        error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if len(e.Violations) > 0 {
		msg += ": " + joinViolations(e.Violations)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Kind returns KindConfig.
func (e *ConfigError) Kind() Kind { return KindConfig }

// GenerationError reports that the generation service call itself failed.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Kind returns KindGeneration.
func (e *GenerationError) Kind() Kind { return KindGeneration }

// ParseError reports a response that could not be parsed as JSON.
type ParseError struct {
	Stage string
	Err   error

	// Raw holds the beginning of the offending response text
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s response as JSON: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind returns KindParse.
func (e *ParseError) Kind() Kind { return KindParse }

// SchemaViolation reports a response that parsed but broke its schema.
type SchemaViolation struct {
	Stage      string
	Violations []ValidationError
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("%s response violates schema: %s", e.Stage, joinViolations(e.Violations))
}

// Kind returns KindSchema.
func (e *SchemaViolation) Kind() Kind { return KindSchema }

// KindOf returns the kind of the first classified error in err's chain,
// or the empty string when err carries none.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

func joinViolations(violations []ValidationError) string {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		if v.Field != "" {
			msgs = append(msgs, v.Field+": "+v.Message)
		} else {
			msgs = append(msgs, v.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
