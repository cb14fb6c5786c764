package orchestrator

import (
	"bytes"
	"encoding/json"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// ParseInput decodes and validates a run request. Any problem is a
// *contract.ConfigError; no stage has run at that point.
func ParseInput(data []byte, v *contract.Validator) (simulation.Config, error) {
	var in simulation.Input

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&in); err != nil {
		return simulation.Config{}, &contract.ConfigError{Message: "invalid JSON input", Err: err}
	}
	if dec.More() {
		return simulation.Config{}, &contract.ConfigError{Message: "invalid JSON input: trailing data"}
	}

	return ValidateInput(in, v)
}

// ValidateInput checks an already decoded request and resolves its defaults.
func ValidateInput(in simulation.Input, v *contract.Validator) (simulation.Config, error) {
	if !in.SafetyConsent {
		return simulation.Config{}, &contract.ConfigError{Message: "safety consent must be true to proceed"}
	}
	if violations := v.Struct(&in); len(violations) > 0 {
		return simulation.Config{}, &contract.ConfigError{Message: "invalid simulation input", Violations: violations}
	}
	return in.Resolve(), nil
}
