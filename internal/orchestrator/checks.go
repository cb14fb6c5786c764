package orchestrator

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cymbytes.com/doppelganger/internal/contract"
	"cymbytes.com/doppelganger/pkg/simulation"
)

// Cross-stage checks. The schema contract validates each response on its
// own; these verify references between responses and report failures as
// *contract.SchemaViolation against the stage that produced the bad value.

func checkAccessLog(stage string, doc simulation.Honeydoc, log simulation.SimulatedEventLog) error {
	var violations []contract.ValidationError

	if log.DocID != doc.DocID {
		violations = append(violations, contract.ValidationError{
			Field:   "doc_id",
			Rule:    "ref",
			Message: fmt.Sprintf("expected doc_id %q, got %q", doc.DocID, log.DocID),
		})
	}
	if _, err := time.Parse(time.RFC3339, log.Timestamp); err != nil {
		violations = append(violations, contract.ValidationError{
			Field:   "timestamp",
			Rule:    "rfc3339",
			Message: fmt.Sprintf("timestamp %q is not RFC 3339", log.Timestamp),
		})
	}

	return violation(stage, violations)
}

func checkDetections(stage string, rules []simulation.DetectionRule, artifacts []simulation.Artifact) error {
	ids := simulation.ArtifactIDs(artifacts)

	var violations []contract.ValidationError
	for i, rule := range rules {
		for j, ref := range rule.MappedArtifacts {
			if _, ok := ids[ref]; !ok {
				violations = append(violations, contract.ValidationError{
					Field:   fmt.Sprintf("rules[%d].mapped_artifacts[%d]", i, j),
					Rule:    "ref",
					Message: fmt.Sprintf("unknown artifact id %q", ref),
				})
			}
		}
	}

	return violation(stage, violations)
}

func checkAAR(stage string, aar simulation.AAR, rules []simulation.DetectionRule, logs []simulation.SimulatedEventLog) error {
	var violations []contract.ValidationError

	violations = append(violations, ruleRefs("what_worked", aar.WhatWorked, rules)...)
	violations = append(violations, ruleRefs("missed", aar.Missed, rules)...)

	if len(aar.Timeline) < len(logs) {
		violations = append(violations, contract.ValidationError{
			Field:   "timeline",
			Rule:    "min_items",
			Message: fmt.Sprintf("timeline has %d events, need at least %d", len(aar.Timeline), len(logs)),
		})
	}

	var prev time.Time
	for i, ev := range aar.Timeline {
		at, err := time.Parse(time.RFC3339, ev.Time)
		if err != nil {
			violations = append(violations, contract.ValidationError{
				Field:   fmt.Sprintf("timeline[%d].time", i),
				Rule:    "rfc3339",
				Message: fmt.Sprintf("time %q is not RFC 3339", ev.Time),
			})
			continue
		}
		if at.Before(prev) {
			violations = append(violations, contract.ValidationError{
				Field:   fmt.Sprintf("timeline[%d].time", i),
				Rule:    "sorted",
				Message: "timeline is not in chronological order",
			})
		}
		prev = at
	}

	return violation(stage, violations)
}

// ruleRefs requires every entry to mention the id of a produced rule.
func ruleRefs(field string, entries []string, rules []simulation.DetectionRule) []contract.ValidationError {
	var violations []contract.ValidationError
	for i, entry := range entries {
		if !mentionsRule(entry, rules) {
			violations = append(violations, contract.ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Rule:    "ref",
				Message: fmt.Sprintf("%q does not reference a detection rule id", entry),
			})
		}
	}
	return violations
}

func mentionsRule(entry string, rules []simulation.DetectionRule) bool {
	for _, r := range rules {
		if r.ID != "" && containsID(entry, r.ID) {
			return true
		}
	}
	return false
}

// containsID reports whether id occurs in s as a whole token, so DR-1 does
// not match inside DR-10 or XDR-1.
func containsID(s, id string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], id)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(id)

		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isIDRune(before) && !isIDRune(after) {
			return true
		}
		from = start + 1
	}
	return false
}

func isIDRune(r rune) bool {
	return r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func violation(stage string, violations []contract.ValidationError) error {
	if len(violations) == 0 {
		return nil
	}
	return &contract.SchemaViolation{Stage: stage, Violations: violations}
}
