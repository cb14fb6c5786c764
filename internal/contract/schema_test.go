package contract

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("Bad test JSON: %v", err)
	}
	return v
}

func TestSchemaValidate(t *testing.T) {
	phase := Object(
		Field("phase_id", String("")),
		Field("duration_days", Integer("")),
		OptionalField("notes", String("")),
	)
	campaign := Object(Field("phases", ArrayOf(phase).WithMinItems(3).WithMaxItems(5)))

	tests := []struct {
		name      string
		schema    *Schema
		doc       string
		wantRules []string
	}{
		{
			name:   "valid campaign",
			schema: campaign,
			doc:    `{"phases": [{"phase_id": "a", "duration_days": 1}, {"phase_id": "b", "duration_days": 2}, {"phase_id": "c", "duration_days": 3, "notes": "x"}]}`,
		},
		{
			name:      "too few phases",
			schema:    campaign,
			doc:       `{"phases": [{"phase_id": "a", "duration_days": 1}]}`,
			wantRules: []string{"min_items"},
		},
		{
			name:      "too many phases",
			schema:    campaign,
			doc:       `{"phases": [{"phase_id": "a", "duration_days": 1}, {"phase_id": "b", "duration_days": 1}, {"phase_id": "c", "duration_days": 1}, {"phase_id": "d", "duration_days": 1}, {"phase_id": "e", "duration_days": 1}, {"phase_id": "f", "duration_days": 1}]}`,
			wantRules: []string{"max_items"},
		},
		{
			name:      "fractional integer and null id",
			schema:    campaign,
			doc:       `{"phases": [{"phase_id": null, "duration_days": 1.5}, {"phase_id": "b", "duration_days": 1}, {"phase_id": "c", "duration_days": 1}]}`,
			wantRules: []string{"required", "type"},
		},
		{
			name:      "top level not an object",
			schema:    campaign,
			doc:       `[1, 2, 3]`,
			wantRules: []string{"type"},
		},
		{
			name:      "enum",
			schema:    Object(Field("confidence", Enum("", "high", "medium", "low"))),
			doc:       `{"confidence": "certain"}`,
			wantRules: []string{"enum"},
		},
		{
			name:      "boolean",
			schema:    Object(Field("ok", Boolean(""))),
			doc:       `{"ok": "true"}`,
			wantRules: []string{"type"},
		},
		{
			name:      "exact length",
			schema:    Object(Field("templates", Strings("").WithLength(2))),
			doc:       `{"templates": ["a", "b", "c"]}`,
			wantRules: []string{"length"},
		},
		{
			name:   "zero length requested",
			schema: Object(Field("templates", Strings("").WithLength(0))),
			doc:    `{"templates": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.schema.Validate(decode(t, tt.doc))
			if len(errs) != len(tt.wantRules) {
				t.Fatalf("Expected %d violations, got %d: %+v", len(tt.wantRules), len(errs), errs)
			}
			for i, rule := range tt.wantRules {
				if errs[i].Rule != rule {
					t.Errorf("Violation %d: expected rule %s, got %s", i, rule, errs[i].Rule)
				}
			}
		})
	}
}

func TestSchemaValidate_FieldPaths(t *testing.T) {
	s := Object(Field("rules", ArrayOf(Object(Field("id", String(""))))))
	errs := s.Validate(decode(t, `{"rules": [{"id": "a"}, {}]}`))
	if len(errs) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(errs))
	}
	if errs[0].Field != "rules[1].id" {
		t.Errorf("Expected path rules[1].id, got %s", errs[0].Field)
	}
}

func TestSchemaRequired(t *testing.T) {
	s := Object(Field("a", String("")), OptionalField("b", String("")), Field("c", Integer("")))
	got := s.Required()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Unexpected required list: %v", got)
	}
}
