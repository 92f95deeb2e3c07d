package validation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cyclecore/internal/registry"
	"cyclecore/pkg/domain"
)

func fixedClock() func() time.Time {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func validStimulation() map[string]any {
	return map[string]any{
		"protocol":       "long",
		"medicationDose": 225.0,
		"startDate":      "2025-06-01",
	}
}

func TestValidateAcceptsCompletePayload(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	res, err := v.Validate(domain.StageStimulation, validStimulation())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid() {
		t.Fatalf("expected valid result, got %+v", res)
	}
	if res.Err(domain.StageStimulation) != nil {
		t.Fatalf("valid result must not produce an error")
	}
}

func TestValidateReportsAllMissingFields(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	res, err := v.Validate(domain.StageStimulation, map[string]any{"protocol": "long"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(res.Missing) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", res.Missing)
	}
	// results are sorted for stable error payloads
	if res.Missing[0] != "medicationDose" || res.Missing[1] != "startDate" {
		t.Fatalf("unexpected missing fields %v", res.Missing)
	}
	var vErr domain.ErrValidationFailed
	if !errors.As(res.Err(domain.StageStimulation), &vErr) {
		t.Fatalf("expected ErrValidationFailed")
	}
	if vErr.StageID != domain.StageStimulation {
		t.Fatalf("expected stage id on error, got %s", vErr.StageID)
	}
}

func TestValidateTreatsEmptyValuesAsMissing(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	data := validStimulation()
	data["protocol"] = "  "
	data["startDate"] = nil
	res, err := v.Validate(domain.StageStimulation, data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(res.Missing) != 2 {
		t.Fatalf("expected blank and nil values reported missing, got %v", res.Missing)
	}
}

func TestValidateTypeErrors(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	cases := []struct {
		name  string
		patch map[string]any
		field string
	}{
		{"non numeric dose", map[string]any{"medicationDose": "lots"}, "medicationDose"},
		{"dose below range", map[string]any{"medicationDose": -1.0}, "medicationDose"},
		{"dose above range", map[string]any{"medicationDose": 10001.0}, "medicationDose"},
		{"unknown choice", map[string]any{"protocol": "experimental"}, "protocol"},
		{"non string choice", map[string]any{"protocol": 3.0}, "protocol"},
		{"unparseable date", map[string]any{"startDate": "not-a-date"}, "startDate"},
		{"future retrospective date", map[string]any{"startDate": "2030-01-01"}, "startDate"},
		{"non string date", map[string]any{"startDate": 20250601.0}, "startDate"},
		{"non text optional", map[string]any{"notes": 7.0}, "notes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := validStimulation()
			for k, val := range tc.patch {
				data[k] = val
			}
			res, err := v.Validate(domain.StageStimulation, data)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if len(res.TypeErrors) != 1 || res.TypeErrors[0].Field != tc.field {
				t.Fatalf("expected one type error on %s, got %+v", tc.field, res.TypeErrors)
			}
		})
	}
}

func TestValidateNumberRepresentations(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	for _, dose := range []any{225, int64(225), float32(225), json.Number("225")} {
		data := validStimulation()
		data["medicationDose"] = dose
		res, err := v.Validate(domain.StageStimulation, data)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if !res.Valid() {
			t.Fatalf("dose %T rejected: %+v", dose, res)
		}
	}
}

func TestValidateRecordField(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	data := map[string]any{
		"embryosCultured": 4.0,
		"cultureDays":     5.0,
		"grading":         map[string]any{"day3": "8A"},
	}
	res, err := v.Validate(domain.StageEmbryoCulture, data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid() {
		t.Fatalf("expected valid culture payload, got %+v", res)
	}
	data["grading"] = "8A"
	res, err = v.Validate(domain.StageEmbryoCulture, data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(res.TypeErrors) != 1 || res.TypeErrors[0].Field != "grading" {
		t.Fatalf("expected grading type error, got %+v", res.TypeErrors)
	}
}

func TestValidateIgnoresUndeclaredFields(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	data := validStimulation()
	data["labAnnotation"] = map[string]any{"source": "import"}
	res, err := v.Validate(domain.StageStimulation, data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid() {
		t.Fatalf("undeclared fields must not fail validation: %+v", res)
	}
}

func TestValidateUnknownStage(t *testing.T) {
	v := New(registry.Default())
	_, err := v.Validate("Hatching", nil)
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound for unknown stage, got %v", err)
	}
}

func TestValidateAcceptsRFC3339Timestamps(t *testing.T) {
	v := New(registry.Default()).WithClock(fixedClock())
	data := validStimulation()
	data["startDate"] = "2025-06-01T09:30:00Z"
	res, err := v.Validate(domain.StageStimulation, data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid() {
		t.Fatalf("RFC 3339 timestamp rejected: %+v", res)
	}
}
