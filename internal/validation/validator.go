// Package validation checks candidate stage payloads against the declared
// stage schema. Validation is a pure function of the payload and the
// registry; it never mutates state.
package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cyclecore/internal/registry"
	"cyclecore/pkg/domain"
)

// Result reports the outcome of validating one payload.
type Result struct {
	Missing    []string            `json:"missing,omitempty"`
	TypeErrors []domain.FieldError `json:"type_errors,omitempty"`
}

// Valid reports whether the payload satisfied the stage schema.
func (r Result) Valid() bool {
	return len(r.Missing) == 0 && len(r.TypeErrors) == 0
}

// Err converts an invalid result into a typed validation error.
func (r Result) Err(stageID domain.StageID) error {
	if r.Valid() {
		return nil
	}
	return domain.ErrValidationFailed{StageID: stageID, Missing: r.Missing, TypeErrors: r.TypeErrors}
}

// Validator evaluates payloads against a stage registry. The clock is only
// consulted for retrospective date fields.
type Validator struct {
	reg   *registry.Registry
	nowFn func() time.Time
}

// New constructs a validator over the given registry.
func New(reg *registry.Registry) *Validator {
	return &Validator{reg: reg, nowFn: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Intended for tests.
func (v *Validator) WithClock(nowFn func() time.Time) *Validator {
	v.nowFn = nowFn
	return v
}

// Validate checks data against the schema for stageID. Unknown stage IDs
// return domain.ErrNotFound. Fields not declared in the schema are ignored:
// they are preserved opaquely by the persistence layer for forward
// compatibility.
func (v *Validator) Validate(stageID domain.StageID, data map[string]any) (Result, error) {
	def, ok := v.reg.DefinitionFor(stageID)
	if !ok {
		return Result{}, domain.ErrNotFound{Kind: "stage", ID: string(stageID)}
	}

	var res Result
	for _, spec := range def.Required {
		value, present := data[spec.Name]
		if !present || isEmpty(value) {
			res.Missing = append(res.Missing, spec.Name)
			continue
		}
		if reason := v.checkType(spec, value); reason != "" {
			res.TypeErrors = append(res.TypeErrors, domain.FieldError{Field: spec.Name, Reason: reason})
		}
	}
	for _, spec := range def.Optional {
		value, present := data[spec.Name]
		if !present || isEmpty(value) {
			continue
		}
		if reason := v.checkType(spec, value); reason != "" {
			res.TypeErrors = append(res.TypeErrors, domain.FieldError{Field: spec.Name, Reason: reason})
		}
	}
	sort.Strings(res.Missing)
	sort.Slice(res.TypeErrors, func(i, j int) bool { return res.TypeErrors[i].Field < res.TypeErrors[j].Field })
	return res, nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func (v *Validator) checkType(spec registry.FieldSpec, value any) string {
	switch spec.Type {
	case registry.FieldNumber:
		n, ok := asNumber(value)
		if !ok {
			return "expected a number"
		}
		if spec.Min != nil && n < *spec.Min {
			return fmt.Sprintf("must be >= %v", *spec.Min)
		}
		if spec.Max != nil && n > *spec.Max {
			return fmt.Sprintf("must be <= %v", *spec.Max)
		}
	case registry.FieldText:
		if _, ok := value.(string); !ok {
			return "expected text"
		}
	case registry.FieldDate:
		s, ok := value.(string)
		if !ok {
			return "expected a date string"
		}
		t, err := parseDate(s)
		if err != nil {
			return "unparseable date"
		}
		if spec.Retrospective && t.After(v.nowFn()) {
			return "date is in the future"
		}
	case registry.FieldChoice:
		s, ok := value.(string)
		if !ok {
			return "expected one of the declared choices"
		}
		for _, choice := range spec.Choices {
			if s == choice {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s", strings.Join(spec.Choices, ", "))
	case registry.FieldRecord:
		if _, ok := value.(map[string]any); !ok {
			return "expected a nested record"
		}
	}
	return ""
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
