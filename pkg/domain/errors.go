package domain

import (
	"fmt"
	"strings"
)

// ErrNotFound is returned when a referenced cycle or stage does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrConcurrencyConflict is returned when expectedVersion does not match the
// stored version. The caller must reload and retry; nothing was written.
type ErrConcurrencyConflict struct {
	CycleID  string
	Expected int64
	Actual   int64
}

func (e ErrConcurrencyConflict) Error() string {
	return fmt.Sprintf("cycle %s version conflict: expected %d, have %d", e.CycleID, e.Expected, e.Actual)
}

// ErrOutOfOrder is returned when a draft or completion targets a stage more
// than one step ahead of the current stage.
type ErrOutOfOrder struct {
	StageID      StageID
	CurrentStage StageID
}

func (e ErrOutOfOrder) Error() string {
	return fmt.Sprintf("stage %s is out of order: current stage is %s", e.StageID, e.CurrentStage)
}

// ErrCycleClosed is returned when a mutation targets a terminal cycle.
type ErrCycleClosed struct {
	CycleID string
	Status  CycleStatus
}

func (e ErrCycleClosed) Error() string {
	return fmt.Sprintf("cycle %s is %s and accepts no further changes", e.CycleID, e.Status)
}

// FieldError reports a single field whose value failed its declared type.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ErrValidationFailed carries the full set of missing and malformed fields so
// callers can re-prompt the user. No state was changed.
type ErrValidationFailed struct {
	StageID    StageID
	Missing    []string
	TypeErrors []FieldError
	// Reason carries gate failures that are not tied to a single field,
	// such as closing a cycle before the final stage is validated.
	Reason string
}

func (e ErrValidationFailed) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(e.Missing, ", ")))
	}
	for _, fe := range e.TypeErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Reason))
	}
	return fmt.Sprintf("stage %s validation failed: %s", e.StageID, strings.Join(parts, "; "))
}

// ErrPersistence wraps an adapter-level I/O failure. It is propagated without
// internal retries so callers decide whether repeating the operation is safe.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e ErrPersistence) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e ErrPersistence) Unwrap() error { return e.Err }
