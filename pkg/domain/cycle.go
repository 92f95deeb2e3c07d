// Package domain defines the core persistent entities, value types, and
// typed errors used by cyclecore.
package domain

import (
	"time"
)

// StageID identifies one ordered phase of a treatment cycle.
type StageID string

// Canonical IVF treatment stages in protocol order.
const (
	// StageStimulation identifies the ovarian stimulation stage.
	StageStimulation StageID = "Stimulation"
	// StageOocyteRetrieval identifies the oocyte retrieval stage.
	StageOocyteRetrieval StageID = "OocyteRetrieval"
	// StageFertilization identifies the fertilization stage.
	StageFertilization StageID = "Fertilization"
	// StageEmbryoCulture identifies the embryo culture stage.
	StageEmbryoCulture StageID = "EmbryoCulture"
	// StageEmbryoTransfer identifies the embryo transfer stage.
	StageEmbryoTransfer StageID = "EmbryoTransfer"
	// StagePregnancyOutcome identifies the pregnancy outcome stage.
	StagePregnancyOutcome StageID = "PregnancyOutcome"
)

// CycleStatus enumerates the coarse lifecycle states of a treatment cycle.
type CycleStatus string

// Cycle statuses. Closed and Cancelled are terminal.
const (
	CycleStatusActive    CycleStatus = "active"
	CycleStatusClosed    CycleStatus = "closed"
	CycleStatusCancelled CycleStatus = "cancelled"
)

// Terminal reports whether the status permits no further stage mutation.
func (s CycleStatus) Terminal() bool {
	return s == CycleStatusClosed || s == CycleStatusCancelled
}

// AuditAction identifies the mutating operation recorded in the audit trail.
type AuditAction string

// Audit actions recorded once per successful mutation.
const (
	ActionCreateCycle   AuditAction = "create_cycle"
	ActionSaveDraft     AuditAction = "save_draft"
	ActionCompleteStage AuditAction = "complete_stage"
	ActionCloseCycle    AuditAction = "close_cycle"
	ActionCancel        AuditAction = "cancel"
)

// SchemaVersion tags persisted cycle documents so stage definitions can
// evolve without breaking previously stored records.
const SchemaVersion = 1

// StageRecord holds the clinical data captured for a single stage. A record
// is owned exclusively by the cycle that contains it.
type StageRecord struct {
	StageID     StageID        `json:"stage_id"`
	EnteredAt   time.Time      `json:"entered_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Data        map[string]any `json:"data"`
	Validated   bool           `json:"validated"`
}

// Clone returns a deep copy of the record. Data values are copied at the top
// level; unknown keys written by newer schema versions are carried along
// untouched.
func (r StageRecord) Clone() StageRecord {
	cp := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.Data != nil {
		cp.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			cp.Data[k] = v
		}
	}
	return cp
}

// TreatmentCycle is the workflow state for one clinical treatment cycle.
// Version is the optimistic-concurrency token: it increments by exactly one
// on every successful mutation.
type TreatmentCycle struct {
	ID            string                  `json:"id"`
	PatientID     string                  `json:"patient_id"`
	DoctorID      string                  `json:"doctor_id"`
	SchemaVersion int                     `json:"schema_version"`
	CurrentStage  StageID                 `json:"current_stage_id"`
	Status        CycleStatus             `json:"status"`
	Stages        map[StageID]StageRecord `json:"stages"`
	Outcome       *string                 `json:"outcome,omitempty"`
	CancelReason  *string                 `json:"cancel_reason,omitempty"`
	Version       int64                   `json:"version"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the cycle and all of its stage records.
func (c TreatmentCycle) Clone() TreatmentCycle {
	cp := c
	if c.Outcome != nil {
		v := *c.Outcome
		cp.Outcome = &v
	}
	if c.CancelReason != nil {
		v := *c.CancelReason
		cp.CancelReason = &v
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	if c.Stages != nil {
		cp.Stages = make(map[StageID]StageRecord, len(c.Stages))
		for id, rec := range c.Stages {
			cp.Stages[id] = rec.Clone()
		}
	}
	return cp
}

// Record returns the stage record for the given stage, if present.
func (c TreatmentCycle) Record(stageID StageID) (StageRecord, bool) {
	rec, ok := c.Stages[stageID]
	if !ok {
		return StageRecord{}, false
	}
	return rec.Clone(), true
}

// AuditEntry captures one mutating operation against a cycle. Entries are
// append-only and never mutated or deleted once written.
type AuditEntry struct {
	ID            string      `json:"id"`
	CycleID       string      `json:"cycle_id"`
	ActorID       string      `json:"actor_id"`
	StageID       StageID     `json:"stage_id,omitempty"`
	Action        AuditAction `json:"action"`
	Timestamp     time.Time   `json:"timestamp"`
	BeforeVersion int64       `json:"before_version"`
	AfterVersion  int64       `json:"after_version"`
	Reason        string      `json:"reason,omitempty"`
}
