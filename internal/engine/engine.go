// Package engine implements the treatment-cycle state machine. All
// operations are pure computations over an in-memory snapshot: they return
// the full next state plus the audit entry describing the mutation, and the
// caller persists both through a single compare-and-swap save. No partial
// state is ever produced.
package engine

import (
	"time"

	"github.com/google/uuid"

	"cyclecore/internal/registry"
	"cyclecore/internal/validation"
	"cyclecore/pkg/domain"
)

// Mutation bundles the next cycle state with the audit entry that must be
// persisted in the same unit of work.
type Mutation struct {
	Cycle domain.TreatmentCycle
	Entry domain.AuditEntry
}

// Engine applies stage transitions against the registered stage schema.
type Engine struct {
	reg       *registry.Registry
	validator *validation.Validator
	nowFn     func() time.Time
	newID     func() string
}

// New constructs an engine over the given registry.
func New(reg *registry.Registry) *Engine {
	return &Engine{
		reg:       reg,
		validator: validation.New(reg),
		nowFn:     func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	e.validator.WithClock(nowFn)
	return e
}

// WithIDGenerator overrides audit/cycle ID generation. Intended for tests.
func (e *Engine) WithIDGenerator(fn func() string) *Engine {
	e.newID = fn
	return e
}

// Registry returns the stage schema the engine enforces.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// NewCycle creates an Active cycle positioned at the first registry stage,
// with an empty record for that stage.
func (e *Engine) NewCycle(patientID, doctorID, actorID string) Mutation {
	now := e.nowFn()
	first := e.reg.First()
	cycle := domain.TreatmentCycle{
		ID:            e.newID(),
		PatientID:     patientID,
		DoctorID:      doctorID,
		SchemaVersion: domain.SchemaVersion,
		CurrentStage:  first.ID,
		Status:        domain.CycleStatusActive,
		Stages: map[domain.StageID]domain.StageRecord{
			first.ID: {StageID: first.ID, EnteredAt: now, Data: map[string]any{}},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry := domain.AuditEntry{
		ID:            e.newID(),
		CycleID:       cycle.ID,
		ActorID:       actorID,
		StageID:       first.ID,
		Action:        domain.ActionCreateCycle,
		Timestamp:     now,
		BeforeVersion: 0,
		AfterVersion:  1,
	}
	return Mutation{Cycle: cycle, Entry: entry}
}

// SaveDraft merges partialData into the record for stageID without requiring
// validity. Drafting is allowed for any visited stage and for the immediate
// next stage; stages further ahead are rejected with ErrOutOfOrder. The
// record's Validated flag is recomputed opportunistically so callers can see
// when a draft happens to satisfy the schema.
func (e *Engine) SaveDraft(cycle domain.TreatmentCycle, stageID domain.StageID, partialData map[string]any, expectedVersion int64, actorID string) (Mutation, error) {
	if err := e.gate(cycle, stageID, expectedVersion); err != nil {
		return Mutation{}, err
	}

	now := e.nowFn()
	next := cycle.Clone()
	rec := e.recordFor(&next, stageID, now)
	for k, v := range partialData {
		rec.Data[k] = v
	}
	res, err := e.validator.Validate(stageID, rec.Data)
	if err != nil {
		return Mutation{}, err
	}
	rec.Validated = res.Valid()
	next.Stages[stageID] = rec
	next.UpdatedAt = now
	next.Version++

	return Mutation{Cycle: next, Entry: e.entry(cycle, next, stageID, domain.ActionSaveDraft, actorID, "", now)}, nil
}

// CompleteStage validates the submitted payload against the full stage
// schema; the payload must be complete on its own. On success the data is
// merged, the record stamped completed, and — only when completing the
// current stage — the cycle advances to the next registry stage. Completing
// an earlier stage corrects history without moving the current stage.
func (e *Engine) CompleteStage(cycle domain.TreatmentCycle, stageID domain.StageID, data map[string]any, expectedVersion int64, actorID string) (Mutation, error) {
	if err := e.gate(cycle, stageID, expectedVersion); err != nil {
		return Mutation{}, err
	}
	res, err := e.validator.Validate(stageID, data)
	if err != nil {
		return Mutation{}, err
	}
	if !res.Valid() {
		return Mutation{}, res.Err(stageID)
	}

	now := e.nowFn()
	next := cycle.Clone()
	rec := e.recordFor(&next, stageID, now)
	for k, v := range data {
		rec.Data[k] = v
	}
	completed := now
	rec.CompletedAt = &completed
	rec.Validated = true
	next.Stages[stageID] = rec

	if stageID == next.CurrentStage {
		if following, ok := e.reg.Next(stageID); ok {
			next.CurrentStage = following.ID
			if _, exists := next.Stages[following.ID]; !exists {
				next.Stages[following.ID] = domain.StageRecord{StageID: following.ID, EnteredAt: now, Data: map[string]any{}}
			}
		}
	}
	next.UpdatedAt = now
	next.Version++

	return Mutation{Cycle: next, Entry: e.entry(cycle, next, stageID, domain.ActionCompleteStage, actorID, "", now)}, nil
}

// CloseCycle finalizes the cycle with an outcome. Legal only when the
// current stage is the final registry stage and its record is validated, and
// only with a non-empty outcome result.
func (e *Engine) CloseCycle(cycle domain.TreatmentCycle, outcome map[string]any, expectedVersion int64, actorID string) (Mutation, error) {
	if cycle.Status.Terminal() {
		return Mutation{}, domain.ErrCycleClosed{CycleID: cycle.ID, Status: cycle.Status}
	}
	if cycle.Version != expectedVersion {
		return Mutation{}, domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: cycle.Version}
	}
	final := e.reg.Final()
	if cycle.CurrentStage != final.ID {
		return Mutation{}, domain.ErrValidationFailed{StageID: final.ID, Reason: "cycle has not reached the final stage"}
	}
	rec, ok := cycle.Stages[final.ID]
	if !ok || !rec.Validated {
		return Mutation{}, domain.ErrValidationFailed{StageID: final.ID, Reason: "final stage record is not validated"}
	}
	result, _ := outcome["result"].(string)
	if result == "" {
		return Mutation{}, domain.ErrValidationFailed{StageID: final.ID, Missing: []string{"result"}}
	}

	now := e.nowFn()
	next := cycle.Clone()
	next.Status = domain.CycleStatusClosed
	next.Outcome = &result
	next.CompletedAt = &now
	next.UpdatedAt = now
	next.Version++

	return Mutation{Cycle: next, Entry: e.entry(cycle, next, final.ID, domain.ActionCloseCycle, actorID, "", now)}, nil
}

// CancelCycle terminates an Active cycle at any stage, recording the reason.
func (e *Engine) CancelCycle(cycle domain.TreatmentCycle, reason string, expectedVersion int64, actorID string) (Mutation, error) {
	if cycle.Status.Terminal() {
		return Mutation{}, domain.ErrCycleClosed{CycleID: cycle.ID, Status: cycle.Status}
	}
	if cycle.Version != expectedVersion {
		return Mutation{}, domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: cycle.Version}
	}

	now := e.nowFn()
	next := cycle.Clone()
	next.Status = domain.CycleStatusCancelled
	if reason != "" {
		next.CancelReason = &reason
	}
	next.UpdatedAt = now
	next.Version++

	return Mutation{Cycle: next, Entry: e.entry(cycle, next, cycle.CurrentStage, domain.ActionCancel, actorID, reason, now)}, nil
}

// gate runs the shared preconditions for stage-scoped mutations: the stage
// must exist, the cycle must be Active, the version token must match, and
// the stage must be within one step of the current stage.
func (e *Engine) gate(cycle domain.TreatmentCycle, stageID domain.StageID, expectedVersion int64) error {
	stageOrder, ok := e.reg.OrderOf(stageID)
	if !ok {
		return domain.ErrNotFound{Kind: "stage", ID: string(stageID)}
	}
	if cycle.Status.Terminal() {
		return domain.ErrCycleClosed{CycleID: cycle.ID, Status: cycle.Status}
	}
	if cycle.Version != expectedVersion {
		return domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: cycle.Version}
	}
	currentOrder, ok := e.reg.OrderOf(cycle.CurrentStage)
	if !ok {
		return domain.ErrNotFound{Kind: "stage", ID: string(cycle.CurrentStage)}
	}
	if stageOrder > currentOrder {
		// Pre-filling the immediate next stage is allowed; anything further
		// ahead is rejected.
		following, ok := e.reg.Next(cycle.CurrentStage)
		if !ok || following.ID != stageID {
			return domain.ErrOutOfOrder{StageID: stageID, CurrentStage: cycle.CurrentStage}
		}
	}
	return nil
}

// recordFor returns a mutable copy of the stage record, creating it lazily
// the first time data is saved for the stage.
func (e *Engine) recordFor(cycle *domain.TreatmentCycle, stageID domain.StageID, now time.Time) domain.StageRecord {
	rec, ok := cycle.Stages[stageID]
	if !ok {
		rec = domain.StageRecord{StageID: stageID, EnteredAt: now}
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec
}

func (e *Engine) entry(before, after domain.TreatmentCycle, stageID domain.StageID, action domain.AuditAction, actorID, reason string, now time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:            e.newID(),
		CycleID:       after.ID,
		ActorID:       actorID,
		StageID:       stageID,
		Action:        action,
		Timestamp:     now,
		BeforeVersion: before.Version,
		AfterVersion:  after.Version,
		Reason:        reason,
	}
}
