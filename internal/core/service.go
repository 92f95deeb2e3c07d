// Package core exposes the transactional treatment-cycle service: it loads a
// cycle snapshot from the store, lets the transition engine compute the next
// state, and persists the result with a single compare-and-swap save that
// also appends the audit entry.
package core

import (
	"context"
	"time"

	"cyclecore/internal/engine"
	"cyclecore/internal/registry"
	"cyclecore/pkg/domain"
)

// Service orchestrates the transition engine against a cycle store.
type Service struct {
	store   domain.CycleStore
	engine  *engine.Engine
	logger  Logger
	metrics MetricsRecorder
}

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithLogger installs a structured logger. Defaults to a no-op logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics recorder. Defaults to a no-op.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService constructs a service backed by the supplied store and engine.
func NewService(store domain.CycleStore, eng *engine.Engine, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		engine:  eng,
		logger:  noopLogger{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService is a convenience constructor for tests: a service over
// the default IVF registry and nothing durable behind it.
func NewInMemoryService(store domain.CycleStore, opts ...ServiceOption) *Service {
	return NewService(store, engine.New(registry.Default()), opts...)
}

// Engine returns the underlying transition engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Registry returns the stage schema in force.
func (s *Service) Registry() *registry.Registry { return s.engine.Registry() }

// CreateCycle starts a new Active cycle at the first stage.
func (s *Service) CreateCycle(ctx context.Context, patientID, doctorID, actorID string) (domain.TreatmentCycle, error) {
	start := time.Now()
	mut := s.engine.NewCycle(patientID, doctorID, actorID)
	err := s.store.Create(ctx, mut.Cycle, mut.Entry)
	s.observe(ctx, "create_cycle", start, err)
	if err != nil {
		return domain.TreatmentCycle{}, err
	}
	s.logger.Info("cycle created", "cycle_id", mut.Cycle.ID, "patient_id", patientID, "actor_id", actorID)
	return mut.Cycle, nil
}

// GetCycle loads the current state of a cycle.
func (s *Service) GetCycle(ctx context.Context, cycleID string) (domain.TreatmentCycle, error) {
	start := time.Now()
	cycle, err := s.store.Load(ctx, cycleID)
	s.observe(ctx, "get_cycle", start, err)
	return cycle, err
}

// SaveDraft merges partial stage data without requiring validity.
func (s *Service) SaveDraft(ctx context.Context, cycleID string, stageID domain.StageID, data map[string]any, expectedVersion int64, actorID string) (domain.TreatmentCycle, error) {
	return s.mutate(ctx, "save_draft", cycleID, expectedVersion, func(cycle domain.TreatmentCycle) (engine.Mutation, error) {
		return s.engine.SaveDraft(cycle, stageID, data, expectedVersion, actorID)
	})
}

// CompleteStage finalizes a validated stage, advancing the cycle when the
// completed stage is the current one.
func (s *Service) CompleteStage(ctx context.Context, cycleID string, stageID domain.StageID, data map[string]any, expectedVersion int64, actorID string) (domain.TreatmentCycle, error) {
	return s.mutate(ctx, "complete_stage", cycleID, expectedVersion, func(cycle domain.TreatmentCycle) (engine.Mutation, error) {
		return s.engine.CompleteStage(cycle, stageID, data, expectedVersion, actorID)
	})
}

// CloseCycle irreversibly finishes the cycle with an outcome.
func (s *Service) CloseCycle(ctx context.Context, cycleID string, outcome map[string]any, expectedVersion int64, actorID string) (domain.TreatmentCycle, error) {
	return s.mutate(ctx, "close_cycle", cycleID, expectedVersion, func(cycle domain.TreatmentCycle) (engine.Mutation, error) {
		return s.engine.CloseCycle(cycle, outcome, expectedVersion, actorID)
	})
}

// CancelCycle terminates the cycle from any Active stage.
func (s *Service) CancelCycle(ctx context.Context, cycleID, reason string, expectedVersion int64, actorID string) (domain.TreatmentCycle, error) {
	return s.mutate(ctx, "cancel_cycle", cycleID, expectedVersion, func(cycle domain.TreatmentCycle) (engine.Mutation, error) {
		return s.engine.CancelCycle(cycle, reason, expectedVersion, actorID)
	})
}

// AuditHistory returns the append-only audit trail, oldest first.
func (s *Service) AuditHistory(ctx context.Context, cycleID string) ([]domain.AuditEntry, error) {
	start := time.Now()
	entries, err := s.store.History(ctx, cycleID)
	s.observe(ctx, "audit_history", start, err)
	return entries, err
}

// ListCycles returns all stored cycles.
func (s *Service) ListCycles(ctx context.Context) ([]domain.TreatmentCycle, error) {
	start := time.Now()
	cycles, err := s.store.List(ctx)
	s.observe(ctx, "list_cycles", start, err)
	return cycles, err
}

// mutate runs the load → engine → compare-and-swap save sequence shared by
// all mutating operations. The engine computes the complete next state; the
// store either persists it together with its audit entry or fails without
// side effects.
func (s *Service) mutate(ctx context.Context, op, cycleID string, expectedVersion int64, apply func(domain.TreatmentCycle) (engine.Mutation, error)) (domain.TreatmentCycle, error) {
	start := time.Now()
	cycle, err := s.store.Load(ctx, cycleID)
	if err != nil {
		s.observe(ctx, op, start, err)
		return domain.TreatmentCycle{}, err
	}
	mut, err := apply(cycle)
	if err != nil {
		s.observe(ctx, op, start, err)
		s.logger.Debug(op+" rejected", "cycle_id", cycleID, "error", err)
		return domain.TreatmentCycle{}, err
	}
	if err := s.store.Save(ctx, mut.Cycle, expectedVersion, mut.Entry); err != nil {
		s.observe(ctx, op, start, err)
		return domain.TreatmentCycle{}, err
	}
	s.observe(ctx, op, start, nil)
	s.logger.Info(op+" applied", "cycle_id", cycleID, "stage_id", mut.Entry.StageID, "version", mut.Cycle.Version, "actor_id", mut.Entry.ActorID)
	return mut.Cycle, nil
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}
