// Package memory implements an in-process CycleStore for tests and
// ephemeral deployments. State is cloned on every read and write so callers
// can never mutate stored documents in place.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cyclecore/pkg/domain"
)

// Store implements domain.CycleStore backed by process memory.
type Store struct {
	mu     sync.RWMutex
	cycles map[string]domain.TreatmentCycle
	audit  map[string][]domain.AuditEntry
}

var _ domain.CycleStore = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		cycles: make(map[string]domain.TreatmentCycle),
		audit:  make(map[string][]domain.AuditEntry),
	}
}

// Create stores a new cycle and its creation audit entry.
func (s *Store) Create(_ context.Context, cycle domain.TreatmentCycle, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cycles[cycle.ID]; exists {
		return domain.ErrPersistence{Op: "create", Err: fmt.Errorf("cycle %s already exists", cycle.ID)}
	}
	s.cycles[cycle.ID] = cycle.Clone()
	s.audit[cycle.ID] = append(s.audit[cycle.ID], entry)
	return nil
}

// Load returns the stored cycle or ErrNotFound.
func (s *Store) Load(_ context.Context, id string) (domain.TreatmentCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cycle, ok := s.cycles[id]
	if !ok {
		return domain.TreatmentCycle{}, domain.ErrNotFound{Kind: "cycle", ID: id}
	}
	return cycle.Clone(), nil
}

// Save replaces the cycle document and appends the audit entry if the stored
// version matches expectedVersion. The check and write happen under one lock
// so the compare-and-swap is atomic.
func (s *Store) Save(_ context.Context, cycle domain.TreatmentCycle, expectedVersion int64, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cycles[cycle.ID]
	if !ok {
		return domain.ErrNotFound{Kind: "cycle", ID: cycle.ID}
	}
	if current.Version != expectedVersion {
		return domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: current.Version}
	}
	s.cycles[cycle.ID] = cycle.Clone()
	s.audit[cycle.ID] = append(s.audit[cycle.ID], entry)
	return nil
}

// History returns the audit trail for a cycle, oldest first.
func (s *Store) History(_ context.Context, cycleID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[cycleID]
	out := make([]domain.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// List returns all cycles ordered by ID.
func (s *Store) List(_ context.Context) ([]domain.TreatmentCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TreatmentCycle, 0, len(s.cycles))
	for _, cycle := range s.cycles {
		out = append(out, cycle.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
