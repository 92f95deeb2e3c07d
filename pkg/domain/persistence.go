package domain

import "context"

// CycleStore is the persistence boundary for treatment cycles. Implementations
// must provide atomic compare-and-swap semantics on Save: the cycle document
// is replaced and the audit entry appended in one unit of work, conditional on
// the stored version matching expectedVersion. Either both are written or
// neither is.
type CycleStore interface {
	// Create stores a brand-new cycle together with its creation audit entry.
	// Fails if a cycle with the same ID already exists.
	Create(ctx context.Context, cycle TreatmentCycle, entry AuditEntry) error
	// Load returns the current state of a cycle, or ErrNotFound.
	Load(ctx context.Context, id string) (TreatmentCycle, error)
	// Save replaces the cycle document if the stored version equals
	// expectedVersion and appends the audit entry atomically. Returns
	// ErrConcurrencyConflict on a stale expectedVersion.
	Save(ctx context.Context, cycle TreatmentCycle, expectedVersion int64, entry AuditEntry) error
	// History returns the audit trail for a cycle, oldest first.
	History(ctx context.Context, cycleID string) ([]AuditEntry, error)
	// List returns all stored cycles.
	List(ctx context.Context) ([]TreatmentCycle, error)
	// Close releases backend resources.
	Close() error
}
