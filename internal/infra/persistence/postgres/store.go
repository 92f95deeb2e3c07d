// Package postgres provides a Postgres-backed CycleStore with the same
// compare-and-swap semantics as the sqlite implementation. Cycle documents
// are stored as JSONB and the audit trail is appended within the document
// update transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cyclecore/pkg/domain"
)

var _ domain.CycleStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenCycleStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/cyclecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store implements domain.CycleStore over PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create cycles table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cycle_audit (
		seq BIGSERIAL PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create cycle_audit table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new cycle document and its creation audit entry.
func (s *Store) Create(ctx context.Context, cycle domain.TreatmentCycle, entry domain.AuditEntry) error {
	doc, err := json.Marshal(cycle)
	if err != nil {
		return domain.ErrPersistence{Op: "encode cycle", Err: err}
	}
	auditDoc, err := json.Marshal(entry)
	if err != nil {
		return domain.ErrPersistence{Op: "encode audit", Err: err}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrPersistence{Op: "begin tx", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycles(id, version, payload) VALUES($1, $2, $3)`, cycle.ID, cycle.Version, doc); err != nil {
		return domain.ErrPersistence{Op: "insert cycle", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycle_audit(cycle_id, payload) VALUES($1, $2)`, cycle.ID, auditDoc); err != nil {
		return domain.ErrPersistence{Op: "insert audit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrPersistence{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

// Load reads a cycle document by ID.
func (s *Store) Load(ctx context.Context, id string) (domain.TreatmentCycle, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cycles WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TreatmentCycle{}, domain.ErrNotFound{Kind: "cycle", ID: id}
	}
	if err != nil {
		return domain.TreatmentCycle{}, domain.ErrPersistence{Op: "select cycle", Err: err}
	}
	var cycle domain.TreatmentCycle
	if err := json.Unmarshal(payload, &cycle); err != nil {
		return domain.TreatmentCycle{}, domain.ErrPersistence{Op: "decode cycle", Err: err}
	}
	return cycle, nil
}

// Save performs the conditional write keyed on version and appends the audit
// entry in the same transaction.
func (s *Store) Save(ctx context.Context, cycle domain.TreatmentCycle, expectedVersion int64, entry domain.AuditEntry) error {
	doc, err := json.Marshal(cycle)
	if err != nil {
		return domain.ErrPersistence{Op: "encode cycle", Err: err}
	}
	auditDoc, err := json.Marshal(entry)
	if err != nil {
		return domain.ErrPersistence{Op: "encode audit", Err: err}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrPersistence{Op: "begin tx", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE cycles SET version = $1, payload = $2 WHERE id = $3 AND version = $4`,
		cycle.Version, doc, cycle.ID, expectedVersion)
	if err != nil {
		return domain.ErrPersistence{Op: "update cycle", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.ErrPersistence{Op: "rows affected", Err: err}
	}
	if affected == 0 {
		var stored int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM cycles WHERE id = $1`, cycle.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound{Kind: "cycle", ID: cycle.ID}
		}
		if err != nil {
			return domain.ErrPersistence{Op: "select version", Err: err}
		}
		return domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: stored}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycle_audit(cycle_id, payload) VALUES($1, $2)`, cycle.ID, auditDoc); err != nil {
		return domain.ErrPersistence{Op: "insert audit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrPersistence{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

// History returns the audit trail for a cycle in append order.
func (s *Store) History(ctx context.Context, cycleID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM cycle_audit WHERE cycle_id = $1 ORDER BY seq ASC`, cycleID)
	if err != nil {
		return nil, domain.ErrPersistence{Op: "select audit", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var entries []domain.AuditEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.ErrPersistence{Op: "scan audit", Err: err}
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, domain.ErrPersistence{Op: "decode audit", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence{Op: "iterate audit", Err: err}
	}
	return entries, nil
}

// List returns all cycle documents ordered by ID.
func (s *Store) List(ctx context.Context) ([]domain.TreatmentCycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM cycles ORDER BY id ASC`)
	if err != nil {
		return nil, domain.ErrPersistence{Op: "select cycles", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []domain.TreatmentCycle
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.ErrPersistence{Op: "scan cycle", Err: err}
		}
		var cycle domain.TreatmentCycle
		if err := json.Unmarshal(payload, &cycle); err != nil {
			return nil, domain.ErrPersistence{Op: "decode cycle", Err: err}
		}
		out = append(out, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence{Op: "iterate cycles", Err: err}
	}
	return out, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
