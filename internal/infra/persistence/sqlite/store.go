// Package sqlite persists treatment cycles in an embedded SQLite file. Each
// cycle is stored as a single JSON document row; the audit trail lives in a
// companion table written inside the same transaction as every document
// update, so a mutation and its audit entry land together or not at all.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cyclecore/pkg/domain"
)

// Store implements domain.CycleStore over a SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

var _ domain.CycleStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at path and ensures the
// schema exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "cyclecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create cycles table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cycle_audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create cycle_audit table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new cycle document and its creation audit entry.
func (s *Store) Create(ctx context.Context, cycle domain.TreatmentCycle, entry domain.AuditEntry) error {
	doc, auditDoc, err := encode(cycle, entry)
	if err != nil {
		return err
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
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycles(id, version, payload) VALUES(?, ?, ?)`, cycle.ID, cycle.Version, doc); err != nil {
		return domain.ErrPersistence{Op: "insert cycle", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycle_audit(cycle_id, payload) VALUES(?, ?)`, cycle.ID, auditDoc); err != nil {
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
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cycles WHERE id = ?`, id).Scan(&payload)
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

// Save performs the compare-and-swap: the document row is replaced only when
// its stored version still equals expectedVersion, and the audit entry is
// appended in the same transaction.
func (s *Store) Save(ctx context.Context, cycle domain.TreatmentCycle, expectedVersion int64, entry domain.AuditEntry) error {
	doc, auditDoc, err := encode(cycle, entry)
	if err != nil {
		return err
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
	res, err := tx.ExecContext(ctx, `UPDATE cycles SET version = ?, payload = ? WHERE id = ? AND version = ?`,
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
		err := tx.QueryRowContext(ctx, `SELECT version FROM cycles WHERE id = ?`, cycle.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound{Kind: "cycle", ID: cycle.ID}
		}
		if err != nil {
			return domain.ErrPersistence{Op: "select version", Err: err}
		}
		return domain.ErrConcurrencyConflict{CycleID: cycle.ID, Expected: expectedVersion, Actual: stored}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cycle_audit(cycle_id, payload) VALUES(?, ?)`, cycle.ID, auditDoc); err != nil {
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
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM cycle_audit WHERE cycle_id = ? ORDER BY seq ASC`, cycleID)
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

func encode(cycle domain.TreatmentCycle, entry domain.AuditEntry) (cycleDoc, auditDoc []byte, err error) {
	cycleDoc, err = json.Marshal(cycle)
	if err != nil {
		return nil, nil, domain.ErrPersistence{Op: "encode cycle", Err: err}
	}
	auditDoc, err = json.Marshal(entry)
	if err != nil {
		return nil, nil, domain.ErrPersistence{Op: "encode audit", Err: err}
	}
	return cycleDoc, auditDoc, nil
}
