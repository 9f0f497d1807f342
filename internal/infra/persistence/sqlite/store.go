// Package sqlite provides a SQLite-backed persistent store. The in-memory
// store remains the transactional core; every commit is written through to
// row tables before it becomes visible.
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

	"compliancecore/internal/infra/persistence/memory"
	"compliancecore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

type (
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// Result aliases domain.Result.
	Result = domain.Result
)

const schema = `
CREATE TABLE IF NOT EXISTS inspections (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	district_code TEXT NOT NULL,
	status TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS inspections_district ON inspections(district_code);
CREATE TABLE IF NOT EXISTS sequences (
	scope TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	inspection_id TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_inspection ON audit_events(inspection_id, position);
`

// Store persists inspections, counters, and audit events to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and loads its contents.
func NewStore(path string, engine *RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "compliancecore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &Store{db: db, path: path}
	opts = append(opts, memory.WithCommitHook(s.persistCommit), memory.WithAuditHook(s.persistAudit))
	s.Store = memory.NewStore(engine, opts...)
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	snapshot := memory.Snapshot{
		Inspections: make(map[string]domain.Inspection),
		Sequences:   make(map[string]int64),
		Audit:       make(map[string][]domain.AuditEvent),
	}
	rows, err := s.db.Query(`SELECT id, payload FROM inspections`)
	if err != nil {
		return fmt.Errorf("select inspections: %w", err)
	}
	for rows.Next() {
		var (
			id      string
			payload []byte
			in      domain.Inspection
		)
		if err := rows.Scan(&id, &payload); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan inspection: %w", err)
		}
		if err := json.Unmarshal(payload, &in); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode inspection %s: %w", id, err)
		}
		snapshot.Inspections[id] = in
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT scope, value FROM sequences`)
	if err != nil {
		return fmt.Errorf("select sequences: %w", err)
	}
	for rows.Next() {
		var (
			scope string
			value int64
		)
		if err := rows.Scan(&scope, &value); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan sequence: %w", err)
		}
		snapshot.Sequences[scope] = value
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT inspection_id, payload FROM audit_events ORDER BY position`)
	if err != nil {
		return fmt.Errorf("select audit: %w", err)
	}
	for rows.Next() {
		var (
			inspectionID string
			payload      []byte
			event        domain.AuditEvent
		)
		if err := rows.Scan(&inspectionID, &payload); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan audit: %w", err)
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode audit event: %w", err)
		}
		snapshot.Audit[inspectionID] = append(snapshot.Audit[inspectionID], event)
	}
	if err := closeRows(rows); err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func (s *Store) persistCommit(ctx context.Context, commit memory.Commit) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, in := range commit.Inspections() {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode inspection %s: %w", in.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO inspections(id, code, district_code, status, payload) VALUES(?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET code=excluded.code, district_code=excluded.district_code, status=excluded.status, payload=excluded.payload`,
			in.ID, in.Code, in.DistrictCode, string(in.Status), payload); err != nil {
			return fmt.Errorf("upsert inspection %s: %w", in.ID, err)
		}
	}
	for scope, value := range commit.Sequences {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sequences(scope, value) VALUES(?,?)
			ON CONFLICT(scope) DO UPDATE SET value=excluded.value`, scope, value); err != nil {
			return fmt.Errorf("upsert sequence %s: %w", scope, err)
		}
	}
	return tx.Commit()
}

func (s *Store) persistAudit(ctx context.Context, events []domain.AuditEvent) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit event %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO audit_events(id, inspection_id, payload) VALUES(?,?,?)`,
			e.ID, e.InspectionID, payload); err != nil {
			return fmt.Errorf("insert audit event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
