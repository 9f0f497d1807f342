// Package postgres provides a Postgres-backed persistent store. Unlike the
// sqlite driver it does not keep state in memory: every transaction runs in a
// database transaction with row locks, so several processes may share one
// database.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"compliancecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
const defaultDSN = "postgres://localhost/compliancecore?sslmode=disable"

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations exposes the embedded goose migrations rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(s *Store) { s.maxConns = n }
}

// Store persists inspections, counters, and audit events to Postgres.
type Store struct {
	pool     *pgxpool.Pool
	engine   *domain.RulesEngine
	nowFn    func() time.Time
	maxConns int32
}

// NewStore connects to dsn, applies pending migrations, and returns a store.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		engine:   engine,
		nowFn:    func() time.Time { return time.Now().UTC() },
		maxConns: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = s.maxConns
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for integration testing hooks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTransaction executes fn inside a database transaction. Inspections read
// through the transaction are locked FOR UPDATE until commit, so concurrent
// submits of one inspection serialise.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (res domain.Result, err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Result{}, domain.PersistenceError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = pgTx.Rollback(ctx)
		}
	}()

	tx := &transaction{ctx: ctx, tx: pgTx, now: s.nowFn(), cache: make(map[string]domain.Inspection)}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	if tx.err != nil {
		return domain.Result{}, tx.err
	}
	res, err = s.engine.Evaluate(ctx, tx, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if tx.err != nil {
		return domain.Result{}, tx.err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	if err := pgTx.Commit(ctx); err != nil {
		return res, domain.PersistenceError{Op: "commit", Err: err}
	}
	committed = true
	return res, nil
}

// View executes fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = pgTx.Rollback(ctx) }()
	tx := &transaction{ctx: ctx, tx: pgTx, readOnly: true, cache: make(map[string]domain.Inspection)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.err
}

// GetInspection retrieves an inspection by ID.
func (s *Store) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM inspections WHERE id=$1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inspection{}, domain.NotFoundError{Entity: domain.EntityInspection, ID: id}
	}
	if err != nil {
		return domain.Inspection{}, domain.PersistenceError{Op: "get inspection", Err: err}
	}
	return decodeInspection(payload)
}

// ListInspections returns inspections matching filter ordered by creation.
func (s *Store) ListInspections(ctx context.Context, filter domain.InspectionFilter) ([]domain.Inspection, error) {
	rows, err := s.pool.Query(ctx, listQuery, filter.DistrictCode, string(filter.Status))
	if err != nil {
		return nil, domain.PersistenceError{Op: "list inspections", Err: err}
	}
	return collectInspections(rows)
}

const listQuery = `
	SELECT payload FROM inspections
	WHERE ($1 = '' OR district_code = $1) AND ($2 = '' OR status = $2)
	ORDER BY created_at, id`

func collectInspections(rows pgx.Rows) ([]domain.Inspection, error) {
	defer rows.Close()
	var out []domain.Inspection
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.PersistenceError{Op: "scan inspection", Err: err}
		}
		in, err := decodeInspection(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "list inspections", Err: err}
	}
	return out, nil
}

func decodeInspection(payload []byte) (domain.Inspection, error) {
	var in domain.Inspection
	if err := json.Unmarshal(payload, &in); err != nil {
		return domain.Inspection{}, domain.PersistenceError{Op: "decode inspection", Err: err}
	}
	return in, nil
}

// AppendAudit chains and inserts audit events. Each inspection's chain is
// extended under a transaction-scoped advisory lock; already stored IDs are
// skipped.
func (s *Store) AppendAudit(ctx context.Context, events []domain.AuditEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(ctx)
		}
	}()

	order, groups := domain.GroupAuditEvents(events)
	sort.Strings(order) // stable lock order across writers
	for _, inspectionID := range order {
		if _, err = pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inspectionID); err != nil {
			return domain.PersistenceError{Op: "lock audit chain", Err: err}
		}
		fresh, ferr := filterStored(ctx, pgTx, groups[inspectionID])
		if ferr != nil {
			return ferr
		}
		if len(fresh) == 0 {
			continue
		}
		var prev string
		err = pgTx.QueryRow(ctx, `SELECT hash FROM audit_events WHERE inspection_id=$1 ORDER BY position DESC LIMIT 1`, inspectionID).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return domain.PersistenceError{Op: "read chain head", Err: err}
		}
		err = nil
		for _, e := range domain.ChainAuditEvents(prev, fresh) {
			details, merr := json.Marshal(e.Details)
			if merr != nil {
				err = merr
				return domain.PersistenceError{Op: "encode audit details", Err: merr}
			}
			if _, err = pgTx.Exec(ctx, `INSERT INTO audit_events (id, inspection_id, sequence, action, performed_by, details, occurred_at, prev_hash, hash)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				e.ID, e.InspectionID, int64(e.Sequence), string(e.Action), e.PerformedBy, details, e.Timestamp, e.PrevHash, e.Hash); err != nil {
				return domain.PersistenceError{Op: "insert audit event", Err: err}
			}
		}
	}
	if err = pgTx.Commit(ctx); err != nil {
		return domain.PersistenceError{Op: "commit audit", Err: err}
	}
	return nil
}

func filterStored(ctx context.Context, tx pgx.Tx, events []domain.AuditEvent) ([]domain.AuditEvent, error) {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	rows, err := tx.Query(ctx, `SELECT id FROM audit_events WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, domain.PersistenceError{Op: "check audit ids", Err: err}
	}
	stored := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, domain.PersistenceError{Op: "check audit ids", Err: err}
		}
		stored[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "check audit ids", Err: err}
	}
	out := make([]domain.AuditEvent, 0, len(events))
	for _, e := range events {
		if _, dup := stored[e.ID]; dup {
			continue
		}
		stored[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// ListAudit returns an inspection's audit events in append order.
func (s *Store) ListAudit(ctx context.Context, inspectionID string) ([]domain.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, inspection_id, sequence, action, performed_by, details, occurred_at, prev_hash, hash
		FROM audit_events WHERE inspection_id=$1 ORDER BY position`, inspectionID)
	if err != nil {
		return nil, domain.PersistenceError{Op: "list audit", Err: err}
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e       domain.AuditEvent
			seq     int64
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.InspectionID, &seq, &action, &e.PerformedBy, &details, &e.Timestamp, &e.PrevHash, &e.Hash); err != nil {
			return nil, domain.PersistenceError{Op: "scan audit", Err: err}
		}
		e.Sequence = uint64(seq)
		e.Action = domain.AuditAction(action)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, domain.PersistenceError{Op: "decode audit details", Err: err}
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError{Op: "list audit", Err: err}
	}
	return out, nil
}

// transaction adapts a pgx.Tx to domain.Transaction. Read errors are latched
// in err because the lookup methods only report presence.
type transaction struct {
	ctx      context.Context
	tx       pgx.Tx
	now      time.Time
	readOnly bool
	cache    map[string]domain.Inspection
	changes  []domain.Change
	err      error
}

func (t *transaction) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *transaction) Snapshot() domain.TransactionView { return t }

func (t *transaction) FindInspection(id string) (domain.Inspection, bool) {
	if in, ok := t.cache[id]; ok {
		return in.Clone(), true
	}
	query := `SELECT payload FROM inspections WHERE id=$1 FOR UPDATE`
	if t.readOnly {
		query = `SELECT payload FROM inspections WHERE id=$1`
	}
	var payload []byte
	err := t.tx.QueryRow(t.ctx, query, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inspection{}, false
	}
	if err != nil {
		t.fail(domain.PersistenceError{Op: "find inspection", Err: err})
		return domain.Inspection{}, false
	}
	in, err := decodeInspection(payload)
	if err != nil {
		t.fail(err)
		return domain.Inspection{}, false
	}
	t.cache[id] = in
	return in.Clone(), true
}

func (t *transaction) ListInspections() []domain.Inspection {
	rows, err := t.tx.Query(t.ctx, listQuery, "", "")
	if err != nil {
		t.fail(domain.PersistenceError{Op: "list inspections", Err: err})
		return nil
	}
	out, err := collectInspections(rows)
	if err != nil {
		t.fail(err)
		return nil
	}
	for i, in := range out {
		if cached, ok := t.cache[in.ID]; ok {
			out[i] = cached.Clone()
		}
	}
	return out
}

func (t *transaction) CreateInspection(in domain.Inspection) (domain.Inspection, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = t.now
	}
	in.UpdatedAt = t.now
	payload, err := json.Marshal(in)
	if err != nil {
		return domain.Inspection{}, domain.PersistenceError{Op: "encode inspection", Err: err}
	}
	tag, err := t.tx.Exec(t.ctx, `INSERT INTO inspections (id, code, district_code, status, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		in.ID, in.Code, in.DistrictCode, string(in.Status), payload, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Inspection{}, domain.ValidationError{Field: "code", Reason: fmt.Sprintf("code %q already issued", in.Code)}
		}
		return domain.Inspection{}, domain.PersistenceError{Op: "insert inspection", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.Inspection{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("inspection %q already exists", in.ID)}
	}
	t.cache[in.ID] = in.Clone()
	after := in.Clone()
	t.changes = append(t.changes, domain.Change{Entity: domain.EntityInspection, Action: domain.ActionCreate, After: &after})
	return in.Clone(), nil
}

func (t *transaction) UpdateInspection(id string, mutator func(*domain.Inspection) error) (domain.Inspection, error) {
	current, ok := t.FindInspection(id)
	if t.err != nil {
		return domain.Inspection{}, t.err
	}
	if !ok {
		return domain.Inspection{}, domain.NotFoundError{Entity: domain.EntityInspection, ID: id}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return domain.Inspection{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = t.now
	payload, err := json.Marshal(current)
	if err != nil {
		return domain.Inspection{}, domain.PersistenceError{Op: "encode inspection", Err: err}
	}
	// The status predicate is the storage-level guard on submitted records.
	tag, err := t.tx.Exec(t.ctx, `UPDATE inspections SET status=$2, district_code=$3, payload=$4, updated_at=$5
		WHERE id=$1 AND status=$6`,
		id, string(current.Status), current.DistrictCode, payload, current.UpdatedAt, string(domain.StatusDraft))
	if err != nil {
		return domain.Inspection{}, domain.PersistenceError{Op: "update inspection", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.Inspection{}, domain.ImmutabilityViolation{InspectionID: id, Status: before.Status, Op: "update", Reason: "inspection is no longer a draft"}
	}
	t.cache[id] = current.Clone()
	after := current.Clone()
	t.changes = append(t.changes, domain.Change{Entity: domain.EntityInspection, Action: domain.ActionUpdate, Before: &before, After: &after})
	return current.Clone(), nil
}

func (t *transaction) NextSequence(scope string) (int64, error) {
	if scope == "" {
		return 0, domain.ValidationError{Field: "scope", Reason: "required"}
	}
	var v int64
	err := t.tx.QueryRow(t.ctx, `INSERT INTO sequences (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = sequences.value + 1 RETURNING value`, scope).Scan(&v)
	if err != nil {
		return 0, domain.PersistenceError{Op: "next sequence", Err: err}
	}
	return v, nil
}
