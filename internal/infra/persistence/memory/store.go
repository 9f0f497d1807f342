// Package memory provides an in-memory implementation of the persistence
// store used for tests, ephemeral environments, and as the transactional core
// of the sqlite driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"compliancecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Inspection aliases domain.Inspection for in-memory persistence operations.
	Inspection = domain.Inspection
	// AuditEvent aliases domain.AuditEvent.
	AuditEvent = domain.AuditEvent
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Commit describes the effects of a transaction about to be applied.
type Commit struct {
	Changes []Change
	// Sequences holds the new values of counters advanced in the transaction.
	Sequences map[string]int64
}

// Inspections returns the final state of every inspection touched by the commit.
func (c Commit) Inspections() []Inspection {
	latest := make(map[string]Inspection)
	var order []string
	for _, ch := range c.Changes {
		if ch.After == nil {
			continue
		}
		if _, ok := latest[ch.After.ID]; !ok {
			order = append(order, ch.After.ID)
		}
		latest[ch.After.ID] = ch.After.Clone()
	}
	out := make([]Inspection, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// CommitHook runs under the store lock after rules pass and before state is
// swapped. An error aborts the transaction.
type CommitHook func(ctx context.Context, commit Commit) error

// AuditHook runs under the store lock with newly chained audit events before
// they become visible. An error aborts the append.
type AuditHook func(ctx context.Context, events []AuditEvent) error

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

// WithCommitHook installs a hook used by durable drivers to persist commits.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.commitHook = h }
}

// WithAuditHook installs a hook used by durable drivers to persist audit events.
func WithAuditHook(h AuditHook) Option {
	return func(s *Store) { s.auditHook = h }
}

type memoryState struct {
	inspections map[string]Inspection
	sequences   map[string]int64
	audit       map[string][]AuditEvent
	auditIDs    map[string]struct{}
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Inspections map[string]Inspection   `json:"inspections"`
	Sequences   map[string]int64        `json:"sequences"`
	Audit       map[string][]AuditEvent `json:"audit"`
}

func newMemoryState() memoryState {
	return memoryState{
		inspections: make(map[string]Inspection),
		sequences:   make(map[string]int64),
		audit:       make(map[string][]AuditEvent),
		auditIDs:    make(map[string]struct{}),
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Inspections {
		state.inspections[k] = v.Clone()
	}
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	for k, events := range s.Audit {
		cp := make([]AuditEvent, len(events))
		for i, e := range events {
			cp[i] = e.Clone()
			state.auditIDs[e.ID] = struct{}{}
		}
		state.audit[k] = cp
	}
	return state
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Inspections: make(map[string]Inspection, len(state.inspections)),
		Sequences:   make(map[string]int64, len(state.sequences)),
		Audit:       make(map[string][]AuditEvent, len(state.audit)),
	}
	for k, v := range state.inspections {
		s.Inspections[k] = v.Clone()
	}
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	for k, events := range state.audit {
		cp := make([]AuditEvent, len(events))
		for i, e := range events {
			cp[i] = e.Clone()
		}
		s.Audit[k] = cp
	}
	return s
}

// Store provides an in-memory transactional store. Transactions are
// serialised by a single mutex, which makes check-then-write atomic.
type Store struct {
	mu         sync.RWMutex
	state      memoryState
	engine     *RulesEngine
	nowFn      func() time.Time
	commitHook CommitHook
	auditHook  AuditHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store     *Store
	base      *memoryState
	overlay   map[string]Inspection
	sequences map[string]int64
	changes   []Change
	now       time.Time
}

type transactionView struct {
	base    *memoryState
	overlay map[string]Inspection
}

func (v transactionView) FindInspection(id string) (Inspection, bool) {
	if in, ok := v.overlay[id]; ok {
		return in.Clone(), true
	}
	in, ok := v.base.inspections[id]
	if !ok {
		return Inspection{}, false
	}
	return in.Clone(), true
}

func (v transactionView) ListInspections() []Inspection {
	out := make([]Inspection, 0, len(v.base.inspections)+len(v.overlay))
	for id, in := range v.base.inspections {
		if _, shadowed := v.overlay[id]; shadowed {
			continue
		}
		out = append(out, in.Clone())
	}
	for _, in := range v.overlay {
		out = append(out, in.Clone())
	}
	sortInspections(out)
	return out
}

// RunInTransaction executes fn against a copy-on-write overlay of the store
// state. Rules run on the overlay; the commit hook runs before the swap.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store:     s,
		base:      &s.state,
		overlay:   make(map[string]Inspection),
		sequences: make(map[string]int64),
		now:       s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.view(), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if s.commitHook != nil && (len(tx.changes) > 0 || len(tx.sequences) > 0) {
		if err := s.commitHook(ctx, Commit{Changes: tx.changes, Sequences: tx.sequences}); err != nil {
			return result, domain.PersistenceError{Op: "commit", Err: err}
		}
	}
	for id, in := range tx.overlay {
		s.state.inspections[id] = in
	}
	for scope, v := range tx.sequences {
		s.state.sequences[scope] = v
	}
	return result, nil
}

// View executes fn against a read-only view of the committed state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(transactionView{base: &s.state})
}

func (tx *transaction) view() transactionView {
	return transactionView{base: tx.base, overlay: tx.overlay}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView { return tx.view() }

// FindInspection looks up an inspection including uncommitted changes.
func (tx *transaction) FindInspection(id string) (Inspection, bool) {
	return tx.view().FindInspection(id)
}

// CreateInspection stores a new inspection within the transaction.
func (tx *transaction) CreateInspection(in Inspection) (Inspection, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if _, exists := tx.FindInspection(in.ID); exists {
		return Inspection{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("inspection %q already exists", in.ID)}
	}
	for _, existing := range tx.view().ListInspections() {
		if in.Code != "" && existing.Code == in.Code {
			return Inspection{}, domain.ValidationError{Field: "code", Reason: fmt.Sprintf("code %q already issued", in.Code)}
		}
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = tx.now
	}
	in.UpdatedAt = tx.now
	tx.overlay[in.ID] = in.Clone()
	after := in.Clone()
	tx.recordChange(Change{Entity: domain.EntityInspection, Action: domain.ActionCreate, After: &after})
	return in.Clone(), nil
}

// UpdateInspection mutates an inspection using the provided mutator function.
func (tx *transaction) UpdateInspection(id string, mutator func(*Inspection) error) (Inspection, error) {
	current, ok := tx.FindInspection(id)
	if !ok {
		return Inspection{}, domain.NotFoundError{Entity: domain.EntityInspection, ID: id}
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Inspection{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.overlay[id] = current.Clone()
	after := current.Clone()
	tx.recordChange(Change{Entity: domain.EntityInspection, Action: domain.ActionUpdate, Before: &before, After: &after})
	return current.Clone(), nil
}

// NextSequence advances a named counter.
func (tx *transaction) NextSequence(scope string) (int64, error) {
	if scope == "" {
		return 0, domain.ValidationError{Field: "scope", Reason: "required"}
	}
	v, ok := tx.sequences[scope]
	if !ok {
		v = tx.base.sequences[scope]
	}
	v++
	tx.sequences[scope] = v
	return v, nil
}

// GetInspection retrieves an inspection by ID.
func (s *Store) GetInspection(ctx context.Context, id string) (Inspection, error) {
	if err := ctx.Err(); err != nil {
		return Inspection{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.state.inspections[id]
	if !ok {
		return Inspection{}, domain.NotFoundError{Entity: domain.EntityInspection, ID: id}
	}
	return in.Clone(), nil
}

// ListInspections returns inspections matching filter ordered by creation.
func (s *Store) ListInspections(ctx context.Context, filter domain.InspectionFilter) ([]Inspection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Inspection, 0, len(s.state.inspections))
	for _, in := range s.state.inspections {
		if filter.Matches(in) {
			out = append(out, in.Clone())
		}
	}
	sortInspections(out)
	return out, nil
}

// AppendAudit chains and stores audit events. Events whose ID is already
// stored are skipped so a retried batch is idempotent.
func (s *Store) AppendAudit(ctx context.Context, events []AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]AuditEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, dup := s.state.auditIDs[e.ID]; dup {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}
	order, groups := domain.GroupAuditEvents(fresh)
	chained := make(map[string][]AuditEvent, len(order))
	var all []AuditEvent
	for _, id := range order {
		prev := ""
		if existing := s.state.audit[id]; len(existing) > 0 {
			prev = existing[len(existing)-1].Hash
		}
		linked := domain.ChainAuditEvents(prev, groups[id])
		chained[id] = linked
		all = append(all, linked...)
	}
	if s.auditHook != nil {
		if err := s.auditHook(ctx, all); err != nil {
			return domain.PersistenceError{Op: "append audit", Err: err}
		}
	}
	for _, id := range order {
		s.state.audit[id] = append(s.state.audit[id], chained[id]...)
		for _, e := range chained[id] {
			s.state.auditIDs[e.ID] = struct{}{}
		}
	}
	return nil
}

// ListAudit returns an inspection's audit events in append order.
func (s *Store) ListAudit(ctx context.Context, inspectionID string) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.state.audit[inspectionID]
	out := make([]AuditEvent, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func sortInspections(in []Inspection) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].CreatedAt.Before(in[j].CreatedAt)
		}
		return in[i].ID < in[j].ID
	})
}
