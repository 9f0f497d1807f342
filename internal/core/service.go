// Package core hosts the inspection service: it composes the catalog,
// scoring, lifecycle guard, persistence and audit trail into the public
// operations.
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"compliancecore/internal/audit"
	"compliancecore/internal/catalog"
	"compliancecore/internal/codes"
	"compliancecore/internal/evidence"
	"compliancecore/pkg/domain"
)

// Operation names used for tracing, metrics and operation audit entries.
const (
	opGetFormConfig        = "get_form_config"
	opCalculateRiskScore   = "calculate_risk_score"
	opCreateInspection     = "create_inspection"
	opSubmitResponses      = "submit_responses"
	opSubmitInspection     = "submit_inspection"
	opAddSample            = "add_sample"
	opDispatchSample       = "dispatch_sample"
	opAddPhoto             = "add_photo"
	opGetInspectionDetails = "get_inspection_details"
	opGetStats             = "get_stats"
	opReaudit              = "reaudit"
	opVerifyInspection     = "verify_inspection"
)

const (
	defaultReadAttempts = 3
	readRetryBackoff    = 50 * time.Millisecond
)

// AuditTrail is the buffered recorder of inspection audit events.
// *audit.Recorder implements it.
type AuditTrail interface {
	Record(ctx context.Context, event AuditEvent) error
	Pending(ctx context.Context, inspectionID string) ([]AuditEvent, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Service exposes the inspection operations. It is safe for concurrent use.
type Service struct {
	store      PersistentStore
	catalog    domain.IndicatorCatalog
	thresholds domain.ThresholdSource
	codes      domain.CodeGenerator
	evidence   evidence.Store
	sink       domain.AuditSink

	trail        AuditTrail
	ownsTrail    bool
	recorderCfg  audit.Config
	recorderOpts []audit.Option

	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
	now     func() time.Time

	storeTimeout time.Duration
	readAttempts int

	closers   []closeFunc
	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a service over store. Collaborators not supplied
// through options default to the built-in catalog, store-backed code
// counters, an in-memory evidence store and a recorder flushing to store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	svc := &Service{
		store:        store,
		sink:         store,
		logger:       noopLogger{},
		audit:        noopAuditRecorder{},
		metrics:      noopMetricsRecorder{},
		tracer:       noopTracer{},
		storeTimeout: DefaultStoreTimeout,
		readAttempts: defaultReadAttempts,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.catalog == nil || svc.thresholds == nil {
		def := catalog.Default()
		if svc.catalog == nil {
			svc.catalog = def
		}
		if svc.thresholds == nil {
			svc.thresholds = def
		}
	}
	if svc.codes == nil {
		svc.codes = codes.NewGenerator(codes.NewStoreSequencer(store))
	}
	if svc.evidence == nil {
		svc.evidence = evidence.NewMemory()
	}
	svc.now = selectNowFunc(store, svc.clock)
	if svc.clock == nil {
		svc.clock = ClockFunc(svc.now)
	}
	if svc.trail == nil {
		recOpts := append([]audit.Option{audit.WithClock(svc.now), audit.WithLogger(svc.logger)}, svc.recorderOpts...)
		svc.trail = audit.NewRecorder(svc.sink, svc.recorderCfg, recOpts...)
		svc.ownsTrail = true
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(NewMemoryStore(engine), opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// Evidence returns the evidence store photos are written to.
func (s *Service) Evidence() evidence.Store { return s.evidence }

// Flush forces buffered audit events to the sink.
func (s *Service) Flush(ctx context.Context) error { return s.trail.Flush(ctx) }

// Close flushes and stops a service-owned recorder, then releases resources
// opened by OpenService. The store is closed only when OpenService opened it.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.ownsTrail {
			if err := s.trail.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

// selectNowFunc prefers an explicit clock, then the store's clock so service
// and store timestamps agree, then the wall clock.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return func() time.Time { return time.Now().UTC() }
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// run wraps an operation with tracing, metrics, logging and operation audit.
// fn returns the id of the entity it acted on.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	entityID, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("core operation failed", "operation", op, "entity_id", entityID, "kind", string(domain.KindOf(err)), "error", err)
		s.recordAuditError(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("core operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// write runs fn in a single store transaction. Writes are never retried: a
// failure may have been committed server-side, and retrying a submit must
// observe the committed state instead.
func (s *Service) write(ctx context.Context, op string, fn func(Transaction) error) error {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	res, err := s.store.RunInTransaction(callCtx, fn)
	for _, w := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op, "rule", w.Rule, "entity_id", w.EntityID, "message", w.Message)
	}
	return asPersistenceError(op, err)
}

// read retries fn on PersistenceError, sharing the caller's deadline.
func (s *Service) read(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.readAttempts; attempt++ {
		callCtx, cancel := s.storeContext(ctx)
		err = asPersistenceError(op, fn(callCtx))
		cancel()
		var perr domain.PersistenceError
		if err == nil || !errors.As(err, &perr) || attempt == s.readAttempts {
			return err
		}
		s.logger.Warn("retrying store read", "operation", op, "attempt", attempt, "error", err)
		timer := time.NewTimer(time.Duration(attempt) * readRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// asPersistenceError classifies a store deadline as a persistence failure.
func asPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr domain.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.PersistenceError{Op: op, Err: err}
	}
	return err
}

// recordEvent hands a domain event to the trail. The operation has already
// committed, so failures are logged rather than returned.
func (s *Service) recordEvent(ctx context.Context, event AuditEvent) {
	if err := s.trail.Record(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("audit event not recorded", "inspection_id", event.InspectionID, "action", string(event.Action), "error", err)
	}
}

// ErrorKind classifies err within the domain error taxonomy.
func ErrorKind(err error) domain.ErrorKind { return domain.KindOf(err) }
