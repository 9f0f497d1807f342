package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"compliancecore/pkg/domain"
)

// Defaults applied when Config fields are zero.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultQueueSize     = 1024
	DefaultMinBackoff    = 100 * time.Millisecond
)

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("audit recorder closed")

// Appender is the durable side of the audit trail.
type Appender interface {
	AppendAudit(ctx context.Context, events []domain.AuditEvent) error
}

// Logger matches the structured logger used across services.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives recorder instrumentation.
type Metrics interface {
	SetBuffered(n int)
	ObserveFlush(events int, err error)
}

// Ticker abstracts time.Ticker so tests can drive timed flushes.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Config tunes batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	MinBackoff    time.Duration
	// FlushTimeout bounds a single sink call. Defaults to FlushInterval.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MinBackoff > c.FlushInterval {
		c.MinBackoff = c.FlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = c.FlushInterval
	}
	return c
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source used for event timestamps and backoff.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTicker overrides the flush timer factory.
func WithTicker(factory func(time.Duration) Ticker) Option {
	return func(r *Recorder) {
		if factory != nil {
			r.newTicker = factory
		}
	}
}

// WithLogger sets the logger used for flush failures.
func WithLogger(logger Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches instrumentation.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

type cmdKind int

const (
	cmdRecord cmdKind = iota
	cmdPending
	cmdFlush
	cmdClose
)

type command struct {
	kind    cmdKind
	ctx     context.Context
	event   domain.AuditEvent
	id      string
	pending chan []domain.AuditEvent
	errc    chan error
}

// Recorder buffers audit events and flushes them to an Appender from a single
// writer goroutine. The buffer is owned by that goroutine; producers only send
// commands on a bounded channel.
//
// Failed flushes keep the batch and retry with exponential backoff capped at
// the flush interval. Events still buffered when the process exits are lost.
type Recorder struct {
	sink      Appender
	cfg       Config
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	logger    Logger
	metrics   Metrics

	cmds chan command
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	// writer-owned state
	buf         []domain.AuditEvent
	seq         uint64
	lastTS      time.Time
	backoff     time.Duration
	nextAttempt time.Time
}

// NewRecorder starts a recorder writing to sink.
func NewRecorder(sink Appender, cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		sink:      sink,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		newTicker: func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} },
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cmds = make(chan command, r.cfg.QueueSize)
	ticker := r.newTicker(r.cfg.FlushInterval)
	go r.run(ticker)
	return r
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config { return r.cfg }

// Record enqueues an event. It blocks only while the queue is full. The writer
// assigns Sequence and Timestamp; an empty ID is filled with a UUID.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return r.send(ctx, command{kind: cmdRecord, event: event.Clone()})
}

// Pending returns buffered events for an inspection that have not been
// flushed yet, in recording order.
func (r *Recorder) Pending(ctx context.Context, inspectionID string) ([]domain.AuditEvent, error) {
	reply := make(chan []domain.AuditEvent, 1)
	if err := r.send(ctx, command{kind: cmdPending, id: inspectionID, pending: reply}); err != nil {
		if errors.Is(err, ErrRecorderClosed) {
			return nil, nil
		}
		return nil, err
	}
	select {
	case events := <-reply:
		return events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush forces the buffer to the sink, ignoring any backoff. It returns the
// sink error when the flush fails; the batch stays buffered for retry.
func (r *Recorder) Flush(ctx context.Context) error {
	errc := make(chan error, 1)
	if err := r.send(ctx, command{kind: cmdFlush, ctx: ctx, errc: errc}); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and flushes what is buffered, retrying until ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.closed = true
	r.mu.Unlock()

	errc := make(chan error, 1)
	select {
	case r.cmds <- command{kind: cmdClose, ctx: ctx, errc: errc}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		<-r.done
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) send(ctx context.Context, cmd command) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run(ticker Ticker) {
	defer close(r.done)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-r.cmds:
			switch cmd.kind {
			case cmdRecord:
				r.append(cmd.event)
				if len(r.buf) >= r.cfg.BatchSize {
					_ = r.flush(context.Background(), false)
				}
			case cmdPending:
				cmd.pending <- r.pendingFor(cmd.id)
			case cmdFlush:
				cmd.errc <- r.flush(cmd.ctx, true)
			case cmdClose:
				cmd.errc <- r.drain(cmd.ctx)
				return
			}
		case <-ticker.C():
			_ = r.flush(context.Background(), false)
		}
	}
}

func (r *Recorder) append(e domain.AuditEvent) {
	r.seq++
	e.Sequence = r.seq
	ts := r.now().UTC().Truncate(domain.AuditTimestampPrecision)
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	r.lastTS = ts
	e.Timestamp = ts
	e.PrevHash, e.Hash = "", ""
	r.buf = append(r.buf, e)
	r.metrics.SetBuffered(len(r.buf))
}

func (r *Recorder) pendingFor(id string) []domain.AuditEvent {
	var out []domain.AuditEvent
	for _, e := range r.buf {
		if e.InspectionID == id {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (r *Recorder) flush(ctx context.Context, force bool) error {
	if len(r.buf) == 0 {
		return nil
	}
	now := r.now()
	if !force && now.Before(r.nextAttempt) {
		return nil
	}
	batch := make([]domain.AuditEvent, len(r.buf))
	for i, e := range r.buf {
		batch[i] = e.Clone()
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.FlushTimeout)
	err := r.sink.AppendAudit(callCtx, batch)
	cancel()
	r.metrics.ObserveFlush(len(batch), err)
	if err != nil {
		if r.backoff == 0 {
			r.backoff = r.cfg.MinBackoff
		} else {
			r.backoff *= 2
		}
		if r.backoff > r.cfg.FlushInterval {
			r.backoff = r.cfg.FlushInterval
		}
		r.nextAttempt = now.Add(r.backoff)
		r.logger.Warn("audit flush failed", "events", len(batch), "retry_in", r.backoff, "error", err)
		return err
	}
	r.buf = r.buf[:0]
	r.backoff = 0
	r.nextAttempt = time.Time{}
	r.metrics.SetBuffered(0)
	r.logger.Debug("audit flushed", "events", len(batch))
	return nil
}

func (r *Recorder) drain(ctx context.Context) error {
	for {
		err := r.flush(ctx, true)
		if err == nil {
			return nil
		}
		wait := r.backoff
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Error("audit events lost on close", "events", len(r.buf), "error", err)
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// SortEvents orders events by timestamp then sequence.
func SortEvents(events []domain.AuditEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Sequence < b.Sequence
	})
}

// Merge returns durable events in their stored chain order followed by the
// pending events not yet durable, ordered by timestamp then sequence.
func Merge(durable, pending []domain.AuditEvent) []domain.AuditEvent {
	out := make([]domain.AuditEvent, 0, len(durable)+len(pending))
	seen := make(map[string]struct{}, len(durable))
	for _, e := range durable {
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	tail := make([]domain.AuditEvent, 0, len(pending))
	for _, e := range pending {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		tail = append(tail, e)
	}
	SortEvents(tail)
	return append(out, tail...)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) SetBuffered(int)         {}
func (noopMetrics) ObserveFlush(int, error) {}
