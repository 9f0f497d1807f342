package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"compliancecore/pkg/domain"
)

type fakeTicker struct{ ch chan time.Time }

func newFakeTicker() *fakeTicker { return &fakeTicker{ch: make(chan time.Time)} }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {}

func (f *fakeTicker) factory(time.Duration) Ticker { return f }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []domain.AuditEvent
	signal   chan int
}

func newRecordingSink(failures int) *recordingSink {
	return &recordingSink{failures: failures, signal: make(chan int, 64)}
}

func (s *recordingSink) AppendAudit(_ context.Context, events []domain.AuditEvent) error {
	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		s.signal <- -len(events)
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, events...)
	s.mu.Unlock()
	s.signal <- len(events)
	return nil
}

func (s *recordingSink) stored() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEvent(nil), s.events...)
}

func waitSignal(t *testing.T, s *recordingSink) int {
	t.Helper()
	select {
	case n := <-s.signal:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sink call")
		return 0
	}
}

func event(inspection string, action domain.AuditAction) domain.AuditEvent {
	return domain.AuditEvent{InspectionID: inspection, Action: action, PerformedBy: "officer-1"}
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	sink := newRecordingSink(0)
	ticker := newFakeTicker()
	rec := NewRecorder(sink, Config{BatchSize: 3, FlushInterval: time.Hour}, WithTicker(ticker.factory))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, event("i1", domain.AuditResponsesSubmitted)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if n := waitSignal(t, sink); n != 3 {
		t.Fatalf("expected batch of 3, got %d", n)
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRecorderFlushesOnTimer(t *testing.T) {
	sink := newRecordingSink(0)
	ticker := newFakeTicker()
	rec := NewRecorder(sink, Config{BatchSize: 100, FlushInterval: time.Hour}, WithTicker(ticker.factory))
	ctx := context.Background()
	if err := rec.Record(ctx, event("i1", domain.AuditCreated)); err != nil {
		t.Fatalf("record: %v", err)
	}
	pending, err := rec.Pending(ctx, "i1")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending event, got %d (%v)", len(pending), err)
	}
	ticker.ch <- time.Now()
	if n := waitSignal(t, sink); n != 1 {
		t.Fatalf("expected timed flush of 1, got %d", n)
	}
	pending, _ = rec.Pending(ctx, "i1")
	if len(pending) != 0 {
		t.Fatalf("expected no pending events after flush")
	}
	_ = rec.Close(ctx)
}

func TestRecorderRetriesFailedBatchWithoutLoss(t *testing.T) {
	sink := newRecordingSink(2)
	ticker := newFakeTicker()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := NewRecorder(sink, Config{BatchSize: 2, FlushInterval: time.Second, MinBackoff: 100 * time.Millisecond},
		WithTicker(ticker.factory), WithClock(clock.Now))
	ctx := context.Background()
	_ = rec.Record(ctx, event("i1", domain.AuditCreated))
	_ = rec.Record(ctx, event("i1", domain.AuditResponsesSubmitted))
	if n := waitSignal(t, sink); n != -2 {
		t.Fatalf("expected failed flush of 2, got %d", n)
	}

	// Within the backoff window a tick does not hit the sink.
	ticker.ch <- time.Now()
	if err := rec.Record(ctx, event("i1", domain.AuditSampleAdded)); err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case n := <-sink.signal:
		t.Fatalf("unexpected sink call during backoff: %d", n)
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(150 * time.Millisecond)
	ticker.ch <- time.Now()
	if n := waitSignal(t, sink); n != -3 {
		t.Fatalf("expected second failed flush of 3, got %d", n)
	}

	// Explicit flush ignores backoff.
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := waitSignal(t, sink); n != 3 {
		t.Fatalf("expected successful flush of 3, got %d", n)
	}
	stored := sink.stored()
	if len(stored) != 3 {
		t.Fatalf("expected all events stored, got %d", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].Sequence <= stored[i-1].Sequence {
			t.Fatalf("sequence not increasing: %+v", stored)
		}
	}
	_ = rec.Close(ctx)
}

func TestRecorderConcurrentProducers(t *testing.T) {
	sink := newRecordingSink(0)
	sink.signal = make(chan int, 4096)
	ticker := newFakeTicker()
	rec := NewRecorder(sink, Config{BatchSize: 7, QueueSize: 8, FlushInterval: time.Hour}, WithTicker(ticker.factory))
	ctx := context.Background()
	const producers, perProducer = 16, 40
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e := event(fmt.Sprintf("insp-%d", p), domain.AuditResponsesSubmitted)
				e.Details = map[string]string{"n": fmt.Sprint(i)}
				if err := rec.Record(ctx, e); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	stored := sink.stored()
	if len(stored) != producers*perProducer {
		t.Fatalf("expected %d events, got %d", producers*perProducer, len(stored))
	}
	ids := make(map[string]struct{}, len(stored))
	last := make(map[string]int)
	for i, e := range stored {
		ids[e.ID] = struct{}{}
		if i > 0 && e.Sequence <= stored[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing at %d", i)
		}
		var n int
		fmt.Sscan(e.Details["n"], &n)
		if prev, ok := last[e.InspectionID]; ok && n <= prev {
			t.Fatalf("per-producer order broken for %s", e.InspectionID)
		}
		last[e.InspectionID] = n
	}
	if len(ids) != len(stored) {
		t.Fatalf("duplicate event ids")
	}
	if err := rec.Record(ctx, event("late", domain.AuditCreated)); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("expected ErrRecorderClosed, got %v", err)
	}
}

func TestRecorderTimestampsNonDecreasing(t *testing.T) {
	sink := newRecordingSink(0)
	ticker := newFakeTicker()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := NewRecorder(sink, Config{BatchSize: 10, FlushInterval: time.Hour}, WithTicker(ticker.factory), WithClock(clock.Now))
	ctx := context.Background()
	_ = rec.Record(ctx, event("i1", domain.AuditCreated))
	if _, err := rec.Pending(ctx, "i1"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	clock.Advance(-time.Minute)
	_ = rec.Record(ctx, event("i1", domain.AuditSampleAdded))
	pending, _ := rec.Pending(ctx, "i1")
	if len(pending) != 2 || pending[1].Timestamp.Before(pending[0].Timestamp) {
		t.Fatalf("timestamps moved backwards: %+v", pending)
	}
	_ = rec.Close(ctx)
}

func TestRecorderCloseGivesUpWhenContextEnds(t *testing.T) {
	sink := newRecordingSink(1 << 20)
	sink.signal = make(chan int, 1<<16)
	ticker := newFakeTicker()
	rec := NewRecorder(sink, Config{FlushInterval: 10 * time.Millisecond, MinBackoff: time.Millisecond}, WithTicker(ticker.factory))
	_ = rec.Record(context.Background(), event("i1", domain.AuditCreated))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rec.Close(ctx); err == nil {
		t.Fatalf("expected close to report lost events")
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m.SetBuffered(4)
	m.ObserveFlush(4, nil)
	m.ObserveFlush(2, errors.New("x"))
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}
	if values["compliancecore_audit_buffered_events"] != 4 ||
		values["compliancecore_audit_flushed_events_total"] != 4 ||
		values["compliancecore_audit_flush_failures_total"] != 1 {
		t.Fatalf("unexpected metric values %v", values)
	}
	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestMergeKeepsDurableOrderAndSortsPending(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	durable := []domain.AuditEvent{
		{ID: "d1", InspectionID: "i", Sequence: 7, Timestamp: at},
		{ID: "d2", InspectionID: "i", Sequence: 2, Timestamp: at},
		{ID: "d3", InspectionID: "i", Sequence: 1, Timestamp: at.Add(time.Millisecond)},
	}
	pending := []domain.AuditEvent{
		{ID: "p2", InspectionID: "i", Sequence: 5, Timestamp: at.Add(3 * time.Millisecond)},
		{ID: "d3", InspectionID: "i", Sequence: 1, Timestamp: at.Add(time.Millisecond)},
		{ID: "p1", InspectionID: "i", Sequence: 4, Timestamp: at.Add(2 * time.Millisecond)},
	}
	got := Merge(durable, pending)
	want := []string{"d1", "d2", "d3", "p1", "p2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
