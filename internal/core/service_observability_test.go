package core

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"compliancecore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// captureLogger is shared with the recorder goroutine.
type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	c.calls = append(c.calls, entry)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func TestServiceObservabilityInspectionLifecycle(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}

	svc := newTestService(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)

	in := createTestInspection(t, svc)
	if !audit.has(opCreateInspection, AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == in.ID }) {
		t.Fatalf("expected audit entry for create_inspection success")
	}
	answerAll(t, svc, in.ID, map[string]domain.ResponseValue{"a": domain.ResponseNo})
	sample, err := svc.AddSample(ctx, in.ID, NewSample{SampleType: "water"}, "officer-1")
	if err != nil {
		t.Fatalf("add sample: %v", err)
	}
	if !audit.has(opAddSample, AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == sample.ID && e.Entity == EntitySample }) {
		t.Fatalf("expected audit entry keyed by sample id")
	}
	if _, err := svc.SubmitInspection(ctx, in.ID, "officer-1", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.AddSample(ctx, in.ID, NewSample{SampleType: "swab"}, "officer-1"); err == nil {
		t.Fatalf("expected add_sample after submit to fail")
	}
	if _, err := svc.GetInspectionDetails(ctx, in.ID); err != nil {
		t.Fatalf("details: %v", err)
	}

	for _, op := range []string{opCreateInspection, opSubmitResponses, opAddSample, opSubmitInspection, opGetInspectionDetails} {
		if !metrics.has(op, true) {
			t.Fatalf("expected metrics success entry for %s", op)
		}
		if !tracer.has(op, true) {
			t.Fatalf("expected finished span for %s", op)
		}
	}
	if !audit.has(opAddSample, AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "submitted") }) {
		t.Fatalf("expected audit error entry for rejected add_sample")
	}
	if !metrics.has(opAddSample, false) || !tracer.has(opAddSample, false) {
		t.Fatalf("expected failed add_sample to be measured and traced")
	}
	if audit.has(opGetInspectionDetails, AuditStatusSuccess, nil) {
		t.Fatalf("reads must not produce operation audit entries")
	}
	if logger.count("d:") == 0 || logger.count("e:") == 0 {
		t.Fatalf("expected debug and error logs, got %v", logger.calls)
	}
}

func TestRecordAuditSuccessUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	recorder := &captureAuditRecorder{}
	svc := newTestService(t, WithAuditRecorder(recorder), WithClock(ClockFunc(func() time.Time { return fixed })))

	svc.recordAuditSuccess(context.Background(), opSubmitInspection, "insp-1", 42*time.Millisecond)
	svc.recordAuditSuccess(context.Background(), "unknown_operation", "x", time.Second)

	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Entity != EntityInspection || entry.Action != ActionUpdate || entry.EntityID != "insp-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.Timestamp.Equal(fixed) || entry.Duration != 42*time.Millisecond {
		t.Fatalf("unexpected timing %+v", entry)
	}
}

func TestNoopImplementations(t *testing.T) {
	var logger noopLogger
	logger.Debug("noop")
	logger.Info("noop")
	logger.Warn("noop")
	logger.Error("noop")

	var audit noopAuditRecorder
	audit.Record(context.Background(), AuditEntry{})

	var metrics noopMetricsRecorder
	metrics.Observe(context.Background(), "noop", true, 0)

	ctx, span := noopTracer{}.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context from tracer")
	}
	span.End(nil)
}

func TestClockFunc(t *testing.T) {
	if got := ClockFunc(nil).Now(); got.IsZero() || got.Location() != time.UTC {
		t.Fatalf("expected non-zero UTC time, got %v", got)
	}
	local := time.Date(2026, 7, 4, 12, 0, 0, 0, time.FixedZone("offset", -5*3600))
	if got := ClockFunc(func() time.Time { return local }).Now(); !got.Equal(local) || got.Location() != time.UTC {
		t.Fatalf("expected UTC conversion, got %v", got)
	}
}

const (
	entryStatusSuccess = "success"
	entryStatusError   = "error"
)

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "test_op", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "test_op", false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Second)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["test_op"] != 15 {
		t.Fatalf("expected 15ms total, snapshot=%+v", snapshot)
	}
	if snapshot.Results["test_op"][entryStatusSuccess] != 1 || snapshot.Results["test_op"][entryStatusError] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}
	if len(snapshot.Results) != 1 {
		t.Fatalf("empty operation must be ignored: %+v", snapshot.Results)
	}
	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	recorder.Observe(context.Background(), opSubmitInspection, true, 20*time.Millisecond)
	recorder.Observe(context.Background(), opSubmitInspection, false, 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	var observations uint64
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "compliancecore_service_operations_total":
				counts[labelValue(m, "status")] += m.GetCounter().GetValue()
			case "compliancecore_service_operation_duration_seconds":
				observations += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if counts[entryStatusSuccess] != 1 || counts[entryStatusError] != 1 {
		t.Fatalf("unexpected counters %v", counts)
	}
	if observations != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observations)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "trace_op")
	span.End(nil)
	span.End(errors.New("ignored second end"))
	_, failed := tracer.Start(context.Background(), "trace_fail")
	failed.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two span entries, got %d", len(entries))
	}
	if entries[0].Operation != "trace_op" || entries[0].Status != entryStatusSuccess {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if entries[1].Status != entryStatusError || entries[1].Error != "boom" {
		t.Fatalf("unexpected failed span: %+v", entries[1])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
}
