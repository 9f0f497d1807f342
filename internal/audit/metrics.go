package audit

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics exports recorder state through client_golang collectors.
type PrometheusMetrics struct {
	buffered prometheus.Gauge
	flushed  prometheus.Counter
	failures prometheus.Counter
}

// NewPrometheusMetrics registers the recorder collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "compliancecore",
			Subsystem: "audit",
			Name:      "buffered_events",
			Help:      "Audit events accepted but not yet flushed to the sink.",
		}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compliancecore",
			Subsystem: "audit",
			Name:      "flushed_events_total",
			Help:      "Audit events durably appended to the sink.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compliancecore",
			Subsystem: "audit",
			Name:      "flush_failures_total",
			Help:      "Failed audit flush attempts.",
		}),
	}
	for _, c := range []prometheus.Collector{m.buffered, m.flushed, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetBuffered implements Metrics.
func (m *PrometheusMetrics) SetBuffered(n int) { m.buffered.Set(float64(n)) }

// ObserveFlush implements Metrics.
func (m *PrometheusMetrics) ObserveFlush(events int, err error) {
	if err != nil {
		m.failures.Inc()
		return
	}
	m.flushed.Add(float64(events))
}
