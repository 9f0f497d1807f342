package core

import (
	"time"

	"compliancecore/internal/audit"
	"compliancecore/internal/evidence"
	"compliancecore/pkg/domain"
)

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for snapshots, submissions and audit
// entries.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditRecorder sets the operation-level audit recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithCatalog sets the live indicator catalog and threshold source.
func WithCatalog(indicators domain.IndicatorCatalog, thresholds domain.ThresholdSource) ServiceOption {
	return func(s *Service) {
		if indicators != nil {
			s.catalog = indicators
		}
		if thresholds != nil {
			s.thresholds = thresholds
		}
	}
}

// WithCodeGenerator sets the inspection code generator.
func WithCodeGenerator(gen domain.CodeGenerator) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.codes = gen
		}
	}
}

// WithEvidenceStore sets where photo content is stored.
func WithEvidenceStore(store evidence.Store) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.evidence = store
		}
	}
}

// WithAuditSink sets the durable audit history used by the service-owned
// recorder and by detail reads. Defaults to the persistent store.
func WithAuditSink(sink domain.AuditSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithAuditTrail supplies an externally owned trail recorder. The service
// does not close it.
func WithAuditTrail(trail AuditTrail) ServiceOption {
	return func(s *Service) {
		if trail != nil {
			s.trail = trail
		}
	}
}

// WithRecorderConfig tunes the service-owned audit recorder.
func WithRecorderConfig(cfg audit.Config, opts ...audit.Option) ServiceOption {
	return func(s *Service) {
		s.recorderCfg = cfg
		s.recorderOpts = append(s.recorderOpts, opts...)
	}
}

// WithStoreTimeout bounds each persistence call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithReadAttempts sets how many times a read is tried on PersistenceError.
func WithReadAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.readAttempts = n
		}
	}
}

func withCloser(fn closeFunc) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}
