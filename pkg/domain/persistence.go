package domain

import (
	"context"
	"time"
)

// Transaction exposes the inspection operations a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateInspection(Inspection) (Inspection, error)
	UpdateInspection(id string, mutator func(*Inspection) error) (Inspection, error)
	FindInspection(id string) (Inspection, bool)
	// NextSequence returns the next value of a named monotonic counter.
	NextSequence(scope string) (int64, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListInspections() []Inspection
	FindInspection(id string) (Inspection, bool)
}

// InspectionFilter narrows ListInspections. Zero values match everything.
type InspectionFilter struct {
	DistrictCode string
	Status       InspectionStatus
}

// Matches reports whether the inspection satisfies the filter.
func (f InspectionFilter) Matches(in Inspection) bool {
	if f.DistrictCode != "" && in.DistrictCode != f.DistrictCode {
		return false
	}
	if f.Status != "" && in.Status != f.Status {
		return false
	}
	return true
}

// AuditSink durably appends audit events. Implementations assign the hash
// chain and must ignore events whose ID was already stored.
type AuditSink interface {
	AppendAudit(ctx context.Context, events []AuditEvent) error
	ListAudit(ctx context.Context, inspectionID string) ([]AuditEvent, error)
}

// PersistentStore is the abstraction over durable backends used by the
// orchestrator.
type PersistentStore interface {
	AuditSink
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetInspection(ctx context.Context, id string) (Inspection, error)
	ListInspections(ctx context.Context, filter InspectionFilter) ([]Inspection, error)
	Close() error
}

// IndicatorCatalog supplies the live indicator and pillar catalog.
type IndicatorCatalog interface {
	ListIndicators(ctx context.Context) ([]Indicator, error)
	ListPillars(ctx context.Context) ([]Pillar, error)
}

// ThresholdSource supplies raw threshold configuration rows.
type ThresholdSource interface {
	ListConfig(ctx context.Context) ([]ConfigEntry, error)
}

// CodeGenerator issues human-readable inspection codes.
type CodeGenerator interface {
	NextCode(ctx context.Context, districtCode string, at time.Time) (string, error)
}
