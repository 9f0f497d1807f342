// Package codes issues human-readable inspection codes of the form
// DISTRICT-YEAR-NNNNN, numbered per district and calendar year.
package codes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compliancecore/pkg/domain"
)

var _ domain.CodeGenerator = (*Generator)(nil)

// Sequencer hands out monotonically increasing numbers per scope.
type Sequencer interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// Generator formats codes from a Sequencer.
type Generator struct {
	seq Sequencer
}

// NewGenerator wraps seq.
func NewGenerator(seq Sequencer) *Generator { return &Generator{seq: seq} }

// Scope returns the counter scope for a district and year.
func Scope(district string, year int) string {
	return fmt.Sprintf("codes/%s/%d", district, year)
}

// NormalizeDistrict upper-cases and validates a district code.
func NormalizeDistrict(district string) (string, error) {
	d := strings.ToUpper(strings.TrimSpace(district))
	if d == "" {
		return "", domain.ValidationError{Field: "districtCode", Reason: "required"}
	}
	for _, r := range d {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", domain.ValidationError{Field: "districtCode", Reason: fmt.Sprintf("%q must be alphanumeric", district)}
		}
	}
	return d, nil
}

// NextCode implements domain.CodeGenerator.
func (g *Generator) NextCode(ctx context.Context, district string, at time.Time) (string, error) {
	d, err := NormalizeDistrict(district)
	if err != nil {
		return "", err
	}
	year := at.UTC().Year()
	n, err := g.seq.Next(ctx, Scope(d, year))
	if err != nil {
		return "", fmt.Errorf("next code for %s: %w", d, err)
	}
	return fmt.Sprintf("%s-%d-%05d", d, year, n), nil
}

// StoreSequencer keeps counters in the persistent store.
type StoreSequencer struct {
	store domain.PersistentStore
}

// NewStoreSequencer wraps store.
func NewStoreSequencer(store domain.PersistentStore) *StoreSequencer {
	return &StoreSequencer{store: store}
}

// Next advances scope inside its own transaction.
func (s *StoreSequencer) Next(ctx context.Context, scope string) (int64, error) {
	var n int64
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		n, err = tx.NextSequence(scope)
		return err
	})
	return n, err
}
