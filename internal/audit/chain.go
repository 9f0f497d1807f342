// Package audit implements the buffered, append-only audit trail recorder
// and verification of the per-inspection hash chain.
package audit

import (
	"fmt"
	"time"

	"compliancecore/pkg/domain"
)

// ChainError reports where verification of a chain failed.
type ChainError struct {
	Index   int
	EventID string
	Reason  string
}

func (e ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at %d (%s): %s", e.Index, e.EventID, e.Reason)
}

// VerifyChain checks that the events of one inspection, in stored order, form
// an unbroken hash chain with non-decreasing timestamps.
func VerifyChain(events []domain.AuditEvent) error {
	prev := ""
	var last time.Time
	for i, e := range events {
		if e.PrevHash != prev {
			return ChainError{Index: i, EventID: e.ID, Reason: "previous hash mismatch"}
		}
		if got := domain.ComputeAuditHash(e); got != e.Hash {
			return ChainError{Index: i, EventID: e.ID, Reason: "content hash mismatch"}
		}
		if i > 0 && e.Timestamp.Before(last) {
			return ChainError{Index: i, EventID: e.ID, Reason: "timestamp moved backwards"}
		}
		prev = e.Hash
		last = e.Timestamp
	}
	return nil
}
