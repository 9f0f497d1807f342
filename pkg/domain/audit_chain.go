package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// AuditTimestampPrecision is the resolution audit timestamps are truncated to
// so every sink round-trips them exactly and hashes stay verifiable.
const AuditTimestampPrecision = time.Millisecond

type auditHashInput struct {
	ID           string            `json:"id"`
	InspectionID string            `json:"inspection_id"`
	Sequence     uint64            `json:"sequence"`
	Action       string            `json:"action"`
	PerformedBy  string            `json:"performed_by"`
	Details      map[string]string `json:"details"`
	Timestamp    string            `json:"timestamp"`
	PrevHash     string            `json:"prev_hash"`
}

// ComputeAuditHash returns the SHA-256 over the event's content and PrevHash.
// The Hash field itself is ignored.
func ComputeAuditHash(e AuditEvent) string {
	// encoding/json sorts map keys, which keeps Details canonical. Empty and
	// nil Details hash alike since sinks may drop empty maps.
	details := e.Details
	if len(details) == 0 {
		details = nil
	}
	payload, _ := json.Marshal(auditHashInput{
		ID:           e.ID,
		InspectionID: e.InspectionID,
		Sequence:     e.Sequence,
		Action:       string(e.Action),
		PerformedBy:  e.PerformedBy,
		Details:      details,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:     e.PrevHash,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ChainAuditEvents links events onto prevHash in order, returning copies with
// PrevHash and Hash set. Callers pass the events of a single inspection.
func ChainAuditEvents(prevHash string, events []AuditEvent) []AuditEvent {
	out := make([]AuditEvent, len(events))
	for i, e := range events {
		e = e.Clone()
		e.PrevHash = prevHash
		e.Hash = ComputeAuditHash(e)
		prevHash = e.Hash
		out[i] = e
	}
	return out
}

// GroupAuditEvents splits a batch into per-inspection runs, preserving order
// within each inspection and the order in which inspections first appear.
func GroupAuditEvents(events []AuditEvent) (order []string, groups map[string][]AuditEvent) {
	groups = make(map[string][]AuditEvent)
	for _, e := range events {
		if _, ok := groups[e.InspectionID]; !ok {
			order = append(order, e.InspectionID)
		}
		groups[e.InspectionID] = append(groups[e.InspectionID], e)
	}
	return order, groups
}
