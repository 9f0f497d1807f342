package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"compliancecore/pkg/domain"
)

func TestRecordRoundTripPreservesHash(t *testing.T) {
	e := domain.ChainAuditEvents("", []domain.AuditEvent{{
		ID:           "e1",
		InspectionID: "i1",
		Sequence:     7,
		Action:       domain.AuditSampleAdded,
		PerformedBy:  "officer",
		Details:      map[string]string{"sample": "S-1"},
		Timestamp:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}})[0]
	back := toRecord(e, 3).event()
	if back.Hash != domain.ComputeAuditHash(back) || back.Sequence != 7 || back.Details["sample"] != "S-1" {
		t.Fatalf("record round trip changed the event: %+v", back)
	}
}

func TestMongoSinkAppendsChain(t *testing.T) {
	uri := os.Getenv("COMPLIANCECORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COMPLIANCECORE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink, err := Connect(ctx, uri, "compliancecore_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close(context.Background()) })

	inspectionID := uuid.NewString()
	ts := time.Now().UTC().Truncate(domain.AuditTimestampPrecision)
	batch := []domain.AuditEvent{
		{ID: uuid.NewString(), InspectionID: inspectionID, Sequence: 1, Action: domain.AuditCreated, PerformedBy: "o", Timestamp: ts},
		{ID: uuid.NewString(), InspectionID: inspectionID, Sequence: 2, Action: domain.AuditResponsesSubmitted, PerformedBy: "o", Timestamp: ts, Details: map[string]string{}},
	}
	if err := sink.AppendAudit(ctx, batch[:1]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sink.AppendAudit(ctx, batch); err != nil {
		t.Fatalf("append retry: %v", err)
	}
	events, err := sink.ListAudit(ctx, inspectionID)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 events, got %d (%v)", len(events), err)
	}
	if events[1].PrevHash != events[0].Hash {
		t.Fatalf("chain not linked")
	}
	for i, e := range events {
		if e.Hash != domain.ComputeAuditHash(e) {
			t.Fatalf("event %d hash mismatch after round trip", i)
		}
	}
}
