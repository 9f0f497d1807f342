package audit

import (
	"errors"
	"testing"
	"time"

	"compliancecore/pkg/domain"
)

func chainFixture() []domain.AuditEvent {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return domain.ChainAuditEvents("", []domain.AuditEvent{
		{ID: "e1", InspectionID: "i1", Sequence: 1, Action: domain.AuditCreated, PerformedBy: "o", Timestamp: base},
		{ID: "e2", InspectionID: "i1", Sequence: 2, Action: domain.AuditResponsesSubmitted, PerformedBy: "o", Timestamp: base.Add(time.Second), Details: map[string]string{"score": "15", "classification": "low"}},
		{ID: "e3", InspectionID: "i1", Sequence: 3, Action: domain.AuditSubmitted, PerformedBy: "o", Timestamp: base.Add(2 * time.Second)},
	})
}

func TestChainVerifies(t *testing.T) {
	events := chainFixture()
	if events[0].PrevHash != "" || events[1].PrevHash != events[0].Hash {
		t.Fatalf("events not linked: %+v", events)
	}
	if err := VerifyChain(events); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	cases := map[string]func([]domain.AuditEvent){
		"details edited":   func(e []domain.AuditEvent) { e[1].Details["score"] = "5" },
		"event removed":    func(e []domain.AuditEvent) { copy(e[1:], e[2:]) },
		"action rewritten": func(e []domain.AuditEvent) { e[2].Action = domain.AuditSampleAdded },
		"timestamp rewound": func(e []domain.AuditEvent) {
			e[2].Timestamp = e[0].Timestamp.Add(-time.Hour)
			e[2].Hash = domain.ComputeAuditHash(e[2])
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			events := chainFixture()
			mutate(events)
			var ce ChainError
			if err := VerifyChain(events); !errors.As(err, &ce) {
				t.Fatalf("expected chain error, got %v", err)
			}
		})
	}
}

func TestComputeHashIgnoresMapOrder(t *testing.T) {
	a := domain.AuditEvent{ID: "x", Details: map[string]string{"a": "1", "b": "2"}}
	b := domain.AuditEvent{ID: "x", Details: map[string]string{"b": "2", "a": "1"}}
	if domain.ComputeAuditHash(a) != domain.ComputeAuditHash(b) {
		t.Fatalf("hash depends on map order")
	}
}

func TestMergeDeduplicatesAndOrders(t *testing.T) {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	durable := []domain.AuditEvent{{ID: "a", Sequence: 1, Timestamp: base}}
	pending := []domain.AuditEvent{
		{ID: "c", Sequence: 3, Timestamp: base.Add(time.Second)},
		{ID: "a", Sequence: 1, Timestamp: base},
		{ID: "b", Sequence: 2, Timestamp: base},
	}
	got := Merge(durable, pending)
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("unexpected merge order %+v", got)
	}
}

func TestGroupByInspection(t *testing.T) {
	order, groups := domain.GroupAuditEvents([]domain.AuditEvent{
		{ID: "1", InspectionID: "b"}, {ID: "2", InspectionID: "a"}, {ID: "3", InspectionID: "b"},
	})
	if len(order) != 2 || order[0] != "b" || len(groups["b"]) != 2 || groups["b"][1].ID != "3" {
		t.Fatalf("unexpected grouping %v %+v", order, groups)
	}
}
