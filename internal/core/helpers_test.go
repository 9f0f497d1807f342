package core

import (
	"context"
	"testing"
	"time"

	"compliancecore/internal/catalog"
	"compliancecore/pkg/domain"
)

// testCatalog is the three-indicator catalog used by the scoring scenarios:
// A(5, high), B(10, medium), C(3, low) with bands 15/35 and override at 5.
func testCatalog() *catalog.Static {
	return catalog.NewStatic(catalog.File{
		Pillars: []domain.Pillar{{ID: "p1", Name: "Premises", Order: 1}},
		Indicators: []domain.Indicator{
			{ID: "a", PillarID: "p1", Name: "A", Weight: 5, RiskLevel: domain.RiskHigh, Order: 1},
			{ID: "b", PillarID: "p1", Name: "B", Weight: 10, RiskLevel: domain.RiskMedium, Order: 2},
			{ID: "c", PillarID: "p1", Name: "C", Weight: 3, RiskLevel: domain.RiskLow, Order: 3},
		},
		Config: []domain.ConfigEntry{
			{Key: domain.ConfigLowRiskMaxScore, Value: "15", Type: domain.ConfigNumber},
			{Key: domain.ConfigMediumRiskMaxScore, Value: "35", Type: domain.ConfigNumber},
			{Key: domain.ConfigHighRiskIndicatorThreshold, Value: "5", Type: domain.ConfigNumber},
		},
	})
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	cat := testCatalog()
	base := []ServiceOption{WithCatalog(cat, cat)}
	return newTestServiceWithStore(t, NewMemoryStore(NewDefaultRulesEngine()), append(base, opts...)...)
}

func newTestServiceWithStore(t *testing.T, store PersistentStore, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

func createTestInspection(t *testing.T, svc *Service) Inspection {
	t.Helper()
	in, err := svc.CreateInspection(context.Background(), NewInspection{
		InstitutionID:   "inst-1",
		InstitutionName: "Riverside Hostel",
		DistrictCode:    "kmr",
		OfficerID:       "officer-1",
		InspectionType:  "routine",
	})
	if err != nil {
		t.Fatalf("create inspection: %v", err)
	}
	return in
}

// answerAll answers every snapshot indicator yes unless overridden.
func answerAll(t *testing.T, svc *Service, id string, overrides map[string]domain.ResponseValue) RiskScoreResult {
	t.Helper()
	in, err := svc.Store().GetInspection(context.Background(), id)
	if err != nil {
		t.Fatalf("get inspection: %v", err)
	}
	responses := make([]IndicatorResponse, 0, len(in.ConfigSnapshot.Indicators))
	for _, ind := range in.ConfigSnapshot.Indicators {
		value := domain.ResponseYes
		if v, ok := overrides[ind.ID]; ok {
			value = v
		}
		responses = append(responses, IndicatorResponse{IndicatorID: ind.ID, Response: value, Remarks: "checked"})
	}
	score, err := svc.SubmitResponses(context.Background(), id, responses, "officer-1")
	if err != nil {
		t.Fatalf("submit responses: %v", err)
	}
	return score
}

func respond(pairs ...string) []IndicatorResponse {
	out := make([]IndicatorResponse, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, IndicatorResponse{IndicatorID: pairs[i], Response: domain.ResponseValue(pairs[i+1]), Remarks: "noted"})
	}
	return out
}
