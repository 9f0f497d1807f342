package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testSnapshot() ConfigSnapshot {
	return ConfigSnapshot{
		Thresholds: Thresholds{LowRiskMaxScore: 15, MediumRiskMaxScore: 35, HighRiskIndicatorThreshold: 5},
		Indicators: []Indicator{
			{ID: "A", PillarID: "P1", Name: "Handwash", Weight: 5, RiskLevel: RiskHigh},
			{ID: "B", PillarID: "P1", Name: "Storage", Weight: 10, RiskLevel: RiskMedium},
			{ID: "C", PillarID: "P2", Name: "Signage", Weight: 3, RiskLevel: RiskLow},
		},
		Pillars: []Pillar{{ID: "P1", Name: "Hygiene"}, {ID: "P2", Name: "Admin"}},
	}
}

func TestMergeResponsesReplacesByIndicator(t *testing.T) {
	d := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()})
	if err := d.MergeResponses([]IndicatorResponse{{IndicatorID: "A", Response: ResponseYes}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := d.MergeResponses([]IndicatorResponse{{IndicatorID: "A", Response: ResponseNo, Remarks: "dirty"}, {IndicatorID: "B", Response: ResponseNA}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := d.Responses()
	if len(got) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(got))
	}
	if got[0].IndicatorID != "A" || got[0].Response != ResponseNo || got[0].Remarks != "dirty" {
		t.Fatalf("expected replaced response for A, got %+v", got[0])
	}
}

func TestMergeResponsesRejectsBadInput(t *testing.T) {
	d := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()})
	err := d.MergeResponses([]IndicatorResponse{{IndicatorID: "Z", Response: ResponseNo}})
	var nf NotFoundError
	if !errors.As(err, &nf) || nf.Entity != EntityIndicator || nf.ID != "Z" {
		t.Fatalf("expected indicator not found, got %v", err)
	}
	err = d.MergeResponses([]IndicatorResponse{{IndicatorID: "A", Response: "maybe"}})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(d.Responses()) != 0 {
		t.Fatalf("failed merge must not change responses")
	}
}

func TestSubmitRequiresCompleteness(t *testing.T) {
	d := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()})
	_ = d.MergeResponses([]IndicatorResponse{{IndicatorID: "A", Response: ResponseYes}, {IndicatorID: "B", Response: ResponseNo}})
	_, err := d.Submit("officer", "", time.Now())
	var inc IncompleteDataError
	if !errors.As(err, &inc) {
		t.Fatalf("expected incomplete data error, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 of 3") {
		t.Fatalf("expected diagnostic count in message, got %q", err.Error())
	}
	_ = d.MergeResponses([]IndicatorResponse{{IndicatorID: "C", Response: ResponseYes}})
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sub, err := d.Submit("officer", "fix storage", at)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	in := sub.Inspection()
	if in.Status != StatusSubmitted || in.SubmittedBy != "officer" || !sub.SubmittedAt().Equal(at) {
		t.Fatalf("unexpected submitted record %+v", in)
	}
	if in.Recommendations != "fix storage" {
		t.Fatalf("expected recommendations to be stored")
	}
	if d.Inspection().Status != StatusDraft {
		t.Fatalf("submit must not mutate the draft value")
	}
}

func TestAsDraftRejectsSubmitted(t *testing.T) {
	_, err := AsDraft(Inspection{Base: Base{ID: "i1"}, Status: StatusSubmitted}, "submit_responses")
	var iv ImmutabilityViolation
	if !errors.As(err, &iv) || iv.Op != "submit_responses" {
		t.Fatalf("expected immutability violation, got %v", err)
	}
	if _, ok := AsSubmitted(Inspection{Status: StatusDraft}); ok {
		t.Fatalf("draft must not narrow to submitted")
	}
}

func TestDispatchSampleFreezesSample(t *testing.T) {
	d := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()})
	if err := d.AddSample(Sample{ID: "s1", SampleCode: "S-1", SampleType: "water"}); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	if err := d.AddSample(Sample{ID: "s1", SampleType: "water"}); KindOf(err) != KindValidation {
		t.Fatalf("expected duplicate sample rejection, got %v", err)
	}
	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	s, err := d.DispatchSample("s1", "State Lab", "officer", at)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if s.Status != SampleDispatched || s.LabName != "State Lab" || s.DispatchedAt == nil {
		t.Fatalf("unexpected dispatched sample %+v", s)
	}
	if _, err := d.DispatchSample("s1", "Other Lab", "officer", at); KindOf(err) != KindImmutable {
		t.Fatalf("expected immutability violation on re-dispatch, got %v", err)
	}
	if _, err := d.DispatchSample("missing", "Lab", "officer", at); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddPhotoValidatesIndicator(t *testing.T) {
	d := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()})
	if err := d.AddPhoto(Photo{ID: "p1", EvidenceKey: "k", IndicatorID: "Q"}); KindOf(err) != KindNotFound {
		t.Fatalf("expected unknown indicator rejection, got %v", err)
	}
	if err := d.AddPhoto(Photo{ID: "p1", EvidenceKey: "k", IndicatorID: "A"}); err != nil {
		t.Fatalf("add photo: %v", err)
	}
	if len(d.Inspection().Photos) != 1 {
		t.Fatalf("expected photo appended")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := NewDraft(Inspection{Base: Base{ID: "i1"}, ConfigSnapshot: testSnapshot()}).Inspection()
	orig.Responses = append(orig.Responses, IndicatorResponse{IndicatorID: "A", EvidenceRefs: []string{"e1"}})
	cp := orig.Clone()
	cp.Responses[0].EvidenceRefs[0] = "changed"
	cp.ConfigSnapshot.Indicators[0].Weight = 99
	if orig.Responses[0].EvidenceRefs[0] != "e1" || orig.ConfigSnapshot.Indicators[0].Weight != 5 {
		t.Fatalf("clone shares state with original")
	}
}
