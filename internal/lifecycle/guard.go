// Package lifecycle enforces the draft to submitted state machine and the
// chain-of-custody rules for samples.
package lifecycle

import (
	"fmt"

	"compliancecore/pkg/domain"
)

// Operation names reported in immutability violations.
const (
	OpSubmitResponses  = "submit_responses"
	OpSubmitInspection = "submit_inspection"
	OpAddSample        = "add_sample"
	OpDispatchSample   = "dispatch_sample"
	OpAddPhoto         = "add_photo"
)

var transitions = map[domain.InspectionStatus]map[domain.InspectionStatus]struct{}{
	domain.StatusDraft: {
		domain.StatusDraft:     {},
		domain.StatusSubmitted: {},
	},
	domain.StatusSubmitted: {},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Remaining in draft is allowed; submitted is terminal.
func CanTransition(from, to domain.InspectionStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// RequireDraft fails unless the inspection can still be mutated.
func RequireDraft(in domain.Inspection, op string) error {
	if in.Status != domain.StatusDraft {
		return domain.ImmutabilityViolation{InspectionID: in.ID, Status: in.Status, Op: op}
	}
	return nil
}

// RequireComplete fails when responses do not cover every indicator captured
// in the inspection's snapshot.
func RequireComplete(in domain.Inspection) error {
	got, want := domain.AnsweredCount(in), in.ConfigSnapshot.IndicatorCount()
	if got < want {
		return domain.IncompleteDataError{InspectionID: in.ID, Got: got, Want: want}
	}
	return nil
}

// RequireSubmittable combines the status and completeness checks run before
// a submit.
func RequireSubmittable(in domain.Inspection) error {
	if err := RequireDraft(in, OpSubmitInspection); err != nil {
		return err
	}
	return RequireComplete(in)
}

// RequireSampleOpen fails when the sample has already left custody.
func RequireSampleOpen(in domain.Inspection, s domain.Sample) error {
	if s.Status == domain.SampleDispatched {
		return domain.ImmutabilityViolation{
			InspectionID: in.ID,
			Status:       in.Status,
			Op:           OpDispatchSample,
			Reason:       fmt.Sprintf("sample %s already dispatched", s.ID),
		}
	}
	return nil
}
