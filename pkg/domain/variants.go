package domain

import (
	"fmt"
	"time"
)

// DraftInspection is the mutable variant of an inspection. All mutation of
// responses, samples, photos and scoring fields goes through it.
type DraftInspection struct {
	in Inspection
}

// SubmittedInspection is the terminal, read-only variant of an inspection.
type SubmittedInspection struct {
	in Inspection
}

// NewDraft starts a draft inspection. The snapshot is captured by the caller
// and never refreshed afterwards.
func NewDraft(base Inspection) DraftInspection {
	in := base.Clone()
	in.Status = StatusDraft
	in.SubmittedAt = nil
	in.SubmittedBy = ""
	if in.Responses == nil {
		in.Responses = []IndicatorResponse{}
	}
	if in.Samples == nil {
		in.Samples = []Sample{}
	}
	if in.Photos == nil {
		in.Photos = []Photo{}
	}
	if in.Deviations == nil {
		in.Deviations = []Deviation{}
	}
	return DraftInspection{in: in}
}

// AsDraft narrows a stored inspection to its draft variant. op names the
// operation being attempted and is reported in the violation.
func AsDraft(in Inspection, op string) (DraftInspection, error) {
	if in.Status != StatusDraft {
		return DraftInspection{}, ImmutabilityViolation{InspectionID: in.ID, Status: in.Status, Op: op}
	}
	return DraftInspection{in: in.Clone()}, nil
}

// AsSubmitted narrows a stored inspection to its submitted variant.
func AsSubmitted(in Inspection) (SubmittedInspection, bool) {
	if in.Status != StatusSubmitted {
		return SubmittedInspection{}, false
	}
	return SubmittedInspection{in: in.Clone()}, true
}

// Inspection returns a copy of the underlying record.
func (d DraftInspection) Inspection() Inspection { return d.in.Clone() }

// ID returns the inspection identifier.
func (d DraftInspection) ID() string { return d.in.ID }

// Snapshot returns the frozen configuration captured at creation.
func (d DraftInspection) Snapshot() ConfigSnapshot { return d.in.ConfigSnapshot.Clone() }

// Responses returns a copy of the accumulated responses.
func (d DraftInspection) Responses() []IndicatorResponse { return d.in.Clone().Responses }

// AnsweredCount returns how many responses reference an indicator in the
// snapshot catalog.
func (d DraftInspection) AnsweredCount() int { return AnsweredCount(d.in) }

// MergeResponses validates responses against the snapshot and merges them by
// indicator id, replacing earlier answers for the same indicator.
func (d *DraftInspection) MergeResponses(responses []IndicatorResponse) error {
	for idx, r := range responses {
		if !r.Response.Valid() {
			return ValidationError{Field: fmt.Sprintf("responses[%d].response", idx), Reason: fmt.Sprintf("unsupported value %q", r.Response)}
		}
		if _, ok := d.in.ConfigSnapshot.FindIndicator(r.IndicatorID); !ok {
			return NotFoundError{Entity: EntityIndicator, ID: r.IndicatorID}
		}
	}
	index := make(map[string]int, len(d.in.Responses))
	for i, r := range d.in.Responses {
		index[r.IndicatorID] = i
	}
	for _, r := range responses {
		r = r.clone()
		if pos, ok := index[r.IndicatorID]; ok {
			d.in.Responses[pos] = r
			continue
		}
		index[r.IndicatorID] = len(d.in.Responses)
		d.in.Responses = append(d.in.Responses, r)
	}
	return nil
}

// ApplyScore overwrites the scoring fields. Only drafts may be rescored.
func (d *DraftInspection) ApplyScore(score RiskScoreResult) {
	d.in.Scored = true
	d.in.TotalScore = score.TotalScore
	d.in.HighRiskCount = score.HighRiskCount
	d.in.MediumRiskCount = score.MediumRiskCount
	d.in.LowRiskCount = score.LowRiskCount
	d.in.RiskClassification = score.RiskClassification
	d.in.CompliancePercent = score.CompliancePercent
	d.in.Deviations = cloneDeviations(score.Deviations)
	if d.in.Deviations == nil {
		d.in.Deviations = []Deviation{}
	}
}

// AddSample appends a sample. Samples are never removed.
func (d *DraftInspection) AddSample(s Sample) error {
	if s.SampleType == "" {
		return ValidationError{Field: "sampleType", Reason: "required"}
	}
	for _, existing := range d.in.Samples {
		if existing.ID == s.ID {
			return ValidationError{Field: "sampleId", Reason: fmt.Sprintf("duplicate sample %s", s.ID)}
		}
	}
	s.Status = SampleCollected
	s.DispatchedAt = nil
	s.DispatchedBy = ""
	s.LabName = ""
	d.in.Samples = append(d.in.Samples, s)
	return nil
}

// DispatchSample freezes a collected sample for chain of custody.
func (d *DraftInspection) DispatchSample(sampleID, labName, by string, at time.Time) (Sample, error) {
	for i := range d.in.Samples {
		s := &d.in.Samples[i]
		if s.ID != sampleID {
			continue
		}
		if s.Status == SampleDispatched {
			return Sample{}, ImmutabilityViolation{
				InspectionID: d.in.ID,
				Status:       d.in.Status,
				Op:           "dispatch_sample",
				Reason:       fmt.Sprintf("sample %s already dispatched", sampleID),
			}
		}
		if labName == "" {
			return Sample{}, ValidationError{Field: "labName", Reason: "required"}
		}
		when := at
		s.Status = SampleDispatched
		s.LabName = labName
		s.DispatchedBy = by
		s.DispatchedAt = &when
		return *s, nil
	}
	return Sample{}, NotFoundError{Entity: EntitySample, ID: sampleID}
}

// AddPhoto appends photo evidence. Photos are never removed.
func (d *DraftInspection) AddPhoto(p Photo) error {
	if p.EvidenceKey == "" {
		return ValidationError{Field: "evidenceKey", Reason: "required"}
	}
	if p.IndicatorID != "" {
		if _, ok := d.in.ConfigSnapshot.FindIndicator(p.IndicatorID); !ok {
			return NotFoundError{Entity: EntityIndicator, ID: p.IndicatorID}
		}
	}
	d.in.Photos = append(d.in.Photos, p)
	return nil
}

// Touch stamps the update time.
func (d *DraftInspection) Touch(at time.Time) { d.in.UpdatedAt = at }

// Submit converts the draft into its terminal variant once every indicator
// in the snapshot has a response.
func (d DraftInspection) Submit(by, recommendations string, at time.Time) (SubmittedInspection, error) {
	got, want := d.AnsweredCount(), d.in.ConfigSnapshot.IndicatorCount()
	if got < want {
		return SubmittedInspection{}, IncompleteDataError{InspectionID: d.in.ID, Got: got, Want: want}
	}
	out := d.in.Clone()
	when := at
	out.Status = StatusSubmitted
	out.SubmittedAt = &when
	out.SubmittedBy = by
	out.UpdatedAt = at
	if recommendations != "" {
		out.Recommendations = recommendations
	}
	return SubmittedInspection{in: out}, nil
}

// Inspection returns a copy of the underlying record.
func (s SubmittedInspection) Inspection() Inspection { return s.in.Clone() }

// ID returns the inspection identifier.
func (s SubmittedInspection) ID() string { return s.in.ID }

// SubmittedAt returns when the inspection was finalised.
func (s SubmittedInspection) SubmittedAt() time.Time {
	if s.in.SubmittedAt == nil {
		return time.Time{}
	}
	return *s.in.SubmittedAt
}

// AnsweredCount counts responses whose indicator exists in the inspection's
// snapshot. Responses for unknown indicators never satisfy completeness.
func AnsweredCount(in Inspection) int {
	seen := make(map[string]struct{}, len(in.Responses))
	for _, r := range in.Responses {
		if _, ok := in.ConfigSnapshot.FindIndicator(r.IndicatorID); !ok {
			continue
		}
		seen[r.IndicatorID] = struct{}{}
	}
	return len(seen)
}
