package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliancecore/internal/catalog"
	"compliancecore/internal/codes"
	"compliancecore/internal/evidence"
	"compliancecore/internal/lifecycle"
	"compliancecore/internal/scoring"
	"compliancecore/pkg/domain"
)

// NewInspection carries the caller-supplied fields of a new inspection.
type NewInspection struct {
	InstitutionID   string
	InstitutionName string
	DistrictCode    string
	OfficerID       string
	InspectionType  string
	ScheduledAt     *time.Time
}

func (n NewInspection) validate() error {
	switch {
	case strings.TrimSpace(n.InstitutionID) == "":
		return domain.ValidationError{Field: "institutionId", Reason: "required"}
	case strings.TrimSpace(n.OfficerID) == "":
		return domain.ValidationError{Field: "officerId", Reason: "required"}
	}
	return nil
}

// NewSample describes a sample taken during an inspection. An empty
// SampleCode is derived from the inspection code.
type NewSample struct {
	SampleCode  string
	SampleType  string
	Description string
	CollectedAt time.Time
}

// NewPhoto is photo evidence to attach. Content is stored in the evidence
// store before the inspection records it.
type NewPhoto struct {
	Caption     string
	IndicatorID string
	ContentType string
	TakenAt     time.Time
	Content     io.Reader
}

func requireOfficer(officerID string) error {
	if strings.TrimSpace(officerID) == "" {
		return domain.ValidationError{Field: "officerId", Reason: "required"}
	}
	return nil
}

// CreateInspection issues a code, freezes the live configuration into the
// record, and stores it as a draft.
func (s *Service) CreateInspection(ctx context.Context, input NewInspection) (Inspection, error) {
	var created Inspection
	err := s.run(ctx, opCreateInspection, func(ctx context.Context) (string, error) {
		if err := input.validate(); err != nil {
			return "", err
		}
		district, err := codes.NormalizeDistrict(input.DistrictCode)
		if err != nil {
			return "", err
		}
		live, err := s.live(ctx, opCreateInspection)
		if err != nil {
			return "", err
		}
		if len(live.Indicators) == 0 {
			return "", domain.ValidationError{Field: "catalog", Reason: "no indicators configured"}
		}
		now := s.now()
		codeCtx, cancel := s.storeContext(ctx)
		code, err := s.codes.NextCode(codeCtx, district, now)
		cancel()
		if err != nil {
			return "", asPersistenceError(opCreateInspection, err)
		}
		draft := domain.NewDraft(Inspection{
			Base:            Base{ID: uuid.NewString(), CreatedAt: now},
			Code:            code,
			InstitutionID:   strings.TrimSpace(input.InstitutionID),
			InstitutionName: strings.TrimSpace(input.InstitutionName),
			DistrictCode:    district,
			OfficerID:       input.OfficerID,
			InspectionType:  input.InspectionType,
			ScheduledAt:     input.ScheduledAt,
			ConfigSnapshot:  live.Snapshot(now),
		})
		if err := s.write(ctx, opCreateInspection, func(tx Transaction) error {
			var err error
			created, err = tx.CreateInspection(draft.Inspection())
			return err
		}); err != nil {
			return draft.ID(), err
		}
		s.recordEvent(ctx, AuditEvent{
			InspectionID: created.ID,
			Action:       domain.AuditCreated,
			PerformedBy:  input.OfficerID,
			Details: map[string]string{
				"code":           created.Code,
				"district_code":  created.DistrictCode,
				"institution_id": created.InstitutionID,
				"indicators":     strconv.Itoa(created.ConfigSnapshot.IndicatorCount()),
			},
		})
		s.logger.Info("inspection created", "inspection_id", created.ID, "code", created.Code)
		return created.ID, nil
	})
	return created, err
}

// SubmitResponses merges responses into a draft and rescores every stored
// response against the inspection's snapshot. The partial score is kept on
// the draft; SubmitInspection rescoring makes it final.
func (s *Service) SubmitResponses(ctx context.Context, id string, responses []IndicatorResponse, officerID string) (RiskScoreResult, error) {
	var score RiskScoreResult
	err := s.run(ctx, opSubmitResponses, func(ctx context.Context) (string, error) {
		if err := requireOfficer(officerID); err != nil {
			return id, err
		}
		if len(responses) == 0 {
			return id, domain.ValidationError{Field: "responses", Reason: "at least one response required"}
		}
		now := s.now()
		if err := s.write(ctx, opSubmitResponses, func(tx Transaction) error {
			_, err := tx.UpdateInspection(id, func(cur *Inspection) error {
				draft, err := domain.AsDraft(*cur, lifecycle.OpSubmitResponses)
				if err != nil {
					return err
				}
				if err := draft.MergeResponses(responses); err != nil {
					return err
				}
				score = scoring.Snapshot(draft.Responses(), draft.Snapshot())
				draft.ApplyScore(score)
				draft.Touch(now)
				*cur = draft.Inspection()
				return nil
			})
			return err
		}); err != nil {
			return id, err
		}
		s.recordEvent(ctx, AuditEvent{
			InspectionID: id,
			Action:       domain.AuditResponsesSubmitted,
			PerformedBy:  officerID,
			Details: map[string]string{
				"responses":      strconv.Itoa(len(responses)),
				"answered":       strconv.Itoa(score.Answered),
				"total_score":    formatScore(score.TotalScore),
				"classification": string(score.RiskClassification),
			},
		})
		return id, nil
	})
	return score, err
}

// SubmitInspection finalises a complete draft. The status check, the
// completeness gate and the status flip happen in one store transaction, so
// of two concurrent submits exactly one succeeds and the other observes
// submitted.
func (s *Service) SubmitInspection(ctx context.Context, id, officerID, recommendations string) (Inspection, error) {
	var submitted Inspection
	err := s.run(ctx, opSubmitInspection, func(ctx context.Context) (string, error) {
		if err := requireOfficer(officerID); err != nil {
			return id, err
		}
		now := s.now()
		if err := s.write(ctx, opSubmitInspection, func(tx Transaction) error {
			var err error
			submitted, err = tx.UpdateInspection(id, func(cur *Inspection) error {
				if err := lifecycle.RequireSubmittable(*cur); err != nil {
					return err
				}
				draft, err := domain.AsDraft(*cur, lifecycle.OpSubmitInspection)
				if err != nil {
					return err
				}
				draft.ApplyScore(scoring.Snapshot(draft.Responses(), draft.Snapshot()))
				final, err := draft.Submit(officerID, strings.TrimSpace(recommendations), now)
				if err != nil {
					return err
				}
				*cur = final.Inspection()
				return nil
			})
			return err
		}); err != nil {
			return id, err
		}
		s.recordEvent(ctx, AuditEvent{
			InspectionID: id,
			Action:       domain.AuditSubmitted,
			PerformedBy:  officerID,
			Details: map[string]string{
				"total_score":    formatScore(submitted.TotalScore),
				"classification": string(submitted.RiskClassification),
				"high_risk":      strconv.Itoa(submitted.HighRiskCount),
			},
		})
		s.logger.Info("inspection submitted", "inspection_id", id, "classification", string(submitted.RiskClassification))
		return id, nil
	})
	return submitted, err
}

// AddSample appends a collected sample to a draft inspection.
func (s *Service) AddSample(ctx context.Context, id string, input NewSample, officerID string) (Sample, error) {
	var added Sample
	err := s.run(ctx, opAddSample, func(ctx context.Context) (string, error) {
		if err := requireOfficer(officerID); err != nil {
			return id, err
		}
		now := s.now()
		sample := Sample{
			ID:          uuid.NewString(),
			SampleCode:  strings.TrimSpace(input.SampleCode),
			SampleType:  strings.TrimSpace(input.SampleType),
			Description: input.Description,
			CollectedAt: input.CollectedAt,
			CollectedBy: officerID,
			Status:      domain.SampleCollected,
		}
		if sample.CollectedAt.IsZero() {
			sample.CollectedAt = now
		}
		if err := s.write(ctx, opAddSample, func(tx Transaction) error {
			_, err := tx.UpdateInspection(id, func(cur *Inspection) error {
				draft, err := domain.AsDraft(*cur, lifecycle.OpAddSample)
				if err != nil {
					return err
				}
				if sample.SampleCode == "" {
					sample.SampleCode = fmt.Sprintf("%s-S%02d", cur.Code, len(cur.Samples)+1)
				}
				if err := draft.AddSample(sample); err != nil {
					return err
				}
				draft.Touch(now)
				*cur = draft.Inspection()
				return nil
			})
			return err
		}); err != nil {
			return id, err
		}
		added = sample
		s.recordEvent(ctx, AuditEvent{
			InspectionID: id,
			Action:       domain.AuditSampleAdded,
			PerformedBy:  officerID,
			Details: map[string]string{
				"sample_id":   sample.ID,
				"sample_code": sample.SampleCode,
				"sample_type": sample.SampleType,
			},
		})
		return sample.ID, nil
	})
	return added, err
}

// DispatchSample hands a sample to a lab. A dispatched sample is frozen.
func (s *Service) DispatchSample(ctx context.Context, id, sampleID, labName, officerID string) (Sample, error) {
	var dispatched Sample
	err := s.run(ctx, opDispatchSample, func(ctx context.Context) (string, error) {
		if err := requireOfficer(officerID); err != nil {
			return sampleID, err
		}
		now := s.now()
		if err := s.write(ctx, opDispatchSample, func(tx Transaction) error {
			_, err := tx.UpdateInspection(id, func(cur *Inspection) error {
				draft, err := domain.AsDraft(*cur, lifecycle.OpDispatchSample)
				if err != nil {
					return err
				}
				dispatched, err = draft.DispatchSample(sampleID, strings.TrimSpace(labName), officerID, now)
				if err != nil {
					return err
				}
				draft.Touch(now)
				*cur = draft.Inspection()
				return nil
			})
			return err
		}); err != nil {
			return sampleID, err
		}
		s.recordEvent(ctx, AuditEvent{
			InspectionID: id,
			Action:       domain.AuditSampleDispatched,
			PerformedBy:  officerID,
			Details: map[string]string{
				"sample_id": sampleID,
				"lab_name":  dispatched.LabName,
			},
		})
		return sampleID, nil
	})
	return dispatched, err
}

// AddPhoto stores photo content under a create-only evidence key, then
// records the photo on the draft. If the record cannot be written the
// stored object remains; evidence is never deleted.
func (s *Service) AddPhoto(ctx context.Context, id string, input NewPhoto, officerID string) (Photo, error) {
	var added Photo
	err := s.run(ctx, opAddPhoto, func(ctx context.Context) (string, error) {
		if err := requireOfficer(officerID); err != nil {
			return id, err
		}
		if input.Content == nil {
			return id, domain.ValidationError{Field: "content", Reason: "required"}
		}
		var current Inspection
		if err := s.read(ctx, opAddPhoto, func(ctx context.Context) error {
			var err error
			current, err = s.store.GetInspection(ctx, id)
			return err
		}); err != nil {
			return id, err
		}
		if err := lifecycle.RequireDraft(current, lifecycle.OpAddPhoto); err != nil {
			return id, err
		}
		if input.IndicatorID != "" {
			if _, ok := current.ConfigSnapshot.FindIndicator(input.IndicatorID); !ok {
				return id, domain.NotFoundError{Entity: domain.EntityIndicator, ID: input.IndicatorID}
			}
		}
		now := s.now()
		photo := Photo{
			ID:          uuid.NewString(),
			Caption:     input.Caption,
			IndicatorID: input.IndicatorID,
			TakenAt:     input.TakenAt,
			UploadedBy:  officerID,
		}
		if photo.TakenAt.IsZero() {
			photo.TakenAt = now
		}
		photo.EvidenceKey = evidence.PhotoKey(id, photo.ID)
		obj, err := evidence.Put(ctx, s.evidence, photo.EvidenceKey, input.Content, input.ContentType, map[string]string{
			"inspection_id": id,
			"uploaded_by":   officerID,
		})
		if err != nil {
			return id, fmt.Errorf("store photo evidence: %w", err)
		}
		photo.ContentType = obj.ContentType
		photo.SizeBytes = obj.Size
		photo.SHA256 = obj.SHA256
		if err := s.write(ctx, opAddPhoto, func(tx Transaction) error {
			_, err := tx.UpdateInspection(id, func(cur *Inspection) error {
				draft, err := domain.AsDraft(*cur, lifecycle.OpAddPhoto)
				if err != nil {
					return err
				}
				if err := draft.AddPhoto(photo); err != nil {
					return err
				}
				draft.Touch(now)
				*cur = draft.Inspection()
				return nil
			})
			return err
		}); err != nil {
			s.logger.Warn("photo evidence stored without inspection record", "inspection_id", id, "key", photo.EvidenceKey, "error", err)
			return id, err
		}
		added = photo
		s.recordEvent(ctx, AuditEvent{
			InspectionID: id,
			Action:       domain.AuditPhotoAdded,
			PerformedBy:  officerID,
			Details: map[string]string{
				"photo_id":     photo.ID,
				"evidence_key": photo.EvidenceKey,
				"sha256":       photo.SHA256,
			},
		})
		return photo.ID, nil
	})
	return added, err
}

func (s *Service) live(ctx context.Context, op string) (catalog.Live, error) {
	var live catalog.Live
	err := s.read(ctx, op, func(ctx context.Context) error {
		var err error
		live, err = catalog.ReadLive(ctx, s.catalog, s.thresholds)
		return err
	})
	return live, err
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
