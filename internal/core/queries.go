package core

import (
	"context"
	"math"

	"compliancecore/internal/audit"
	"compliancecore/internal/codes"
	"compliancecore/internal/evidence"
	"compliancecore/internal/scoring"
	"compliancecore/pkg/domain"
)

// FormConfig bundles the live catalog and thresholds for form rendering.
type FormConfig struct {
	Pillars    []Pillar      `json:"pillars"`
	Indicators []Indicator   `json:"indicators"`
	Thresholds Thresholds    `json:"thresholds"`
	Config     []ConfigEntry `json:"config"`
}

// InspectionDetails is the read-only aggregate returned by
// GetInspectionDetails. AuditTrail includes events still buffered in the
// recorder.
type InspectionDetails struct {
	Inspection Inspection   `json:"inspection"`
	AuditTrail []AuditEvent `json:"audit_trail"`
	Pending    int          `json:"pending_audit_events"`
}

// Stats summarises inspections, optionally for one district. Scores and
// classifications cover submitted inspections only.
type Stats struct {
	DistrictCode      string            `json:"district_code,omitempty"`
	Total             int               `json:"total"`
	Draft             int               `json:"draft"`
	Submitted         int               `json:"submitted"`
	ByClassification  map[RiskLevel]int `json:"by_classification"`
	AverageScore      float64           `json:"average_score"`
	AverageCompliance float64           `json:"average_compliance"`
}

// ReauditReport compares stored scoring fields with a recomputation from
// the stored responses and snapshot. Live shows what today's catalog would
// produce, which may legitimately differ.
type ReauditReport struct {
	InspectionID string           `json:"inspection_id"`
	Code         string           `json:"code"`
	Status       InspectionStatus `json:"status"`
	Scored       bool             `json:"scored"`
	Stored       RiskScoreResult  `json:"stored"`
	Recomputed   RiskScoreResult  `json:"recomputed"`
	Matches      bool             `json:"matches"`
	Live         RiskScoreResult  `json:"live"`
}

// EvidenceCheck is the verification outcome for one photo.
type EvidenceCheck struct {
	PhotoID string `json:"photo_id"`
	Key     string `json:"key"`
	Error   string `json:"error,omitempty"`
}

// Verification reports audit chain and evidence integrity for one inspection.
type Verification struct {
	InspectionID string          `json:"inspection_id"`
	Events       int             `json:"events"`
	ChainError   string          `json:"chain_error,omitempty"`
	Evidence     []EvidenceCheck `json:"evidence"`
}

// OK reports whether every check passed.
func (v Verification) OK() bool {
	if v.ChainError != "" {
		return false
	}
	for _, e := range v.Evidence {
		if e.Error != "" {
			return false
		}
	}
	return true
}

// GetFormConfig returns the live catalog and decoded thresholds.
func (s *Service) GetFormConfig(ctx context.Context) (FormConfig, error) {
	var cfg FormConfig
	err := s.run(ctx, opGetFormConfig, func(ctx context.Context) (string, error) {
		live, err := s.live(ctx, opGetFormConfig)
		if err != nil {
			return "", err
		}
		cfg = FormConfig{
			Pillars:    live.Pillars,
			Indicators: live.Indicators,
			Thresholds: live.Thresholds,
			Config:     live.Rows,
		}
		return "", nil
	})
	return cfg, err
}

// CalculateRiskScore previews a score against the live catalog. Nothing is
// persisted.
func (s *Service) CalculateRiskScore(ctx context.Context, responses []IndicatorResponse) (RiskScoreResult, error) {
	var score RiskScoreResult
	err := s.run(ctx, opCalculateRiskScore, func(ctx context.Context) (string, error) {
		for _, r := range responses {
			if !r.Response.Valid() {
				return "", domain.ValidationError{Field: "response", Reason: "unsupported value " + string(r.Response)}
			}
		}
		live, err := s.live(ctx, opCalculateRiskScore)
		if err != nil {
			return "", err
		}
		score = scoring.CalculateRiskScore(responses, live.Indicators, live.Pillars, live.Thresholds)
		return "", nil
	})
	return score, err
}

// GetInspectionDetails returns the inspection with its audit history,
// durable events first merged with buffered ones in recording order.
func (s *Service) GetInspectionDetails(ctx context.Context, id string) (InspectionDetails, error) {
	var details InspectionDetails
	err := s.run(ctx, opGetInspectionDetails, func(ctx context.Context) (string, error) {
		in, err := s.getInspection(ctx, opGetInspectionDetails, id)
		if err != nil {
			return id, err
		}
		// Pending first: an event flushed between the two reads then
		// appears in both lists, and Merge drops the duplicate.
		pending, err := s.trail.Pending(ctx, id)
		if err != nil {
			return id, err
		}
		durable, err := s.listAudit(ctx, opGetInspectionDetails, id)
		if err != nil {
			return id, err
		}
		details = InspectionDetails{
			Inspection: in,
			AuditTrail: audit.Merge(durable, pending),
		}
		details.Pending = len(details.AuditTrail) - len(durable)
		return id, nil
	})
	return details, err
}

// GetStats aggregates inspections for districtCode, or all when empty.
func (s *Service) GetStats(ctx context.Context, districtCode string) (Stats, error) {
	var stats Stats
	err := s.run(ctx, opGetStats, func(ctx context.Context) (string, error) {
		filter := domain.InspectionFilter{}
		if districtCode != "" {
			d, err := codes.NormalizeDistrict(districtCode)
			if err != nil {
				return "", err
			}
			filter.DistrictCode = d
		}
		var list []Inspection
		if err := s.read(ctx, opGetStats, func(ctx context.Context) error {
			var err error
			list, err = s.store.ListInspections(ctx, filter)
			return err
		}); err != nil {
			return "", err
		}
		stats = summarize(filter.DistrictCode, list)
		return filter.DistrictCode, nil
	})
	return stats, err
}

func summarize(district string, list []Inspection) Stats {
	stats := Stats{
		DistrictCode: district,
		Total:        len(list),
		ByClassification: map[RiskLevel]int{
			domain.RiskLow:    0,
			domain.RiskMedium: 0,
			domain.RiskHigh:   0,
		},
	}
	var scoreSum, complianceSum float64
	for _, in := range list {
		if in.Status != domain.StatusSubmitted {
			stats.Draft++
			continue
		}
		stats.Submitted++
		stats.ByClassification[in.RiskClassification]++
		scoreSum += in.TotalScore
		complianceSum += in.CompliancePercent
	}
	if stats.Submitted > 0 {
		stats.AverageScore = round2(scoreSum / float64(stats.Submitted))
		stats.AverageCompliance = round2(complianceSum / float64(stats.Submitted))
	}
	return stats
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Reaudit recomputes an inspection's score from its stored responses and
// frozen snapshot and reports whether the stored result is reproduced.
func (s *Service) Reaudit(ctx context.Context, id string) (ReauditReport, error) {
	var report ReauditReport
	err := s.run(ctx, opReaudit, func(ctx context.Context) (string, error) {
		in, err := s.getInspection(ctx, opReaudit, id)
		if err != nil {
			return id, err
		}
		live, err := s.live(ctx, opReaudit)
		if err != nil {
			return id, err
		}
		recomputed := scoring.Snapshot(in.Responses, in.ConfigSnapshot)
		report = ReauditReport{
			InspectionID: in.ID,
			Code:         in.Code,
			Status:       in.Status,
			Scored:       in.Scored,
			Stored:       in.Score(),
			Recomputed:   recomputed,
			Matches:      !in.Scored || scoring.Matches(in.Score(), recomputed),
			Live:         scoring.CalculateRiskScore(in.Responses, live.Indicators, live.Pillars, live.Thresholds),
		}
		if !report.Matches {
			s.logger.Warn("reaudit mismatch", "inspection_id", id, "stored", string(report.Stored.RiskClassification), "recomputed", string(recomputed.RiskClassification))
		}
		return id, nil
	})
	return report, err
}

// VerifyInspection checks the durable audit hash chain and the digest of
// every photo held in the evidence store.
func (s *Service) VerifyInspection(ctx context.Context, id string) (Verification, error) {
	var v Verification
	err := s.run(ctx, opVerifyInspection, func(ctx context.Context) (string, error) {
		in, err := s.getInspection(ctx, opVerifyInspection, id)
		if err != nil {
			return id, err
		}
		events, err := s.listAudit(ctx, opVerifyInspection, id)
		if err != nil {
			return id, err
		}
		v = Verification{InspectionID: id, Events: len(events), Evidence: make([]EvidenceCheck, 0, len(in.Photos))}
		if err := audit.VerifyChain(events); err != nil {
			v.ChainError = err.Error()
		}
		for _, p := range in.Photos {
			check := EvidenceCheck{PhotoID: p.ID, Key: p.EvidenceKey}
			if err := evidence.Verify(ctx, s.evidence, p.EvidenceKey, p.SHA256); err != nil {
				check.Error = err.Error()
			}
			v.Evidence = append(v.Evidence, check)
		}
		if !v.OK() {
			s.logger.Warn("inspection verification failed", "inspection_id", id, "chain_error", v.ChainError)
		}
		return id, nil
	})
	return v, err
}

func (s *Service) getInspection(ctx context.Context, op, id string) (Inspection, error) {
	var in Inspection
	err := s.read(ctx, op, func(ctx context.Context) error {
		var err error
		in, err = s.store.GetInspection(ctx, id)
		return err
	})
	return in, err
}

func (s *Service) listAudit(ctx context.Context, op, id string) ([]AuditEvent, error) {
	var events []AuditEvent
	err := s.read(ctx, op, func(ctx context.Context) error {
		var err error
		events, err = s.sink.ListAudit(ctx, id)
		return err
	})
	return events, err
}
