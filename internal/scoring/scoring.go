// Package scoring converts indicator responses into a weighted risk score
// and classification. It is pure and performs no I/O.
package scoring

import (
	"math"

	"compliancecore/pkg/domain"
)

// CalculateRiskScore scores responses against a catalog and thresholds.
//
// Only "no" responses contribute. Responses referencing unknown indicators are
// skipped. When the same indicator is answered more than once the last answer
// wins. Totals are accumulated in catalog order so they do not depend on the
// order of responses; deviations follow response order.
func CalculateRiskScore(responses []domain.IndicatorResponse, indicators []domain.Indicator, pillars []domain.Pillar, thresholds domain.Thresholds) domain.RiskScoreResult {
	byID := make(map[string]domain.Indicator, len(indicators))
	for _, ind := range indicators {
		byID[ind.ID] = ind
	}
	pillarNames := make(map[string]string, len(pillars))
	for _, p := range pillars {
		pillarNames[p.ID] = p.Name
	}

	latest := make(map[string]domain.IndicatorResponse, len(responses))
	var order []string
	for _, r := range responses {
		if _, ok := byID[r.IndicatorID]; !ok {
			continue
		}
		if _, seen := latest[r.IndicatorID]; !seen {
			order = append(order, r.IndicatorID)
		}
		latest[r.IndicatorID] = r
	}

	res := domain.RiskScoreResult{Deviations: []domain.Deviation{}}
	for _, ind := range indicators {
		r, ok := latest[ind.ID]
		if !ok {
			continue
		}
		res.Answered++
		switch r.Response {
		case domain.ResponseYes:
			res.Compliant++
		case domain.ResponseNA:
			res.NotApplicable++
		case domain.ResponseNo:
			res.TotalScore += ind.Weight
			switch ind.RiskLevel {
			case domain.RiskHigh:
				res.HighRiskCount++
			case domain.RiskMedium:
				res.MediumRiskCount++
			case domain.RiskLow:
				res.LowRiskCount++
			}
		}
	}

	for _, id := range order {
		r := latest[id]
		if r.Response != domain.ResponseNo {
			continue
		}
		ind := byID[id]
		res.Deviations = append(res.Deviations, domain.Deviation{
			IndicatorID:   ind.ID,
			IndicatorName: ind.Name,
			PillarName:    pillarNames[ind.PillarID],
			RiskLevel:     ind.RiskLevel,
			Weight:        ind.Weight,
			Remarks:       r.Remarks,
		})
	}

	res.RiskClassification = Classify(res.TotalScore, res.HighRiskCount, thresholds)
	res.CompliancePercent = compliancePercent(res.Compliant, res.Answered-res.NotApplicable)
	return res
}

// Classify applies the high-risk override and then the score bands.
func Classify(totalScore float64, highRiskCount int, thresholds domain.Thresholds) domain.RiskLevel {
	if highRiskCount >= thresholds.HighRiskIndicatorThreshold {
		return domain.RiskHigh
	}
	switch {
	case totalScore <= thresholds.LowRiskMaxScore:
		return domain.RiskLow
	case totalScore <= thresholds.MediumRiskMaxScore:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// Snapshot scores responses against an inspection's frozen configuration.
func Snapshot(responses []domain.IndicatorResponse, snap domain.ConfigSnapshot) domain.RiskScoreResult {
	return CalculateRiskScore(responses, snap.Indicators, snap.Pillars, snap.Thresholds)
}

// Matches reports whether a recomputed score reproduces a stored one.
// Deviations are compared as a multiset of indicator ids.
func Matches(stored, recomputed domain.RiskScoreResult) bool {
	if stored.TotalScore != recomputed.TotalScore ||
		stored.HighRiskCount != recomputed.HighRiskCount ||
		stored.MediumRiskCount != recomputed.MediumRiskCount ||
		stored.LowRiskCount != recomputed.LowRiskCount ||
		stored.RiskClassification != recomputed.RiskClassification {
		return false
	}
	if len(stored.Deviations) != len(recomputed.Deviations) {
		return false
	}
	counts := make(map[string]int, len(stored.Deviations))
	for _, d := range stored.Deviations {
		counts[d.IndicatorID]++
	}
	for _, d := range recomputed.Deviations {
		if counts[d.IndicatorID] == 0 {
			return false
		}
		counts[d.IndicatorID]--
	}
	return true
}

func compliancePercent(compliant, applicable int) float64 {
	if applicable <= 0 {
		return 100
	}
	return math.Round(float64(compliant)/float64(applicable)*10000) / 100
}
