package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"compliancecore/pkg/domain"
)

// Rule names registered with the rules engine.
const (
	RuleImmutability = "inspection_immutability"
	RuleCompleteness = "submission_completeness"
	RuleCustody      = "sample_custody"
	RuleRemarks      = "high_risk_remarks"
)

// Rules returns the lifecycle rule set in evaluation order.
func Rules() []domain.Rule {
	return []domain.Rule{
		ImmutabilityRule(),
		CompletenessRule(),
		CustodyRule(),
		HighRiskRemarksRule(),
	}
}

// ImmutabilityRule blocks any change to an inspection whose committed state
// is already submitted, and any transition the state machine does not allow.
func ImmutabilityRule() domain.Rule { return immutabilityRule{} }

type immutabilityRule struct{}

func (immutabilityRule) Name() string { return RuleImmutability }

func (immutabilityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityInspection || change.After == nil {
			continue
		}
		if change.Before == nil {
			if change.After.Status != domain.StatusDraft {
				res.Violations = append(res.Violations, block(RuleImmutability, change.After.ID,
					fmt.Sprintf("inspection %s must be created as draft, got %s", change.After.ID, change.After.Status),
					domain.ImmutabilityViolation{InspectionID: change.After.ID, Status: change.After.Status, Op: "create"}))
			}
			continue
		}
		before := change.Before
		if before.Status == domain.StatusSubmitted {
			res.Violations = append(res.Violations, block(RuleImmutability, before.ID,
				fmt.Sprintf("inspection %s is submitted and cannot change", before.ID),
				domain.ImmutabilityViolation{InspectionID: before.ID, Status: before.Status, Op: "update"}))
			continue
		}
		if !CanTransition(before.Status, change.After.Status) {
			res.Violations = append(res.Violations, block(RuleImmutability, before.ID,
				fmt.Sprintf("inspection %s cannot move from %s to %s", before.ID, before.Status, change.After.Status),
				domain.ImmutabilityViolation{InspectionID: before.ID, Status: before.Status, Op: "transition"}))
			continue
		}
		if !reflect.DeepEqual(before.ConfigSnapshot, change.After.ConfigSnapshot) {
			res.Violations = append(res.Violations, block(RuleImmutability, before.ID,
				fmt.Sprintf("inspection %s config snapshot is frozen", before.ID),
				domain.ImmutabilityViolation{InspectionID: before.ID, Status: before.Status, Op: "update", Reason: "config snapshot is frozen"}))
		}
	}
	return res, nil
}

// CompletenessRule blocks a draft to submitted transition with missing responses.
func CompletenessRule() domain.Rule { return completenessRule{} }

type completenessRule struct{}

func (completenessRule) Name() string { return RuleCompleteness }

func (completenessRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityInspection || change.Before == nil || change.After == nil {
			continue
		}
		if change.Before.Status != domain.StatusDraft || change.After.Status != domain.StatusSubmitted {
			continue
		}
		if err := RequireComplete(*change.After); err != nil {
			res.Violations = append(res.Violations, block(RuleCompleteness, change.After.ID, err.Error(), err))
		}
	}
	return res, nil
}

// CustodyRule blocks removal of samples or photos and any change to a
// dispatched sample.
func CustodyRule() domain.Rule { return custodyRule{} }

type custodyRule struct{}

func (custodyRule) Name() string { return RuleCustody }

func (custodyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityInspection || change.Before == nil || change.After == nil {
			continue
		}
		before, after := change.Before, change.After
		if len(after.Samples) < len(before.Samples) || len(after.Photos) < len(before.Photos) {
			res.Violations = append(res.Violations, block(RuleCustody, before.ID,
				fmt.Sprintf("inspection %s child records are append-only", before.ID),
				domain.ImmutabilityViolation{InspectionID: before.ID, Status: before.Status, Op: "update", Reason: "child records are append-only"}))
			continue
		}
		for i, prev := range before.Samples {
			if prev.Status != domain.SampleDispatched {
				continue
			}
			if !reflect.DeepEqual(prev, after.Samples[i]) {
				res.Violations = append(res.Violations, block(RuleCustody, before.ID,
					fmt.Sprintf("sample %s was dispatched and cannot change", prev.ID),
					RequireSampleOpen(*before, prev)))
			}
		}
	}
	return res, nil
}

// HighRiskRemarksRule warns when a high-risk deviation carries no remarks.
func HighRiskRemarksRule() domain.Rule { return highRiskRemarksRule{} }

type highRiskRemarksRule struct{}

func (highRiskRemarksRule) Name() string { return RuleRemarks }

func (highRiskRemarksRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityInspection || change.After == nil {
			continue
		}
		var missing []string
		for _, r := range change.After.Responses {
			if r.Response != domain.ResponseNo || strings.TrimSpace(r.Remarks) != "" {
				continue
			}
			if ind, ok := change.After.ConfigSnapshot.FindIndicator(r.IndicatorID); ok && ind.RiskLevel == domain.RiskHigh {
				missing = append(missing, r.IndicatorID)
			}
		}
		if len(missing) > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleRemarks,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("high-risk deviations without remarks: %s", strings.Join(missing, ", ")),
				Entity:   domain.EntityInspection,
				EntityID: change.After.ID,
			})
		}
	}
	return res, nil
}

func block(rule, id, msg string, cause error) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityInspection,
		EntityID: id,
		Cause:    cause,
	}
}
