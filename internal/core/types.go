package core

import "compliancecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Inspection         = domain.Inspection
	InspectionStatus   = domain.InspectionStatus
	IndicatorResponse  = domain.IndicatorResponse
	RiskScoreResult    = domain.RiskScoreResult
	RiskLevel          = domain.RiskLevel
	Sample             = domain.Sample
	Photo              = domain.Photo
	AuditEvent         = domain.AuditEvent
	Indicator          = domain.Indicator
	Pillar             = domain.Pillar
	ConfigEntry        = domain.ConfigEntry
	Thresholds         = domain.Thresholds
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
)

const (
	EntityInspection = domain.EntityInspection
	EntitySample     = domain.EntitySample
	EntityPhoto      = domain.EntityPhoto
)

const (
	StatusDraft     = domain.StatusDraft
	StatusSubmitted = domain.StatusSubmitted
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
