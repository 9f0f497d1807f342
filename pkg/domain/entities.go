// Package domain defines the inspection aggregate, its reference data, and
// the rule evaluation primitives used by compliancecore.
package domain

import "time"

// EntityType identifies the type of record referenced by changes and errors.
type EntityType string

// Supported entity type identifiers.
const (
	// EntityInspection identifies the inspection aggregate root.
	EntityInspection EntityType = "inspection"
	// EntityIndicator identifies a catalog indicator.
	EntityIndicator EntityType = "indicator"
	// EntityPillar identifies a catalog pillar.
	EntityPillar EntityType = "pillar"
	// EntitySample identifies a sample collected during an inspection.
	EntitySample EntityType = "sample"
	// EntityPhoto identifies photo evidence attached to an inspection.
	EntityPhoto EntityType = "photo"
)

// RiskLevel is used both for indicator severity and inspection classification.
type RiskLevel string

// Canonical risk levels.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether the level is one of the canonical values.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// ResponseValue is an officer's answer to an indicator.
type ResponseValue string

// Canonical response values. Only ResponseNo contributes to the risk score.
const (
	ResponseYes ResponseValue = "yes"
	ResponseNo  ResponseValue = "no"
	ResponseNA  ResponseValue = "na"
)

// Valid reports whether the response is one of the canonical values.
func (v ResponseValue) Valid() bool {
	switch v {
	case ResponseYes, ResponseNo, ResponseNA:
		return true
	}
	return false
}

// InspectionStatus enumerates the inspection lifecycle states.
type InspectionStatus string

// Inspection lifecycle states. StatusSubmitted is terminal.
const (
	StatusDraft     InspectionStatus = "draft"
	StatusSubmitted InspectionStatus = "submitted"
)

// SampleStatus enumerates sample custody states.
type SampleStatus string

// Sample custody states. A dispatched sample is frozen.
const (
	SampleCollected  SampleStatus = "collected"
	SampleDispatched SampleStatus = "dispatched"
)

// AuditAction enumerates the events written to the audit trail.
type AuditAction string

// Audit trail actions.
const (
	AuditCreated            AuditAction = "created"
	AuditResponsesSubmitted AuditAction = "responses_submitted"
	AuditSubmitted          AuditAction = "submitted"
	AuditSampleAdded        AuditAction = "sample_added"
	AuditSampleDispatched   AuditAction = "sample_dispatched"
	AuditPhotoAdded         AuditAction = "photo_added"
)

// Base contains common fields for persisted records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pillar groups related indicators for display.
type Pillar struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Order int    `json:"order" yaml:"order"`
}

// Indicator is a single weighted compliance check.
type Indicator struct {
	ID        string    `json:"id" yaml:"id"`
	PillarID  string    `json:"pillar_id" yaml:"pillar_id"`
	Name      string    `json:"name" yaml:"name"`
	Weight    float64   `json:"weight" yaml:"weight"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
	Order     int       `json:"order" yaml:"order"`
}

// ConfigValueType tags how a stored configuration value is encoded.
type ConfigValueType string

// Supported configuration value encodings.
const (
	ConfigNumber  ConfigValueType = "number"
	ConfigBoolean ConfigValueType = "boolean"
	ConfigJSON    ConfigValueType = "json"
	ConfigString  ConfigValueType = "string"
)

// ConfigEntry is a raw key/value row as exposed by the threshold provider.
type ConfigEntry struct {
	Key   string          `json:"key" yaml:"key"`
	Value string          `json:"value" yaml:"value"`
	Type  ConfigValueType `json:"type" yaml:"type"`
}

// Well-known threshold configuration keys.
const (
	ConfigLowRiskMaxScore            = "lowRiskMaxScore"
	ConfigMediumRiskMaxScore         = "mediumRiskMaxScore"
	ConfigHighRiskIndicatorThreshold = "highRiskIndicatorThreshold"
)

// Thresholds are the typed classification bands.
type Thresholds struct {
	LowRiskMaxScore            float64 `json:"low_risk_max_score"`
	MediumRiskMaxScore         float64 `json:"medium_risk_max_score"`
	HighRiskIndicatorThreshold int     `json:"high_risk_indicator_threshold"`
}

// ConfigSnapshot freezes the thresholds and catalog in effect when an
// inspection was created. It is never refreshed afterwards.
type ConfigSnapshot struct {
	Thresholds Thresholds        `json:"thresholds"`
	Indicators []Indicator       `json:"indicators"`
	Pillars    []Pillar          `json:"pillars"`
	Raw        map[string]string `json:"raw,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

// IndicatorCount returns the catalog size the completeness gate compares against.
func (c ConfigSnapshot) IndicatorCount() int { return len(c.Indicators) }

// FindIndicator looks up an indicator captured in the snapshot.
func (c ConfigSnapshot) FindIndicator(id string) (Indicator, bool) {
	for _, ind := range c.Indicators {
		if ind.ID == id {
			return ind, true
		}
	}
	return Indicator{}, false
}

// IndicatorResponse is one answer for one indicator.
type IndicatorResponse struct {
	IndicatorID  string        `json:"indicator_id"`
	Response     ResponseValue `json:"response"`
	Remarks      string        `json:"remarks,omitempty"`
	EvidenceRefs []string      `json:"evidence_refs,omitempty"`
}

// Deviation records a non-compliant response with its indicator metadata.
type Deviation struct {
	IndicatorID   string    `json:"indicator_id"`
	IndicatorName string    `json:"indicator_name"`
	PillarName    string    `json:"pillar_name"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Weight        float64   `json:"weight"`
	Remarks       string    `json:"remarks,omitempty"`
}

// RiskScoreResult is the output of the scoring engine.
type RiskScoreResult struct {
	TotalScore         float64     `json:"total_score"`
	HighRiskCount      int         `json:"high_risk_count"`
	MediumRiskCount    int         `json:"medium_risk_count"`
	LowRiskCount       int         `json:"low_risk_count"`
	RiskClassification RiskLevel   `json:"risk_classification"`
	Deviations         []Deviation `json:"deviations"`
	Answered           int         `json:"answered"`
	Compliant          int         `json:"compliant"`
	NotApplicable      int         `json:"not_applicable"`
	CompliancePercent  float64     `json:"compliance_percent"`
}

// Sample is a physical sample taken during an inspection.
type Sample struct {
	ID           string       `json:"id"`
	SampleCode   string       `json:"sample_code"`
	SampleType   string       `json:"sample_type"`
	Description  string       `json:"description,omitempty"`
	CollectedAt  time.Time    `json:"collected_at"`
	CollectedBy  string       `json:"collected_by"`
	Status       SampleStatus `json:"status"`
	LabName      string       `json:"lab_name,omitempty"`
	DispatchedAt *time.Time   `json:"dispatched_at,omitempty"`
	DispatchedBy string       `json:"dispatched_by,omitempty"`
}

// Photo references photo evidence held in the evidence store.
type Photo struct {
	ID          string    `json:"id"`
	Caption     string    `json:"caption,omitempty"`
	IndicatorID string    `json:"indicator_id,omitempty"`
	EvidenceKey string    `json:"evidence_key"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
	UploadedBy  string    `json:"uploaded_by"`
}

// Inspection is the aggregate root. Mutations go through DraftInspection.
type Inspection struct {
	Base
	Code               string              `json:"code"`
	InstitutionID      string              `json:"institution_id"`
	InstitutionName    string              `json:"institution_name"`
	DistrictCode       string              `json:"district_code"`
	OfficerID          string              `json:"officer_id"`
	InspectionType     string              `json:"inspection_type,omitempty"`
	ScheduledAt        *time.Time          `json:"scheduled_at,omitempty"`
	Status             InspectionStatus    `json:"status"`
	ConfigSnapshot     ConfigSnapshot      `json:"config_snapshot"`
	Scored             bool                `json:"scored"`
	TotalScore         float64             `json:"total_score"`
	HighRiskCount      int                 `json:"high_risk_count"`
	MediumRiskCount    int                 `json:"medium_risk_count"`
	LowRiskCount       int                 `json:"low_risk_count"`
	RiskClassification RiskLevel           `json:"risk_classification,omitempty"`
	CompliancePercent  float64             `json:"compliance_percent"`
	Deviations         []Deviation         `json:"deviations"`
	Responses          []IndicatorResponse `json:"responses"`
	Samples            []Sample            `json:"samples"`
	Photos             []Photo             `json:"photos"`
	Recommendations    string              `json:"recommendations,omitempty"`
	SubmittedAt        *time.Time          `json:"submitted_at,omitempty"`
	SubmittedBy        string              `json:"submitted_by,omitempty"`
}

// Score returns the stored scoring fields as a RiskScoreResult.
func (i Inspection) Score() RiskScoreResult {
	return RiskScoreResult{
		TotalScore:         i.TotalScore,
		HighRiskCount:      i.HighRiskCount,
		MediumRiskCount:    i.MediumRiskCount,
		LowRiskCount:       i.LowRiskCount,
		RiskClassification: i.RiskClassification,
		Deviations:         cloneDeviations(i.Deviations),
		CompliancePercent:  i.CompliancePercent,
	}
}

// AuditEvent is an append-only audit trail entry. PrevHash/Hash chain the
// events of one inspection for tamper evidence.
type AuditEvent struct {
	ID           string            `json:"id"`
	InspectionID string            `json:"inspection_id"`
	Sequence     uint64            `json:"sequence"`
	Action       AuditAction       `json:"action"`
	PerformedBy  string            `json:"performed_by"`
	Details      map[string]string `json:"details,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	PrevHash     string            `json:"prev_hash,omitempty"`
	Hash         string            `json:"hash,omitempty"`
}
