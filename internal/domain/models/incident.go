package models

import "time"

// Classification is the regulatory category of an incident.
type Classification string

const (
	ClassCritical Classification = "CRITICAL_MARKET_EVENT"
	ClassHighRisk Classification = "HIGH_RISK_EVENT"
	ClassElevated Classification = "ELEVATED_MONITORING_EVENT"
	ClassNormal   Classification = "NORMAL_OPERATION"
)

// Classifications lists every category from most to least severe.
func Classifications() []Classification {
	return []Classification{ClassCritical, ClassHighRisk, ClassElevated, ClassNormal}
}

// Rank orders classifications by severity; higher is more severe.
func (c Classification) Rank() int {
	switch c {
	case ClassCritical:
		return 3
	case ClassHighRisk:
		return 2
	case ClassElevated:
		return 1
	default:
		return 0
	}
}

// IncidentInput carries the risk scalars an incident is built from.
type IncidentInput struct {
	MSI               float64
	CRS               float64
	FeedMismatchRate  float64
	AverageTrust      float64
	Tier              RiskTier
	Action            Action
	EscalationReasons []string
}

// Incident is an immutable governance record.
type Incident struct {
	ID                string         `json:"incident_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Tier              RiskTier       `json:"risk_tier"`
	MSI               float64        `json:"msi_score"`
	CRS               float64        `json:"contagion_risk_score"`
	FeedMismatchRate  float64        `json:"feed_mismatch_rate"`
	AverageTrust      float64        `json:"avg_trust_score"`
	Action            Action         `json:"recommended_action"`
	EscalationReasons []string       `json:"escalation_reasons"`
	Severity          float64        `json:"severity_score"`
	Classification    Classification `json:"regulatory_classification"`
	RootCauseChain    []string       `json:"root_cause_chain"`
	Sequence          int64          `json:"incident_sequence"`
}

type ComplianceSummary struct {
	TotalIncidents          int64                    `json:"total_incidents"`
	ClassificationBreakdown map[Classification]int64 `json:"classification_breakdown"`
	AverageSeverity         float64                  `json:"average_severity"`
	MaxSeverity             float64                  `json:"max_severity"`
	EnforcementIncidents    int64                    `json:"enforcement_incidents"`
	EscalatedIncidents      int64                    `json:"escalated_incidents"`
}

type ComplianceReport struct {
	ReportID    string            `json:"report_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     ComplianceSummary `json:"summary"`
	Incidents   []Incident        `json:"incidents"`
}

// AuditEvent is a system event handed to the persistence sink.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	EventFeedMismatch       = "FEED_MISMATCH"
	EventRiskEvaluation     = "SYSTEMIC_RISK_EVALUATION"
	EventGovernanceIncident = "GOVERNANCE_INCIDENT"
	EventStressBattery      = "STRESS_BATTERY"

	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)
