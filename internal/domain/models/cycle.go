package models

import "time"

// CycleResult is the audit record of one tick through every layer.
// Errors lists "<layer>: <message>" for each layer that failed; an empty list means success.
type CycleResult struct {
	CycleID             string               `json:"cycle_id"`
	Timestamp           time.Time            `json:"timestamp"`
	TickNumber          int64                `json:"tick_number"`
	Symbol              string               `json:"symbol"`
	PrimaryPrice        float64              `json:"primary_price"`
	SecondaryPrice      float64              `json:"secondary_price"`
	FeedDeviation       float64              `json:"feed_deviation"`
	FeedMismatchRate    float64              `json:"feed_mismatch_rate"`
	FeedValidation      *FeedValidation      `json:"feed_validation,omitempty"`
	IsAnomaly           bool                 `json:"is_anomaly"`
	ZScore              float64              `json:"z_score"`
	TrustScore          float64              `json:"trust_score"`
	TrustLevel          TrustLevel           `json:"trust_level"`
	Contagion           *ContagionSummary    `json:"contagion,omitempty"`
	CRS                 float64              `json:"contagion_risk_score"`
	Stability           *StabilityResult     `json:"stability,omitempty"`
	MSI                 float64              `json:"msi_score"`
	Evaluation          *RiskEvaluation      `json:"risk_evaluation,omitempty"`
	RiskTier            RiskTier             `json:"risk_tier"`
	RecommendedAction   Action               `json:"recommended_action"`
	EnforcementRequired bool                 `json:"enforcement_required"`
	Incident            *Incident            `json:"incident,omitempty"`
	MSIExplanation      *MSIExplanation      `json:"msi_explanation,omitempty"`
	SeverityExplanation *SeverityExplanation `json:"severity_explanation,omitempty"`
	DominantRiskFactor  string               `json:"dominant_risk_factor"`
	Errors              []string             `json:"errors"`
	ProcessingTimeMs    float64              `json:"processing_time_ms"`
}

// HasIncident reports whether the cycle produced a governance incident.
func (c *CycleResult) HasIncident() bool { return c.Incident != nil }

// SystemState is a point-in-time view of the whole pipeline.
type SystemState struct {
	TickCount        int64              `json:"tick_count"`
	TotalAnomalies   int64              `json:"total_anomalies"`
	AnomalyRate      float64            `json:"anomaly_rate"`
	RollingAnomalies int                `json:"rolling_anomalies"`
	AverageTrust     float64            `json:"average_trust_score"`
	AssetTrust       map[string]float64 `json:"asset_trust_scores"`
	FeedMismatchRate float64            `json:"feed_mismatch_rate"`
	CRS              float64            `json:"contagion_risk_score"`
	MSI              float64            `json:"msi_score"`
	CurrentTier      RiskTier           `json:"current_risk_tier"`
	TotalIncidents   int                `json:"total_incidents"`
	SymbolsMonitored []string           `json:"symbols_monitored"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
