package models

import "time"

// Requests for the risk HTTP endpoints.

type TickRequest struct {
	Symbol    string     `json:"symbol" validate:"required,max=32"`
	Price     float64    `json:"price" validate:"gt=0"`
	Volume    float64    `json:"volume" validate:"gte=0"`
	Timestamp *time.Time `json:"timestamp"`
}

type LimitRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type CycleHistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type StressScenarioRequest struct {
	Scenario         ScenarioType       `json:"scenario_type" validate:"required,oneof=SINGLE_ASSET_SHOCK MULTI_ASSET_SHOCK VOLATILITY_AMPLIFICATION FEED_CORRUPTION COMPOSITE_SCENARIO"`
	Symbol           string             `json:"symbol"`
	Symbols          []string           `json:"symbols"`
	ShockPercent     float64            `json:"shock_percent"`
	VolatilityFactor float64            `json:"volatility_factor" default:"1"`
	DeviationPercent float64            `json:"deviation_percent"`
	AssetShocks      map[string]float64 `json:"asset_shocks"`
	FeedCorruptions  map[string]float64 `json:"feed_corruptions"`
}

type ExplainMSIRequest struct {
	AverageTrust     float64 `json:"avg_trust_score" validate:"gte=0,lte=100"`
	AnomalyRate      float64 `json:"anomaly_rate" validate:"gte=0,lte=1"`
	AnomalyCount     int     `json:"anomaly_count" validate:"gte=0"`
	FeedMismatchRate float64 `json:"feed_mismatch_rate" validate:"gte=0,lte=1"`
	CRS              float64 `json:"contagion_risk_score" validate:"gte=0,lte=100"`
}

type ExplainSeverityRequest struct {
	MSI              float64 `json:"msi_score" validate:"gte=0,lte=100"`
	CRS              float64 `json:"contagion_risk_score" validate:"gte=0,lte=100"`
	FeedMismatchRate float64 `json:"feed_mismatch_rate" validate:"gte=0,lte=1"`
	AverageTrust     float64 `json:"avg_trust_score" validate:"gte=0,lte=100"`
}

type AuditEventsRequest struct {
	Type  string `query:"type" json:"type"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}
