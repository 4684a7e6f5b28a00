package models

// StabilityInputs feed the Market Stability Index.
type StabilityInputs struct {
	AverageTrust     float64 `json:"avg_trust_score"`
	AnomalyRate      float64 `json:"anomaly_rate"`
	AnomalyCount     int     `json:"anomaly_count"`
	FeedMismatchRate float64 `json:"feed_mismatch_rate"`
	CRS              float64 `json:"contagion_risk_score"`
}

type StabilityState string

const (
	StateStable         StabilityState = "STABLE"
	StateElevatedRisk   StabilityState = "ELEVATED RISK"
	StateHighVolatility StabilityState = "HIGH VOLATILITY"
	StateSystemicRisk   StabilityState = "SYSTEMIC RISK"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type StabilityResult struct {
	Score     float64         `json:"msi"`
	Raw       float64         `json:"msi_raw"`
	State     StabilityState  `json:"state"`
	RiskLevel RiskLevel       `json:"risk_level"`
	Inputs    StabilityInputs `json:"inputs"`
}

// StabilityBreakdown lists each signed term of the index. Penalties are positive magnitudes.
type StabilityBreakdown struct {
	TrustContribution   float64 `json:"trust_contribution"`
	AnomalyRatePenalty  float64 `json:"anomaly_rate_penalty"`
	AnomalyCountPenalty float64 `json:"anomaly_count_penalty"`
	FeedMismatchPenalty float64 `json:"feed_mismatch_penalty"`
	ContagionPenalty    float64 `json:"contagion_penalty"`
	Raw                 float64 `json:"raw_msi"`
	Clamped             float64 `json:"clamped_msi"`
}
