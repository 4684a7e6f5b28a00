package models

// Dominant factor name used when no term is negative (or positive for severity).
const FactorNone = "NONE"

type MSIComponents struct {
	TrustComponent      float64 `json:"trust_component"`
	AnomalyRatePenalty  float64 `json:"anomaly_rate_penalty"`
	AnomalyCountPenalty float64 `json:"anomaly_count_penalty"`
	FeedMismatchPenalty float64 `json:"feed_mismatch_penalty"`
	ContagionPenalty    float64 `json:"contagion_penalty"`
}

// MSIExplanation decomposes the index into signed contributions.
type MSIExplanation struct {
	Final             float64            `json:"msi_final"`
	Raw               float64            `json:"msi_raw"`
	Components        MSIComponents      `json:"components"`
	Percentages       map[string]float64 `json:"component_percentages"`
	DominantFactor    string             `json:"dominant_risk_factor"`
	DominantMagnitude float64            `json:"dominant_factor_magnitude"`
	Formula           string             `json:"formula"`
}

type SeverityComponents struct {
	MarketInstability float64 `json:"market_instability"`
	ContagionRisk     float64 `json:"contagion_risk"`
	DataIntegrityRisk float64 `json:"data_integrity_risk"`
	TrustDeficit      float64 `json:"trust_deficit"`
}

type SeverityExplanation struct {
	Severity       float64            `json:"severity_score"`
	Raw            float64            `json:"severity_raw"`
	Classification Classification     `json:"classification"`
	Components     SeverityComponents `json:"components"`
	Percentages    map[string]float64 `json:"component_percentages"`
	DominantFactor string             `json:"dominant_factor"`
	Formula        string             `json:"formula"`
}

type AssetRiskLevel string

const (
	AssetRiskLow      AssetRiskLevel = "LOW"
	AssetRiskModerate AssetRiskLevel = "MODERATE"
	AssetRiskHigh     AssetRiskLevel = "HIGH"
	AssetRiskCritical AssetRiskLevel = "CRITICAL"
)

type AssetRank struct {
	Rank        int            `json:"rank"`
	Symbol      string         `json:"symbol"`
	TrustScore  float64        `json:"trust_score"`
	RiskScore   float64        `json:"risk_score"`
	RiskLevel   AssetRiskLevel `json:"risk_level"`
	Explanation string         `json:"explanation"`
}

type TierExplanation struct {
	FinalTier           RiskTier `json:"final_tier"`
	BaseTier            RiskTier `json:"base_tier"`
	WasEscalated        bool     `json:"was_escalated"`
	EscalationSteps     int      `json:"escalation_steps"`
	EscalationReasons   []string `json:"escalation_reasons"`
	EnforcementRequired bool     `json:"enforcement_required"`
	Reasoning           string   `json:"tier_reasoning"`
	MSIBracket          string   `json:"msi_bracket"`
}
