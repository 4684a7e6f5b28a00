package models

import "time"

type ScenarioType string

const (
	ScenarioSingleAsset ScenarioType = "SINGLE_ASSET_SHOCK"
	ScenarioMultiAsset  ScenarioType = "MULTI_ASSET_SHOCK"
	ScenarioVolatility  ScenarioType = "VOLATILITY_AMPLIFICATION"
	ScenarioFeed        ScenarioType = "FEED_CORRUPTION"
	ScenarioComposite   ScenarioType = "COMPOSITE_SCENARIO"
)

type Fragility string

const (
	FragilityRobust   Fragility = "ROBUST"
	FragilityModerate Fragility = "MODERATE_SENSITIVITY"
	FragilityFragile  Fragility = "FRAGILE"
	FragilityCrisis   Fragility = "CRISIS_PRONE"
)

// StressBaseline is the snapshot a stress engine is built from.
type StressBaseline struct {
	MSI              float64            `json:"msi"`
	TrustScores      map[string]float64 `json:"trust_scores"`
	CRS              float64            `json:"contagion_risk_score"`
	FeedMismatchRate float64            `json:"feed_mismatch_rate"`
	AnomalyRate      float64            `json:"anomaly_rate"`
	AnomalyCount     int                `json:"anomaly_count"`
}

type PostShockMetrics struct {
	CRS              float64            `json:"contagion_risk_score"`
	FeedMismatchRate float64            `json:"feed_mismatch_rate"`
	AnomalyRate      float64            `json:"anomaly_rate"`
	AnomalyCount     int                `json:"anomaly_count"`
	AverageTrust     float64            `json:"avg_trust"`
	TrustScores      map[string]float64 `json:"trust_scores"`
}

type SingleShockParams struct {
	Symbol         string  `json:"symbol"`
	ShockPercent   float64 `json:"shock_percent"`
	OriginalTrust  float64 `json:"original_trust"`
	PostShockTrust float64 `json:"post_shock_trust"`
	TrustImpact    float64 `json:"trust_impact"`
}

type MultiShockParams struct {
	Symbols            []string `json:"symbols"`
	ShockPercent       float64  `json:"shock_percent"`
	AffectedAssets     int      `json:"affected_assets"`
	TotalAssets        int      `json:"total_assets"`
	AffectedRatio      float64  `json:"affected_ratio"`
	ContagionAmplifier float64  `json:"contagion_amplifier"`
}

type VolatilityParams struct {
	Factor                   float64 `json:"volatility_factor"`
	CRSImpact                float64 `json:"crs_impact"`
	AnomalyRateImpact        float64 `json:"anomaly_rate_impact"`
	TrustDegradationPerAsset float64 `json:"trust_degradation_per_asset"`
}

type FeedCorruptionParams struct {
	Symbol               string  `json:"symbol"`
	DeviationPercent     float64 `json:"deviation_percent"`
	OriginalTrust        float64 `json:"original_trust"`
	PostCorruptionTrust  float64 `json:"post_corruption_trust"`
	FeedMismatchImpact   float64 `json:"feed_mismatch_impact"`
	PostFeedMismatchRate float64 `json:"post_feed_mismatch_rate"`
}

type CompositeParams struct {
	AssetShocks      map[string]float64 `json:"asset_shocks"`
	VolatilityFactor float64            `json:"volatility_factor"`
	FeedCorruptions  map[string]float64 `json:"feed_corruptions"`
	ComponentsActive []string           `json:"components_active"`
}

// ScenarioParams holds exactly one populated member matching the scenario type.
type ScenarioParams struct {
	Single     *SingleShockParams    `json:"single_asset,omitempty"`
	Multi      *MultiShockParams     `json:"multi_asset,omitempty"`
	Volatility *VolatilityParams     `json:"volatility,omitempty"`
	Feed       *FeedCorruptionParams `json:"feed_corruption,omitempty"`
	Composite  *CompositeParams      `json:"composite,omitempty"`
}

type StressReport struct {
	SimulationID     string           `json:"simulation_id"`
	Timestamp        time.Time        `json:"timestamp"`
	ScenarioType     ScenarioType     `json:"scenario_type"`
	BaselineMSI      float64          `json:"baseline_msi"`
	PostShockMSI     float64          `json:"post_shock_msi"`
	DeltaMSI         float64          `json:"delta_msi"`
	ResilienceScore  float64          `json:"resilience_score"`
	BaselineTier     RiskTier         `json:"baseline_tier"`
	PostShockTier    RiskTier         `json:"post_shock_tier"`
	TierChanged      bool             `json:"tier_changed"`
	Fragility        Fragility        `json:"fragility_classification"`
	PostShockMetrics PostShockMetrics `json:"post_shock_metrics"`
	ScenarioParams   ScenarioParams   `json:"scenario_params"`
	SimulationNumber int64            `json:"simulation_number"`
}
