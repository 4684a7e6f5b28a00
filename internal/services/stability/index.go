// Package stability computes the Market Stability Index (MSI).
package stability

import (
	"math"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/pkg/util"
)

// Calibrated weights. Changing them changes every downstream tier boundary.
const (
	TrustWeight        = 1.00
	AnomalyRateWeight  = 20.0
	AnomalyCountWeight = 4.0
	FeedMismatchWeight = 25.0
	ContagionWeight    = 0.30

	StableFloor         = 80.0
	ElevatedFloor       = 60.0
	HighVolatilityFloor = 40.0

	Formula = "MSI = 1.00 * trust - 20 * anomaly_rate - 4 * log(1+anomalies) - 25 * feed_mismatch - 0.30 * CRS"
)

// Validate checks every input against its documented range.
func Validate(in models.StabilityInputs) error {
	const op = "stability.Compute"
	switch {
	case !inRange(in.AverageTrust, 0, 100):
		return errs.InvalidInput(op, "avg trust score must be in [0, 100], got %v", in.AverageTrust)
	case !inRange(in.AnomalyRate, 0, 1):
		return errs.InvalidInput(op, "anomaly rate must be in [0, 1], got %v", in.AnomalyRate)
	case in.AnomalyCount < 0:
		return errs.InvalidInput(op, "anomaly count must be non-negative, got %d", in.AnomalyCount)
	case !inRange(in.FeedMismatchRate, 0, 1):
		return errs.InvalidInput(op, "feed mismatch rate must be in [0, 1], got %v", in.FeedMismatchRate)
	case !inRange(in.CRS, 0, 100):
		return errs.InvalidInput(op, "contagion risk score must be in [0, 100], got %v", in.CRS)
	}
	return nil
}

func inRange(x, lo, hi float64) bool {
	return util.Finite(x) && x >= lo && x <= hi
}

// Raw evaluates the unclamped index. Inputs are not validated.
func Raw(in models.StabilityInputs) float64 {
	return TrustWeight*in.AverageTrust -
		AnomalyRateWeight*in.AnomalyRate -
		AnomalyCountWeight*math.Log1p(float64(in.AnomalyCount)) -
		FeedMismatchWeight*in.FeedMismatchRate -
		ContagionWeight*in.CRS
}

// Compute returns the clamped, bracketed index.
func Compute(in models.StabilityInputs) (models.StabilityResult, error) {
	if err := Validate(in); err != nil {
		return models.StabilityResult{}, err
	}
	raw := Raw(in)
	score := util.Round(util.Clamp(raw, 0, 100), 2)
	state, level := Classify(score)
	return models.StabilityResult{
		Score:     score,
		Raw:       util.Round(raw, 4),
		State:     state,
		RiskLevel: level,
		Inputs:    in,
	}, nil
}

// Breakdown returns every term of the formula as a positive magnitude.
// TrustContribution minus the four penalties equals Raw.
func Breakdown(in models.StabilityInputs) (models.StabilityBreakdown, error) {
	if err := Validate(in); err != nil {
		return models.StabilityBreakdown{}, err
	}
	b := models.StabilityBreakdown{
		TrustContribution:   TrustWeight * in.AverageTrust,
		AnomalyRatePenalty:  AnomalyRateWeight * in.AnomalyRate,
		AnomalyCountPenalty: AnomalyCountWeight * math.Log1p(float64(in.AnomalyCount)),
		FeedMismatchPenalty: FeedMismatchWeight * in.FeedMismatchRate,
		ContagionPenalty:    ContagionWeight * in.CRS,
	}
	b.Raw = b.TrustContribution - b.AnomalyRatePenalty - b.AnomalyCountPenalty - b.FeedMismatchPenalty - b.ContagionPenalty
	b.Clamped = util.Clamp(b.Raw, 0, 100)
	return b, nil
}

// Classify maps a score to its bracket.
func Classify(score float64) (models.StabilityState, models.RiskLevel) {
	switch {
	case score >= StableFloor:
		return models.StateStable, models.RiskLow
	case score >= ElevatedFloor:
		return models.StateElevatedRisk, models.RiskMedium
	case score >= HighVolatilityFloor:
		return models.StateHighVolatility, models.RiskHigh
	default:
		return models.StateSystemicRisk, models.RiskCritical
	}
}

// TierFor maps a score to the base risk tier using the same brackets.
func TierFor(score float64) models.RiskTier {
	switch {
	case score >= StableFloor:
		return models.TierNormal
	case score >= ElevatedFloor:
		return models.TierElevatedRisk
	case score >= HighVolatilityFloor:
		return models.TierHighVolatility
	default:
		return models.TierSystemicCrisis
	}
}
