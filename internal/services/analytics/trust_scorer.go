package analytics

import (
	"math"

	"MarketGuard/internal/domain/models"
	domsvc "MarketGuard/internal/domain/service"
)

const (
	InitialTrust         = 100.0
	DefaultTrustRecovery = 0.5

	SafeThreshold    = 80.0
	CautionThreshold = 50.0
)

// penalties are checked top down; the first band whose floor is exceeded
// applies. Any flagged tick below the bands costs minPenalty.
var penalties = []struct {
	above   float64
	penalty float64
}{
	{8, 60},
	{5, 40},
}

const minPenalty = 20.0

// TrustScorer starts at full trust, drops in bands on large z-scores and
// recovers slowly on clean ticks.
type TrustScorer struct {
	score    float64
	recovery float64
}

func NewTrustScorer(recovery float64) *TrustScorer {
	if recovery < 0 {
		recovery = DefaultTrustRecovery
	}
	return &TrustScorer{score: InitialTrust, recovery: recovery}
}

// Update penalises ticks the detector flagged, so the detector's configured
// threshold decides what counts as an anomaly. The z-score only picks the band.
func (s *TrustScorer) Update(res models.AnomalyResult) models.TrustResult {
	if !res.IsAnomaly {
		s.score = math.Min(InitialTrust, s.score+s.recovery)
		return models.TrustResult{Score: s.score, Level: TrustLevelFor(s.score)}
	}
	penalty := minPenalty
	for _, p := range penalties {
		if res.ZScore > p.above {
			penalty = p.penalty
			break
		}
	}
	s.score = math.Max(0, s.score-penalty)
	return models.TrustResult{Score: s.score, Level: TrustLevelFor(s.score)}
}

func (s *TrustScorer) Score() float64 { return s.score }

func TrustLevelFor(score float64) models.TrustLevel {
	switch {
	case score >= SafeThreshold:
		return models.TrustSafe
	case score >= CautionThreshold:
		return models.TrustCaution
	default:
		return models.TrustDangerous
	}
}

var _ domsvc.TrustScorer = (*TrustScorer)(nil)
