package service

import (
	"MarketGuard/internal/domain/models"
)

// AnomalyDetector flags statistical outliers in one symbol's price stream.
type AnomalyDetector interface {
	Detect(price float64) models.AnomalyResult
}

// TrustScorer turns anomaly results into a decaying trust score.
type TrustScorer interface {
	Update(res models.AnomalyResult) models.TrustResult
	Score() float64
}

// SecondaryFeed derives an independent second price for cross-feed validation.
type SecondaryFeed interface {
	Price(primary float64) float64
}

// CollaboratorFactory builds the per-symbol collaborators on first sight of a symbol.
type CollaboratorFactory interface {
	NewDetector(symbol string) AnomalyDetector
	NewTrustScorer(symbol string) TrustScorer
	NewSecondaryFeed(symbol string) SecondaryFeed
}
