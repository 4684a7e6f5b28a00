package models

import "time"

// Tick is one primary-feed price observation from the market data source.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedObservation is a single price reported by one named feed.
type FeedObservation struct {
	Symbol    string
	Feed      string
	Price     float64
	Timestamp time.Time
}

// AnomalyResult is the output of a per-symbol anomaly detector.
type AnomalyResult struct {
	IsAnomaly bool    `json:"is_anomaly"`
	ZScore    float64 `json:"z_score"`
}

// TrustLevel labels a trust score bracket.
type TrustLevel string

const (
	TrustSafe      TrustLevel = "SAFE"
	TrustCaution   TrustLevel = "CAUTION"
	TrustDangerous TrustLevel = "DANGEROUS"
)

// TrustResult is the output of a per-symbol trust scorer.
type TrustResult struct {
	Score float64    `json:"trust_score"`
	Level TrustLevel `json:"trust_level"`
}
