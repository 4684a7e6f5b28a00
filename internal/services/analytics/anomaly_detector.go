// Package analytics holds the per-symbol collaborators the orchestrator
// runs on every tick: anomaly detection, trust scoring and the simulated
// secondary feed.
package analytics

import (
	"math"

	"MarketGuard/internal/domain/models"
	domsvc "MarketGuard/internal/domain/service"
	"MarketGuard/internal/services/features"
)

const (
	DefaultDetectorWindow = 20
	DefaultZThreshold     = 3.0
)

// ZScoreDetector compares each price to the window of prices seen before it.
// Detection starts once the window is full.
type ZScoreDetector struct {
	window    *features.Window
	threshold float64
}

func NewZScoreDetector(window int, threshold float64) *ZScoreDetector {
	if window <= 1 {
		window = DefaultDetectorWindow
	}
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	return &ZScoreDetector{window: features.NewWindow(window), threshold: threshold}
}

// Detect scores price against the current window, then appends it.
func (d *ZScoreDetector) Detect(price float64) models.AnomalyResult {
	var res models.AnomalyResult
	if d.window.Full() {
		vals := d.window.Values()
		mean := features.Mean(vals)
		std := features.StdDev(vals, 0)
		if std > 0 {
			res.ZScore = math.Abs((price - mean) / std)
			res.IsAnomaly = res.ZScore > d.threshold
		}
	}
	d.window.Push(price)
	return res
}

var _ domsvc.AnomalyDetector = (*ZScoreDetector)(nil)
