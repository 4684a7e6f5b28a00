package analytics

import (
	"math/rand"

	domsvc "MarketGuard/internal/domain/service"
)

// SimulatedFeed derives a secondary vendor price from the primary one:
// gaussian noise in basis points plus an occasional corruption jump.
// Not safe for concurrent use.
type SimulatedFeed struct {
	deviationBps float64
	corruptProb  float64
	corruptPct   float64
	rng          *rand.Rand
}

func NewSimulatedFeed(deviationBps, corruptProb, corruptPct float64, rng *rand.Rand) *SimulatedFeed {
	return &SimulatedFeed{
		deviationBps: deviationBps,
		corruptProb:  corruptProb,
		corruptPct:   corruptPct,
		rng:          rng,
	}
}

func (f *SimulatedFeed) Price(primary float64) float64 {
	dev := f.rng.NormFloat64() * f.deviationBps / 10000
	if f.corruptProb > 0 && f.rng.Float64() < f.corruptProb {
		sign := 1.0
		if f.rng.Intn(2) == 0 {
			sign = -1
		}
		dev += sign * f.corruptPct / 100
	}
	return primary * (1 + dev)
}

var _ domsvc.SecondaryFeed = (*SimulatedFeed)(nil)
