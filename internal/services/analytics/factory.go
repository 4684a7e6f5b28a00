package analytics

import (
	"math/rand"
	"sync"
	"time"

	domsvc "MarketGuard/internal/domain/service"
)

// Config tunes the per-symbol collaborators.
type Config struct {
	DetectorWindow         int
	ZThreshold             float64
	TrustRecovery          float64
	DeviationBps           float64
	CorruptionProbability  float64
	CorruptionMagnitudePct float64
	// Seed fixes the secondary feed noise; zero seeds from the clock.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		DetectorWindow:         DefaultDetectorWindow,
		ZThreshold:             DefaultZThreshold,
		TrustRecovery:          DefaultTrustRecovery,
		DeviationBps:           2.0,
		CorruptionMagnitudePct: 5.0,
	}
}

// Factory builds collaborators. Every secondary feed draws its own source
// from one seeded parent so runs are reproducible for a fixed seed and
// symbol order.
type Factory struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFactory(cfg Config) *Factory {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (f *Factory) NewDetector(string) domsvc.AnomalyDetector {
	return NewZScoreDetector(f.cfg.DetectorWindow, f.cfg.ZThreshold)
}

func (f *Factory) NewTrustScorer(string) domsvc.TrustScorer {
	return NewTrustScorer(f.cfg.TrustRecovery)
}

func (f *Factory) NewSecondaryFeed(string) domsvc.SecondaryFeed {
	f.mu.Lock()
	src := rand.NewSource(f.rng.Int63())
	f.mu.Unlock()
	return NewSimulatedFeed(f.cfg.DeviationBps, f.cfg.CorruptionProbability, f.cfg.CorruptionMagnitudePct, rand.New(src))
}

var _ domsvc.CollaboratorFactory = (*Factory)(nil)
