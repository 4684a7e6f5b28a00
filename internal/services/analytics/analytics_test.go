package analytics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
)

func TestZScoreDetectorWarmup(t *testing.T) {
	d := NewZScoreDetector(5, 3)
	for i := 0; i < 5; i++ {
		res := d.Detect(1000)
		assert.False(t, res.IsAnomaly)
		assert.Equal(t, 0.0, res.ZScore)
	}
	// flat window has zero deviation, so nothing is scored
	res := d.Detect(5000)
	assert.False(t, res.IsAnomaly)
	assert.Equal(t, 0.0, res.ZScore)
}

func TestZScoreDetectorFlagsOutlier(t *testing.T) {
	d := NewZScoreDetector(4, 3)
	for _, p := range []float64{99, 101, 99, 101} {
		d.Detect(p)
	}
	// window mean 100, population std 1
	res := d.Detect(104)
	assert.True(t, res.IsAnomaly)
	assert.InDelta(t, 4.0, res.ZScore, 1e-9)

	// window is now 101, 99, 101, 104; scored before 100.5 joins it
	vals := []float64{101, 99, 101, 104}
	mean := (101 + 99 + 101 + 104) / 4.0
	ss := 0.0
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	want := math.Abs(100.5-mean) / math.Sqrt(ss/4)
	res = d.Detect(100.5)
	assert.False(t, res.IsAnomaly)
	assert.InDelta(t, want, res.ZScore, 1e-9)
}

func TestTrustScorerBands(t *testing.T) {
	s := NewTrustScorer(0.5)
	assert.Equal(t, 100.0, s.Score())

	r := s.Update(models.AnomalyResult{ZScore: 3.5, IsAnomaly: true})
	assert.Equal(t, 80.0, r.Score)
	assert.Equal(t, models.TrustSafe, r.Level)

	r = s.Update(models.AnomalyResult{ZScore: 6, IsAnomaly: true})
	assert.Equal(t, 40.0, r.Score)
	assert.Equal(t, models.TrustDangerous, r.Level)

	r = s.Update(models.AnomalyResult{ZScore: 9, IsAnomaly: true})
	assert.Equal(t, 0.0, r.Score)

	r = s.Update(models.AnomalyResult{ZScore: 1})
	assert.Equal(t, 0.5, r.Score)

	// exactly 3 is not above the lowest band
	r = s.Update(models.AnomalyResult{ZScore: 3})
	assert.Equal(t, 1.0, r.Score)
}

func TestTrustFollowsDetectorThreshold(t *testing.T) {
	strict := NewZScoreDetector(5, 4)
	loose := NewZScoreDetector(5, 2)
	for _, p := range []float64{100, 101, 99, 100, 100} {
		strict.Detect(p)
		loose.Detect(p)
	}
	// std of the window is sqrt(0.4), so 102 scores z ~ 3.16
	rs, rl := strict.Detect(102), loose.Detect(102)
	require.InDelta(t, 3.162, rs.ZScore, 1e-3)
	assert.False(t, rs.IsAnomaly)
	assert.True(t, rl.IsAnomaly)

	sStrict, sLoose := NewTrustScorer(0.5), NewTrustScorer(0.5)
	sStrict.Update(models.AnomalyResult{ZScore: 9, IsAnomaly: true})
	sLoose.Update(models.AnomalyResult{ZScore: 9, IsAnomaly: true})
	assert.Equal(t, 40.5, sStrict.Update(rs).Score)
	assert.Equal(t, 20.0, sLoose.Update(rl).Score)
}

func TestTrustScorerRecoveryCapped(t *testing.T) {
	s := NewTrustScorer(0.5)
	for i := 0; i < 10; i++ {
		s.Update(models.AnomalyResult{})
	}
	assert.Equal(t, 100.0, s.Score())
}

func TestTrustLevelFor(t *testing.T) {
	assert.Equal(t, models.TrustSafe, TrustLevelFor(80))
	assert.Equal(t, models.TrustCaution, TrustLevelFor(79.9))
	assert.Equal(t, models.TrustCaution, TrustLevelFor(50))
	assert.Equal(t, models.TrustDangerous, TrustLevelFor(49.9))
}

func TestSimulatedFeedNoise(t *testing.T) {
	f := NewSimulatedFeed(2, 0, 5, rand.New(rand.NewSource(1)))
	for i := 0; i < 1000; i++ {
		p := f.Price(100)
		// 2bps std; 10 sigma is 0.2
		assert.InDelta(t, 100, p, 0.2)
	}
}

func TestSimulatedFeedCorruption(t *testing.T) {
	f := NewSimulatedFeed(0, 1, 5, rand.New(rand.NewSource(1)))
	up, down := 0, 0
	for i := 0; i < 200; i++ {
		p := f.Price(100)
		switch {
		case math.Abs(p-105) < 1e-9:
			up++
		case math.Abs(p-95) < 1e-9:
			down++
		default:
			t.Fatalf("unexpected price %v", p)
		}
	}
	assert.Positive(t, up)
	assert.Positive(t, down)
}

func TestFactoryDeterministicForSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.CorruptionProbability = 0.1

	a, b := NewFactory(cfg), NewFactory(cfg)
	fa, fb := a.NewSecondaryFeed("AAPL"), b.NewSecondaryFeed("AAPL")
	for i := 0; i < 50; i++ {
		require.Equal(t, fa.Price(150), fb.Price(150))
	}

	d := a.NewDetector("AAPL").(*ZScoreDetector)
	assert.Equal(t, DefaultDetectorWindow, d.window.Cap())
	ts := a.NewTrustScorer("AAPL")
	assert.Equal(t, 100.0, ts.Score())
}
