package stress

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
)

func baseline() models.StressBaseline {
	return models.StressBaseline{
		MSI:              70,
		TrustScores:      map[string]float64{"AAPL": 90, "MSFT": 85, "TSLA": 80},
		CRS:              20,
		FeedMismatchRate: 0.01,
		AnomalyRate:      0.02,
		AnomalyCount:     1,
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e, err := New(baseline(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return e
}

func TestNewRecomputesBaselineMSI(t *testing.T) {
	e := newEngine(t)
	// 85 - 0.4 - 4*ln(2) - 0.25 - 6
	want := 85 - 0.4 - 4*math.Log(2) - 0.25 - 6
	assert.InDelta(t, want, e.BaselineMSI(), 0.005)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, e.Symbols())
}

func TestNewRejectsBadBaseline(t *testing.T) {
	cases := map[string]func(b *models.StressBaseline){
		"msi":   func(b *models.StressBaseline) { b.MSI = 101 },
		"empty": func(b *models.StressBaseline) { b.TrustScores = nil },
		"crs":   func(b *models.StressBaseline) { b.CRS = -1 },
		"feed":  func(b *models.StressBaseline) { b.FeedMismatchRate = 2 },
		"rate":  func(b *models.StressBaseline) { b.AnomalyRate = math.NaN() },
		"count": func(b *models.StressBaseline) { b.AnomalyCount = -3 },
		"trust": func(b *models.StressBaseline) { b.TrustScores["AAPL"] = 140 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := baseline()
			mutate(&b)
			_, err := New(b)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestSingleAssetShock(t *testing.T) {
	e := newEngine(t)
	r, err := e.SingleAssetShock("AAPL", -10)
	require.NoError(t, err)

	assert.Equal(t, models.ScenarioSingleAsset, r.ScenarioType)
	require.NotNil(t, r.ScenarioParams.Single)
	assert.Equal(t, 82.0, r.ScenarioParams.Single.PostShockTrust)
	assert.Equal(t, 8.0, r.ScenarioParams.Single.TrustImpact)

	m := r.PostShockMetrics
	assert.Equal(t, 23.0, m.CRS)
	assert.InDelta(t, 0.04, m.AnomalyRate, 1e-9)
	assert.Equal(t, 3, m.AnomalyCount)
	assert.Equal(t, 85.0, m.TrustScores["MSFT"])

	want := (82.0+85+80)/3 - 0.8 - 4*math.Log(4) - 0.25 - 6.9
	assert.InDelta(t, want, r.PostShockMSI, 0.005)
	assert.InDelta(t, e.BaselineMSI()-r.PostShockMSI, r.DeltaMSI, 0.011)
	assert.Equal(t, math.Max(0, r.DeltaMSI), r.ResilienceScore)
	assert.Equal(t, models.FragilityRobust, r.Fragility)
	assert.Equal(t, int64(1), r.SimulationNumber)
	assert.NotEmpty(t, r.SimulationID)
}

func TestScenarioValidation(t *testing.T) {
	e := newEngine(t)
	_, err := e.SingleAssetShock("NOPE", -10)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.SingleAssetShock("AAPL", -150)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.MultiAssetShock(nil, -10)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.VolatilityAmplification(0.5)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.FeedCorruption("AAPL", -1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Composite(map[string]float64{"X": -5}, 1, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Equal(t, 0, e.Count())
}

func TestMultiAssetAtLeastAsSevereAsSingle(t *testing.T) {
	e := newEngine(t)
	for _, pct := range []float64{-5, -20, -45, 30, -100} {
		single, err := e.SingleAssetShock("AAPL", pct)
		require.NoError(t, err)
		multi, err := e.MultiAssetShock([]string{"AAPL", "MSFT"}, pct)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, multi.DeltaMSI, single.DeltaMSI, "pct %v", pct)
	}
}

func TestVolatilityAmplification(t *testing.T) {
	e := newEngine(t)
	r, err := e.VolatilityAmplification(2)
	require.NoError(t, err)
	m := r.PostShockMetrics
	assert.Equal(t, 50.0, m.CRS)
	assert.InDelta(t, 0.07, m.AnomalyRate, 1e-9)
	assert.Equal(t, 11, m.AnomalyCount)
	assert.Equal(t, 87.0, m.TrustScores["AAPL"])
	assert.Equal(t, 30.0, r.ScenarioParams.Volatility.CRSImpact)

	idle, err := e.VolatilityAmplification(1)
	require.NoError(t, err)
	assert.InDelta(t, 0, idle.DeltaMSI, 0.011)
}

func TestFeedCorruption(t *testing.T) {
	e := newEngine(t)
	r, err := e.FeedCorruption("TSLA", 30)
	require.NoError(t, err)
	p := r.ScenarioParams.Feed
	require.NotNil(t, p)
	assert.InDelta(t, 0.1, p.FeedMismatchImpact, 1e-6)
	assert.InDelta(t, 0.11, p.PostFeedMismatchRate, 1e-6)
	assert.Equal(t, 62.0, p.PostCorruptionTrust)
	assert.Equal(t, 23.0, r.PostShockMetrics.CRS)
	assert.Equal(t, 4, r.PostShockMetrics.AnomalyCount)
}

func TestValuesStayClamped(t *testing.T) {
	e := newEngine(t)
	r, err := e.Composite(map[string]float64{"AAPL": -100, "MSFT": -100, "TSLA": -100}, 50, map[string]float64{"AAPL": 100})
	require.NoError(t, err)
	m := r.PostShockMetrics
	assert.Equal(t, 100.0, m.CRS)
	assert.Equal(t, 1.0, m.AnomalyRate)
	assert.LessOrEqual(t, m.FeedMismatchRate, 1.0)
	for _, v := range m.TrustScores {
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, 0.0, r.PostShockMSI)
	assert.Equal(t, models.FragilityCrisis, r.Fragility)
	assert.Equal(t, models.TierSystemicCrisis, r.PostShockTier)
	assert.True(t, r.TierChanged)
	assert.Equal(t, []string{"asset_shocks", "volatility_amplification", "feed_corruption"}, r.ScenarioParams.Composite.ComponentsActive)
}

func TestCompositeSkipsIdleComponents(t *testing.T) {
	e := newEngine(t)
	r, err := e.Composite(nil, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, r.ScenarioParams.Composite.ComponentsActive)
	assert.InDelta(t, 0, r.DeltaMSI, 0.011)
}

func TestBaselineImmutable(t *testing.T) {
	e := newEngine(t)
	before := e.Baseline()
	beforeMSI := e.BaselineMSI()

	_, err := e.StandardBattery()
	require.NoError(t, err)
	_, err = e.Composite(map[string]float64{"AAPL": -60}, 4, map[string]float64{"MSFT": 40})
	require.NoError(t, err)

	assert.Equal(t, before, e.Baseline())
	assert.Equal(t, beforeMSI, e.BaselineMSI())

	// mutating a returned copy must not leak back
	b := e.Baseline()
	b.TrustScores["AAPL"] = 0
	assert.Equal(t, 90.0, e.Baseline().TrustScores["AAPL"])
}

func TestStandardBatteryAndHistory(t *testing.T) {
	e := newEngine(t)
	reports, err := e.StandardBattery()
	require.NoError(t, err)
	require.Len(t, reports, 9)
	assert.Equal(t, models.ScenarioSingleAsset, reports[0].ScenarioType)
	assert.Equal(t, models.ScenarioComposite, reports[8].ScenarioType)
	assert.LessOrEqual(t, reports[0].DeltaMSI, reports[2].DeltaMSI)

	assert.Equal(t, 9, e.Count())
	h := e.History()
	require.Len(t, h, 9)
	assert.Equal(t, int64(9), h[0].SimulationNumber)
	assert.Equal(t, int64(1), h[8].SimulationNumber)

	one, err := New(models.StressBaseline{MSI: 50, TrustScores: map[string]float64{"BTC": 70}})
	require.NoError(t, err)
	reports, err = one.StandardBattery()
	require.NoError(t, err)
	assert.Len(t, reports, 9)
}

func TestFragility(t *testing.T) {
	assert.Equal(t, models.FragilityRobust, Fragility(9.99))
	assert.Equal(t, models.FragilityModerate, Fragility(10))
	assert.Equal(t, models.FragilityFragile, Fragility(25))
	assert.Equal(t, models.FragilityCrisis, Fragility(40))
}
