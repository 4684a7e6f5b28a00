package usecase

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	domsvc "MarketGuard/internal/domain/service"
	"MarketGuard/internal/services/analytics"
)

type feedFunc func(float64) float64

func (f feedFunc) Price(p float64) float64 { return f(p) }

type panicDetector struct{}

func (panicDetector) Detect(float64) models.AnomalyResult { panic("boom") }

type stubFactory struct {
	feed     feedFunc
	detector domsvc.AnomalyDetector
}

func (f stubFactory) NewDetector(string) domsvc.AnomalyDetector {
	if f.detector != nil {
		return f.detector
	}
	return analytics.NewZScoreDetector(20, 3)
}

func (f stubFactory) NewTrustScorer(string) domsvc.TrustScorer { return analytics.NewTrustScorer(0.5) }

func (f stubFactory) NewSecondaryFeed(string) domsvc.SecondaryFeed { return f.feed }

type memSink struct {
	mu        sync.Mutex
	events    []models.AuditEvent
	incidents []models.Incident
}

func (s *memSink) RecordEvent(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) RecordIncident(_ context.Context, inc models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, inc)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

var t0 = time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)

func newOrchestrator(t *testing.T, f stubFactory, mutate func(*OrchestratorConfig), opts ...OrchestratorOption) *MasterOrchestrator {
	t.Helper()
	cfg := DefaultOrchestratorConfig()
	cfg.Symbols = []string{"AAPL", "MSFT"}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]OrchestratorOption{
		WithCollaboratorFactory(f),
		WithOrchestratorClock(func() time.Time { return t0 }),
	}, opts...)
	o, err := NewMasterOrchestrator(cfg, opts...)
	require.NoError(t, err)
	return o
}

func scaled(k float64) feedFunc { return func(p float64) float64 { return p * k } }

func tick(t *testing.T, o *MasterOrchestrator, symbol string, price float64, i int) *models.CycleResult {
	t.Helper()
	res, err := o.ProcessTick(context.Background(), symbol, price, t0.Add(time.Duration(i)*time.Second))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestProcessTickCleanFeeds(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1.003)}, nil)

	for i, p := range []float64{150.00, 150.02} {
		res := tick(t, o, "AAPL", p, i)
		assert.Empty(t, res.Errors)
		assert.Equal(t, int64(i+1), res.TickNumber)
		require.NotNil(t, res.FeedValidation)
		assert.True(t, res.FeedValidation.ValidationPerformed)
		assert.False(t, res.FeedValidation.MismatchDetected)
		assert.Equal(t, 0.0, res.FeedMismatchRate)
		assert.InDelta(t, p*0.003, res.FeedDeviation, 1e-6)
		assert.Equal(t, 100.0, res.MSI)
		assert.Equal(t, models.TierNormal, res.RiskTier)
		assert.Equal(t, models.ActionNone, res.RecommendedAction)
		assert.Nil(t, res.Incident)
		require.NotNil(t, res.MSIExplanation)
		assert.Equal(t, models.FactorNone, res.DominantRiskFactor)
		assert.Nil(t, res.SeverityExplanation)
		assert.NotEmpty(t, res.CycleID)
	}
}

func TestFeedMismatchDepressesIndex(t *testing.T) {
	sink := &memSink{}
	clean := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	corrupted := map[float64]float64{100: 100, 105: 160}
	dirty := newOrchestrator(t, stubFactory{feed: func(p float64) float64 { return corrupted[p] }}, nil, WithAuditSink(sink))

	var c, d *models.CycleResult
	for i, p := range []float64{100, 105} {
		c = tick(t, clean, "AAPL", p, i)
		d = tick(t, dirty, "AAPL", p, i)
	}

	assert.False(t, c.FeedValidation.MismatchDetected)
	assert.True(t, d.FeedValidation.MismatchDetected)
	assert.InDelta(t, math.Abs(105-160)/132.5, d.FeedValidation.MaxDeviation, 1e-6)
	assert.Equal(t, 0.5, d.FeedMismatchRate)

	assert.Equal(t, 100.0, c.MSI)
	assert.Equal(t, 87.5, d.MSI)
	assert.Less(t, d.MSI, c.MSI)
	assert.Equal(t, models.TierElevatedRisk, d.RiskTier)
	assert.Len(t, d.Evaluation.EscalationReasons, 1)
	assert.Equal(t, 1, sink.count(models.EventFeedMismatch))
}

func TestIncidentOnEscalationOnly(t *testing.T) {
	sink := &memSink{}
	o := newOrchestrator(t, stubFactory{feed: scaled(1.6)}, nil, WithAuditSink(sink))

	first := tick(t, o, "AAPL", 100, 0)
	assert.Equal(t, 1.0, first.FeedMismatchRate)
	assert.Equal(t, 75.0, first.MSI)
	assert.Equal(t, models.TierHighVolatility, first.RiskTier)
	assert.True(t, first.EnforcementRequired)
	require.NotNil(t, first.Incident)
	require.NotNil(t, first.SeverityExplanation)
	// 0.4*25 + 0.2*100
	assert.Equal(t, 30.0, first.Incident.Severity)
	assert.Equal(t, first.Incident.Severity, first.SeverityExplanation.Severity)

	second := tick(t, o, "AAPL", 100.5, 1)
	assert.Equal(t, models.TierHighVolatility, second.RiskTier)
	assert.Nil(t, second.Incident)
	assert.Nil(t, second.SeverityExplanation)

	assert.Len(t, o.Incidents(10), 1)
	assert.Len(t, sink.incidents, 1)
	assert.Equal(t, 1, sink.count(models.EventGovernanceIncident))
	assert.Equal(t, 2, sink.count(models.EventRiskEvaluation))

	inc, err := o.Incident(first.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Incident.ID, inc.ID)
	_, err = o.Incident("nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLayerFailureIsRecordedAndTickCompletes(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1), detector: panicDetector{}}, nil)

	res := tick(t, o, "AAPL", 120, 0)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "AssetIntelligence: panic: boom", res.Errors[0])
	assert.Equal(t, 100.0, res.MSI)
	assert.NotNil(t, res.Evaluation)
	assert.NotNil(t, res.MSIExplanation)
	assert.Equal(t, int64(1), o.SystemState().TickCount)
}

func TestProcessTickValidation(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	ctx := context.Background()

	_, err := o.ProcessTick(ctx, "", 100, t0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = o.ProcessTick(ctx, "AAPL", math.NaN(), t0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = o.ProcessTick(ctx, "AAPL", -1, t0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = o.ProcessTick(ctx, "TSLA", 100, t0)
	assert.ErrorIs(t, err, errs.ErrNotRegistered)
	assert.Equal(t, int64(0), o.SystemState().TickCount)

	auto := newOrchestrator(t, stubFactory{feed: scaled(1)}, func(c *OrchestratorConfig) { c.AutoRegister = true })
	res, err := auto.ProcessTick(ctx, "TSLA", 100, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0, res.Timestamp)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, auto.Symbols())
}

func TestHistoryAndState(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, func(c *OrchestratorConfig) { c.CycleHistory = 40 })

	_, ok := o.LatestCycle()
	assert.False(t, ok)

	for i := 0; i < 60; i++ {
		sym := "AAPL"
		if i%2 == 1 {
			sym = "MSFT"
		}
		tick(t, o, sym, 100+math.Sin(float64(i)), i)
	}

	latest, ok := o.LatestCycle()
	require.True(t, ok)
	assert.Equal(t, int64(60), latest.TickNumber)

	h := o.CycleHistory(10)
	require.Len(t, h, 10)
	assert.Equal(t, int64(60), h[0].TickNumber)
	assert.Equal(t, int64(51), h[9].TickNumber)
	assert.Len(t, o.CycleHistory(0), 40)

	st := o.SystemState()
	assert.Equal(t, int64(60), st.TickCount)
	assert.Equal(t, []string{"AAPL", "MSFT"}, st.SymbolsMonitored)
	assert.Len(t, st.AssetTrust, 2)
	assert.Equal(t, t0, st.UpdatedAt)
	assert.Equal(t, latest.MSI, st.MSI)
	assert.Equal(t, latest.RiskTier, st.CurrentTier)

	fh := o.FeedHealth()
	assert.Equal(t, 0.0, fh.GlobalMismatchRate)
	assert.True(t, o.ContagionSummary().DataSufficient)
	assert.Equal(t, int64(60), o.ActionStatistics().TotalEvaluations)
}

func TestStressBatteryDoesNotTouchLiveState(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1.002)}, nil)
	for i := 0; i < 10; i++ {
		tick(t, o, "AAPL", 100+float64(i), i)
		tick(t, o, "MSFT", 200-float64(i), i)
	}
	before := o.SystemState()

	reports, err := o.RunStressBattery()
	require.NoError(t, err)
	require.Len(t, reports, 9)
	for _, r := range reports {
		assert.GreaterOrEqual(t, r.PostShockMSI, 0.0)
		assert.LessOrEqual(t, r.PostShockMSI, 100.0)
	}

	assert.Equal(t, before, o.SystemState())
}

func TestAssetRankings(t *testing.T) {
	empty := newOrchestrator(t, stubFactory{feed: scaled(1)}, func(c *OrchestratorConfig) { c.Symbols = nil })
	_, err := empty.AssetRankings()
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
	_, err = empty.RunStressBattery()
	assert.ErrorIs(t, err, errs.ErrInsufficientData)

	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	ranks, err := o.AssetRankings()
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, "AAPL", ranks[0].Symbol)
	assert.Equal(t, models.AssetRiskLow, ranks[0].RiskLevel)
}

func TestContagionSummaryIsReadOnly(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	assert.False(t, o.ContagionSummary().DataSufficient)

	for i := 0; i < 20; i++ {
		tick(t, o, "AAPL", 100+float64(i), i)
		tick(t, o, "MSFT", 200+2*float64(i)+math.Sin(float64(i)), i)
	}
	latest, ok := o.LatestCycle()
	require.True(t, ok)
	require.NotNil(t, latest.Contagion)

	first := o.ContagionSummary()
	second := o.ContagionSummary()
	assert.Equal(t, *latest.Contagion, first)
	assert.Equal(t, first.CorrelationSpikeRatio, second.CorrelationSpikeRatio)
	assert.Equal(t, first.CRS, second.CRS)
	assert.Equal(t, latest.CRS, o.SystemState().CRS)
}

func TestConcurrentTicksAndReads(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1.001)}, func(c *OrchestratorConfig) {
		c.Symbols = []string{"AAPL", "MSFT", "NVDA"}
	})
	ctx := context.Background()
	var wg sync.WaitGroup
	for g, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		wg.Add(1)
		go func(g int, sym string) {
			defer wg.Done()
			for i := 0; i < 150; i++ {
				p := 100 + float64(g*10) + math.Sin(float64(i+g))
				if _, err := o.ProcessTick(ctx, sym, p, t0.Add(time.Duration(i)*time.Second)); err != nil {
					t.Error(err)
					return
				}
			}
		}(g, sym)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				st := o.SystemState()
				if st.MSI < 0 || st.MSI > 100 {
					t.Errorf("msi out of range: %v", st.MSI)
				}
				_ = o.Incidents(10)
				_, _ = o.AssetRankings()
				_ = o.ContagionSummary()
				_ = o.CycleHistory(5)
				_ = o.FeedHealth()
			}
		}()
	}
	wg.Wait()

	st := o.SystemState()
	assert.Equal(t, int64(450), st.TickCount)
	assert.Len(t, o.CycleHistory(0), defaultHistoryLimit)
}
