package feedintegrity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
)

type memSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *memSink) RecordEvent(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) RecordIncident(context.Context, models.Incident) error { return nil }
func (s *memSink) Close() error                                          { return nil }

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, e.RegisterFeed("AAPL", "primary"))
	require.NoError(t, e.RegisterFeed("AAPL", "secondary"))
	return e
}

var ts = time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := []Config{
		{DeviationThreshold: 0, SeverityWeight: 5, RecoveryRate: 0.5, MinFeeds: 2},
		{DeviationThreshold: 1.5, SeverityWeight: 5, RecoveryRate: 0.5, MinFeeds: 2},
		{DeviationThreshold: 0.01, SeverityWeight: 0, RecoveryRate: 0.5, MinFeeds: 2},
		{DeviationThreshold: 0.01, SeverityWeight: 5, RecoveryRate: -1, MinFeeds: 2},
		{DeviationThreshold: 0.01, SeverityWeight: 5, RecoveryRate: 0.5, MinFeeds: 1},
	}
	for i, cfg := range bad {
		_, err := New(cfg)
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "case %d", i)
	}
}

func TestIdenticalPricesNoMismatch(t *testing.T) {
	e := newEngine(t)

	res, err := e.UpdatePrice("AAPL", "primary", 150, ts)
	require.NoError(t, err)
	assert.False(t, res.ValidationPerformed)
	assert.Equal(t, 1, res.FeedsValidated)

	res, err = e.UpdatePrice("AAPL", "secondary", 150, ts)
	require.NoError(t, err)
	assert.True(t, res.ValidationPerformed)
	assert.False(t, res.MismatchDetected)
	assert.Equal(t, 0.0, res.MaxDeviation)
	require.Len(t, res.Deviations, 1)
	assert.Equal(t, 0.0, res.Deviations[0].Deviation)
	assert.Equal(t, 0.0, e.GlobalMismatchRate())
}

func TestDeviationBeyondThresholdIsMismatch(t *testing.T) {
	sink := &memSink{}
	e := newEngine(t, WithSink(sink))

	_, err := e.UpdatePrice("AAPL", "primary", 150, ts)
	require.NoError(t, err)
	res, err := e.UpdatePrice("AAPL", "secondary", 154, ts)
	require.NoError(t, err)

	assert.True(t, res.MismatchDetected)
	assert.InDelta(t, 4.0/152.0, res.MaxDeviation, 1e-8)
	assert.InDelta(t, 0.02632, res.MaxDeviation, 1e-5)
	assert.True(t, res.Deviations[0].ExceedsThreshold)

	sum, err := e.SymbolSummary("AAPL")
	require.NoError(t, err)
	// 5 * 0.0263157 * 100 = 13.16 off both feeds
	assert.InDelta(t, 86.84, sum.Feeds["primary"].Reliability, 0.01)
	assert.InDelta(t, 86.84, sum.Feeds["secondary"].Reliability, 0.01)
	assert.Equal(t, int64(1), sum.Feeds["primary"].MismatchCount)
	assert.Equal(t, int64(1), sum.MismatchCount)
	assert.Equal(t, 1.0, sum.MismatchRate)
	assert.Equal(t, 2, sum.ActiveFeeds)

	require.Len(t, sink.events, 1)
	assert.Equal(t, models.EventFeedMismatch, sink.events[0].Type)
	assert.Equal(t, models.SeverityWarning, sink.events[0].Severity)
}

func TestRecoveryOnCleanCycles(t *testing.T) {
	e := newEngine(t)
	_, _ = e.UpdatePrice("AAPL", "primary", 150, ts)
	_, _ = e.UpdatePrice("AAPL", "secondary", 154, ts)
	before, _ := e.SymbolSummary("AAPL")

	_, err := e.UpdatePrice("AAPL", "secondary", 150.1, ts)
	require.NoError(t, err)
	after, _ := e.SymbolSummary("AAPL")

	assert.InDelta(t, before.Feeds["primary"].Reliability+0.5, after.Feeds["primary"].Reliability, 0.011)
	assert.InDelta(t, 0.5, e.MismatchRate("AAPL"), 1e-12)

	// Reliability never exceeds 100.
	e2 := newEngine(t)
	for i := 0; i < 10; i++ {
		_, _ = e2.UpdatePrice("AAPL", "primary", 100, ts)
		_, _ = e2.UpdatePrice("AAPL", "secondary", 100, ts)
	}
	s2, _ := e2.SymbolSummary("AAPL")
	assert.Equal(t, 100.0, s2.Feeds["primary"].Reliability)
}

func TestReliabilityFloorsAtZero(t *testing.T) {
	e := newEngine(t)
	_, _ = e.UpdatePrice("AAPL", "primary", 100, ts)
	_, _ = e.UpdatePrice("AAPL", "secondary", 300, ts) // deviation 1.0 -> penalty 500
	s, _ := e.SymbolSummary("AAPL")
	assert.Equal(t, 0.0, s.Feeds["primary"].Reliability)
}

func TestUpdatePriceErrors(t *testing.T) {
	e := newEngine(t)

	_, err := e.UpdatePrice("MSFT", "primary", 100, ts)
	assert.ErrorIs(t, err, errs.ErrNotRegistered)

	_, err = e.UpdatePrice("AAPL", "tertiary", 100, ts)
	assert.ErrorIs(t, err, errs.ErrNotRegistered)

	for _, p := range []float64{0, -1} {
		_, err = e.UpdatePrice("AAPL", "primary", p, ts)
		assert.ErrorIs(t, err, errs.ErrInvalidInput)
	}

	assert.ErrorIs(t, e.RegisterFeed("", "x"), errs.ErrInvalidInput)
}

func TestThreeFeedsComparesAllPairs(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.RegisterFeed("AAPL", "tertiary"))
	_, _ = e.UpdatePrice("AAPL", "primary", 100, ts)
	_, _ = e.UpdatePrice("AAPL", "secondary", 100.2, ts)
	res, err := e.UpdatePrice("AAPL", "tertiary", 110, ts)
	require.NoError(t, err)

	assert.Len(t, res.Deviations, 3)
	assert.True(t, res.MismatchDetected)

	s, _ := e.SymbolSummary("AAPL")
	// tertiary is in two mismatching pairs, the others in one each.
	assert.Equal(t, int64(2), s.Feeds["tertiary"].MismatchCount)
	assert.Equal(t, int64(1), s.Feeds["primary"].MismatchCount)
}

func TestDeregisterFeed(t *testing.T) {
	e := newEngine(t)
	assert.True(t, e.DeregisterFeed("AAPL", "primary"))
	assert.False(t, e.DeregisterFeed("AAPL", "primary"))
	assert.Equal(t, []string{"AAPL"}, e.Symbols())
	assert.True(t, e.DeregisterFeed("AAPL", "secondary"))
	assert.Empty(t, e.Symbols())
	assert.False(t, e.DeregisterFeed("AAPL", "secondary"))
}

func TestGlobalHealth(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.RegisterFeed("MSFT", "primary"))
	require.NoError(t, e.RegisterFeed("MSFT", "secondary"))

	h := e.GlobalHealth()
	assert.Equal(t, 100.0, h.AverageReliability)
	assert.Equal(t, 0.0, h.GlobalMismatchRate)

	_, _ = e.UpdatePrice("AAPL", "primary", 150, ts)
	_, _ = e.UpdatePrice("AAPL", "secondary", 154, ts)
	_, _ = e.UpdatePrice("MSFT", "primary", 400, ts)
	_, _ = e.UpdatePrice("MSFT", "secondary", 400, ts)

	h = e.GlobalHealth()
	assert.Equal(t, 2, h.TotalSymbols)
	assert.Equal(t, 4, h.TotalFeeds)
	assert.Equal(t, int64(1), h.TotalMismatches)
	assert.Equal(t, int64(2), h.TotalValidationCycles)
	assert.Equal(t, int64(4), h.TotalPriceUpdates)
	assert.Equal(t, 0.5, h.GlobalMismatchRate)
	require.Len(t, h.LowestReliability, 4)
	assert.Equal(t, "AAPL", h.LowestReliability[0].Symbol)
	assert.Equal(t, 2, h.PerSymbol["MSFT"].ActiveFeeds)
}

func TestDeviationHistoryBounded(t *testing.T) {
	e := newEngine(t)
	_, _ = e.UpdatePrice("AAPL", "primary", 100, ts)
	for i := 0; i < deviationHistory+50; i++ {
		_, err := e.UpdatePrice("AAPL", "secondary", 100+float64(i%3)*0.01, ts)
		require.NoError(t, err)
	}
	assert.Len(t, e.DeviationHistory("AAPL"), deviationHistory)
}

func TestMismatchCountNeverExceedsCycles(t *testing.T) {
	e := newEngine(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				feed := "primary"
				if (g+i)%2 == 0 {
					feed = "secondary"
				}
				_, err := e.UpdatePrice("AAPL", feed, 100+float64(i%7), ts)
				if err != nil {
					t.Error(err)
				}
			}
		}(g)
	}
	wg.Wait()

	h := e.GlobalHealth()
	assert.LessOrEqual(t, h.TotalMismatches, h.TotalValidationCycles)
	assert.Equal(t, int64(1600), h.TotalPriceUpdates)
}

func TestReset(t *testing.T) {
	e := newEngine(t)
	_, _ = e.UpdatePrice("AAPL", "primary", 100, ts)
	e.Reset()
	assert.Empty(t, e.Symbols())
	assert.Equal(t, int64(0), e.GlobalHealth().TotalPriceUpdates)
	_, err := e.SymbolSummary("AAPL")
	assert.True(t, errors.Is(err, errs.ErrNotRegistered), fmt.Sprint(err))
}

func TestUpdatePricesValidatesOncePerSnapshot(t *testing.T) {
	e := newEngine(t)
	ts := time.Now()

	v, err := e.UpdatePrices("AAPL", map[string]float64{"primary": 100, "secondary": 100}, ts)
	require.NoError(t, err)
	assert.False(t, v.MismatchDetected)

	// a jump on both feeds is not a mismatch when they move together
	v, err = e.UpdatePrices("AAPL", map[string]float64{"primary": 105, "secondary": 105.1}, ts)
	require.NoError(t, err)
	assert.False(t, v.MismatchDetected)
	assert.Equal(t, 0.0, e.MismatchRate("AAPL"))

	v, err = e.UpdatePrices("AAPL", map[string]float64{"primary": 105, "secondary": 160}, ts)
	require.NoError(t, err)
	assert.True(t, v.MismatchDetected)
	assert.InDelta(t, 1.0/3, e.MismatchRate("AAPL"), 1e-9)

	_, err = e.UpdatePrices("AAPL", map[string]float64{"primary": 0, "secondary": 1}, ts)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.UpdatePrices("AAPL", map[string]float64{"primary": 1, "tertiary": 1}, ts)
	assert.ErrorIs(t, err, errs.ErrNotRegistered)
	_, err = e.UpdatePrices("MSFT", map[string]float64{"primary": 1}, ts)
	assert.ErrorIs(t, err, errs.ErrNotRegistered)
	// rejected snapshots leave stored prices untouched
	s, err := e.SymbolSummary("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 105.0, *s.Feeds["primary"].LatestPrice)
}
