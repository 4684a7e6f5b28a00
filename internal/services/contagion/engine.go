// Package contagion measures cross-asset correlation and volatility
// synchronisation over rolling windows and condenses them into a
// Contagion Risk Score.
package contagion

import (
	"math"
	"sort"
	"sync"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/services/features"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

const (
	minReturns         = 5 // per symbol, for a summary
	minCorrelationLen  = 3
	correlationWeight  = 50.0
	syncWeight         = 30.0
	spikeWeight        = 20.0
	flagScore          = 60.0
	flagSyncRatio      = 0.5
	volEpsilon         = 1e-10
	degenerateVolRatio = 10.0
)

type Config struct {
	Window                    int     // prices kept per symbol, >= 5
	CorrelationSpikeThreshold float64 // (0,1]
	VolatilitySyncThreshold   float64 // > 1
}

func DefaultConfig() Config {
	return Config{Window: 30, CorrelationSpikeThreshold: 0.8, VolatilitySyncThreshold: 2.0}
}

func (c Config) validate() error {
	const op = "contagion.New"
	if c.Window < minReturns {
		return errs.InvalidInput(op, "window must be at least %d, got %d", minReturns, c.Window)
	}
	if !(c.CorrelationSpikeThreshold > 0 && c.CorrelationSpikeThreshold <= 1) {
		return errs.InvalidInput(op, "correlation spike threshold must be in (0, 1], got %v", c.CorrelationSpikeThreshold)
	}
	if !(c.VolatilitySyncThreshold > 1) {
		return errs.InvalidInput(op, "volatility sync threshold must be > 1, got %v", c.VolatilitySyncThreshold)
	}
	return nil
}

// series keeps a bounded price window; returns are derived so that
// len(returns) == len(prices)-1 always holds.
type series struct {
	prices *features.Window
}

func (s *series) returns() []float64 { return features.LogReturns(s.prices.Values()) }

func (s *series) returnCount() int {
	if n := s.prices.Len(); n > 1 {
		return n - 1
	}
	return 0
}

type Engine struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	assets   map[string]*series
	prevCorr *float64
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: logger.Nop(), assets: make(map[string]*series)}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// UpdatePrice appends a price, registering the symbol on first use.
func (e *Engine) UpdatePrice(symbol string, price float64) (models.PriceUpdate, error) {
	const op = "contagion.UpdatePrice"
	if symbol == "" {
		return models.PriceUpdate{}, errs.InvalidInput(op, "symbol is required")
	}
	if !util.Finite(price) || price <= 0 {
		return models.PriceUpdate{}, errs.InvalidInput(op, "invalid price %v for %s: must be positive", price, symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.assets[symbol]
	if !ok {
		s = &series{prices: features.NewWindow(e.cfg.Window)}
		e.assets[symbol] = s
	}

	var ret *float64
	if prev, ok := s.prices.Last(); ok && prev > 0 {
		r := math.Log(price / prev)
		ret = &r
	}
	s.prices.Push(price)

	return models.PriceUpdate{
		Symbol:         symbol,
		Price:          price,
		Return:         ret,
		DataPoints:     s.returnCount(),
		SufficientData: s.returnCount() >= minReturns,
	}, nil
}

func (e *Engine) sortedSymbols() []string {
	out := make([]string, 0, len(e.assets))
	for s := range e.assets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) sufficient() bool {
	if len(e.assets) < 2 {
		return false
	}
	for _, s := range e.assets {
		if s.returnCount() < minReturns {
			return false
		}
	}
	return true
}

// Summary recomputes the contagion view from the current windows. Insufficient
// history yields a zeroed summary with DataSufficient=false, not an error.
func (e *Engine) Summary() models.ContagionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sufficient() {
		return models.ContagionSummary{
			SymbolsTracked:      len(e.assets),
			CorrelationMatrix:   map[string]float64{},
			PerSymbolVolatility: map[string]models.SymbolVolatility{},
			ElevatedSymbols:     []string{},
		}
	}

	symbols := e.sortedSymbols()
	rets := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		rets[sym] = e.assets[sym].returns()
	}

	matrix, avgCorr := correlation(symbols, rets)
	vols, syncRatio, elevated := e.volatility(symbols, rets)
	spike := e.spike(avgCorr)

	crs := correlationWeight*math.Max(0, avgCorr) + syncWeight*syncRatio + spikeWeight*spike
	crs = util.Clamp(crs, 0, 100)
	flag := crs >= flagScore || (avgCorr >= e.cfg.CorrelationSpikeThreshold && syncRatio >= flagSyncRatio)

	if flag {
		e.log.Warn("systemic contagion flagged",
			logger.Float64("crs", crs),
			logger.Float64("avg_correlation", avgCorr),
			logger.Float64("sync_ratio", syncRatio))
	}

	return models.ContagionSummary{
		AverageCorrelation:    util.Round(avgCorr, 6),
		VolatilitySyncRatio:   util.Round(syncRatio, 6),
		CorrelationSpikeRatio: util.Round(spike, 6),
		CRS:                   util.Round(crs, 2),
		ContagionFlag:         flag,
		SymbolsTracked:        len(symbols),
		DataSufficient:        true,
		CorrelationMatrix:     matrix,
		PerSymbolVolatility:   vols,
		ElevatedSymbols:       elevated,
	}
}

// correlation aligns every series on the shortest common tail and returns the
// pairwise Pearson matrix keyed "A_B" plus the upper-triangle average.
func correlation(symbols []string, rets map[string][]float64) (map[string]float64, float64) {
	minLen := math.MaxInt
	for _, s := range symbols {
		minLen = min(minLen, len(rets[s]))
	}

	matrix := make(map[string]float64, len(symbols)*len(symbols))
	if minLen < minCorrelationLen {
		for _, a := range symbols {
			for _, b := range symbols {
				v := 0.0
				if a == b {
					v = 1
				}
				matrix[a+"_"+b] = v
			}
		}
		return matrix, 0
	}

	sum, pairs := 0.0, 0
	for i, a := range symbols {
		matrix[a+"_"+a] = 1
		for j := i + 1; j < len(symbols); j++ {
			b := symbols[j]
			c := features.Pearson(features.Tail(rets[a], minLen), features.Tail(rets[b], minLen))
			if math.IsNaN(c) {
				c = 0
			}
			c = util.Round(c, 6)
			matrix[a+"_"+b] = c
			matrix[b+"_"+a] = c
			sum += c
			pairs++
		}
	}
	if pairs == 0 {
		return matrix, 0
	}
	return matrix, sum / float64(pairs)
}

// volatility compares each symbol's full-window sample volatility with the
// volatility of the first half of its window.
func (e *Engine) volatility(symbols []string, rets map[string][]float64) (map[string]models.SymbolVolatility, float64, []string) {
	out := make(map[string]models.SymbolVolatility, len(symbols))
	elevated := []string{}
	for _, s := range symbols {
		cur, base := volatilityPair(rets[s])
		if len(rets[s]) < minReturns {
			out[s] = models.SymbolVolatility{}
			continue
		}
		ratio := volRatio(cur, base)
		isElevated := ratio > e.cfg.VolatilitySyncThreshold
		if isElevated {
			elevated = append(elevated, s)
		}
		out[s] = models.SymbolVolatility{
			Volatility: util.Round(cur, 8),
			Baseline:   util.Round(base, 8),
			Ratio:      util.Round(ratio, 4),
			Elevated:   isElevated,
		}
	}
	return out, float64(len(elevated)) / float64(len(symbols)), elevated
}

func volatilityPair(r []float64) (cur, base float64) {
	if len(r) < minReturns {
		return 0, 0
	}
	half := max(2, len(r)/2)
	return features.StdDev(r, 1), features.StdDev(r[:half], 1)
}

func volRatio(cur, base float64) float64 {
	switch {
	case base > volEpsilon:
		return cur / base
	case cur > volEpsilon:
		return degenerateVolRatio
	default:
		return 0
	}
}

// spike compares avg correlation with the value seen by the previous summary.
func (e *Engine) spike(avg float64) float64 {
	prev := e.prevCorr
	cur := avg
	e.prevCorr = &cur
	if prev == nil {
		return 0
	}
	delta := avg - *prev
	if delta <= 0 {
		return 0
	}
	return math.Min(1, delta/e.cfg.CorrelationSpikeThreshold)
}

// SymbolMetrics reports the rolling window statistics of one symbol.
func (e *Engine) SymbolMetrics(symbol string) (models.SymbolContagionMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.assets[symbol]
	if !ok {
		return models.SymbolContagionMetrics{}, errs.NotRegistered("contagion.SymbolMetrics", "symbol %q is not tracked", symbol)
	}
	r := s.returns()
	last, _ := s.prices.Last()
	cur, base := volatilityPair(r)
	return models.SymbolContagionMetrics{
		Symbol:             symbol,
		PriceCount:         s.prices.Len(),
		ReturnCount:        len(r),
		LatestPrice:        last,
		RollingVolatility:  util.Round(cur, 8),
		BaselineVolatility: util.Round(base, 8),
		Elevated:           base > 0 && cur > base*e.cfg.VolatilitySyncThreshold,
		AverageReturn:      util.Round(features.Mean(r), 8),
	}, nil
}

// Symbols returns tracked symbols, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedSymbols()
}

// Reset clears every window and the stored previous correlation.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assets = make(map[string]*series)
	e.prevCorr = nil
}
