// Package stress runs what-if scenarios against a frozen snapshot of the
// live metrics. Nothing here touches live engine state.
package stress

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/services/stability"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

// Scenario multipliers.
const (
	shockTrustImpact     = 0.8
	shockCRSBoost        = 0.3
	shockRateBoost       = 0.002
	shockCountDivisor    = 5.0
	multiRatioAmplifier  = 0.5
	multiRateBoost       = 0.003
	multiCountDivisor    = 3.0
	volCRSPerUnit        = 30.0
	volRatePerUnit       = 0.05
	volTrustPerUnit      = 3.0
	volCountPerUnit      = 10.0
	feedTrustImpact      = 0.6
	feedCRSBoost         = 0.1
	feedRateBoost        = 0.003
	feedCountDivisor     = 10.0
	compositeCRSPerShock = 0.2
)

// Engine holds an immutable baseline and an append-only report history.
type Engine struct {
	baseline    models.StressBaseline
	baselineMSI float64
	symbols     []string
	log         *logger.Logger
	now         func() time.Time

	mu      sync.RWMutex
	history []models.StressReport
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New validates the baseline and recomputes the baseline index from it.
func New(b models.StressBaseline, opts ...Option) (*Engine, error) {
	const op = "stress.New"
	switch {
	case !util.Finite(b.MSI) || b.MSI < 0 || b.MSI > 100:
		return nil, errs.InvalidInput(op, "baseline msi must be in [0, 100], got %v", b.MSI)
	case len(b.TrustScores) == 0:
		return nil, errs.InvalidInput(op, "baseline trust scores must not be empty")
	case !util.Finite(b.CRS) || b.CRS < 0 || b.CRS > 100:
		return nil, errs.InvalidInput(op, "baseline crs must be in [0, 100], got %v", b.CRS)
	case !util.Finite(b.FeedMismatchRate) || b.FeedMismatchRate < 0 || b.FeedMismatchRate > 1:
		return nil, errs.InvalidInput(op, "baseline feed mismatch rate must be in [0, 1], got %v", b.FeedMismatchRate)
	case !util.Finite(b.AnomalyRate) || b.AnomalyRate < 0 || b.AnomalyRate > 1:
		return nil, errs.InvalidInput(op, "baseline anomaly rate must be in [0, 1], got %v", b.AnomalyRate)
	case b.AnomalyCount < 0:
		return nil, errs.InvalidInput(op, "baseline anomaly count must be non-negative, got %d", b.AnomalyCount)
	}

	trust := make(map[string]float64, len(b.TrustScores))
	symbols := make([]string, 0, len(b.TrustScores))
	for s, v := range b.TrustScores {
		if !util.Finite(v) || v < 0 || v > 100 {
			return nil, errs.InvalidInput(op, "baseline trust for %s must be in [0, 100], got %v", s, v)
		}
		trust[s] = v
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	b.TrustScores = trust

	e := &Engine{
		baseline: b,
		symbols:  symbols,
		log:      logger.Nop(),
		now:      time.Now,
	}
	e.baselineMSI = util.Round(computeMSI(b.TrustScores, b.AnomalyRate, b.AnomalyCount, b.FeedMismatchRate, b.CRS), 2)
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Baseline returns a deep copy of the snapshot.
func (e *Engine) Baseline() models.StressBaseline {
	b := e.baseline
	b.TrustScores = e.cloneTrust()
	return b
}

// BaselineMSI is the index recomputed from the baseline inputs.
func (e *Engine) BaselineMSI() float64 { return e.baselineMSI }

// Symbols returns the baseline symbols, sorted.
func (e *Engine) Symbols() []string { return append([]string{}, e.symbols...) }

func (e *Engine) cloneTrust() map[string]float64 {
	out := make(map[string]float64, len(e.baseline.TrustScores))
	for k, v := range e.baseline.TrustScores {
		out[k] = v
	}
	return out
}

func averageTrust(trust map[string]float64) float64 {
	if len(trust) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range trust {
		sum += v
	}
	return sum / float64(len(trust))
}

func computeMSI(trust map[string]float64, rate float64, count int, feed, crs float64) float64 {
	in := models.StabilityInputs{
		AverageTrust:     util.Clamp(averageTrust(trust), 0, 100),
		AnomalyRate:      util.Clamp(rate, 0, 1),
		AnomalyCount:     max(0, count),
		FeedMismatchRate: util.Clamp(feed, 0, 1),
		CRS:              util.Clamp(crs, 0, 100),
	}
	return util.Clamp(stability.Raw(in), 0, 100)
}

// Fragility classifies how far a shock pushed the index down.
func Fragility(delta float64) models.Fragility {
	switch {
	case delta < 10:
		return models.FragilityRobust
	case delta < 25:
		return models.FragilityModerate
	case delta < 40:
		return models.FragilityFragile
	default:
		return models.FragilityCrisis
	}
}

// state is the mutable working copy a scenario transforms.
type state struct {
	trust map[string]float64
	crs   float64
	feed  float64
	rate  float64
	count int
}

func (e *Engine) start() *state {
	return &state{
		trust: e.cloneTrust(),
		crs:   e.baseline.CRS,
		feed:  e.baseline.FeedMismatchRate,
		rate:  e.baseline.AnomalyRate,
		count: e.baseline.AnomalyCount,
	}
}

func (s *state) clamp() {
	s.crs = util.Clamp(s.crs, 0, 100)
	s.feed = util.Clamp(s.feed, 0, 1)
	s.rate = util.Clamp(s.rate, 0, 1)
	for k, v := range s.trust {
		s.trust[k] = util.Clamp(v, 0, 100)
	}
}

func (e *Engine) requireSymbol(op, symbol string) error {
	if _, ok := e.baseline.TrustScores[symbol]; !ok {
		return errs.InvalidInput(op, "symbol %q not in baseline", symbol)
	}
	return nil
}

func validShock(op string, pct float64) error {
	if !util.Finite(pct) || pct < -100 || pct > 100 {
		return errs.InvalidInput(op, "shock percent must be in [-100, 100], got %v", pct)
	}
	return nil
}

// SingleAssetShock applies a price shock to one asset.
func (e *Engine) SingleAssetShock(symbol string, pct float64) (models.StressReport, error) {
	const op = "stress.SingleAssetShock"
	if err := e.requireSymbol(op, symbol); err != nil {
		return models.StressReport{}, err
	}
	if err := validShock(op, pct); err != nil {
		return models.StressReport{}, err
	}

	s := e.start()
	mag := math.Abs(pct)
	orig := s.trust[symbol]
	s.trust[symbol] = math.Max(0, orig-shockTrustImpact*mag)
	s.crs = math.Min(100, s.crs+shockCRSBoost*mag)
	s.rate = math.Min(1, s.rate+shockRateBoost*mag)
	s.count += int(mag / shockCountDivisor)

	return e.finish(models.ScenarioSingleAsset, s, models.ScenarioParams{Single: &models.SingleShockParams{
		Symbol:         symbol,
		ShockPercent:   pct,
		OriginalTrust:  util.Round(orig, 2),
		PostShockTrust: util.Round(s.trust[symbol], 2),
		TrustImpact:    util.Round(orig-s.trust[symbol], 2),
	}}), nil
}

// MultiAssetShock applies the same shock to several assets and amplifies
// contagion by the affected share of the universe.
func (e *Engine) MultiAssetShock(symbols []string, pct float64) (models.StressReport, error) {
	const op = "stress.MultiAssetShock"
	if len(symbols) == 0 {
		return models.StressReport{}, errs.InvalidInput(op, "symbols must not be empty")
	}
	for _, sym := range symbols {
		if err := e.requireSymbol(op, sym); err != nil {
			return models.StressReport{}, err
		}
	}
	if err := validShock(op, pct); err != nil {
		return models.StressReport{}, err
	}

	s := e.start()
	mag := math.Abs(pct)
	for _, sym := range symbols {
		s.trust[sym] = math.Max(0, s.trust[sym]-shockTrustImpact*mag)
	}
	total := len(s.trust)
	ratio := float64(len(symbols)) / float64(total)
	boost := shockCRSBoost*mag + mag*ratio*multiRatioAmplifier
	s.crs = math.Min(100, s.crs+boost)
	s.rate = math.Min(1, s.rate+multiRateBoost*mag*float64(len(symbols)))
	s.count += int(mag / multiCountDivisor)

	return e.finish(models.ScenarioMultiAsset, s, models.ScenarioParams{Multi: &models.MultiShockParams{
		Symbols:            append([]string{}, symbols...),
		ShockPercent:       pct,
		AffectedAssets:     len(symbols),
		TotalAssets:        total,
		AffectedRatio:      util.Round(ratio, 4),
		ContagionAmplifier: util.Round(boost, 2),
	}}), nil
}

func applyVolatility(s *state, factor float64) {
	x := factor - 1
	s.crs = math.Min(100, s.crs+x*volCRSPerUnit)
	s.rate = math.Min(1, s.rate+x*volRatePerUnit)
	for k, v := range s.trust {
		s.trust[k] = math.Max(0, v-x*volTrustPerUnit)
	}
	s.count += int(x * volCountPerUnit)
}

// VolatilityAmplification scales market-wide volatility by factor (>= 1).
func (e *Engine) VolatilityAmplification(factor float64) (models.StressReport, error) {
	if !util.Finite(factor) || factor < 1 {
		return models.StressReport{}, errs.InvalidInput("stress.VolatilityAmplification", "volatility factor must be >= 1, got %v", factor)
	}
	s := e.start()
	applyVolatility(s, factor)
	x := factor - 1
	return e.finish(models.ScenarioVolatility, s, models.ScenarioParams{Volatility: &models.VolatilityParams{
		Factor:                   factor,
		CRSImpact:                util.Round(x*volCRSPerUnit, 2),
		AnomalyRateImpact:        util.Round(x*volRatePerUnit, 4),
		TrustDegradationPerAsset: util.Round(x*volTrustPerUnit, 2),
	}}), nil
}

func validDeviation(op string, dev float64) error {
	if !util.Finite(dev) || dev < 0 || dev > 100 {
		return errs.InvalidInput(op, "deviation percent must be in [0, 100], got %v", dev)
	}
	return nil
}

// FeedCorruption simulates one asset's secondary feed drifting by dev percent.
func (e *Engine) FeedCorruption(symbol string, dev float64) (models.StressReport, error) {
	const op = "stress.FeedCorruption"
	if err := e.requireSymbol(op, symbol); err != nil {
		return models.StressReport{}, err
	}
	if err := validDeviation(op, dev); err != nil {
		return models.StressReport{}, err
	}

	s := e.start()
	impact := (dev / 100) / float64(max(len(s.trust), 1))
	s.feed = math.Min(1, s.feed+impact)
	orig := s.trust[symbol]
	s.trust[symbol] = math.Max(0, orig-feedTrustImpact*dev)
	s.crs = math.Min(100, s.crs+feedCRSBoost*dev)
	s.rate = math.Min(1, s.rate+feedRateBoost*dev)
	s.count += int(dev / feedCountDivisor)

	return e.finish(models.ScenarioFeed, s, models.ScenarioParams{Feed: &models.FeedCorruptionParams{
		Symbol:               symbol,
		DeviationPercent:     dev,
		OriginalTrust:        util.Round(orig, 2),
		PostCorruptionTrust:  util.Round(s.trust[symbol], 2),
		FeedMismatchImpact:   util.Round(impact, 6),
		PostFeedMismatchRate: util.Round(s.feed, 6),
	}}), nil
}

// Composite applies asset shocks, then volatility amplification (when factor > 1),
// then feed corruption, to a single working copy.
func (e *Engine) Composite(shocks map[string]float64, factor float64, corruptions map[string]float64) (models.StressReport, error) {
	const op = "stress.Composite"
	for _, sym := range sortedKeys(shocks) {
		if err := e.requireSymbol(op, sym); err != nil {
			return models.StressReport{}, err
		}
		if err := validShock(op, shocks[sym]); err != nil {
			return models.StressReport{}, err
		}
	}
	if !util.Finite(factor) || factor < 1 {
		return models.StressReport{}, errs.InvalidInput(op, "volatility factor must be >= 1, got %v", factor)
	}
	for _, sym := range sortedKeys(corruptions) {
		if err := e.requireSymbol(op, sym); err != nil {
			return models.StressReport{}, err
		}
		if err := validDeviation(op, corruptions[sym]); err != nil {
			return models.StressReport{}, err
		}
	}

	s := e.start()
	active := []string{}

	if len(shocks) > 0 {
		active = append(active, "asset_shocks")
		for _, sym := range sortedKeys(shocks) {
			mag := math.Abs(shocks[sym])
			s.trust[sym] = math.Max(0, s.trust[sym]-shockTrustImpact*mag)
			s.crs = math.Min(100, s.crs+compositeCRSPerShock*mag)
			s.rate = math.Min(1, s.rate+shockRateBoost*mag)
			s.count += int(mag / shockCountDivisor)
		}
	}
	if factor > 1 {
		active = append(active, "volatility_amplification")
		applyVolatility(s, factor)
	}
	if len(corruptions) > 0 {
		active = append(active, "feed_corruption")
		total := float64(max(len(s.trust), 1))
		for _, sym := range sortedKeys(corruptions) {
			dev := corruptions[sym]
			s.feed = math.Min(1, s.feed+(dev/100)/total)
			s.trust[sym] = math.Max(0, s.trust[sym]-feedTrustImpact*dev)
			s.crs = math.Min(100, s.crs+feedCRSBoost*dev)
			s.rate = math.Min(1, s.rate+feedRateBoost*dev)
			s.count += int(dev / feedCountDivisor)
		}
	}

	return e.finish(models.ScenarioComposite, s, models.ScenarioParams{Composite: &models.CompositeParams{
		AssetShocks:      copyMap(shocks),
		VolatilityFactor: factor,
		FeedCorruptions:  copyMap(corruptions),
		ComponentsActive: active,
	}}), nil
}

func (e *Engine) finish(kind models.ScenarioType, s *state, params models.ScenarioParams) models.StressReport {
	s.clamp()
	post := util.Round(computeMSI(s.trust, s.rate, s.count, s.feed, s.crs), 2)
	delta := util.Round(e.baselineMSI-post, 2)

	trust := make(map[string]float64, len(s.trust))
	for k, v := range s.trust {
		trust[k] = util.Round(v, 2)
	}
	baseTier := stability.TierFor(e.baselineMSI)
	postTier := stability.TierFor(post)

	r := models.StressReport{
		SimulationID:    uuid.New().String(),
		Timestamp:       e.now().UTC(),
		ScenarioType:    kind,
		BaselineMSI:     e.baselineMSI,
		PostShockMSI:    post,
		DeltaMSI:        delta,
		ResilienceScore: math.Max(0, delta),
		BaselineTier:    baseTier,
		PostShockTier:   postTier,
		TierChanged:     baseTier != postTier,
		PostShockMetrics: models.PostShockMetrics{
			CRS:              util.Round(s.crs, 2),
			FeedMismatchRate: util.Round(s.feed, 6),
			AnomalyRate:      util.Round(s.rate, 6),
			AnomalyCount:     s.count,
			AverageTrust:     util.Round(averageTrust(s.trust), 2),
			TrustScores:      trust,
		},
		ScenarioParams: params,
	}
	r.Fragility = Fragility(r.ResilienceScore)

	e.mu.Lock()
	r.SimulationNumber = int64(len(e.history) + 1)
	e.history = append(e.history, r)
	e.mu.Unlock()

	fields := []logger.Field{
		logger.String("scenario", string(kind)),
		logger.Float64("delta_msi", delta),
		logger.String("fragility", string(r.Fragility)),
	}
	if r.Fragility == models.FragilityCrisis || r.Fragility == models.FragilityFragile {
		e.log.Warn("stress scenario", fields...)
	} else {
		e.log.Info("stress scenario", fields...)
	}
	return r
}

// StandardBattery runs nine scenarios of increasing severity.
func (e *Engine) StandardBattery() ([]models.StressReport, error) {
	syms := e.symbols
	first, last := syms[0], syms[len(syms)-1]

	type step func() (models.StressReport, error)
	steps := []step{
		func() (models.StressReport, error) { return e.SingleAssetShock(first, -10) },
		func() (models.StressReport, error) { return e.SingleAssetShock(first, -30) },
		func() (models.StressReport, error) { return e.SingleAssetShock(first, -50) },
		func() (models.StressReport, error) { return e.MultiAssetShock(syms[:min(2, len(syms))], -15) },
	}
	shocks := map[string]float64{first: -25}
	if len(syms) >= 2 {
		shocks[syms[1]] = -25
	}
	steps = append(steps,
		func() (models.StressReport, error) { return e.MultiAssetShock(syms, -20) },
		func() (models.StressReport, error) { return e.VolatilityAmplification(2) },
		func() (models.StressReport, error) { return e.VolatilityAmplification(5) },
		func() (models.StressReport, error) { return e.FeedCorruption(first, 20) },
		func() (models.StressReport, error) {
			return e.Composite(shocks, 3, map[string]float64{last: 15})
		},
	)

	out := make([]models.StressReport, 0, len(steps))
	for _, s := range steps {
		r, err := s()
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// History returns every report, newest first.
func (e *Engine) History() []models.StressReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.StressReport, 0, len(e.history))
	for i := len(e.history) - 1; i >= 0; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Count returns the number of simulations run.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.history)
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
