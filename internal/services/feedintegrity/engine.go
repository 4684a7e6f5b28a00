// Package feedintegrity cross-validates independent price feeds per symbol and
// tracks per-feed reliability.
package feedintegrity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

const (
	initialReliability = 100.0
	maxReliability     = 100.0
	deviationHistory   = 1000
	lowestFeedsListed  = 5
)

// Config holds the engine thresholds. Zero values are replaced by defaults.
type Config struct {
	DeviationThreshold float64 // fraction, (0,1]
	SeverityWeight     float64 // penalty multiplier, > 0
	RecoveryRate       float64 // reliability points regained per clean cycle
	MinFeeds           int     // feeds with a price required to validate
}

func DefaultConfig() Config {
	return Config{
		DeviationThreshold: 0.01,
		SeverityWeight:     5.0,
		RecoveryRate:       0.5,
		MinFeeds:           2,
	}
}

func (c Config) validate() error {
	const op = "feedintegrity.New"
	if !(c.DeviationThreshold > 0 && c.DeviationThreshold <= 1) {
		return errs.InvalidInput(op, "deviation threshold must be in (0, 1], got %v", c.DeviationThreshold)
	}
	if !(c.SeverityWeight > 0) {
		return errs.InvalidInput(op, "severity weight must be positive, got %v", c.SeverityWeight)
	}
	if !(c.RecoveryRate >= 0) {
		return errs.InvalidInput(op, "recovery rate must be non-negative, got %v", c.RecoveryRate)
	}
	if c.MinFeeds < 2 {
		return errs.InvalidInput(op, "min feeds must be at least 2, got %d", c.MinFeeds)
	}
	return nil
}

type symbolStats struct {
	mismatches int64
	cycles     int64
	history    []float64
}

// Engine is safe for concurrent use. All state sits behind one mutex.
type Engine struct {
	cfg  Config
	log  *logger.Logger
	sink repository.AuditSink

	mu           sync.Mutex
	feeds        map[string]map[string]*models.FeedState
	stats        map[string]*symbolStats
	totalUpdates int64
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSink records a FEED_MISMATCH event for every mismatching feed pair.
func WithSink(s repository.AuditSink) Option {
	return func(e *Engine) { e.sink = s }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		log:   logger.Nop(),
		feeds: make(map[string]map[string]*models.FeedState),
		stats: make(map[string]*symbolStats),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// RegisterFeed is idempotent.
func (e *Engine) RegisterFeed(symbol, feed string) error {
	if symbol == "" || feed == "" {
		return errs.InvalidInput("feedintegrity.RegisterFeed", "symbol and feed name are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	fs, ok := e.feeds[symbol]
	if !ok {
		fs = make(map[string]*models.FeedState)
		e.feeds[symbol] = fs
		e.stats[symbol] = &symbolStats{}
	}
	if _, ok := fs[feed]; !ok {
		fs[feed] = &models.FeedState{Feed: feed, Reliability: initialReliability}
	}
	return nil
}

// DeregisterFeed removes a feed; the symbol goes with its last feed.
func (e *Engine) DeregisterFeed(symbol, feed string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	fs, ok := e.feeds[symbol]
	if !ok {
		return false
	}
	if _, ok := fs[feed]; !ok {
		return false
	}
	delete(fs, feed)
	if len(fs) == 0 {
		delete(e.feeds, symbol)
		delete(e.stats, symbol)
	}
	return true
}

// UpdatePrice stores a feed price and cross-validates the symbol's active feeds.
func (e *Engine) UpdatePrice(symbol, feed string, price float64, ts time.Time) (models.FeedValidation, error) {
	const op = "feedintegrity.UpdatePrice"
	if !util.Finite(price) || price <= 0 {
		return models.FeedValidation{}, errs.InvalidInput(op, "invalid price %v for %s/%s: must be positive", price, symbol, feed)
	}

	e.mu.Lock()
	fs, ok := e.feeds[symbol]
	if !ok {
		e.mu.Unlock()
		return models.FeedValidation{}, errs.NotRegistered(op, "symbol %q has no registered feeds", symbol)
	}
	st, ok := fs[feed]
	if !ok {
		e.mu.Unlock()
		return models.FeedValidation{}, errs.NotRegistered(op, "feed %q not registered for %s", feed, symbol)
	}

	p := price
	st.LatestPrice = &p
	st.LastUpdated = ts
	st.TotalUpdates++
	e.totalUpdates++

	res, events := e.crossValidate(symbol, ts)
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev)
	}
	return res, nil
}

// UpdatePrices stores one price per feed for the same instant and cross-validates
// once, so a fresh price is never compared against a peer's stale one.
func (e *Engine) UpdatePrices(symbol string, prices map[string]float64, ts time.Time) (models.FeedValidation, error) {
	const op = "feedintegrity.UpdatePrices"
	names := make([]string, 0, len(prices))
	for feed, price := range prices {
		if !util.Finite(price) || price <= 0 {
			return models.FeedValidation{}, errs.InvalidInput(op, "invalid price %v for %s/%s: must be positive", price, symbol, feed)
		}
		names = append(names, feed)
	}
	sort.Strings(names)

	e.mu.Lock()
	fs, ok := e.feeds[symbol]
	if !ok {
		e.mu.Unlock()
		return models.FeedValidation{}, errs.NotRegistered(op, "symbol %q has no registered feeds", symbol)
	}
	for _, feed := range names {
		if _, ok := fs[feed]; !ok {
			e.mu.Unlock()
			return models.FeedValidation{}, errs.NotRegistered(op, "feed %q not registered for %s", feed, symbol)
		}
	}
	for _, feed := range names {
		st := fs[feed]
		p := prices[feed]
		st.LatestPrice = &p
		st.LastUpdated = ts
		st.TotalUpdates++
		e.totalUpdates++
	}

	res, events := e.crossValidate(symbol, ts)
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev)
	}
	return res, nil
}

type activeFeed struct {
	name  string
	state *models.FeedState
}

// activeFeeds returns feeds with a price, sorted by name. Caller holds mu.
func (e *Engine) activeFeeds(symbol string) []activeFeed {
	out := make([]activeFeed, 0, len(e.feeds[symbol]))
	for name, st := range e.feeds[symbol] {
		if st.LatestPrice != nil {
			out = append(out, activeFeed{name: name, state: st})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// crossValidate compares every active pair. Caller holds mu.
func (e *Engine) crossValidate(symbol string, ts time.Time) (models.FeedValidation, []models.AuditEvent) {
	active := e.activeFeeds(symbol)
	res := models.FeedValidation{Symbol: symbol, FeedsValidated: len(active), Deviations: []models.FeedDeviation{}}
	if len(active) < e.cfg.MinFeeds {
		return res, nil
	}

	stats := e.stats[symbol]
	stats.cycles++
	res.ValidationPerformed = true

	var events []models.AuditEvent
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			pa, pb := *a.state.LatestPrice, *b.state.LatestPrice
			dev := Deviation(pa, pb)
			exceeds := dev > e.cfg.DeviationThreshold

			res.Deviations = append(res.Deviations, models.FeedDeviation{
				FeedA:            a.name,
				PriceA:           pa,
				FeedB:            b.name,
				PriceB:           pb,
				Deviation:        util.Round(dev, 8),
				ExceedsThreshold: exceeds,
			})
			if dev > res.MaxDeviation {
				res.MaxDeviation = dev
			}
			if !exceeds {
				continue
			}

			res.MismatchDetected = true
			penalty := e.cfg.SeverityWeight * dev * 100
			for _, f := range []*models.FeedState{a.state, b.state} {
				f.Reliability = math.Max(0, f.Reliability-penalty)
				f.MismatchCount++
			}
			events = append(events, models.AuditEvent{
				Timestamp: ts,
				Type:      models.EventFeedMismatch,
				Severity:  models.SeverityWarning,
				Message:   fmt.Sprintf("Feed mismatch on %s: %s=%.4f vs %s=%.4f (deviation %.4f%%)", symbol, a.name, pa, b.name, pb, dev*100),
				Data: map[string]any{
					"symbol":    symbol,
					"feed_a":    a.name,
					"feed_b":    b.name,
					"deviation": util.Round(dev, 8),
				},
			})
		}
	}

	if res.MismatchDetected {
		stats.mismatches++
		e.log.Warn("feed mismatch detected",
			logger.String("symbol", symbol),
			logger.Float64("max_deviation", res.MaxDeviation),
			logger.Int("feeds", len(active)))
	} else {
		for _, f := range active {
			f.state.Reliability = math.Min(maxReliability, f.state.Reliability+e.cfg.RecoveryRate)
		}
	}

	stats.history = append(stats.history, res.MaxDeviation)
	if len(stats.history) > deviationHistory {
		stats.history = stats.history[len(stats.history)-deviationHistory:]
	}
	res.MaxDeviation = util.Round(res.MaxDeviation, 8)
	return res, events
}

func (e *Engine) emit(ev models.AuditEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordEvent(context.Background(), ev); err != nil {
		e.log.Error("record feed event", logger.Error(err), logger.String("event", ev.Type))
	}
}

// Deviation is the symmetric relative difference |a-b| / ((a+b)/2).
func Deviation(a, b float64) float64 {
	avg := (a + b) / 2
	if avg == 0 {
		return 0
	}
	return math.Abs(a-b) / avg
}

// MismatchRate returns mismatches / validation cycles for one symbol, 0 before any cycle.
func (e *Engine) MismatchRate(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.stats[symbol]
	if !ok || st.cycles == 0 {
		return 0
	}
	return float64(st.mismatches) / float64(st.cycles)
}

// GlobalMismatchRate returns mismatches / cycles across every symbol.
func (e *Engine) GlobalMismatchRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalRateLocked()
}

func (e *Engine) globalRateLocked() float64 {
	var m, c int64
	for _, st := range e.stats {
		m += st.mismatches
		c += st.cycles
	}
	if c == 0 {
		return 0
	}
	return float64(m) / float64(c)
}

// SymbolSummary reports every feed of one symbol.
func (e *Engine) SymbolSummary(symbol string) (models.SymbolFeedSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fs, ok := e.feeds[symbol]
	if !ok {
		return models.SymbolFeedSummary{}, errs.NotRegistered("feedintegrity.SymbolSummary", "symbol %q not registered", symbol)
	}
	st := e.stats[symbol]

	out := models.SymbolFeedSummary{
		Symbol:          symbol,
		Feeds:           make(map[string]models.FeedSnapshot, len(fs)),
		MismatchCount:   st.mismatches,
		RegisteredFeeds: len(fs),
	}
	for name, f := range fs {
		out.Feeds[name] = models.FeedSnapshot{
			LatestPrice:   f.LatestPrice,
			Reliability:   util.Round(f.Reliability, 2),
			LastUpdated:   f.LastUpdated,
			TotalUpdates:  f.TotalUpdates,
			MismatchCount: f.MismatchCount,
		}
		out.TotalUpdates += f.TotalUpdates
	}

	active := e.activeFeeds(symbol)
	out.ActiveFeeds = len(active)
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			d := Deviation(*active[i].state.LatestPrice, *active[j].state.LatestPrice)
			out.MaxDeviation = math.Max(out.MaxDeviation, d)
		}
	}
	out.MaxDeviation = util.Round(out.MaxDeviation, 8)
	if st.cycles > 0 {
		out.MismatchRate = util.Round(float64(st.mismatches)/float64(st.cycles), 6)
	}
	return out, nil
}

// GlobalHealth aggregates feed integrity across every symbol.
func (e *Engine) GlobalHealth() models.FeedHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := models.FeedHealth{
		TotalSymbols:       len(e.feeds),
		TotalPriceUpdates:  e.totalUpdates,
		AverageReliability: initialReliability,
		PerSymbol:          make(map[string]models.SymbolHealth, len(e.feeds)),
		LowestReliability:  []models.FeedReliability{},
	}

	var all []models.FeedReliability
	relSum := 0.0
	for symbol, fs := range e.feeds {
		st := e.stats[symbol]
		h.TotalMismatches += st.mismatches
		h.TotalValidationCycles += st.cycles

		symRel := 0.0
		active := 0
		for name, f := range fs {
			all = append(all, models.FeedReliability{Symbol: symbol, Feed: name, Reliability: util.Round(f.Reliability, 2)})
			relSum += f.Reliability
			symRel += f.Reliability
			if f.LatestPrice != nil {
				active++
			}
		}
		h.TotalFeeds += len(fs)

		sh := models.SymbolHealth{MismatchCount: st.mismatches, ActiveFeeds: active}
		if st.cycles > 0 {
			sh.MismatchRate = util.Round(float64(st.mismatches)/float64(st.cycles), 6)
		}
		if len(fs) > 0 {
			sh.AverageReliability = util.Round(symRel/float64(len(fs)), 2)
		}
		h.PerSymbol[symbol] = sh
	}

	if h.TotalFeeds > 0 {
		h.AverageReliability = util.Round(relSum/float64(h.TotalFeeds), 2)
	}
	h.GlobalMismatchRate = util.Round(e.globalRateLocked(), 6)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Reliability != all[j].Reliability {
			return all[i].Reliability < all[j].Reliability
		}
		if all[i].Symbol != all[j].Symbol {
			return all[i].Symbol < all[j].Symbol
		}
		return all[i].Feed < all[j].Feed
	})
	if len(all) > lowestFeedsListed {
		all = all[:lowestFeedsListed]
	}
	h.LowestReliability = append(h.LowestReliability, all...)
	return h
}

// DeviationHistory returns a copy of the symbol's recorded max deviations, oldest first.
func (e *Engine) DeviationHistory(symbol string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.stats[symbol]
	if !ok {
		return nil
	}
	out := make([]float64, len(st.history))
	copy(out, st.history)
	return out
}

// Symbols returns registered symbols, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.feeds))
	for s := range e.feeds {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Feeds returns the symbol's registered feed names, sorted.
func (e *Engine) Feeds(symbol string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.feeds[symbol]))
	for f := range e.feeds[symbol] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Reset drops all feeds, symbols and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeds = make(map[string]map[string]*models.FeedState)
	e.stats = make(map[string]*symbolStats)
	e.totalUpdates = 0
}
