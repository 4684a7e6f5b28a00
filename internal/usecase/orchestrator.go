package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	domsvc "MarketGuard/internal/domain/service"
	"MarketGuard/internal/services/action"
	"MarketGuard/internal/services/analytics"
	"MarketGuard/internal/services/contagion"
	"MarketGuard/internal/services/explain"
	"MarketGuard/internal/services/feedintegrity"
	"MarketGuard/internal/services/features"
	"MarketGuard/internal/services/incident"
	"MarketGuard/internal/services/stability"
	"MarketGuard/internal/services/stress"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

// Feed names registered for every symbol.
const (
	PrimaryFeed   = "primary"
	SecondaryFeed = "secondary"
)

// Layer names used as prefixes in CycleResult.Errors.
const (
	LayerFeedIntegrity     = "FeedIntegrity"
	LayerAssetIntelligence = "AssetIntelligence"
	LayerSystemicRisk      = "SystemicRisk"
	LayerRiskOrchestration = "RiskOrchestration"
	LayerExplainability    = "Explainability"
)

const (
	DefaultAnomalyWindow = 50
	DefaultCycleHistory  = 1000
	defaultHistoryLimit  = 50
)

// OrchestratorConfig wires every engine the orchestrator owns.
type OrchestratorConfig struct {
	Symbols []string
	// AnomalyWindow is the number of recent ticks the index anomaly inputs cover.
	AnomalyWindow int
	CycleHistory  int
	// AutoRegister admits symbols not listed in Symbols on first tick.
	AutoRegister      bool
	IncidentRetention int

	Feed      feedintegrity.Config
	Contagion contagion.Config
	Policy    action.Policy
	Analytics analytics.Config
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AnomalyWindow:     DefaultAnomalyWindow,
		CycleHistory:      DefaultCycleHistory,
		IncidentRetention: incident.DefaultRetention,
		Feed:              feedintegrity.DefaultConfig(),
		Contagion:         contagion.DefaultConfig(),
		Policy:            action.DefaultPolicy(),
		Analytics:         analytics.DefaultConfig(),
	}
}

type collaborators struct {
	detector domsvc.AnomalyDetector
	trust    domsvc.TrustScorer
	feed     domsvc.SecondaryFeed
}

// lastGood carries each layer's most recent successful output.
type lastGood struct {
	feedMismatch float64
	crs          float64
	contagion    *models.ContagionSummary
	msi          float64
	stability    *models.StabilityResult
	tier         models.RiskTier
	action       models.Action
	enforcement  bool
}

// MasterOrchestrator threads each tick through every engine in a fixed order
// and produces one CycleResult. ProcessTick calls are serialised.
type MasterOrchestrator struct {
	cfg     OrchestratorConfig
	log     *logger.Logger
	sink    drepo.AuditSink
	factory domsvc.CollaboratorFactory
	now     func() time.Time

	feeds     *feedintegrity.Engine
	contagion *contagion.Engine
	actions   *action.Engine
	incidents *incident.Engine
	explainer *explain.Engine

	mu             sync.RWMutex
	collab         map[string]*collaborators
	recent         *features.Window
	tickCount      int64
	totalAnomalies int64
	last           lastGood
	history        []*models.CycleResult
}

type OrchestratorOption func(*MasterOrchestrator)

func WithOrchestratorLogger(l *logger.Logger) OrchestratorOption {
	return func(o *MasterOrchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithAuditSink passes the sink to the feed, action and incident engines.
func WithAuditSink(s drepo.AuditSink) OrchestratorOption {
	return func(o *MasterOrchestrator) { o.sink = s }
}

func WithCollaboratorFactory(f domsvc.CollaboratorFactory) OrchestratorOption {
	return func(o *MasterOrchestrator) {
		if f != nil {
			o.factory = f
		}
	}
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *MasterOrchestrator) { o.now = now }
}

func NewMasterOrchestrator(cfg OrchestratorConfig, opts ...OrchestratorOption) (*MasterOrchestrator, error) {
	if cfg.AnomalyWindow <= 0 {
		cfg.AnomalyWindow = DefaultAnomalyWindow
	}
	if cfg.CycleHistory <= 0 {
		cfg.CycleHistory = DefaultCycleHistory
	}

	o := &MasterOrchestrator{
		cfg:    cfg,
		log:    logger.Nop(),
		now:    time.Now,
		collab: make(map[string]*collaborators),
		recent: features.NewWindow(cfg.AnomalyWindow),
		last: lastGood{
			msi:    100,
			tier:   models.TierNormal,
			action: models.ActionNone,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.factory == nil {
		o.factory = analytics.NewFactory(cfg.Analytics)
	}

	var err error
	o.feeds, err = feedintegrity.New(cfg.Feed,
		feedintegrity.WithLogger(o.log.With(logger.String("engine", "feedintegrity"))),
		feedintegrity.WithSink(o.sink))
	if err != nil {
		return nil, fmt.Errorf("feed integrity engine: %w", err)
	}
	o.contagion, err = contagion.New(cfg.Contagion,
		contagion.WithLogger(o.log.With(logger.String("engine", "contagion"))))
	if err != nil {
		return nil, fmt.Errorf("contagion engine: %w", err)
	}
	o.actions, err = action.New(cfg.Policy,
		action.WithLogger(o.log.With(logger.String("engine", "action"))),
		action.WithSink(o.sink),
		action.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("action engine: %w", err)
	}
	o.incidents = incident.New(
		incident.WithLogger(o.log.With(logger.String("engine", "incident"))),
		incident.WithSink(o.sink),
		incident.WithRetention(cfg.IncidentRetention),
		incident.WithClock(o.now))
	o.explainer = explain.New()

	for _, s := range cfg.Symbols {
		if err := o.register(s); err != nil {
			return nil, err
		}
	}
	o.log.Info("orchestrator initialized",
		logger.Strings("symbols", o.symbolsLocked()),
		logger.Int("anomaly_window", cfg.AnomalyWindow))
	return o, nil
}

// register is idempotent. Caller holds mu or has exclusive access.
func (o *MasterOrchestrator) register(symbol string) error {
	if symbol == "" {
		return errs.InvalidInput("orchestrator.Register", "symbol must not be empty")
	}
	if _, ok := o.collab[symbol]; ok {
		return nil
	}
	if err := o.feeds.RegisterFeed(symbol, PrimaryFeed); err != nil {
		return err
	}
	if err := o.feeds.RegisterFeed(symbol, SecondaryFeed); err != nil {
		return err
	}
	o.collab[symbol] = &collaborators{
		detector: o.factory.NewDetector(symbol),
		trust:    o.factory.NewTrustScorer(symbol),
		feed:     o.factory.NewSecondaryFeed(symbol),
	}
	return nil
}

// Register adds a symbol to the monitored universe.
func (o *MasterOrchestrator) Register(symbol string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.register(symbol)
}

// runLayer converts both errors and panics into a LayerFailure.
func runLayer(layer string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.LayerFailure(layer, fmt.Errorf("panic: %v", r))
		}
	}()
	if e := fn(); e != nil {
		return errs.LayerFailure(layer, e)
	}
	return nil
}

// ProcessTick runs one price through every layer. Input validation fails
// fast; a failure inside a layer is recorded in the result and the layer's
// last good output is used downstream.
func (o *MasterOrchestrator) ProcessTick(ctx context.Context, symbol string, price float64, ts time.Time) (*models.CycleResult, error) {
	const op = "orchestrator.ProcessTick"
	if symbol == "" {
		return nil, errs.InvalidInput(op, "symbol must not be empty")
	}
	if !util.Finite(price) || price <= 0 {
		return nil, errs.InvalidInput(op, "invalid price %v for %s: must be positive", price, symbol)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = o.now()
	}
	ts = ts.UTC()

	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.collab[symbol]
	if !ok {
		if !o.cfg.AutoRegister {
			return nil, errs.NotRegistered(op, "symbol %q is not monitored", symbol)
		}
		if err := o.register(symbol); err != nil {
			return nil, err
		}
		c = o.collab[symbol]
		o.log.Info("symbol auto-registered", logger.String("symbol", symbol))
	}

	start := time.Now()
	res := &models.CycleResult{
		CycleID:           uuid.New().String(),
		Timestamp:         ts,
		TickNumber:        o.tickCount + 1,
		Symbol:            symbol,
		PrimaryPrice:      price,
		FeedMismatchRate:  o.last.feedMismatch,
		CRS:               o.last.crs,
		MSI:               o.last.msi,
		RiskTier:          o.last.tier,
		RecommendedAction: o.last.action,
		Errors:            []string{},
	}
	fail := func(err error) {
		res.Errors = append(res.Errors, layerMessage(err))
		o.log.Error("layer failure", logger.String("symbol", symbol), logger.Error(err))
	}

	res.SecondaryPrice = c.feed.Price(price)
	if !util.Finite(res.SecondaryPrice) || res.SecondaryPrice <= 0 {
		res.SecondaryPrice = price
	}

	if err := runLayer(LayerFeedIntegrity, func() error {
		v, err := o.feeds.UpdatePrices(symbol, map[string]float64{
			PrimaryFeed:   price,
			SecondaryFeed: res.SecondaryPrice,
		}, ts)
		if err != nil {
			return err
		}
		res.FeedValidation = &v
		res.FeedDeviation = util.Round(absDiff(price, res.SecondaryPrice), 6)
		res.FeedMismatchRate = o.feeds.GlobalMismatchRate()
		o.last.feedMismatch = res.FeedMismatchRate
		return nil
	}); err != nil {
		fail(err)
	}

	if err := runLayer(LayerAssetIntelligence, func() error {
		an := c.detector.Detect(price)
		tr := c.trust.Update(an)
		res.IsAnomaly = an.IsAnomaly
		res.ZScore = util.Round(an.ZScore, 4)
		res.TrustScore = util.Round(tr.Score, 2)
		res.TrustLevel = tr.Level
		if an.IsAnomaly {
			o.totalAnomalies++
			o.recent.Push(1)
		} else {
			o.recent.Push(0)
		}
		return nil
	}); err != nil {
		fail(err)
	}

	avgTrust := o.averageTrustLocked()
	inputs := o.stabilityInputsLocked(avgTrust, o.last.crs, res.FeedMismatchRate)

	if err := runLayer(LayerSystemicRisk, func() error {
		if _, err := o.contagion.UpdatePrice(symbol, price); err != nil {
			return err
		}
		sum := o.contagion.Summary()
		res.Contagion = &sum
		res.CRS = sum.CRS
		o.last.crs = sum.CRS
		o.last.contagion = &sum

		inputs.CRS = sum.CRS
		st, err := stability.Compute(inputs)
		if err != nil {
			return err
		}
		res.Stability = &st
		res.MSI = st.Score
		o.last.msi = st.Score
		o.last.stability = &st
		return nil
	}); err != nil {
		fail(err)
		res.Contagion = o.last.contagion
		res.Stability = o.last.stability
	}

	prevTier, prevEnforcement := o.last.tier, o.last.enforcement
	if err := runLayer(LayerRiskOrchestration, func() error {
		ev, err := o.actions.Evaluate(models.RiskInputs{
			MSI:              res.MSI,
			CRS:              res.CRS,
			FeedMismatchRate: res.FeedMismatchRate,
			AverageTrust:     avgTrust,
		})
		if err != nil {
			return err
		}
		res.Evaluation = &ev
		res.RiskTier = ev.Tier
		res.RecommendedAction = ev.Action
		res.EnforcementRequired = ev.EnforcementRequired
		o.last.tier, o.last.action, o.last.enforcement = ev.Tier, ev.Action, ev.EnforcementRequired

		escalatedInto := ev.Tier != prevTier &&
			(ev.Tier == models.TierHighVolatility || ev.Tier == models.TierSystemicCrisis)
		newlyEnforced := ev.EnforcementRequired && !prevEnforcement
		if !escalatedInto && !newlyEnforced {
			return nil
		}
		inc, err := o.incidents.Create(models.IncidentInput{
			MSI:               res.MSI,
			CRS:               res.CRS,
			FeedMismatchRate:  res.FeedMismatchRate,
			AverageTrust:      avgTrust,
			Tier:              ev.Tier,
			Action:            ev.Action,
			EscalationReasons: ev.EscalationReasons,
		})
		if err != nil {
			return err
		}
		res.Incident = &inc
		o.log.Warn("incident generated",
			logger.String("incident_id", inc.ID),
			logger.String("tier", ev.Tier.String()),
			logger.Float64("msi", res.MSI),
			logger.Float64("severity", inc.Severity))
		return nil
	}); err != nil {
		fail(err)
	}

	if err := runLayer(LayerExplainability, func() error {
		x, err := o.explainer.ExplainMSI(inputs)
		if err != nil {
			return err
		}
		res.MSIExplanation = &x
		res.DominantRiskFactor = x.DominantFactor
		if res.Incident == nil {
			return nil
		}
		sx, err := o.explainer.ExplainSeverity(explain.SeverityInputs{
			MSI:              res.MSI,
			CRS:              res.CRS,
			FeedMismatchRate: res.FeedMismatchRate,
			AverageTrust:     avgTrust,
		})
		if err != nil {
			return err
		}
		res.SeverityExplanation = &sx
		return nil
	}); err != nil {
		fail(err)
	}

	o.tickCount++
	res.ProcessingTimeMs = util.Round(float64(time.Since(start).Microseconds())/1000, 3)
	o.history = append(o.history, res)
	if over := len(o.history) - o.cfg.CycleHistory; over > 0 {
		o.history = append(o.history[:0:0], o.history[over:]...)
	}
	return res, nil
}

// layerMessage renders a layer failure as "<Layer>: <cause>".
func layerMessage(err error) string {
	var le *errs.Error
	if errors.As(err, &le) && le.Code == errs.CodeLayerFailure && le.Err != nil {
		return le.Op + ": " + le.Err.Error()
	}
	return err.Error()
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// averageTrustLocked is the mean trust across monitored symbols, 100 when none.
func (o *MasterOrchestrator) averageTrustLocked() float64 {
	if len(o.collab) == 0 {
		return 100
	}
	sum := 0.0
	for _, c := range o.collab {
		sum += c.trust.Score()
	}
	return util.Clamp(sum/float64(len(o.collab)), 0, 100)
}

func (o *MasterOrchestrator) rollingLocked() (count int, rate float64) {
	n := o.recent.Len()
	if n == 0 {
		return 0, 0
	}
	count = int(o.recent.Sum())
	return count, float64(count) / float64(n)
}

func (o *MasterOrchestrator) stabilityInputsLocked(avgTrust, crs, feed float64) models.StabilityInputs {
	count, rate := o.rollingLocked()
	return models.StabilityInputs{
		AverageTrust:     avgTrust,
		AnomalyRate:      rate,
		AnomalyCount:     count,
		FeedMismatchRate: feed,
		CRS:              crs,
	}
}

func (o *MasterOrchestrator) symbolsLocked() []string {
	out := make([]string, 0, len(o.collab))
	for s := range o.collab {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (o *MasterOrchestrator) assetTrustLocked() map[string]float64 {
	out := make(map[string]float64, len(o.collab))
	for s, c := range o.collab {
		out[s] = util.Round(c.trust.Score(), 2)
	}
	return out
}

// Symbols returns the monitored symbols, sorted.
func (o *MasterOrchestrator) Symbols() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.symbolsLocked()
}

// SystemState summarises the pipeline as of the last processed tick.
func (o *MasterOrchestrator) SystemState() models.SystemState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	count, rate := o.rollingLocked()
	return models.SystemState{
		TickCount:        o.tickCount,
		TotalAnomalies:   o.totalAnomalies,
		AnomalyRate:      util.Round(rate, 4),
		RollingAnomalies: count,
		AverageTrust:     util.Round(o.averageTrustLocked(), 2),
		AssetTrust:       o.assetTrustLocked(),
		FeedMismatchRate: o.last.feedMismatch,
		CRS:              o.last.crs,
		MSI:              o.last.msi,
		CurrentTier:      o.last.tier,
		TotalIncidents:   o.incidents.Count(),
		SymbolsMonitored: o.symbolsLocked(),
		UpdatedAt:        o.now().UTC(),
	}
}

// LatestCycle returns the most recent result. Results are shared; callers must not mutate them.
func (o *MasterOrchestrator) LatestCycle() (*models.CycleResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.history) == 0 {
		return nil, false
	}
	return o.history[len(o.history)-1], true
}

// CycleHistory returns up to limit results, newest first. limit <= 0 means 50.
func (o *MasterOrchestrator) CycleHistory(limit int) []*models.CycleResult {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := min(limit, len(o.history))
	out := make([]*models.CycleResult, 0, n)
	for i := len(o.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, o.history[i])
	}
	return out
}

// Incidents returns up to limit incidents, newest first.
func (o *MasterOrchestrator) Incidents(limit int) []models.Incident {
	return o.incidents.Recent(limit)
}

func (o *MasterOrchestrator) Incident(id string) (models.Incident, error) {
	inc, ok := o.incidents.Get(id)
	if !ok {
		return models.Incident{}, errs.NotFound("orchestrator.Incident", "incident %q not found", id)
	}
	return inc, nil
}

func (o *MasterOrchestrator) ExportIncident(id string) ([]byte, error) {
	return o.incidents.ExportJSON(id)
}

func (o *MasterOrchestrator) ComplianceReport(limit int) models.ComplianceReport {
	return o.incidents.ComplianceReport(limit)
}

// AssetRankings ranks monitored symbols by current trust deficit.
func (o *MasterOrchestrator) AssetRankings() ([]models.AssetRank, error) {
	o.mu.RLock()
	trust := o.assetTrustLocked()
	o.mu.RUnlock()
	if len(trust) == 0 {
		return nil, errs.InsufficientData("orchestrator.AssetRankings", "no symbols monitored")
	}
	return o.explainer.RankAssetImpact(trust)
}

// StressBaseline snapshots the live metrics for what-if analysis.
func (o *MasterOrchestrator) StressBaseline() (models.StressBaseline, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.collab) == 0 {
		return models.StressBaseline{}, errs.InsufficientData("orchestrator.StressBaseline", "no symbols monitored")
	}
	count, rate := o.rollingLocked()
	trust := make(map[string]float64, len(o.collab))
	for s, c := range o.collab {
		trust[s] = util.Clamp(c.trust.Score(), 0, 100)
	}
	return models.StressBaseline{
		MSI:              o.last.msi,
		TrustScores:      trust,
		CRS:              o.last.crs,
		FeedMismatchRate: o.last.feedMismatch,
		AnomalyRate:      rate,
		AnomalyCount:     count,
	}, nil
}

// StressEngine builds a simulation engine over a fresh snapshot. Live state is never touched.
func (o *MasterOrchestrator) StressEngine() (*stress.Engine, error) {
	b, err := o.StressBaseline()
	if err != nil {
		return nil, err
	}
	return stress.New(b, stress.WithLogger(o.log.With(logger.String("engine", "stress"))), stress.WithClock(o.now))
}

// RunStressBattery runs the standard scenario battery against the current state.
func (o *MasterOrchestrator) RunStressBattery() ([]models.StressReport, error) {
	e, err := o.StressEngine()
	if err != nil {
		return nil, err
	}
	return e.StandardBattery()
}

func (o *MasterOrchestrator) FeedHealth() models.FeedHealth { return o.feeds.GlobalHealth() }

func (o *MasterOrchestrator) SymbolFeedSummary(symbol string) (models.SymbolFeedSummary, error) {
	return o.feeds.SymbolSummary(symbol)
}

// ContagionSummary returns the summary computed by the last cycle. Reading
// it never advances the correlation spike baseline.
func (o *MasterOrchestrator) ContagionSummary() models.ContagionSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last.contagion == nil {
		return models.ContagionSummary{SymbolsTracked: len(o.contagion.Symbols())}
	}
	return *o.last.contagion
}

func (o *MasterOrchestrator) ActionStatistics() models.RiskStatistics { return o.actions.Statistics() }

func (o *MasterOrchestrator) ActionHistory(limit int) []models.RiskEvaluation {
	return o.actions.History(limit)
}

func (o *MasterOrchestrator) RiskPolicy() models.PolicyConfig { return o.actions.Policy() }

// Explainer exposes the stateless explainability engine for on-demand requests.
func (o *MasterOrchestrator) Explainer() *explain.Engine { return o.explainer }
