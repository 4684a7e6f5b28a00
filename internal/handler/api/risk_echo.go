package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	icache "MarketGuard/internal/service/cache"
	"MarketGuard/internal/service/metrics"
	"MarketGuard/internal/service/ratelimit"
	"MarketGuard/internal/services/explain"
	"MarketGuard/internal/usecase"
	xhttp "MarketGuard/pkg/http"
	xlogger "MarketGuard/pkg/logger"
)

// EventReader exposes persisted audit events.
type EventReader interface {
	Events(ctx context.Context, eventType string, limit int) ([]models.AuditEvent, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RiskEchoHandler serves the risk platform over Echo.
type RiskEchoHandler struct {
	log      *xlogger.Logger
	orch     *usecase.MasterOrchestrator
	proc     *usecase.CycleProcessor
	store    drepo.Storage
	state    *icache.StateCache
	events   EventReader
	metrics  drepo.Metrics
	rl       *ratelimit.Limiter
	fresh    time.Duration
	checks   map[string]HealthCheck
	now      func() time.Time
	readOnly bool
}

type HandlerOption func(*RiskEchoHandler)

// WithStorage enables the analytical history endpoint.
func WithStorage(s drepo.Storage) HandlerOption {
	return func(h *RiskEchoHandler) { h.store = s }
}

// WithStateCache serves /api/state from the cache while it is younger than fresh.
func WithStateCache(c *icache.StateCache, fresh time.Duration) HandlerOption {
	return func(h *RiskEchoHandler) {
		h.state = c
		if fresh > 0 {
			h.fresh = fresh
		}
	}
}

func WithEventReader(r EventReader) HandlerOption {
	return func(h *RiskEchoHandler) { h.events = r }
}

// WithClientRateLimit limits each client address to rps requests per second.
func WithClientRateLimit(rps float64, burst int) HandlerOption {
	return func(h *RiskEchoHandler) { h.rl = ratelimit.New(rps, burst) }
}

func WithHealthCheck(name string, fn HealthCheck) HandlerOption {
	return func(h *RiskEchoHandler) {
		if fn != nil {
			h.checks[name] = fn
		}
	}
}

// WithReadOnly disables tick ingestion over HTTP.
func WithReadOnly(ro bool) HandlerOption {
	return func(h *RiskEchoHandler) { h.readOnly = ro }
}

func NewRiskEchoHandler(l *xlogger.Logger, proc *usecase.CycleProcessor, m drepo.Metrics, opts ...HandlerOption) *RiskEchoHandler {
	metrics.Register()
	if l == nil {
		l = xlogger.Nop()
	}
	h := &RiskEchoHandler{
		log:     l.With(xlogger.String("component", "api")),
		orch:    proc.Orchestrator(),
		proc:    proc,
		metrics: m,
		rl:      ratelimit.New(0, 1),
		fresh:   2 * time.Second,
		checks:  make(map[string]HealthCheck),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *RiskEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api", h.limit)
	g.POST("/ticks", h.IngestTick)
	g.GET("/state", h.State)
	g.GET("/cycles", h.Cycles)
	g.GET("/cycles/latest", h.LatestCycle)
	g.GET("/cycles/history", h.CycleHistory)
	g.GET("/incidents", h.Incidents)
	g.GET("/incidents/:id", h.Incident)
	g.GET("/incidents/:id/export", h.ExportIncident)
	g.GET("/compliance", h.Compliance)
	g.GET("/rankings", h.Rankings)
	g.POST("/stress/battery", h.StressBattery)
	g.POST("/stress/scenario", h.StressScenario)
	g.GET("/feeds/health", h.FeedHealth)
	g.GET("/feeds/:symbol", h.SymbolFeed)
	g.GET("/contagion", h.Contagion)
	g.GET("/risk/statistics", h.RiskStatistics)
	g.GET("/risk/history", h.RiskHistory)
	g.GET("/risk/policy", h.RiskPolicy)
	g.POST("/explain/msi", h.ExplainMSI)
	g.POST("/explain/severity", h.ExplainSeverity)
	g.GET("/explain/narrative", h.Narrative)
	g.GET("/audit/events", h.AuditEvents)
	g.GET("/logs/errors", h.ErrorLogs)
}

func (h *RiskEchoHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.rl.Allow(c.RealIP()) {
			h.log.Warn("api rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
			return h.fail(c, xhttp.TooManyRequestsError("rate limited"))
		}
		start := time.Now()
		err := next(c)
		metrics.APILatency.WithLabelValues(c.Path()).Observe(time.Since(start).Seconds())
		return err
	}
}

func (h *RiskEchoHandler) fail(c echo.Context, err error) error {
	appErr := toAppError(err)
	metrics.APIErrors.WithLabelValues(c.Path(), appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.log.Error("api request failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	} else {
		h.log.Debug("api request rejected", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *RiskEchoHandler) badRequest(c echo.Context, verr interface{}) error {
	metrics.APIErrors.WithLabelValues(c.Path(), "ERR_VALIDATION").Inc()
	return xhttp.BadRequestResponse(c, verr)
}

func (h *RiskEchoHandler) IngestTick(c echo.Context) error {
	if h.readOnly {
		return h.fail(c, xhttp.ForbiddenError("tick ingestion is disabled"))
	}
	req := &models.TickRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	ts := h.now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC()
	}
	res, err := h.proc.Process(c.Request().Context(), &models.Tick{
		Symbol:    req.Symbol,
		Price:     req.Price,
		Volume:    req.Volume,
		Timestamp: ts,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.CreatedResponse(c, res)
}

func (h *RiskEchoHandler) State(c echo.Context) error {
	ctx := c.Request().Context()
	if h.state != nil {
		st, err := h.state.LoadState(ctx)
		if err == nil && h.now().Sub(st.UpdatedAt) <= h.fresh {
			c.Response().Header().Set("X-Cache", "HIT")
			return xhttp.SuccessResponse(c, st)
		}
	}
	st := h.orch.SystemState()
	if h.state != nil {
		if err := h.state.SaveState(ctx, &st); err != nil {
			h.log.Warn("state cache write failed", xlogger.Error(err))
		}
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *RiskEchoHandler) Cycles(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	rows := h.orch.CycleHistory(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskEchoHandler) LatestCycle(c echo.Context) error {
	if res, ok := h.orch.LatestCycle(); ok {
		return xhttp.SuccessResponse(c, res)
	}
	// another replica may have processed ticks
	if h.state != nil {
		if res, err := h.state.LoadCycle(c.Request().Context()); err == nil {
			c.Response().Header().Set("X-Cache", "HIT")
			return xhttp.SuccessResponse(c, res)
		}
	}
	return h.fail(c, xhttp.NotFoundError("no cycle processed yet"))
}

func (h *RiskEchoHandler) CycleHistory(c echo.Context) error {
	if h.store == nil {
		return h.fail(c, unavailable("cycle storage"))
	}
	req := &models.CycleHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	to := xhttp.ParseTimeDefault(req.To, h.now().UTC())
	from := xhttp.ParseTimeDefault(req.From, to.Add(-time.Hour))
	if !from.Before(to) {
		return h.fail(c, xhttp.BadRequestErrorf("from must be before to"))
	}
	rows, err := h.store.QueryCycles(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskEchoHandler) Incidents(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	rows := h.orch.Incidents(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskEchoHandler) Incident(c echo.Context) error {
	inc, err := h.orch.Incident(c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, inc)
}

func (h *RiskEchoHandler) ExportIncident(c echo.Context) error {
	id := c.Param("id")
	b, err := h.orch.ExportIncident(id)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "incident-"+id+".json"))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, b)
}

func (h *RiskEchoHandler) Compliance(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	return xhttp.SuccessResponse(c, h.orch.ComplianceReport(req.Limit))
}

func (h *RiskEchoHandler) Rankings(c echo.Context) error {
	res, err := h.orch.AssetRankings()
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) StressBattery(c echo.Context) error {
	reports, err := h.orch.RunStressBattery()
	if err != nil {
		return h.fail(c, err)
	}
	for i := range reports {
		h.metrics.RecordStress(&reports[i])
	}
	return xhttp.ListResponse(c, reports, int64(len(reports)))
}

func (h *RiskEchoHandler) StressScenario(c echo.Context) error {
	req := &models.StressScenarioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	eng, err := h.orch.StressEngine()
	if err != nil {
		return h.fail(c, err)
	}

	var rep models.StressReport
	switch req.Scenario {
	case models.ScenarioSingleAsset:
		rep, err = eng.SingleAssetShock(req.Symbol, req.ShockPercent)
	case models.ScenarioMultiAsset:
		syms := req.Symbols
		if len(syms) == 0 {
			syms = eng.Symbols()
		}
		rep, err = eng.MultiAssetShock(syms, req.ShockPercent)
	case models.ScenarioVolatility:
		rep, err = eng.VolatilityAmplification(req.VolatilityFactor)
	case models.ScenarioFeed:
		rep, err = eng.FeedCorruption(req.Symbol, req.DeviationPercent)
	case models.ScenarioComposite:
		rep, err = eng.Composite(req.AssetShocks, req.VolatilityFactor, req.FeedCorruptions)
	}
	if err != nil {
		return h.fail(c, err)
	}
	h.metrics.RecordStress(&rep)
	return xhttp.SuccessResponse(c, rep)
}

func (h *RiskEchoHandler) FeedHealth(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.orch.FeedHealth())
}

func (h *RiskEchoHandler) SymbolFeed(c echo.Context) error {
	res, err := h.orch.SymbolFeedSummary(c.Param("symbol"))
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) Contagion(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.orch.ContagionSummary())
}

func (h *RiskEchoHandler) RiskStatistics(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.orch.ActionStatistics())
}

func (h *RiskEchoHandler) RiskHistory(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	rows := h.orch.ActionHistory(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskEchoHandler) RiskPolicy(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.orch.RiskPolicy())
}

func (h *RiskEchoHandler) ExplainMSI(c echo.Context) error {
	req := &models.ExplainMSIRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	res, err := h.orch.Explainer().ExplainMSI(models.StabilityInputs{
		AverageTrust:     req.AverageTrust,
		AnomalyRate:      req.AnomalyRate,
		AnomalyCount:     req.AnomalyCount,
		FeedMismatchRate: req.FeedMismatchRate,
		CRS:              req.CRS,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) ExplainSeverity(c echo.Context) error {
	req := &models.ExplainSeverityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	res, err := h.orch.Explainer().ExplainSeverity(explain.SeverityInputs{
		MSI:              req.MSI,
		CRS:              req.CRS,
		FeedMismatchRate: req.FeedMismatchRate,
		AverageTrust:     req.AverageTrust,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Narrative renders a plain-language report of the latest cycle.
func (h *RiskEchoHandler) Narrative(c echo.Context) error {
	cyc, ok := h.orch.LatestCycle()
	if !ok || cyc.MSIExplanation == nil || cyc.Evaluation == nil {
		return h.fail(c, xhttp.NotFoundError("no explained cycle available yet"))
	}
	ex := h.orch.Explainer()
	st := h.orch.SystemState()

	sev := cyc.SeverityExplanation
	if sev == nil {
		s, err := ex.ExplainSeverity(explain.SeverityInputs{
			MSI:              cyc.MSI,
			CRS:              cyc.CRS,
			FeedMismatchRate: cyc.FeedMismatchRate,
			AverageTrust:     st.AverageTrust,
		})
		if err != nil {
			return h.fail(c, err)
		}
		sev = &s
	}
	ranks, err := h.orch.AssetRankings()
	if err != nil {
		return h.fail(c, err)
	}
	tier := ex.ExplainRiskTier(cyc.MSI, *cyc.Evaluation)
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"cycle_id":  cyc.CycleID,
		"risk_tier": tier,
		"narrative": ex.GenerateNarrative(explain.NarrativeInput{
			MSI:      *cyc.MSIExplanation,
			Severity: *sev,
			Tier:     tier,
			Rankings: ranks,
		}),
	})
}

func (h *RiskEchoHandler) AuditEvents(c echo.Context) error {
	if h.events == nil {
		return h.fail(c, unavailable("audit store"))
	}
	req := &models.AuditEventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.badRequest(c, verr)
	}
	rows, err := h.events.Events(c.Request().Context(), req.Type, req.Limit)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RiskEchoHandler) ErrorLogs(c echo.Context) error {
	rows := h.log.RecentErrors()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Health reports 200 when every dependency answers and 503 otherwise.
func (h *RiskEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	deps := make(map[string]string, len(names))
	status := http.StatusOK
	for _, n := range names {
		if err := h.checks[n](ctx); err != nil {
			deps[n] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[n] = "ok"
	}
	st := h.orch.SystemState()
	return xhttp.DataResponse(c, status, map[string]interface{}{
		"dependencies": deps,
		"symbols":      st.SymbolsMonitored,
		"tick_count":   st.TickCount,
		"risk_tier":    st.CurrentTier,
	})
}
