// Package incident builds immutable governance incidents with severity
// scoring, regulatory classification and a layered root-cause chain.
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

const (
	DefaultRetention = 5000

	SeverityFormula = "severity = 0.4*(100-MSI) + 0.3*CRS + 0.2*(feed*100) + 0.1*(100-trust)"
)

// Severity weights.
const (
	MSIWeight       = 0.4
	CRSWeight       = 0.3
	FeedWeight      = 0.2
	TrustWeight     = 0.1
	criticalAbove   = 80.0
	highRiskAbove   = 60.0
	elevatedAbove   = 40.0
	defaultReportSz = 10
)

// Terms returns the four weighted severity contributions.
func Terms(msi, crs, feed, trust float64) (market, contagion, data, trustDeficit float64) {
	return MSIWeight * (100 - msi), CRSWeight * crs, FeedWeight * (feed * 100), TrustWeight * (100 - trust)
}

// Severity returns the clamped severity score.
func Severity(msi, crs, feed, trust float64) float64 {
	a, b, c, d := Terms(msi, crs, feed, trust)
	return util.Clamp(a+b+c+d, 0, 100)
}

// Classify maps a severity score to its regulatory category. Boundaries are strict.
func Classify(severity float64) models.Classification {
	switch {
	case severity > criticalAbove:
		return models.ClassCritical
	case severity > highRiskAbove:
		return models.ClassHighRisk
	case severity > elevatedAbove:
		return models.ClassElevated
	default:
		return models.ClassNormal
	}
}

// RootCauseChain narrates data, trust, contagion and stability layers, then escalations.
func RootCauseChain(msi, crs, feed, trust float64, reasons []string) []string {
	chain := make([]string, 0, 4+len(reasons))

	pct := feed * 100
	switch {
	case feed > 0.02:
		chain = append(chain, fmt.Sprintf("DATA_LAYER: Feed mismatch rate (%.2f%%) indicates cross-feed data integrity failure", pct))
	case feed > 0.01:
		chain = append(chain, fmt.Sprintf("DATA_LAYER: Feed mismatch rate (%.2f%%) is elevated but within tolerance", pct))
	default:
		chain = append(chain, fmt.Sprintf("DATA_LAYER: Feed integrity normal (%.2f%% mismatch)", pct))
	}

	switch {
	case trust < 50:
		chain = append(chain, fmt.Sprintf("TRUST_LAYER: Average trust (%.1f) below critical threshold - majority of data unreliable", trust))
	case trust < 70:
		chain = append(chain, fmt.Sprintf("TRUST_LAYER: Average trust (%.1f) is degraded - elevated data quality concerns", trust))
	default:
		chain = append(chain, fmt.Sprintf("TRUST_LAYER: Average trust (%.1f) is acceptable", trust))
	}

	switch {
	case crs > 70:
		chain = append(chain, fmt.Sprintf("CONTAGION_LAYER: CRS (%.1f) indicates active cross-asset systemic contagion", crs))
	case crs > 40:
		chain = append(chain, fmt.Sprintf("CONTAGION_LAYER: CRS (%.1f) shows elevated cross-asset correlation", crs))
	default:
		chain = append(chain, fmt.Sprintf("CONTAGION_LAYER: CRS (%.1f) within normal range", crs))
	}

	switch {
	case msi < 40:
		chain = append(chain, fmt.Sprintf("STABILITY_LAYER: MSI (%.1f) in systemic risk zone - market stability critically impaired", msi))
	case msi < 60:
		chain = append(chain, fmt.Sprintf("STABILITY_LAYER: MSI (%.1f) indicates high volatility conditions", msi))
	case msi < 80:
		chain = append(chain, fmt.Sprintf("STABILITY_LAYER: MSI (%.1f) shows elevated risk - increased monitoring required", msi))
	default:
		chain = append(chain, fmt.Sprintf("STABILITY_LAYER: MSI (%.1f) is stable", msi))
	}

	for _, r := range reasons {
		chain = append(chain, "ESCALATION: "+r)
	}
	return chain
}

// Engine stores incidents in memory, bounded by a retention cap.
type Engine struct {
	retention int
	log       *logger.Logger
	sink      repository.AuditSink
	now       func() time.Time
	newID     func() string

	mu    sync.RWMutex
	seq   int64
	order []string
	byID  map[string]*models.Incident
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSink persists every incident plus a GOVERNANCE_INCIDENT event.
func WithSink(s repository.AuditSink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithRetention(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retention = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		retention: DefaultRetention,
		log:       logger.Nop(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		byID:      make(map[string]*models.Incident),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func validate(in models.IncidentInput) error {
	const op = "incident.Create"
	switch {
	case !util.Finite(in.MSI) || in.MSI < 0 || in.MSI > 100:
		return errs.InvalidInput(op, "msi must be in [0, 100], got %v", in.MSI)
	case !util.Finite(in.CRS) || in.CRS < 0 || in.CRS > 100:
		return errs.InvalidInput(op, "crs must be in [0, 100], got %v", in.CRS)
	case !util.Finite(in.FeedMismatchRate) || in.FeedMismatchRate < 0 || in.FeedMismatchRate > 1:
		return errs.InvalidInput(op, "feed mismatch rate must be in [0, 1], got %v", in.FeedMismatchRate)
	case !util.Finite(in.AverageTrust) || in.AverageTrust < 0 || in.AverageTrust > 100:
		return errs.InvalidInput(op, "avg trust score must be in [0, 100], got %v", in.AverageTrust)
	case !in.Tier.Valid():
		return errs.InvalidInput(op, "invalid risk tier %v", in.Tier)
	case !models.ValidAction(in.Action):
		return errs.InvalidInput(op, "invalid action %q", in.Action)
	}
	return nil
}

// Create validates the inputs and records a new incident.
func (e *Engine) Create(in models.IncidentInput) (models.Incident, error) {
	if err := validate(in); err != nil {
		return models.Incident{}, err
	}

	sev := Severity(in.MSI, in.CRS, in.FeedMismatchRate, in.AverageTrust)
	reasons := append([]string{}, in.EscalationReasons...)
	inc := models.Incident{
		ID:                e.newID(),
		Timestamp:         e.now().UTC(),
		Tier:              in.Tier,
		MSI:               util.Round(in.MSI, 2),
		CRS:               util.Round(in.CRS, 2),
		FeedMismatchRate:  util.Round(in.FeedMismatchRate, 6),
		AverageTrust:      util.Round(in.AverageTrust, 2),
		Action:            in.Action,
		EscalationReasons: reasons,
		Severity:          util.Round(sev, 2),
		Classification:    Classify(sev),
		RootCauseChain:    RootCauseChain(in.MSI, in.CRS, in.FeedMismatchRate, in.AverageTrust, reasons),
	}

	e.mu.Lock()
	e.seq++
	inc.Sequence = e.seq
	stored := clone(inc)
	e.byID[inc.ID] = &stored
	e.order = append(e.order, inc.ID)
	for len(e.order) > e.retention {
		delete(e.byID, e.order[0])
		e.order = e.order[1:]
	}
	e.mu.Unlock()

	e.logIncident(inc)
	e.persist(inc)
	return inc, nil
}

func (e *Engine) logIncident(inc models.Incident) {
	fields := []logger.Field{
		logger.String("incident_id", inc.ID),
		logger.String("tier", inc.Tier.String()),
		logger.String("classification", string(inc.Classification)),
		logger.Float64("severity", inc.Severity),
	}
	if inc.Classification == models.ClassCritical {
		e.log.Error("governance incident", fields...)
		return
	}
	e.log.Warn("governance incident", fields...)
}

func classSeverity(c models.Classification) string {
	switch c {
	case models.ClassCritical:
		return models.SeverityCritical
	case models.ClassHighRisk:
		return models.SeverityHigh
	case models.ClassElevated:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func (e *Engine) persist(inc models.Incident) {
	if e.sink == nil {
		return
	}
	ctx := context.Background()
	if err := e.sink.RecordIncident(ctx, inc); err != nil {
		e.log.Error("persist incident", logger.Error(err), logger.String("incident_id", inc.ID))
	}
	short := inc.ID
	if len(short) > 8 {
		short = short[:8]
	}
	err := e.sink.RecordEvent(ctx, models.AuditEvent{
		Timestamp: inc.Timestamp,
		Type:      models.EventGovernanceIncident,
		Severity:  classSeverity(inc.Classification),
		Message:   fmt.Sprintf("Incident %s | Tier: %s | Severity: %.1f | Class: %s", short, inc.Tier, inc.Severity, inc.Classification),
		Data: map[string]any{
			"incident_id":    inc.ID,
			"classification": string(inc.Classification),
			"severity_score": inc.Severity,
		},
	})
	if err != nil {
		e.log.Error("record incident event", logger.Error(err), logger.String("incident_id", inc.ID))
	}
}

// clone copies the slices so stored incidents never alias returned ones.
func clone(inc models.Incident) models.Incident {
	inc.EscalationReasons = slices.Clone(inc.EscalationReasons)
	inc.RootCauseChain = slices.Clone(inc.RootCauseChain)
	return inc
}

// Get returns an incident by id.
func (e *Engine) Get(id string) (models.Incident, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inc, ok := e.byID[id]
	if !ok {
		return models.Incident{}, false
	}
	return clone(*inc), true
}

// All returns every retained incident, newest first.
func (e *Engine) All() []models.Incident {
	return e.Recent(0)
}

// Recent returns up to limit incidents, newest first. limit <= 0 means all.
func (e *Engine) Recent(limit int) []models.Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Incident, 0, n)
	for i := len(e.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, clone(*e.byID[e.order[i]]))
	}
	return out
}

// ByClassification filters retained incidents, newest first.
func (e *Engine) ByClassification(c models.Classification) []models.Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.Incident{}
	for i := len(e.order) - 1; i >= 0; i-- {
		if inc := e.byID[e.order[i]]; inc.Classification == c {
			out = append(out, clone(*inc))
		}
	}
	return out
}

// Count returns the number of retained incidents.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

// Sequence returns the total number of incidents ever created.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// ExportJSON renders one incident as indented JSON.
func (e *Engine) ExportJSON(id string) ([]byte, error) {
	inc, ok := e.Get(id)
	if !ok {
		return nil, errs.NotFound("incident.ExportJSON", "incident %q not found", id)
	}
	b, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal incident: %w", err)
	}
	return b, nil
}

// ComplianceReport summarises every retained incident and includes the newest limit records.
func (e *Engine) ComplianceReport(limit int) models.ComplianceReport {
	if limit <= 0 {
		limit = defaultReportSz
	}
	all := e.All()

	sum := models.ComplianceSummary{
		TotalIncidents:          int64(len(all)),
		ClassificationBreakdown: make(map[models.Classification]int64, 4),
	}
	for _, c := range models.Classifications() {
		sum.ClassificationBreakdown[c] = 0
	}
	total := 0.0
	for _, inc := range all {
		sum.ClassificationBreakdown[inc.Classification]++
		total += inc.Severity
		if inc.Severity > sum.MaxSeverity {
			sum.MaxSeverity = inc.Severity
		}
		if inc.Tier.Enforced() {
			sum.EnforcementIncidents++
		}
		if len(inc.EscalationReasons) > 0 {
			sum.EscalatedIncidents++
		}
	}
	if len(all) > 0 {
		sum.AverageSeverity = util.Round(total/float64(len(all)), 2)
	}
	if limit < len(all) {
		all = all[:limit]
	}
	return models.ComplianceReport{
		ReportID:    e.newID(),
		GeneratedAt: e.now().UTC(),
		Summary:     sum,
		Incidents:   all,
	}
}
