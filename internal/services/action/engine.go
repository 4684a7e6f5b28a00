// Package action maps the stability index to a governance tier and applies
// rule-based escalation.
package action

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

const historyCap = 1000

// Policy holds tier floors and escalation thresholds.
type Policy struct {
	StableThreshold         float64
	ElevatedThreshold       float64
	HighVolatilityThreshold float64
	SystemicThreshold       float64

	ContagionEscalation    float64 // CRS above this escalates
	FeedMismatchEscalation float64 // mismatch rate above this escalates
	TrustEscalation        float64 // average trust below this escalates
}

func DefaultPolicy() Policy {
	return Policy{
		StableThreshold:         80,
		ElevatedThreshold:       60,
		HighVolatilityThreshold: 40,
		SystemicThreshold:       0,
		ContagionEscalation:     70,
		FeedMismatchEscalation:  0.02,
		TrustEscalation:         50,
	}
}

func (p Policy) validate() error {
	const op = "action.New"
	if !(p.StableThreshold > p.ElevatedThreshold && p.ElevatedThreshold > p.HighVolatilityThreshold && p.HighVolatilityThreshold >= p.SystemicThreshold) {
		return errs.InvalidInput(op, "tier thresholds must satisfy stable > elevated > high_volatility >= systemic, got %v/%v/%v/%v",
			p.StableThreshold, p.ElevatedThreshold, p.HighVolatilityThreshold, p.SystemicThreshold)
	}
	if p.StableThreshold < 0 || p.StableThreshold > 100 {
		return errs.InvalidInput(op, "stable threshold must be in [0, 100], got %v", p.StableThreshold)
	}
	if p.ContagionEscalation < 0 || p.FeedMismatchEscalation < 0 || p.TrustEscalation < 0 {
		return errs.InvalidInput(op, "escalation thresholds must be non-negative")
	}
	return nil
}

// BaseTier classifies an index score without escalation.
func (p Policy) BaseTier(msi float64) models.RiskTier {
	switch {
	case msi >= p.StableThreshold:
		return models.TierNormal
	case msi >= p.ElevatedThreshold:
		return models.TierElevatedRisk
	case msi >= p.HighVolatilityThreshold:
		return models.TierHighVolatility
	default:
		return models.TierSystemicCrisis
	}
}

type rule struct {
	fires  func(p Policy, in models.RiskInputs) bool
	reason func(p Policy, in models.RiskInputs) string
}

// Rules run in a fixed order; each may raise the tier one level.
var rules = []rule{
	{
		fires:  func(p Policy, in models.RiskInputs) bool { return in.CRS > p.ContagionEscalation },
		reason: func(p Policy, in models.RiskInputs) string {
			return fmt.Sprintf("Contagion Risk Score (%.1f) exceeds threshold (%.1f) - potential cross-asset systemic contagion", in.CRS, p.ContagionEscalation)
		},
	},
	{
		fires:  func(p Policy, in models.RiskInputs) bool { return in.FeedMismatchRate > p.FeedMismatchEscalation },
		reason: func(p Policy, in models.RiskInputs) string {
			return fmt.Sprintf("Feed mismatch rate (%.4f) exceeds threshold (%.4f) - data integrity compromised across feeds", in.FeedMismatchRate, p.FeedMismatchEscalation)
		},
	},
	{
		fires:  func(p Policy, in models.RiskInputs) bool { return in.AverageTrust < p.TrustEscalation },
		reason: func(p Policy, in models.RiskInputs) string {
			return fmt.Sprintf("Average trust score (%.1f) below threshold (%.1f) - majority of data unreliable", in.AverageTrust, p.TrustEscalation)
		},
	},
}

// Engine evaluates inputs independently; only the history ring is shared.
type Engine struct {
	policy Policy
	log    *logger.Logger
	sink   repository.AuditSink
	now    func() time.Time

	mu           sync.RWMutex
	seq          int64
	history      []models.RiskEvaluation
	distribution map[models.RiskTier]int64
	escalations  int64
	enforcements int64
	current      *models.RiskEvaluation
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSink records a SYSTEMIC_RISK_EVALUATION event per evaluation.
func WithSink(s repository.AuditSink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(p Policy, opts ...Option) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		policy:       p,
		log:          logger.Nop(),
		now:          time.Now,
		distribution: make(map[models.RiskTier]int64),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func validateInputs(in models.RiskInputs) error {
	const op = "action.Evaluate"
	check := func(name string, v, lo, hi float64) error {
		if !util.Finite(v) || v < lo || v > hi {
			return errs.InvalidInput(op, "%s must be in [%v, %v], got %v", name, lo, hi, v)
		}
		return nil
	}
	if err := check("msi", in.MSI, 0, 100); err != nil {
		return err
	}
	if err := check("crs", in.CRS, 0, 100); err != nil {
		return err
	}
	if err := check("feed mismatch rate", in.FeedMismatchRate, 0, 1); err != nil {
		return err
	}
	return check("avg trust score", in.AverageTrust, 0, 100)
}

// Classify computes the tier without recording anything.
func (e *Engine) Classify(in models.RiskInputs) (base, final models.RiskTier, reasons []string) {
	base = e.policy.BaseTier(in.MSI)
	final = base
	reasons = []string{}
	for _, r := range rules {
		if !r.fires(e.policy, in) {
			continue
		}
		next := final.Next()
		if next != final {
			reasons = append(reasons, r.reason(e.policy, in))
			final = next
		}
	}
	return base, final, reasons
}

// Evaluate classifies the inputs and appends the result to history.
func (e *Engine) Evaluate(in models.RiskInputs) (models.RiskEvaluation, error) {
	if err := validateInputs(in); err != nil {
		return models.RiskEvaluation{}, err
	}
	base, tier, reasons := e.Classify(in)

	e.mu.Lock()
	e.seq++
	ev := models.RiskEvaluation{
		EvaluationID:        e.seq,
		Tier:                tier,
		BaseTier:            base,
		Alert:               tier.Alert(),
		Action:              tier.Action(),
		EnforcementRequired: tier.Enforced(),
		EscalationReasons:   reasons,
		Inputs:              in,
		Timestamp:           e.now().UTC(),
	}
	e.history = append(e.history, cloneEval(ev))
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	e.distribution[tier]++
	if ev.Escalated() {
		e.escalations++
	}
	if ev.EnforcementRequired {
		e.enforcements++
	}
	cur := cloneEval(ev)
	e.current = &cur
	e.mu.Unlock()

	if ev.Escalated() {
		e.log.Warn("risk tier escalated",
			logger.String("base_tier", base.String()),
			logger.String("tier", tier.String()),
			logger.Strings("reasons", reasons))
	}
	e.record(ev)
	return ev, nil
}

func cloneEval(ev models.RiskEvaluation) models.RiskEvaluation {
	ev.EscalationReasons = slices.Clone(ev.EscalationReasons)
	return ev
}

func alertSeverity(a models.AlertLevel) string {
	switch a {
	case models.AlertYellow:
		return models.SeverityWarning
	case models.AlertOrange:
		return models.SeverityHigh
	case models.AlertRed:
		return models.SeverityCritical
	default:
		return models.SeverityInfo
	}
}

func (e *Engine) record(ev models.RiskEvaluation) {
	if e.sink == nil {
		return
	}
	err := e.sink.RecordEvent(context.Background(), models.AuditEvent{
		Timestamp: ev.Timestamp,
		Type:      models.EventRiskEvaluation,
		Severity:  alertSeverity(ev.Alert),
		Message:   fmt.Sprintf("Risk tier %s (%s) | action: %s", ev.Tier, ev.Alert, ev.Action),
		Data: map[string]any{
			"evaluation_id":      ev.EvaluationID,
			"base_tier":          ev.BaseTier.String(),
			"risk_tier":          ev.Tier.String(),
			"escalation_reasons": ev.EscalationReasons,
			"msi_score":          ev.Inputs.MSI,
		},
	})
	if err != nil {
		e.log.Error("record risk evaluation", logger.Error(err))
	}
}

// History returns up to limit evaluations, newest first. limit <= 0 means all.
func (e *Engine) History(limit int) []models.RiskEvaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RiskEvaluation, 0, n)
	for i := len(e.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneEval(e.history[i]))
	}
	return out
}

// Statistics reports lifetime counters. Counters are not bounded by the history ring.
func (e *Engine) Statistics() models.RiskStatistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := models.RiskStatistics{
		TotalEvaluations: e.seq,
		TierDistribution: make(map[string]int64, 4),
		EscalationCount:  e.escalations,
		EnforcementCount: e.enforcements,
	}
	for _, t := range models.Tiers() {
		st.TierDistribution[t.String()] = e.distribution[t]
	}
	if e.current != nil {
		tier, alert := e.current.Tier, e.current.Alert
		st.CurrentTier = &tier
		st.CurrentAlert = &alert
	}
	return st
}

// Policy describes the active thresholds in human-readable form.
func (e *Engine) Policy() models.PolicyConfig {
	p := e.policy
	return models.PolicyConfig{
		Thresholds: map[string]string{
			models.TierNormal.String():         fmt.Sprintf("MSI >= %g", p.StableThreshold),
			models.TierElevatedRisk.String():   fmt.Sprintf("%g <= MSI < %g", p.ElevatedThreshold, p.StableThreshold),
			models.TierHighVolatility.String(): fmt.Sprintf("%g <= MSI < %g", p.HighVolatilityThreshold, p.ElevatedThreshold),
			models.TierSystemicCrisis.String(): fmt.Sprintf("MSI < %g", p.HighVolatilityThreshold),
		},
		EscalationRules: map[string]string{
			"contagion":     fmt.Sprintf("CRS > %g -> escalate +1 tier", p.ContagionEscalation),
			"feed_mismatch": fmt.Sprintf("Feed mismatch > %g -> escalate +1 tier", p.FeedMismatchEscalation),
			"trust_deficit": fmt.Sprintf("Avg trust < %g -> escalate +1 tier", p.TrustEscalation),
		},
		EnforcedTiers: []string{models.TierHighVolatility.String(), models.TierSystemicCrisis.String()},
	}
}

// PolicyValues returns the thresholds the engine was built with.
func (e *Engine) PolicyValues() Policy { return e.policy }

// Reset clears history and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq = 0
	e.history = nil
	e.distribution = make(map[models.RiskTier]int64)
	e.escalations = 0
	e.enforcements = 0
	e.current = nil
}
