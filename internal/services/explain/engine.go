// Package explain decomposes the stability and severity formulas into
// signed contributions, ranks assets by risk and renders narratives.
// Everything here is a pure function of its inputs.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/services/incident"
	"MarketGuard/internal/services/stability"
	"MarketGuard/pkg/util"
)

// Component keys used in percentage maps and dominant-factor names.
const (
	KeyTrust        = "trust_component"
	KeyAnomalyRate  = "anomaly_rate_penalty"
	KeyAnomalyCount = "anomaly_count_penalty"
	KeyFeedMismatch = "feed_mismatch_penalty"
	KeyContagion    = "contagion_penalty"

	KeyMarketInstability = "market_instability"
	KeyContagionRisk     = "contagion_risk"
	KeyDataIntegrity     = "data_integrity_risk"
	KeyTrustDeficit      = "trust_deficit"
)

type Engine struct{}

func New() *Engine { return &Engine{} }

type term struct {
	key   string
	value float64
}

func percentages(terms []term) map[string]float64 {
	total := 0.0
	for _, t := range terms {
		total += math.Abs(t.value)
	}
	out := make(map[string]float64, len(terms))
	for _, t := range terms {
		if total > 0 {
			out[t.key] = util.Round(math.Abs(t.value)/total*100, 2)
		} else {
			out[t.key] = 0
		}
	}
	return out
}

// ExplainMSI reproduces the stability index term by term. Penalties are
// reported as negative contributions; their sum with the trust term equals
// the raw index.
func (e *Engine) ExplainMSI(in models.StabilityInputs) (models.MSIExplanation, error) {
	b, err := stability.Breakdown(in)
	if err != nil {
		return models.MSIExplanation{}, err
	}

	terms := []term{
		{KeyTrust, b.TrustContribution},
		{KeyAnomalyRate, -b.AnomalyRatePenalty},
		{KeyAnomalyCount, -b.AnomalyCountPenalty},
		{KeyFeedMismatch, -b.FeedMismatchPenalty},
		{KeyContagion, -b.ContagionPenalty},
	}

	dominant, magnitude := models.FactorNone, 0.0
	for _, t := range terms[1:] {
		if t.value < magnitude {
			dominant, magnitude = t.key, t.value
		}
	}

	raw := 0.0
	for _, t := range terms {
		raw += t.value
	}

	return models.MSIExplanation{
		Final: util.Round(util.Clamp(raw, 0, 100), 2),
		Raw:   util.Round(raw, 4),
		Components: models.MSIComponents{
			TrustComponent:      util.Round(terms[0].value, 4),
			AnomalyRatePenalty:  util.Round(terms[1].value, 4),
			AnomalyCountPenalty: util.Round(terms[2].value, 4),
			FeedMismatchPenalty: util.Round(terms[3].value, 4),
			ContagionPenalty:    util.Round(terms[4].value, 4),
		},
		Percentages:       percentages(terms),
		DominantFactor:    dominant,
		DominantMagnitude: util.Round(math.Abs(magnitude), 4),
		Formula:           stability.Formula,
	}, nil
}

// SeverityInputs mirror incident creation inputs.
type SeverityInputs struct {
	MSI              float64 `json:"msi_score" validate:"gte=0,lte=100"`
	CRS              float64 `json:"contagion_risk_score" validate:"gte=0,lte=100"`
	FeedMismatchRate float64 `json:"feed_mismatch_rate" validate:"gte=0,lte=1"`
	AverageTrust     float64 `json:"avg_trust_score" validate:"gte=0,lte=100"`
}

func (s SeverityInputs) validate() error {
	const op = "explain.ExplainSeverity"
	for _, c := range []struct {
		name      string
		v, lo, hi float64
	}{
		{"msi", s.MSI, 0, 100},
		{"crs", s.CRS, 0, 100},
		{"feed mismatch rate", s.FeedMismatchRate, 0, 1},
		{"avg trust score", s.AverageTrust, 0, 100},
	} {
		if !util.Finite(c.v) || c.v < c.lo || c.v > c.hi {
			return errs.InvalidInput(op, "%s must be in [%v, %v], got %v", c.name, c.lo, c.hi, c.v)
		}
	}
	return nil
}

// ExplainSeverity decomposes the incident severity formula.
func (e *Engine) ExplainSeverity(in SeverityInputs) (models.SeverityExplanation, error) {
	if err := in.validate(); err != nil {
		return models.SeverityExplanation{}, err
	}
	a, b, c, d := incident.Terms(in.MSI, in.CRS, in.FeedMismatchRate, in.AverageTrust)
	terms := []term{
		{KeyMarketInstability, a},
		{KeyContagionRisk, b},
		{KeyDataIntegrity, c},
		{KeyTrustDeficit, d},
	}
	raw := a + b + c + d
	sev := util.Clamp(raw, 0, 100)

	dominant, best := models.FactorNone, 0.0
	for _, t := range terms {
		if t.value > best {
			dominant, best = t.key, t.value
		}
	}

	return models.SeverityExplanation{
		Severity:       util.Round(sev, 2),
		Raw:            util.Round(raw, 4),
		Classification: incident.Classify(sev),
		Components: models.SeverityComponents{
			MarketInstability: util.Round(a, 4),
			ContagionRisk:     util.Round(b, 4),
			DataIntegrityRisk: util.Round(c, 4),
			TrustDeficit:      util.Round(d, 4),
		},
		Percentages:    percentages(terms),
		DominantFactor: dominant,
		Formula:        incident.SeverityFormula,
	}, nil
}

// AssetRiskLevel brackets a trust score.
func AssetRiskLevel(trust float64) models.AssetRiskLevel {
	switch {
	case trust >= 80:
		return models.AssetRiskLow
	case trust >= 60:
		return models.AssetRiskModerate
	case trust >= 40:
		return models.AssetRiskHigh
	default:
		return models.AssetRiskCritical
	}
}

func assetExplanation(symbol string, trust float64, level models.AssetRiskLevel) string {
	switch level {
	case models.AssetRiskCritical:
		return fmt.Sprintf("%s has critically low trust (%.1f). Data for this asset is unreliable and may indicate manipulation or persistent feed failure", symbol, trust)
	case models.AssetRiskHigh:
		return fmt.Sprintf("%s has high risk (trust: %.1f). Significant data quality concerns warrant enhanced monitoring", symbol, trust)
	case models.AssetRiskModerate:
		return fmt.Sprintf("%s has moderate risk (trust: %.1f). Some data quality degradation detected", symbol, trust)
	default:
		return fmt.Sprintf("%s is operating normally (trust: %.1f). Data quality is within acceptable bounds", symbol, trust)
	}
}

// RankAssetImpact orders assets by 100 - trust, highest risk first.
// Ties keep alphabetical order.
func (e *Engine) RankAssetImpact(trust map[string]float64) ([]models.AssetRank, error) {
	const op = "explain.RankAssetImpact"
	if len(trust) == 0 {
		return nil, errs.InvalidInput(op, "trust scores must not be empty")
	}

	symbols := make([]string, 0, len(trust))
	for s, v := range trust {
		if !util.Finite(v) {
			return nil, errs.InvalidInput(op, "trust score for %s is not a number: %v", s, v)
		}
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	out := make([]models.AssetRank, 0, len(symbols))
	for _, s := range symbols {
		v := util.Clamp(trust[s], 0, 100)
		level := AssetRiskLevel(v)
		out = append(out, models.AssetRank{
			Symbol:      s,
			TrustScore:  util.Round(v, 2),
			RiskScore:   util.Round(100-v, 2),
			RiskLevel:   level,
			Explanation: assetExplanation(s, v, level),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func msiBracket(msi float64) string {
	switch {
	case msi >= 80:
		return "MSI >= 80 (STABLE zone)"
	case msi >= 60:
		return "60 <= MSI < 80 (ELEVATED zone)"
	case msi >= 40:
		return "40 <= MSI < 60 (HIGH VOLATILITY zone)"
	default:
		return "MSI < 40 (SYSTEMIC RISK zone)"
	}
}

// ExplainRiskTier narrates how an evaluation reached its final tier.
func (e *Engine) ExplainRiskTier(msi float64, ev models.RiskEvaluation) models.TierExplanation {
	steps := int(ev.Tier - ev.BaseTier)
	bracket := msiBracket(msi)

	parts := []string{fmt.Sprintf("MSI score of %.1f places the market in %s, corresponding to base tier %s.", msi, bracket, ev.BaseTier)}
	if steps > 0 {
		parts = append(parts, fmt.Sprintf("The tier was escalated by %d level(s) to %s due to %d escalation trigger(s).", steps, ev.Tier, len(ev.EscalationReasons)))
		for _, r := range ev.EscalationReasons {
			parts = append(parts, "  - "+r)
		}
	} else {
		parts = append(parts, "No escalation rules were triggered. Final tier matches base tier.")
	}
	if ev.EnforcementRequired {
		parts = append(parts, "ENFORCEMENT is REQUIRED: Protective measures must be activated (trade throttling or emergency controls).")
	}

	reasons := append([]string{}, ev.EscalationReasons...)
	return models.TierExplanation{
		FinalTier:           ev.Tier,
		BaseTier:            ev.BaseTier,
		WasEscalated:        steps > 0,
		EscalationSteps:     steps,
		EscalationReasons:   reasons,
		EnforcementRequired: ev.EnforcementRequired,
		Reasoning:           strings.Join(parts, " "),
		MSIBracket:          bracket,
	}
}

// NarrativeInput bundles the pieces a narrative is assembled from.
type NarrativeInput struct {
	MSI      models.MSIExplanation
	Severity models.SeverityExplanation
	Tier     models.TierExplanation
	Rankings []models.AssetRank
}

// GenerateNarrative renders the explanations as paragraphs separated by blank lines.
func (e *Engine) GenerateNarrative(in NarrativeInput) string {
	var sections []string

	msi := fmt.Sprintf("MARKET STABILITY INDEX: The current MSI is %.1f out of 100. The trust component contributes +%.1f points to stability.",
		in.MSI.Final, in.MSI.Components.TrustComponent)
	if in.MSI.DominantFactor != models.FactorNone {
		msi += fmt.Sprintf(" The dominant risk factor is '%s' with a magnitude of %.2f points. This is the primary driver of instability.",
			strings.ReplaceAll(in.MSI.DominantFactor, "_", " "), in.MSI.DominantMagnitude)
	}
	sections = append(sections, msi)

	sections = append(sections, fmt.Sprintf("SEVERITY ASSESSMENT: The computed severity score is %.1f, classified as %s. The dominant severity factor is '%s'.",
		in.Severity.Severity, in.Severity.Classification, strings.ReplaceAll(in.Severity.DominantFactor, "_", " ")))

	sections = append(sections, "RISK TIER: "+in.Tier.Reasoning)

	if len(in.Rankings) > 0 {
		top := in.Rankings[0]
		rank := fmt.Sprintf("ASSET RISK RANKING: The highest-risk asset is %s (trust: %.1f, risk level: %s). %s.",
			top.Symbol, top.TrustScore, top.RiskLevel, top.Explanation)
		if len(in.Rankings) > 1 {
			others := make([]string, 0, 3)
			for _, r := range in.Rankings[1:min(4, len(in.Rankings))] {
				others = append(others, fmt.Sprintf("%s (%.1f)", r.Symbol, r.TrustScore))
			}
			rank += " Other monitored assets: " + strings.Join(others, ", ") + "."
		}
		sections = append(sections, rank)
	}

	return strings.Join(sections, "\n\n")
}
