package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskTier is the governance state, ordered by severity.
type RiskTier int

const (
	TierNormal RiskTier = iota
	TierElevatedRisk
	TierHighVolatility
	TierSystemicCrisis
)

var tierNames = [...]string{"NORMAL", "ELEVATED_RISK", "HIGH_VOLATILITY", "SYSTEMIC_CRISIS"}

// Tiers lists every tier from least to most severe.
func Tiers() []RiskTier {
	return []RiskTier{TierNormal, TierElevatedRisk, TierHighVolatility, TierSystemicCrisis}
}

func (t RiskTier) String() string {
	if t < TierNormal || t > TierSystemicCrisis {
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
	return tierNames[t]
}

func (t RiskTier) Valid() bool { return t >= TierNormal && t <= TierSystemicCrisis }

// Next returns the next more severe tier, saturating at SYSTEMIC_CRISIS.
func (t RiskTier) Next() RiskTier {
	if t >= TierSystemicCrisis {
		return TierSystemicCrisis
	}
	return t + 1
}

// Enforced reports whether protective measures are mandatory in this tier.
func (t RiskTier) Enforced() bool {
	return t == TierHighVolatility || t == TierSystemicCrisis
}

func (t RiskTier) Alert() AlertLevel {
	switch t {
	case TierElevatedRisk:
		return AlertYellow
	case TierHighVolatility:
		return AlertOrange
	case TierSystemicCrisis:
		return AlertRed
	default:
		return AlertGreen
	}
}

func (t RiskTier) Action() Action {
	switch t {
	case TierElevatedRisk:
		return ActionIncreaseMonitoring
	case TierHighVolatility:
		return ActionTradeThrottling
	case TierSystemicCrisis:
		return ActionEmergencyControls
	default:
		return ActionNone
	}
}

// ParseRiskTier maps a tier name back to its value.
func ParseRiskTier(s string) (RiskTier, error) {
	for i, n := range tierNames {
		if n == s {
			return RiskTier(i), nil
		}
	}
	return TierNormal, fmt.Errorf("unknown risk tier %q", s)
}

func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *RiskTier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseRiskTier(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type AlertLevel string

const (
	AlertGreen  AlertLevel = "GREEN"
	AlertYellow AlertLevel = "YELLOW"
	AlertOrange AlertLevel = "ORANGE"
	AlertRed    AlertLevel = "RED"
)

type Action string

const (
	ActionNone               Action = "NO_ACTION"
	ActionIncreaseMonitoring Action = "INCREASE_MONITORING"
	ActionTradeThrottling    Action = "ENABLE_TRADE_THROTTLING"
	ActionEmergencyControls  Action = "ACTIVATE_EMERGENCY_CONTROLS"
)

// ValidAction reports whether a is one of the recommended actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionNone, ActionIncreaseMonitoring, ActionTradeThrottling, ActionEmergencyControls:
		return true
	}
	return false
}

// RiskInputs are the scalars the action engine evaluates.
type RiskInputs struct {
	MSI              float64 `json:"msi_score"`
	CRS              float64 `json:"contagion_risk_score"`
	FeedMismatchRate float64 `json:"feed_mismatch_rate"`
	AverageTrust     float64 `json:"avg_trust_score"`
}

// RiskEvaluation is immutable once produced.
type RiskEvaluation struct {
	EvaluationID        int64      `json:"evaluation_id"`
	Tier                RiskTier   `json:"risk_tier"`
	BaseTier            RiskTier   `json:"base_tier"`
	Alert               AlertLevel `json:"alert_level"`
	Action              Action     `json:"recommended_action"`
	EnforcementRequired bool       `json:"enforcement_required"`
	EscalationReasons   []string   `json:"escalation_reasons"`
	Inputs              RiskInputs `json:"inputs"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Escalated reports whether any rule moved the tier above its base.
func (e RiskEvaluation) Escalated() bool { return e.Tier > e.BaseTier }

type RiskStatistics struct {
	TotalEvaluations int64            `json:"total_evaluations"`
	TierDistribution map[string]int64 `json:"tier_distribution"`
	EscalationCount  int64            `json:"escalation_count"`
	EnforcementCount int64            `json:"enforcement_count"`
	CurrentTier      *RiskTier        `json:"current_tier"`
	CurrentAlert     *AlertLevel      `json:"current_alert"`
}

type PolicyConfig struct {
	Thresholds      map[string]string `json:"tier_thresholds"`
	EscalationRules map[string]string `json:"escalation_rules"`
	EnforcedTiers   []string          `json:"enforcement_tiers"`
}
