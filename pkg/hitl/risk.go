// Package hitl implements human-in-the-loop risk assessment, the approval
// request store, and the pause manager that bridges pending approvals to
// paused conversations.
package hitl

// RiskLevel is a monotonic severity tier.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Threshold is one severity tier's trigger conditions and resulting policy.
type Threshold struct {
	Level           RiskLevel
	MinCostUSD      float64
	Sensitivities   map[string]struct{}
	Actions         map[string]struct{}
	RequireApproval bool
	AutoPause       bool
	TimeoutMinutes  int
}

// DefaultThresholds returns the four built-in severity tiers, ordered from
// lowest to highest, matching the reference risk table exactly.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{
			Level:      RiskLow,
			MinCostUSD: 10,
		},
		{
			Level:          RiskMedium,
			MinCostUSD:     100,
			Sensitivities:  toSet("pii"),
			TimeoutMinutes: 120,
		},
		{
			Level:           RiskHigh,
			MinCostUSD:      1000,
			Sensitivities:   toSet("pii", "financial"),
			Actions:         toSet("delete", "modify_production"),
			RequireApproval: true,
			AutoPause:       true,
			TimeoutMinutes:  60,
		},
		{
			Level:           RiskCritical,
			MinCostUSD:      5000,
			Sensitivities:   toSet("pii", "financial", "health"),
			Actions:         toSet("delete", "modify_production", "access_sensitive"),
			RequireApproval: true,
			AutoPause:       true,
			TimeoutMinutes:  30,
		},
	}
}

func toSet(vals ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// ActionInput is the payload a risk assessment is run against.
type ActionInput struct {
	ActionType      string
	EstimatedCostUSD float64
	DataSensitivity []string
}

// Assessment is the outcome of assessing an ActionInput against a threshold
// table.
type Assessment struct {
	Level           RiskLevel
	RequireApproval bool
	AutoPause       bool
	TimeoutMinutes  int
}

// Assess iterates thresholds from lowest to highest severity, upgrading the
// risk level monotonically whenever the action's cost, sensitivity, or type
// matches a tier's trigger conditions. The policy (require_approval,
// auto_pause, timeout) comes from the highest tier matched.
func Assess(input ActionInput, thresholds []Threshold) Assessment {
	var result Assessment

	for _, th := range thresholds {
		if !matches(input, th) {
			continue
		}
		if th.Level < result.Level {
			continue // monotonic: never downgrade
		}
		result.Level = th.Level
		result.RequireApproval = th.RequireApproval
		result.AutoPause = th.AutoPause
		result.TimeoutMinutes = th.TimeoutMinutes
	}

	return result
}

func matches(input ActionInput, th Threshold) bool {
	if th.MinCostUSD > 0 && input.EstimatedCostUSD >= th.MinCostUSD {
		return true
	}
	for _, s := range input.DataSensitivity {
		if _, ok := th.Sensitivities[s]; ok {
			return true
		}
	}
	if _, ok := th.Actions[input.ActionType]; ok {
		return true
	}
	return false
}
