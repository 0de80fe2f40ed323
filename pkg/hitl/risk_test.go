package hitl

import "testing"

func TestAssess_LowCostNoApprovalRequired(t *testing.T) {
	a := Assess(ActionInput{EstimatedCostUSD: 5}, DefaultThresholds())
	if a.RequireApproval {
		t.Fatal("expected low-cost action to not require approval")
	}
}

func TestAssess_PIISensitivityUpgradesToCritical(t *testing.T) {
	// "pii" is listed in the medium, high and critical sensitivity sets, so
	// the monotonic upgrade ends on critical.
	a := Assess(ActionInput{EstimatedCostUSD: 50, DataSensitivity: []string{"pii"}}, DefaultThresholds())
	if a.Level != RiskCritical {
		t.Fatalf("expected critical risk, got %s", a.Level)
	}
	if !a.RequireApproval {
		t.Fatal("critical tier requires approval per the default table")
	}
	if a.TimeoutMinutes != 30 {
		t.Fatalf("expected 30 minute timeout, got %d", a.TimeoutMinutes)
	}
}

func TestAssess_HighCostRequiresApprovalAndAutoPause(t *testing.T) {
	a := Assess(ActionInput{EstimatedCostUSD: 2000, ActionType: "delete"}, DefaultThresholds())
	if a.Level != RiskHigh {
		t.Fatalf("expected high risk, got %s", a.Level)
	}
	if !a.RequireApproval || !a.AutoPause {
		t.Fatal("expected high risk to require approval and auto-pause")
	}
	if a.TimeoutMinutes != 60 {
		t.Fatalf("expected 60 minute timeout, got %d", a.TimeoutMinutes)
	}
}

func TestAssess_CriticalSensitivity(t *testing.T) {
	a := Assess(ActionInput{DataSensitivity: []string{"health"}}, DefaultThresholds())
	if a.Level != RiskCritical {
		t.Fatalf("expected critical risk for health sensitivity, got %s", a.Level)
	}
	if a.TimeoutMinutes != 30 {
		t.Fatalf("expected 30 minute timeout, got %d", a.TimeoutMinutes)
	}
}

func TestAssess_MonotonicUpgradeAcrossMultipleTriggers(t *testing.T) {
	// Cost alone (150) triggers low and medium; "delete" also appears in
	// both the high and critical action lists, so the combination must
	// resolve to the single highest tier matched, never a lower one.
	a := Assess(ActionInput{EstimatedCostUSD: 150, ActionType: "delete"}, DefaultThresholds())
	if a.Level != RiskCritical {
		t.Fatalf("expected the highest of all matched tiers to win, got %s", a.Level)
	}
}

func TestAssess_CostAloneDistinguishesHighFromCritical(t *testing.T) {
	// Cost in [1000, 5000) with no action/sensitivity trigger lands
	// exactly on high, not critical.
	a := Assess(ActionInput{EstimatedCostUSD: 1500}, DefaultThresholds())
	if a.Level != RiskHigh {
		t.Fatalf("expected high risk for cost in the high-only band, got %s", a.Level)
	}
}

func TestAssess_NoTriggersStaysLow(t *testing.T) {
	a := Assess(ActionInput{EstimatedCostUSD: 1, ActionType: "read"}, DefaultThresholds())
	if a.Level != RiskLow {
		t.Fatalf("expected no-trigger action to stay low, got %s", a.Level)
	}
	if a.RequireApproval {
		t.Fatal("expected no approval required for a low-risk action")
	}
}
