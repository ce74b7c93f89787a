package model

import "testing"

func TestTierRankOrdering(t *testing.T) {
	order := []TrustTier{TierUntrusted, TierRestricted, TierStandard, TierTrusted, TierPrivileged}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("expected %s > %s", order[i], order[i-1])
		}
	}
	if TrustTier("root").Rank() != -1 {
		t.Error("expected unknown tier to rank -1")
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("  Trusted ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != TierTrusted {
		t.Errorf("expected trusted, got %s", tier)
	}

	if _, err := ParseTier("admin"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestRiskRankMonotonic(t *testing.T) {
	if !(RiskLow.Rank() < RiskMedium.Rank() &&
		RiskMedium.Rank() < RiskHigh.Rank() &&
		RiskHigh.Rank() < RiskCritical.Rank()) {
		t.Error("risk levels are not strictly ordered")
	}
}

func TestMinutesSinceMidnight(t *testing.T) {
	ctx := &EvaluationContext{Hour: 23, Minute: 15}
	if got := ctx.MinutesSinceMidnight(); got != 23*60+15 {
		t.Errorf("expected 1395, got %d", got)
	}
}

func TestParamNilMap(t *testing.T) {
	ctx := &EvaluationContext{}
	if _, ok := ctx.Param("command"); ok {
		t.Error("expected missing param on nil map")
	}
}
