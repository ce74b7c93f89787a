package factcheck

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func allDetectors(t *testing.T) []Detector {
	t.Helper()
	ds, err := DefaultDetectors(nil)
	if err != nil {
		t.Fatalf("detectors: %v", err)
	}
	return ds
}

func TestExtractDetectors(t *testing.T) {
	ds := allDetectors(t)
	tests := []struct {
		text      string
		typ       ClaimType
		subject   string
		predicate string
		value     string
	}{
		{"nginx is running", ClaimSystemState, "nginx", "state", "running"},
		{"The postgres service was stopped yesterday", ClaimSystemState, "service", "state", "stopped"},
		{"api-gateway is currently offline", ClaimOperationalStatus, "api-gateway", "status", "offline"},
		{"config.yaml does not exist", ClaimExistence, "config.yaml", "exists", "false"},
		{"backup.tar exists", ClaimExistence, "backup.tar", "exists", "true"},
		{"the cluster is called prod-eu", ClaimEntityName, "cluster", "name", "prod-eu"},
		{"I am Atlas.", ClaimSelfReferential, SelfSubject, "identity", "Atlas"},
		{"My version is 2.1.", ClaimSelfReferential, SelfSubject, "version", "2.1"},
	}
	for _, tt := range tests {
		claims := Extract(tt.text, ds)
		if len(claims) != 1 {
			t.Errorf("%q: expected 1 claim, got %+v", tt.text, claims)
			continue
		}
		c := claims[0]
		if c.Type != tt.typ || c.Subject != tt.subject || c.Predicate != tt.predicate || c.Value != tt.value {
			t.Errorf("%q: got %+v", tt.text, c)
		}
	}
}

func TestExtractIgnoresPronounsAndPlainText(t *testing.T) {
	ds := allDetectors(t)
	for _, text := range []string{"", "it is running", "Everything is fine.", "that was stopped", "hello world"} {
		if claims := Extract(text, ds); len(claims) != 0 {
			t.Errorf("%q: expected no claims, got %+v", text, claims)
		}
	}
}

func TestExtractOrderAndOffsets(t *testing.T) {
	ds := allDetectors(t)
	text := "redis is down and nginx is running"
	claims := Extract(text, ds)
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %+v", claims)
	}
	if claims[0].Subject != "redis" || claims[1].Subject != "nginx" {
		t.Errorf("unexpected order %+v", claims)
	}
	if !strings.HasPrefix(text[claims[1].Offset:], "nginx") {
		t.Errorf("offset %d does not point at claim", claims[1].Offset)
	}
}

func TestDefaultDetectorsSubset(t *testing.T) {
	ds, err := DefaultDetectors([]ClaimType{ClaimExistence})
	if err != nil {
		t.Fatal(err)
	}
	if claims := Extract("nginx is running", ds); len(claims) != 0 {
		t.Errorf("disabled detector produced claims: %+v", claims)
	}
	if _, err := DefaultDetectors([]ClaimType{"astrology"}); err == nil {
		t.Error("expected unknown detector error")
	}
}

func TestRegistryRoundTripNormalization(t *testing.T) {
	r := NewRegistry(Fact{Subject: "Nginx", Predicate: "State", Value: "Running"})
	res := r.Check(Claim{Subject: "  nginx ", Predicate: "STATE", Value: " running\t"})
	if res.Status != StatusVerified {
		t.Errorf("expected verified, got %s", res.Status)
	}

	r.Add(Fact{Subject: "backup", Predicate: "exists", Value: "yes"})
	if res := r.Check(Claim{Subject: "Backup", Predicate: "exists", Value: "true"}); res.Status != StatusVerified {
		t.Errorf("yes/true: expected verified, got %s", res.Status)
	}
	if res := r.Check(Claim{Subject: "backup", Predicate: "exists", Value: "no"}); res.Status != StatusContradicted {
		t.Errorf("no/yes: expected contradicted, got %s", res.Status)
	}
	if res := r.Check(Claim{Subject: "unknown", Predicate: "exists", Value: "no"}); res.Status != StatusUnverified || res.Fact != nil {
		t.Errorf("expected unverified, got %+v", res)
	}
}

func TestRegistryLaterOverrides(t *testing.T) {
	r := NewRegistry(
		Fact{Subject: "nginx", Predicate: "state", Value: "running"},
		Fact{Subject: "NGINX", Predicate: "state", Value: "stopped"},
	)
	if r.Len() != 1 {
		t.Fatalf("expected 1 fact, got %d", r.Len())
	}
	f, ok := r.Lookup("nginx", "state")
	if !ok || f.Value != "stopped" {
		t.Errorf("expected later fact to win, got %+v", f)
	}
}

func TestContradictionAction(t *testing.T) {
	th := Thresholds{BlockBelow: 40, FlagAbove: 60}
	tests := []struct {
		trust float64
		want  Action
	}{
		{0, ActionBlock},
		{39.9, ActionBlock},
		{40, ActionFlag},
		{59.9, ActionFlag},
		{60, ActionPass},
		{100, ActionPass},
	}
	for _, tt := range tests {
		if got := th.ContradictionAction(tt.trust); got != tt.want {
			t.Errorf("trust %v: got %s, want %s", tt.trust, got, tt.want)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	for _, th := range []Thresholds{{40, 60}, {50, 50}, {0, 100}} {
		if err := th.Validate(); err != nil {
			t.Errorf("%+v: unexpected error %v", th, err)
		}
	}
	for _, th := range []Thresholds{{70, 60}, {-1, 60}, {40, 101}} {
		if err := th.Validate(); err == nil {
			t.Errorf("%+v: expected error", th)
		}
	}
}

func nginxChecker(t *testing.T, policy VerdictPolicy) *Checker {
	t.Helper()
	return NewChecker(allDetectors(t), NewRegistry(Fact{Subject: "nginx", Predicate: "state", Value: "stopped"}), policy)
}

func TestNginxScenario(t *testing.T) {
	c := nginxChecker(t, VerdictPolicy{Thresholds: Thresholds{BlockBelow: 40, FlagAbove: 60}})

	low := c.Check("nginx is running", 20)
	if low.Action != ActionBlock {
		t.Errorf("trust 20: expected block, got %s (%s)", low.Action, low.Reason)
	}
	if len(low.Contradictions()) != 1 {
		t.Errorf("expected one contradiction, got %+v", low.Results)
	}

	mid := c.Check("nginx is running", 50)
	if mid.Action != ActionFlag {
		t.Errorf("trust 50: expected flag, got %s", mid.Action)
	}

	high := c.Check("nginx is running", 80)
	if high.Action != ActionPass {
		t.Errorf("trust 80: expected pass, got %s", high.Action)
	}
	if !strings.Contains(high.Reason, "contradicted") {
		t.Errorf("pass verdict should still report contradiction, got %q", high.Reason)
	}

	if ok := c.Check("nginx is stopped", 20); ok.Action != ActionPass {
		t.Errorf("verified claim: expected pass, got %s", ok.Action)
	}
}

func TestUnverifiedPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy VerdictPolicy
		text   string
		want   Action
	}{
		{"ignore", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedIgnore}, "redis is down", ActionPass},
		{"flag", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedFlag}, "redis is down", ActionFlag},
		{"block", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedBlock}, "redis is down", ActionBlock},
		{"self independent", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedBlock, SelfReferential: UnverifiedFlag}, "I am Atlas", ActionFlag},
		{"self ignored", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedFlag}, "I am Atlas", ActionPass},
		{"contradiction wins", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedBlock}, "nginx is running", ActionPass},
		{"no claims", VerdictPolicy{Thresholds: DefaultThresholds(), Unverified: UnverifiedBlock}, "all good here", ActionPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := nginxChecker(t, tt.policy)
			if got := c.Check(tt.text, 90); got.Action != tt.want {
				t.Errorf("got %s (%s), want %s", got.Action, got.Reason, tt.want)
			}
		})
	}
}

func TestMoreRestrictive(t *testing.T) {
	if MoreRestrictive(ActionPass, ActionFlag) != ActionFlag || MoreRestrictive(ActionBlock, ActionFlag) != ActionBlock {
		t.Error("unexpected ordering")
	}
	if Action("weird").Rank() != ActionBlock.Rank() {
		t.Error("unknown action should rank as block")
	}
}

func TestLoadFacts(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "facts.yaml")
	os.WriteFile(yamlPath, []byte(`
facts:
  - {subject: nginx, predicate: state, value: stopped, source: ops}
  - {subject: backup, predicate: exists, value: yes}
`), 0o600)
	jsonPath := filepath.Join(dir, "facts.json")
	os.WriteFile(jsonPath, []byte(`[{"subject":"db","predicate":"status","value":"online"}]`), 0o600)

	facts, err := LoadFacts(yamlPath)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(facts) != 2 || facts[0].Source != "ops" || facts[1].Value != "yes" {
		t.Errorf("unexpected yaml facts %+v", facts)
	}

	facts, err = LoadFacts(jsonPath)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(facts) != 1 || facts[0].Subject != "db" {
		t.Errorf("unexpected json facts %+v", facts)
	}

	if _, err := LoadFacts(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseFacts([]byte(`[{subject: "", predicate: x, value: y}]`)); err == nil {
		t.Error("expected error for empty subject")
	}
	if facts, err := ParseFacts(nil); err != nil || facts != nil {
		t.Errorf("empty input: %v %v", facts, err)
	}
}
