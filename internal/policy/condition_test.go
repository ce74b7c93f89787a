package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

func newDeps() *Deps {
	return &Deps{
		Regex:      NewRegexCache(nil),
		Windows:    map[string]Window{},
		Evaluators: DefaultEvaluators(),
	}
}

func decodeOne(t *testing.T, src string) Condition {
	t.Helper()
	var l ConditionList
	if err := yaml.Unmarshal([]byte(src), &l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(l) != 1 {
		t.Fatalf("expected one condition, got %d", len(l))
	}
	return l[0]
}

func TestDecodeConditionVariants(t *testing.T) {
	tests := []struct {
		src  string
		kind ConditionKind
	}{
		{`[{type: tool, name: exec}]`, KindTool},
		{`[{type: time, after: "22:00"}]`, KindTime},
		{`[{type: agent, tier: [trusted]}]`, KindAgent},
		{`[{type: context}]`, KindContext},
		{`[{type: risk, min: high}]`, KindRisk},
		{`[{type: frequency, max_count: 3, window_seconds: 10}]`, KindFrequency},
		{`[{type: any, conditions: [{type: tool, name: a}]}]`, KindAny},
		{`[{type: not, condition: {type: tool, name: a}}]`, KindNot},
	}
	for _, tt := range tests {
		c := decodeOne(t, tt.src)
		if c.Kind() != tt.kind {
			t.Errorf("%s: kind %s, want %s", tt.src, c.Kind(), tt.kind)
		}
	}
}

func TestDecodeConditionErrors(t *testing.T) {
	tests := []string{
		`[{type: bogus}]`,
		`[{name: exec}]`,
		`[{type: not}]`,
		`[exec]`,
		`{type: tool}`,
	}
	for _, src := range tests {
		var l ConditionList
		if err := yaml.Unmarshal([]byte(src), &l); err == nil {
			t.Errorf("%s: expected error", src)
		}
	}
}

func TestValidateConditionRejectsCycle(t *testing.T) {
	a := &AnyCondition{}
	a.Conditions = []Condition{ToolCondition{Name: StringList{"x"}}, a}
	err := ValidateCondition(a)
	if err == nil || !strings.Contains(err.Error(), "nesting") {
		t.Fatalf("expected nesting error, got %v", err)
	}
}

func TestValidateConditionFields(t *testing.T) {
	tests := []struct {
		name string
		c    Condition
		ok   bool
	}{
		{"tool without name", ToolCondition{}, false},
		{"time empty", TimeCondition{}, false},
		{"time bad day", TimeCondition{After: "01:00", Days: []int{7}}, false},
		{"agent bad tier", AgentCondition{Tier: StringList{"god"}}, false},
		{"risk bad level", RiskCondition{Min: "extreme"}, false},
		{"frequency zero", FrequencyCondition{}, false},
		{"frequency bad scope", FrequencyCondition{MaxCount: 1, WindowSeconds: 1, Scope: "planet"}, false},
		{"any empty", AnyCondition{}, false},
		{"not nil", NotCondition{}, false},
		{"nil pointer", (*ToolCondition)(nil), false},
		{"context empty", ContextCondition{}, true},
		{"pointer tool", &ToolCondition{Name: StringList{"x"}}, true},
	}
	for _, tt := range tests {
		err := ValidateCondition(tt.c)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err=%v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestToolParamMatchers(t *testing.T) {
	deps := newDeps()
	c := decodeOne(t, `
- type: tool
  name: ["exec", "shell_*"]
  params:
    command: {starts_with: "git ", matches: "push\\s+--force"}
    cwd: /repo
    retries: {in: [1, 2, 3]}
`)
	tests := []struct {
		name   string
		tool   string
		params map[string]any
		want   bool
	}{
		{"all hold", "exec", map[string]any{"command": "git push --force", "cwd": "/repo", "retries": 2}, true},
		{"glob name", "shell_run", map[string]any{"command": "git push  --force", "cwd": "/repo", "retries": 3.0}, true},
		{"wrong name", "read", map[string]any{"command": "git push --force", "cwd": "/repo", "retries": 2}, false},
		{"prefix fails", "exec", map[string]any{"command": "sudo git push --force", "cwd": "/repo", "retries": 2}, false},
		{"equals fails", "exec", map[string]any{"command": "git push --force", "cwd": "/tmp", "retries": 2}, false},
		{"in fails", "exec", map[string]any{"command": "git push --force", "cwd": "/repo", "retries": 9}, false},
		{"missing param", "exec", map[string]any{"command": "git push --force", "cwd": "/repo"}, false},
	}
	for _, tt := range tests {
		ctx := toolCtx(tt.tool, tt.params)
		if got := deps.Evaluate(c, ctx); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTimeCondition(t *testing.T) {
	deps := newDeps()
	deps.Windows["office"] = Window{Start: 9 * 60, End: 17 * 60, Days: []time.Weekday{time.Monday, time.Friday}}

	tests := []struct {
		name string
		c    Condition
		hour int
		day  time.Weekday
		want bool
	}{
		{"window inside", TimeCondition{Window: "office"}, 10, time.Monday, true},
		{"window wrong day", TimeCondition{Window: "office"}, 10, time.Sunday, false},
		{"window outside", TimeCondition{Window: "office"}, 18, time.Monday, false},
		{"unknown window", TimeCondition{Window: "nope"}, 10, time.Monday, false},
		{"inline wrap late", TimeCondition{After: "22:00", Before: "06:00"}, 23, time.Monday, true},
		{"inline wrap early", TimeCondition{After: "22:00", Before: "06:00"}, 5, time.Monday, true},
		{"inline wrap noon", TimeCondition{After: "22:00", Before: "06:00"}, 12, time.Monday, false},
		{"after only", TimeCondition{After: "18:00"}, 19, time.Monday, true},
		{"before only", TimeCondition{Before: "07:00"}, 8, time.Monday, false},
		{"bad after", TimeCondition{After: "25:99"}, 3, time.Monday, false},
		{"day filter", TimeCondition{After: "00:00", Days: []int{6}}, 3, time.Saturday, true},
		{"day filter miss", TimeCondition{After: "00:00", Days: []int{6}}, 3, time.Sunday, false},
	}
	for _, tt := range tests {
		ctx := toolCtx("exec", nil)
		ctx.Hour = tt.hour
		ctx.DayOfWeek = tt.day
		if got := deps.Evaluate(tt.c, ctx); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAgentCondition(t *testing.T) {
	deps := newDeps()
	lo, hi := 30.0, 70.0
	tests := []struct {
		name string
		c    AgentCondition
		want bool
	}{
		{"id exact", AgentCondition{ID: StringList{"main"}}, true},
		{"id glob", AgentCondition{ID: StringList{"ma*"}}, true},
		{"id miss", AgentCondition{ID: StringList{"forge"}}, false},
		{"tier", AgentCondition{Tier: StringList{"Standard"}}, true},
		{"tier miss", AgentCondition{Tier: StringList{"trusted", "privileged"}}, false},
		{"score bounds", AgentCondition{MinScore: &lo, MaxScore: &hi}, true},
		{"score below", AgentCondition{MinScore: &hi}, false},
	}
	for _, tt := range tests {
		if got := deps.Evaluate(tt.c, toolCtx("exec", nil)); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContextCondition(t *testing.T) {
	deps := newDeps()
	ctx := toolCtx("message", nil)
	ctx.MessageContent = "Deploying to PRODUCTION now"
	ctx.Channel = "matrix"
	ctx.Conversation = []string{"hello", "please wipe the disk"}
	ctx.Metadata = map[string]any{"ticket": "OPS-1"}

	tests := []struct {
		name string
		c    ContextCondition
		want bool
	}{
		{"empty holds", ContextCondition{}, true},
		{"contains fold", ContextCondition{MessageContains: StringList{"production"}}, true},
		{"regex", ContextCondition{MessageMatches: StringList{`^Deploy\w+`}}, true},
		{"regex miss", ContextCondition{MessageMatches: StringList{`^rollback`}}, false},
		{"rejected regex", ContextCondition{MessageMatches: StringList{`(a+)+`}}, false},
		{"conversation", ContextCondition{ConversationContains: StringList{"WIPE"}}, true},
		{"conversation regex", ContextCondition{ConversationMatches: StringList{`wipe\s+the`}}, true},
		{"metadata", ContextCondition{HasMetadata: StringList{"ticket"}}, true},
		{"metadata missing", ContextCondition{HasMetadata: StringList{"ticket", "approver"}}, false},
		{"channel", ContextCondition{Channel: StringList{"telegram", "matrix"}}, true},
		{"channel miss", ContextCondition{Channel: StringList{"telegram"}}, false},
		{"session glob", ContextCondition{SessionKey: "main:*"}, true},
		{"session miss", ContextCondition{SessionKey: "forge:*"}, false},
	}
	for _, tt := range tests {
		if got := deps.Evaluate(tt.c, ctx); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDoubleNegation(t *testing.T) {
	deps := newDeps()
	conds := []Condition{
		ToolCondition{Name: StringList{"exec"}},
		ToolCondition{Name: StringList{"read"}},
		ContextCondition{},
		TimeCondition{After: "09:00", Before: "17:00"},
		AgentCondition{Tier: StringList{"privileged"}},
	}
	for _, c := range conds {
		for _, hour := range []int{3, 12} {
			ctx := toolCtx("exec", nil)
			ctx.Hour = hour
			plain := deps.Evaluate(c, ctx)
			double := deps.Evaluate(NotCondition{Condition: NotCondition{Condition: c}}, ctx)
			if plain != double {
				t.Errorf("%s at %d: not(not(c))=%v, c=%v", c.Kind(), hour, double, plain)
			}
			if single := deps.Evaluate(NotCondition{Condition: c}, ctx); single == plain {
				t.Errorf("%s at %d: not(c) equals c", c.Kind(), hour)
			}
		}
	}
}

func TestAnyCondition(t *testing.T) {
	deps := newDeps()
	c := AnyCondition{Conditions: []Condition{
		ToolCondition{Name: StringList{"read"}},
		&ToolCondition{Name: StringList{"exec"}},
	}}
	if !deps.Evaluate(c, toolCtx("exec", nil)) {
		t.Error("expected any to hold")
	}
	if deps.Evaluate(c, toolCtx("write", nil)) {
		t.Error("expected any to fail")
	}
	if deps.Evaluate(AnyCondition{}, toolCtx("exec", nil)) {
		t.Error("empty any must not hold")
	}
}

func TestUnknownEvaluatorFalse(t *testing.T) {
	deps := newDeps()
	delete(deps.Evaluators, KindTool)
	if deps.Evaluate(ToolCondition{Name: StringList{"exec"}}, toolCtx("exec", nil)) {
		t.Error("missing evaluator must evaluate false")
	}
	if deps.Evaluate(nil, toolCtx("exec", nil)) {
		t.Error("nil condition must evaluate false")
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		ok      bool
	}{
		{`^docker\s+rm`, true},
		{`(a|b)+`, true},
		{`(a+)+`, false},
		{`(x*)*`, false},
		{`(ab+)*`, false},
		{strings.Repeat("a", MaxPatternLength), true},
		{strings.Repeat("a", MaxPatternLength+1), false},
	}
	for _, tt := range tests {
		err := ValidatePattern(tt.pattern)
		if (err == nil) != tt.ok {
			t.Errorf("%.20q: err=%v, want ok=%v", tt.pattern, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("%.20q: error does not wrap ErrInvalidPattern", tt.pattern)
		}
	}
}

func TestRegexCacheRemembersRejection(t *testing.T) {
	rc := NewRegexCache(nil)
	if _, err := rc.Compile(`(a+)+`); err == nil {
		t.Fatal("expected rejection")
	}
	if _, err := rc.Compile(`([`); err == nil {
		t.Fatal("expected compile error")
	}
	if rc.MatchString(`(a+)+`, "aaa") {
		t.Error("rejected pattern matched")
	}
	if !rc.MatchString(`a+`, "aaa") {
		t.Error("valid pattern did not match")
	}
	if rc.Len() != 1 {
		t.Errorf("expected 1 compiled pattern, got %d", rc.Len())
	}
}

func TestCompileRecordsRejectedPatterns(t *testing.T) {
	idx := mustIndex(t, `
- id: p
  rules:
    - id: r
      conditions:
        - type: context
          message_matches: ["(a+)+b", "ok"]
      effect: {action: deny}
`)
	rej := idx.Rejected()
	if len(rej) != 1 || rej[0].PolicyID != "p" || rej[0].RuleID != "r" || rej[0].Pattern != "(a+)+b" {
		t.Fatalf("unexpected rejected %+v", rej)
	}
	ctx := toolCtx("message", nil)
	ctx.MessageContent = "aaab"
	if res := idx.Evaluate(ctx, model.RiskAssessment{}, nil); res.Action != model.Allow {
		t.Errorf("rejected pattern must not match, got %s", res.Action)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing id", `[{rules: [{conditions: [], effect: {action: deny}}]}]`},
		{"duplicate id", `[{id: a, rules: []}, {id: a, rules: []}]`},
		{"bad effect", `[{id: a, rules: [{conditions: [], effect: {action: maybe}}]}]`},
		{"missing effect", `[{id: a, rules: [{conditions: []}]}]`},
		{"bad tier", `[{id: a, rules: [{min_trust: god, conditions: [], effect: {action: deny}}]}]`},
		{"bad condition", `[{id: a, rules: [{conditions: [{type: frequency, max_count: 0, window_seconds: 5}], effect: {action: deny}}]}]`},
	}
	for _, tt := range tests {
		if _, err := Compile(mustPolicies(t, tt.src), nil, nil); err == nil {
			t.Errorf("%s: expected compile error", tt.name)
		}
	}
}

func TestParseWindows(t *testing.T) {
	ws, err := ParseWindows(map[string]TimeWindowConfig{
		"night": {Start: "23:00", End: "08:00"},
		"eod":   {Start: "17:30", End: "24:00", Days: []int{1, 2, 3, 4, 5}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := ws["night"]; n.Start != 23*60 || n.End != 8*60 || !n.Contains(60) || n.Contains(12*60) {
		t.Errorf("unexpected night window %+v", n)
	}
	if e := ws["eod"]; !e.OnDay(time.Wednesday) || e.OnDay(time.Sunday) || !e.Contains(23*60+59) {
		t.Errorf("unexpected eod window %+v", e)
	}
	if (Window{Start: 60, End: 60}).Contains(60) {
		t.Error("equal bounds must be empty")
	}

	for _, bad := range []TimeWindowConfig{{Start: "x", End: "01:00"}, {Start: "01:00", End: "24:01"}, {Start: "01:00", End: "02:00", Days: []int{9}}} {
		if _, err := ParseWindows(map[string]TimeWindowConfig{"w": bad}); err == nil {
			t.Errorf("%+v: expected error", bad)
		}
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"exec", "exec", true},
		{"exec", "exec2", false},
		{"*", "", true},
		{"web_*", "web_fetch", true},
		{"web_?", "web_a", true},
		{"web_?", "web_ab", false},
		{"a.b*", "axb", false},
		{"a.b*", "a.bc", true},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.s); got != tt.want {
			t.Errorf("matchGlob(%q,%q)=%v", tt.pattern, tt.s, got)
		}
	}
}
