package policy

import (
	"strings"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/frequency"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// Evaluator decides one condition variant against a request.
type Evaluator func(c Condition, ctx *model.EvaluationContext, deps *Deps) bool

// Deps is everything an evaluator may consult besides the request itself.
type Deps struct {
	Regex      *RegexCache
	Windows    map[string]Window
	Risk       model.RiskAssessment
	Frequency  frequency.Tracker
	Evaluators map[ConditionKind]Evaluator
}

// Evaluate dispatches c through the evaluator table. Unknown kinds and nil
// conditions evaluate false.
func (d *Deps) Evaluate(c Condition, ctx *model.EvaluationContext) bool {
	if c == nil {
		return false
	}
	eval, ok := d.Evaluators[c.Kind()]
	if !ok {
		return false
	}
	return eval(c, ctx, d)
}

// DefaultEvaluators returns the complete evaluator table. Composite
// evaluators resolve their children through Deps.Evaluate, so the table
// must be complete before any rule is evaluated.
func DefaultEvaluators() map[ConditionKind]Evaluator {
	return map[ConditionKind]Evaluator{
		KindTool:      evalTool,
		KindTime:      evalTime,
		KindAgent:     evalAgent,
		KindContext:   evalContext,
		KindRisk:      evalRisk,
		KindFrequency: evalFrequency,
		KindAny:       evalAny,
		KindNot:       evalNot,
	}
}

func evalTool(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	tc, ok := deref(c).(ToolCondition)
	if !ok {
		return false
	}
	if !matchAnyGlob(tc.Name, ctx.ToolName) {
		return false
	}
	for name, m := range tc.Params {
		v, ok := ctx.Param(name)
		if !ok || !matchParam(m, v, deps.Regex) {
			return false
		}
	}
	return true
}

func matchParam(m ParamMatcher, v any, rc *RegexCache) bool {
	if m.Equals != nil && !looseEqual(v, m.Equals) {
		return false
	}
	s := stringify(v)
	if m.Contains != "" && !strings.Contains(s, m.Contains) {
		return false
	}
	if m.StartsWith != "" && !strings.HasPrefix(s, m.StartsWith) {
		return false
	}
	if m.Matches != "" && (rc == nil || !rc.MatchString(m.Matches, s)) {
		return false
	}
	if len(m.In) > 0 {
		found := false
		for _, candidate := range m.In {
			if looseEqual(v, candidate) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func evalTime(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	tc, ok := deref(c).(TimeCondition)
	if !ok {
		return false
	}
	minute := ctx.MinutesSinceMidnight()

	if len(tc.Days) > 0 && !containsDay(tc.Days, ctx.DayOfWeek) {
		return false
	}

	if tc.Window != "" {
		w, ok := deps.Windows[tc.Window]
		if !ok {
			return false
		}
		return w.OnDay(ctx.DayOfWeek) && w.Contains(minute)
	}

	start, end := 0, 24*60
	if tc.After != "" {
		v, err := parseClock(tc.After)
		if err != nil {
			return false
		}
		start = v
	}
	if tc.Before != "" {
		v, err := parseClock(tc.Before)
		if err != nil {
			return false
		}
		end = v
	}
	return inRange(minute, start, end)
}

func containsDay(days []int, d time.Weekday) bool {
	for _, v := range days {
		if time.Weekday(v) == d {
			return true
		}
	}
	return false
}

func evalAgent(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	ac, ok := deref(c).(AgentCondition)
	if !ok {
		return false
	}
	if len(ac.ID) > 0 && !matchAnyGlob(ac.ID, ctx.AgentID) {
		return false
	}
	if len(ac.Tier) > 0 {
		found := false
		for _, t := range ac.Tier {
			if strings.EqualFold(t, string(ctx.Trust.Tier)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if ac.MinScore != nil && ctx.Trust.Score < *ac.MinScore {
		return false
	}
	if ac.MaxScore != nil && ctx.Trust.Score > *ac.MaxScore {
		return false
	}
	return true
}

func evalContext(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	cc, ok := deref(c).(ContextCondition)
	if !ok {
		return false
	}

	if len(cc.MessageContains) > 0 && !containsFold(ctx.MessageContent, cc.MessageContains) {
		return false
	}
	if len(cc.MessageMatches) > 0 && !matchAnyRegex(deps.Regex, cc.MessageMatches, ctx.MessageContent) {
		return false
	}
	if len(cc.ConversationContains) > 0 {
		found := false
		for _, msg := range ctx.Conversation {
			if containsFold(msg, cc.ConversationContains) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(cc.ConversationMatches) > 0 {
		found := false
		for _, msg := range ctx.Conversation {
			if matchAnyRegex(deps.Regex, cc.ConversationMatches, msg) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, key := range cc.HasMetadata {
		if _, ok := ctx.Metadata[key]; !ok {
			return false
		}
	}
	if len(cc.Channel) > 0 {
		found := false
		for _, ch := range cc.Channel {
			if ch == ctx.Channel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if cc.SessionKey != "" && !matchGlob(cc.SessionKey, ctx.SessionKey) {
		return false
	}
	return true
}

func matchAnyRegex(rc *RegexCache, patterns []string, s string) bool {
	if rc == nil {
		return false
	}
	for _, p := range patterns {
		if rc.MatchString(p, s) {
			return true
		}
	}
	return false
}

func evalRisk(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	rc, ok := deref(c).(RiskCondition)
	if !ok {
		return false
	}
	level := deps.Risk.Level.Rank()
	if level < 0 {
		return false
	}
	if rc.Min != "" && level < rc.Min.Rank() {
		return false
	}
	if rc.Max != "" && level > rc.Max.Rank() {
		return false
	}
	return true
}

func evalFrequency(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	fc, ok := deref(c).(FrequencyCondition)
	if !ok || deps.Frequency == nil {
		return false
	}
	scope, err := frequency.ParseScope(string(fc.Scope))
	if err != nil {
		return false
	}
	limit := frequency.Limit{
		MaxCount: fc.MaxCount,
		Window:   time.Duration(fc.WindowSeconds) * time.Second,
		Scope:    scope,
	}
	return frequency.Evaluate(deps.Frequency, limit, ctx.AgentID, ctx.SessionKey).Exceeded
}

func evalAny(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	ac, ok := deref(c).(AnyCondition)
	if !ok {
		return false
	}
	for _, sub := range ac.Conditions {
		if deps.Evaluate(sub, ctx) {
			return true
		}
	}
	return false
}

func evalNot(c Condition, ctx *model.EvaluationContext, deps *Deps) bool {
	nc, ok := deref(c).(NotCondition)
	if !ok || nc.Condition == nil {
		return false
	}
	return !deps.Evaluate(nc.Condition, ctx)
}
