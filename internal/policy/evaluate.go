package policy

import (
	"fmt"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/frequency"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// Result is the aggregated outcome of policy evaluation for one request.
type Result struct {
	Action  model.Action
	Reason  string
	Matches []model.MatchedPolicy
	Audit   bool
}

// Evaluate runs every applicable policy against ctx and aggregates the
// matches.
//
// Evaluation order (must not be changed):
//  1. Scope filter: excluded agents, agent globs, channels, hooks
//  2. Policies in index order: priority, specificity, declaration
//  3. Rules in declaration order: trust gates, then all conditions (AND)
//  4. First matching rule of a policy is its only match
//  5. Deny wins; audit marks the verdict; otherwise allow
func (idx *Index) Evaluate(ctx *model.EvaluationContext, risk model.RiskAssessment, tracker frequency.Tracker) Result {
	deps := &Deps{
		Regex:      idx.regex,
		Windows:    idx.windows,
		Risk:       risk,
		Frequency:  tracker,
		Evaluators: idx.evaluators,
	}

	var matches []model.MatchedPolicy
	for _, cp := range idx.candidates(ctx.Hook) {
		if !cp.appliesTo(ctx) {
			continue
		}
		if m, ok := evaluatePolicy(cp, ctx, deps); ok {
			matches = append(matches, m)
		}
	}
	return Aggregate(matches)
}

func evaluatePolicy(cp *compiledPolicy, ctx *model.EvaluationContext, deps *Deps) (model.MatchedPolicy, bool) {
	for _, r := range cp.Rules {
		if !r.tierAllowed(ctx.Trust.Tier) {
			continue
		}
		if !ruleHolds(r, ctx, deps) {
			continue
		}
		return model.MatchedPolicy{
			PolicyID: cp.ID,
			RuleID:   r.ID,
			Effect:   r.Effect,
			Controls: cp.Controls,
		}, true
	}
	return model.MatchedPolicy{}, false
}

func ruleHolds(r Rule, ctx *model.EvaluationContext, deps *Deps) bool {
	for _, c := range r.Conditions {
		if !deps.Evaluate(c, ctx) {
			return false
		}
	}
	return true
}

// Aggregate combines matches with deny-wins semantics. The first deny (in
// evaluation order) supplies the reason.
func Aggregate(matches []model.MatchedPolicy) Result {
	res := Result{Action: model.Allow, Matches: matches}
	if len(matches) == 0 {
		res.Reason = "no policies matched"
		return res
	}

	var firstAllow, firstAudit *model.MatchedPolicy
	for i := range matches {
		m := &matches[i]
		switch m.Effect.Action {
		case model.EffectDeny:
			res.Action = model.Deny
			res.Reason = denyReason(m)
			res.Audit = hasAudit(matches)
			return res
		case model.EffectAudit:
			if firstAudit == nil {
				firstAudit = m
			}
		case model.EffectAllow:
			if firstAllow == nil {
				firstAllow = m
			}
		}
	}

	if firstAudit != nil {
		res.Audit = true
		res.Reason = auditReason(firstAudit)
		return res
	}
	if firstAllow != nil {
		res.Reason = fmt.Sprintf("allowed by policy %s", firstAllow.PolicyID)
		return res
	}
	res.Reason = "no policies matched"
	return res
}

func denyReason(m *model.MatchedPolicy) string {
	if m.Effect.Reason != "" {
		return m.Effect.Reason
	}
	return fmt.Sprintf("denied by policy %s (rule %s)", m.PolicyID, m.RuleID)
}

func auditReason(m *model.MatchedPolicy) string {
	level := m.Effect.Level
	if level == "" {
		level = "info"
	}
	return fmt.Sprintf("allowed with audit (%s) by policy %s", level, m.PolicyID)
}

func hasAudit(matches []model.MatchedPolicy) bool {
	for _, m := range matches {
		if m.Effect.Action == model.EffectAudit {
			return true
		}
	}
	return false
}
