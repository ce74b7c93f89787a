package policy

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// RejectedPattern records a configured regex that failed screening.
type RejectedPattern struct {
	PolicyID string
	RuleID   string
	Pattern  string
	Reason   string
}

type compiledPolicy struct {
	Policy
	specificity int
	order       int
}

// Index is an immutable, pre-sorted view of the enabled policies plus the
// regex cache and time windows their conditions refer to. Reloads build a
// new Index rather than mutating one in place.
type Index struct {
	ordered    []*compiledPolicy
	byHook     map[string][]*compiledPolicy
	unhooked   []*compiledPolicy
	windows    map[string]Window
	regex      *RegexCache
	evaluators map[ConditionKind]Evaluator
	rejected   []RejectedPattern
	maxWindow  int
}

// Compile validates policies and builds an Index. Structural errors
// (missing ids, unknown condition types, bad tiers or effects) fail the
// whole compile. Regex patterns that fail screening are logged and recorded
// in Rejected; conditions using them never match.
func Compile(policies []Policy, windows map[string]Window, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{
		byHook:     make(map[string][]*compiledPolicy),
		windows:    windows,
		regex:      NewRegexCache(logger),
		evaluators: DefaultEvaluators(),
	}
	if idx.windows == nil {
		idx.windows = map[string]Window{}
	}

	var errs []error
	seen := make(map[string]bool, len(policies))
	for i := range policies {
		p := policies[i]
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("policy #%d: missing id", i+1))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("policy %q: duplicate id", p.ID))
			continue
		}
		seen[p.ID] = true
		if !p.IsEnabled() {
			logger.Debug("policy disabled", zap.String("policy", p.ID))
			continue
		}

		rules := make([]Rule, len(p.Rules))
		copy(rules, p.Rules)
		for j := range rules {
			if rules[j].ID == "" {
				rules[j].ID = fmt.Sprintf("rule-%d", j+1)
			}
			if err := idx.compileRule(p.ID, &rules[j]); err != nil {
				errs = append(errs, fmt.Errorf("policy %q rule %q: %w", p.ID, rules[j].ID, err))
			}
		}
		p.Rules = rules

		idx.ordered = append(idx.ordered, &compiledPolicy{
			Policy:      p,
			specificity: p.Specificity(),
			order:       i,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sort.SliceStable(idx.ordered, func(i, j int) bool {
		a, b := idx.ordered[i], idx.ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		return a.order < b.order
	})

	hooks := make(map[string]bool)
	for _, cp := range idx.ordered {
		for _, h := range cp.Scope.Hooks {
			hooks[h] = true
		}
	}
	for _, cp := range idx.ordered {
		if len(cp.Scope.Hooks) == 0 {
			idx.unhooked = append(idx.unhooked, cp)
		}
		for h := range hooks {
			if len(cp.Scope.Hooks) == 0 || contains(cp.Scope.Hooks, h) {
				idx.byHook[h] = append(idx.byHook[h], cp)
			}
		}
	}

	return idx, nil
}

func (idx *Index) compileRule(policyID string, r *Rule) error {
	switch r.Effect.Action {
	case model.EffectAllow, model.EffectDeny, model.EffectAudit:
	case "":
		return fmt.Errorf("missing effect action")
	default:
		return fmt.Errorf("unknown effect action %q", r.Effect.Action)
	}
	if r.MinTrust != "" && !r.MinTrust.Valid() {
		return fmt.Errorf("unknown min_trust tier %q", r.MinTrust)
	}
	if r.MaxTrust != "" && !r.MaxTrust.Valid() {
		return fmt.Errorf("unknown max_trust tier %q", r.MaxTrust)
	}
	for _, c := range r.Conditions {
		if err := ValidateCondition(c); err != nil {
			return err
		}
		idx.precompile(policyID, r.ID, c, 0)
	}
	return nil
}

// precompile walks a validated condition tree, compiling every regex and
// noting the largest frequency window.
func (idx *Index) precompile(policyID, ruleID string, c Condition, depth int) {
	if depth > MaxConditionDepth {
		return
	}
	var patterns []string
	switch v := deref(c).(type) {
	case ToolCondition:
		for _, m := range v.Params {
			if m.Matches != "" {
				patterns = append(patterns, m.Matches)
			}
		}
	case ContextCondition:
		patterns = append(patterns, v.MessageMatches...)
		patterns = append(patterns, v.ConversationMatches...)
	case FrequencyCondition:
		if v.WindowSeconds > idx.maxWindow {
			idx.maxWindow = v.WindowSeconds
		}
	case AnyCondition:
		for _, sub := range v.Conditions {
			idx.precompile(policyID, ruleID, sub, depth+1)
		}
	case NotCondition:
		idx.precompile(policyID, ruleID, v.Condition, depth+1)
	}

	for _, p := range patterns {
		if _, err := idx.regex.Compile(p); err != nil {
			idx.rejected = append(idx.rejected, RejectedPattern{
				PolicyID: policyID,
				RuleID:   ruleID,
				Pattern:  p,
				Reason:   err.Error(),
			})
		}
	}
}

// Rejected returns the patterns dropped during compile.
func (idx *Index) Rejected() []RejectedPattern {
	return append([]RejectedPattern(nil), idx.rejected...)
}

// Len returns the number of enabled policies.
func (idx *Index) Len() int {
	return len(idx.ordered)
}

// MaxFrequencyWindowSeconds returns the largest window any frequency
// condition queries, used to size tracker retention.
func (idx *Index) MaxFrequencyWindowSeconds() int {
	return idx.maxWindow
}

// Regex exposes the index regex cache.
func (idx *Index) Regex() *RegexCache {
	return idx.regex
}

// candidates returns the sorted policies for a hook before agent/channel
// filtering.
func (idx *Index) candidates(hook string) []*compiledPolicy {
	if list, ok := idx.byHook[hook]; ok {
		return list
	}
	return idx.unhooked
}

// Applicable returns the ids of policies that apply to the request, in
// evaluation order.
func (idx *Index) Applicable(ctx *model.EvaluationContext) []string {
	var ids []string
	for _, cp := range idx.candidates(ctx.Hook) {
		if cp.appliesTo(ctx) {
			ids = append(ids, cp.ID)
		}
	}
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
