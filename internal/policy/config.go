package policy

import (
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// Scope restricts which requests a policy applies to. Empty lists do not
// restrict.
type Scope struct {
	Agents        []string `yaml:"agents,omitempty"`
	ExcludeAgents []string `yaml:"exclude_agents,omitempty"`
	Channels      []string `yaml:"channels,omitempty"`
	Hooks         []string `yaml:"hooks,omitempty"`
}

// Rule is a conjunction of conditions with an effect, optionally gated by
// trust tier.
type Rule struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description,omitempty"`
	Conditions  ConditionList   `yaml:"conditions"`
	Effect      model.Effect    `yaml:"effect"`
	MinTrust    model.TrustTier `yaml:"min_trust,omitempty"`
	MaxTrust    model.TrustTier `yaml:"max_trust,omitempty"`
}

// Policy is a named bundle of rules evaluated in declaration order
// (first match wins within a policy).
type Policy struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Scope       Scope    `yaml:"scope,omitempty"`
	Rules       []Rule   `yaml:"rules"`
	Priority    int      `yaml:"priority,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Controls    []string `yaml:"controls,omitempty"`
}

// IsEnabled returns true unless the policy is explicitly disabled.
func (p Policy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Specificity ranks how narrowly a policy is scoped. It breaks priority ties.
func (p Policy) Specificity() int {
	s := 0
	if len(p.Scope.Agents) > 0 {
		s += 10
	}
	if len(p.Scope.Channels) > 0 {
		s += 5
	}
	if len(p.Scope.Hooks) > 0 {
		s += 3
	}
	return s
}

// appliesTo reports whether the policy scope admits the request. The hook
// dimension is resolved by the index and not rechecked here.
func (p Policy) appliesTo(ctx *model.EvaluationContext) bool {
	if matchAnyGlob(p.Scope.ExcludeAgents, ctx.AgentID) {
		return false
	}
	if len(p.Scope.Agents) > 0 && !matchAnyGlob(p.Scope.Agents, ctx.AgentID) {
		return false
	}
	if len(p.Scope.Channels) > 0 {
		for _, ch := range p.Scope.Channels {
			if ch == ctx.Channel {
				return true
			}
		}
		return false
	}
	return true
}

// tierAllowed applies a rule's trust gates to the request tier.
func (r Rule) tierAllowed(tier model.TrustTier) bool {
	rank := tier.Rank()
	if r.MinTrust != "" && rank < r.MinTrust.Rank() {
		return false
	}
	if r.MaxTrust != "" && (rank < 0 || rank > r.MaxTrust.Rank()) {
		return false
	}
	return true
}
