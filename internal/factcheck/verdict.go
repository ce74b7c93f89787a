package factcheck

import (
	"fmt"
	"strings"
)

// Action is the output-validation outcome.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

var actionRank = map[Action]int{ActionPass: 0, ActionFlag: 1, ActionBlock: 2}

// Rank orders actions by restrictiveness. Unknown actions rank as block.
func (a Action) Rank() int {
	if r, ok := actionRank[a]; ok {
		return r
	}
	return actionRank[ActionBlock]
}

// MoreRestrictive returns whichever of a and b is stricter.
func MoreRestrictive(a, b Action) Action {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// UnverifiedPolicy decides what unverified claims do.
type UnverifiedPolicy string

const (
	UnverifiedIgnore UnverifiedPolicy = "ignore"
	UnverifiedFlag   UnverifiedPolicy = "flag"
	UnverifiedBlock  UnverifiedPolicy = "block"
)

func (p UnverifiedPolicy) action() Action {
	switch p {
	case UnverifiedFlag:
		return ActionFlag
	case UnverifiedBlock:
		return ActionBlock
	default:
		return ActionPass
	}
}

// Valid reports whether p is a known policy. Empty counts as ignore.
func (p UnverifiedPolicy) Valid() bool {
	switch p {
	case "", UnverifiedIgnore, UnverifiedFlag, UnverifiedBlock:
		return true
	}
	return false
}

// Thresholds map agent trust to a contradiction verdict.
type Thresholds struct {
	// BlockBelow: contradictions from agents scoring below this are blocked.
	BlockBelow int `yaml:"block_below"`
	// FlagAbove: agents at or above this pass despite contradictions.
	FlagAbove int `yaml:"flag_above"`
}

// DefaultThresholds returns block_below 40, flag_above 60.
func DefaultThresholds() Thresholds {
	return Thresholds{BlockBelow: 40, FlagAbove: 60}
}

// Validate enforces 0 <= block_below <= flag_above <= 100.
func (t Thresholds) Validate() error {
	if t.BlockBelow < 0 || t.BlockBelow > 100 || t.FlagAbove < 0 || t.FlagAbove > 100 {
		return fmt.Errorf("factcheck: thresholds must be within 0-100 (block_below=%d flag_above=%d)", t.BlockBelow, t.FlagAbove)
	}
	if t.BlockBelow > t.FlagAbove {
		return fmt.Errorf("factcheck: block_below (%d) must not exceed flag_above (%d)", t.BlockBelow, t.FlagAbove)
	}
	return nil
}

// ContradictionAction returns the verdict for a contradiction by an agent
// with the given trust score.
func (t Thresholds) ContradictionAction(trust float64) Action {
	switch {
	case trust < float64(t.BlockBelow):
		return ActionBlock
	case trust >= float64(t.FlagAbove):
		return ActionPass
	default:
		return ActionFlag
	}
}

// VerdictPolicy is everything Decide needs besides the results.
type VerdictPolicy struct {
	Thresholds      Thresholds
	Unverified      UnverifiedPolicy
	SelfReferential UnverifiedPolicy
}

// Decide derives an action and reason from check results. Contradictions
// take precedence over unverified claims.
func Decide(results []Result, trust float64, p VerdictPolicy) (Action, string) {
	var contradicted, unverified, unverifiedSelf []Result
	for _, r := range results {
		switch r.Status {
		case StatusContradicted:
			contradicted = append(contradicted, r)
		case StatusUnverified:
			if r.Claim.Type == ClaimSelfReferential {
				unverifiedSelf = append(unverifiedSelf, r)
			} else {
				unverified = append(unverified, r)
			}
		}
	}

	if len(contradicted) > 0 {
		action := p.Thresholds.ContradictionAction(trust)
		return action, fmt.Sprintf("%d contradicted claim(s) at trust %.0f: %s",
			len(contradicted), trust, describe(contradicted))
	}

	action := ActionPass
	var reasons []string
	if len(unverified) > 0 {
		if a := p.Unverified.action(); a != ActionPass {
			action = MoreRestrictive(action, a)
			reasons = append(reasons, fmt.Sprintf("%d unverified claim(s): %s", len(unverified), describe(unverified)))
		}
	}
	if len(unverifiedSelf) > 0 {
		if a := p.SelfReferential.action(); a != ActionPass {
			action = MoreRestrictive(action, a)
			reasons = append(reasons, fmt.Sprintf("%d unverified self-referential claim(s): %s", len(unverifiedSelf), describe(unverifiedSelf)))
		}
	}
	if len(reasons) == 0 {
		if len(results) == 0 {
			return ActionPass, "no claims detected"
		}
		return ActionPass, fmt.Sprintf("%d claim(s) checked, no contradictions", len(results))
	}
	return action, strings.Join(reasons, "; ")
}

func describe(rs []Result) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.Fact != nil {
			parts = append(parts, fmt.Sprintf("%s %s=%q (fact: %q)", r.Claim.Subject, r.Claim.Predicate, r.Claim.Value, r.Fact.Value))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s=%q", r.Claim.Subject, r.Claim.Predicate, r.Claim.Value))
	}
	return strings.Join(parts, ", ")
}
