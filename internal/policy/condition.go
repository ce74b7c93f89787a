package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/frequency"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// ConditionKind tags a condition variant.
type ConditionKind string

const (
	KindTool      ConditionKind = "tool"
	KindTime      ConditionKind = "time"
	KindAgent     ConditionKind = "agent"
	KindContext   ConditionKind = "context"
	KindRisk      ConditionKind = "risk"
	KindFrequency ConditionKind = "frequency"
	KindAny       ConditionKind = "any"
	KindNot       ConditionKind = "not"
)

// MaxConditionDepth bounds nesting of any/not. Trees deeper than this,
// including any cyclic structure, are rejected at compile time.
const MaxConditionDepth = 32

// Condition is one predicate of a rule. The variant set is closed: only the
// types in this package implement it.
type Condition interface {
	Kind() ConditionKind
	sealed()
}

// StringList accepts either a single string or a list of strings in YAML.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var v string
		if err := n.Decode(&v); err != nil {
			return err
		}
		*s = StringList{v}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := n.Decode(&v); err != nil {
			return err
		}
		*s = v
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", n.Line)
	}
}

// ParamMatcher constrains one tool parameter. Every field that is set must hold.
// A bare scalar in YAML is shorthand for equals.
type ParamMatcher struct {
	Equals     any    `yaml:"equals,omitempty"`
	Contains   string `yaml:"contains,omitempty"`
	Matches    string `yaml:"matches,omitempty"`
	StartsWith string `yaml:"starts_with,omitempty"`
	In         []any  `yaml:"in,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *ParamMatcher) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		*p = ParamMatcher{Equals: v}
		return nil
	}
	type plain ParamMatcher
	var v plain
	if err := n.Decode(&v); err != nil {
		return err
	}
	*p = ParamMatcher(v)
	return nil
}

// ToolCondition matches the tool name and optionally its parameters.
type ToolCondition struct {
	Name   StringList              `yaml:"name"`
	Params map[string]ParamMatcher `yaml:"params,omitempty"`
}

// TimeCondition matches a named window or an inline after/before range.
type TimeCondition struct {
	Window string `yaml:"window,omitempty"`
	Days   []int  `yaml:"days,omitempty"`
	After  string `yaml:"after,omitempty"`
	Before string `yaml:"before,omitempty"`
}

// AgentCondition matches agent identity, tier and score bounds.
type AgentCondition struct {
	ID       StringList `yaml:"id,omitempty"`
	Tier     StringList `yaml:"tier,omitempty"`
	MinScore *float64   `yaml:"min_score,omitempty"`
	MaxScore *float64   `yaml:"max_score,omitempty"`
}

// ContextCondition matches message, conversation, metadata, channel and
// session fields. Each absent field passes.
type ContextCondition struct {
	MessageContains      StringList `yaml:"message_contains,omitempty"`
	MessageMatches       StringList `yaml:"message_matches,omitempty"`
	ConversationContains StringList `yaml:"conversation_contains,omitempty"`
	ConversationMatches  StringList `yaml:"conversation_matches,omitempty"`
	HasMetadata          StringList `yaml:"has_metadata,omitempty"`
	Channel              StringList `yaml:"channel,omitempty"`
	SessionKey           string     `yaml:"session_key,omitempty"`
}

// RiskCondition bounds the precomputed risk level (inclusive).
type RiskCondition struct {
	Min model.RiskLevel `yaml:"min,omitempty"`
	Max model.RiskLevel `yaml:"max,omitempty"`
}

// FrequencyCondition holds when the number of recorded actions in the
// window reaches MaxCount.
type FrequencyCondition struct {
	MaxCount      int             `yaml:"max_count"`
	WindowSeconds int             `yaml:"window_seconds"`
	Scope         frequency.Scope `yaml:"scope,omitempty"`
}

// AnyCondition holds if at least one sub-condition holds.
type AnyCondition struct {
	Conditions []Condition
}

// NotCondition holds iff its sub-condition does not.
type NotCondition struct {
	Condition Condition
}

func (ToolCondition) Kind() ConditionKind      { return KindTool }
func (TimeCondition) Kind() ConditionKind      { return KindTime }
func (AgentCondition) Kind() ConditionKind     { return KindAgent }
func (ContextCondition) Kind() ConditionKind   { return KindContext }
func (RiskCondition) Kind() ConditionKind      { return KindRisk }
func (FrequencyCondition) Kind() ConditionKind { return KindFrequency }
func (AnyCondition) Kind() ConditionKind       { return KindAny }
func (NotCondition) Kind() ConditionKind       { return KindNot }

func (ToolCondition) sealed()      {}
func (TimeCondition) sealed()      {}
func (AgentCondition) sealed()     {}
func (ContextCondition) sealed()   {}
func (RiskCondition) sealed()      {}
func (FrequencyCondition) sealed() {}
func (AnyCondition) sealed()       {}
func (NotCondition) sealed()       {}

// ConditionList is an ordered conjunction of conditions decoded from YAML
// mappings carrying a "type" discriminator.
type ConditionList []Condition

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ConditionList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: conditions must be a list", n.Line)
	}
	out := make(ConditionList, 0, len(n.Content))
	for _, item := range n.Content {
		c, err := decodeCondition(item, 0)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	*l = out
	return nil
}

func decodeCondition(n *yaml.Node, depth int) (Condition, error) {
	if depth > MaxConditionDepth {
		return nil, fmt.Errorf("line %d: condition nesting exceeds %d", n.Line, MaxConditionDepth)
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: condition must be a mapping", n.Line)
	}
	var head struct {
		Type string `yaml:"type"`
	}
	if err := n.Decode(&head); err != nil {
		return nil, err
	}

	switch ConditionKind(head.Type) {
	case KindTool:
		return decodeAs[ToolCondition](n)
	case KindTime:
		return decodeAs[TimeCondition](n)
	case KindAgent:
		return decodeAs[AgentCondition](n)
	case KindContext:
		return decodeAs[ContextCondition](n)
	case KindRisk:
		return decodeAs[RiskCondition](n)
	case KindFrequency:
		return decodeAs[FrequencyCondition](n)
	case KindAny:
		var raw struct {
			Conditions []yaml.Node `yaml:"conditions"`
		}
		if err := n.Decode(&raw); err != nil {
			return nil, wrapDecode(n, err)
		}
		c := AnyCondition{Conditions: make([]Condition, 0, len(raw.Conditions))}
		for i := range raw.Conditions {
			sub, err := decodeCondition(&raw.Conditions[i], depth+1)
			if err != nil {
				return nil, err
			}
			c.Conditions = append(c.Conditions, sub)
		}
		return c, nil
	case KindNot:
		var raw struct {
			Condition yaml.Node `yaml:"condition"`
		}
		if err := n.Decode(&raw); err != nil {
			return nil, wrapDecode(n, err)
		}
		if raw.Condition.Kind == 0 {
			return nil, fmt.Errorf("line %d: not condition requires a condition", n.Line)
		}
		sub, err := decodeCondition(&raw.Condition, depth+1)
		if err != nil {
			return nil, err
		}
		return NotCondition{Condition: sub}, nil
	case "":
		return nil, fmt.Errorf("line %d: condition is missing type", n.Line)
	default:
		return nil, fmt.Errorf("line %d: unknown condition type %q", n.Line, head.Type)
	}
}

func decodeAs[T Condition](n *yaml.Node) (Condition, error) {
	var c T
	if err := n.Decode(&c); err != nil {
		return nil, wrapDecode(n, err)
	}
	return c, nil
}

func wrapDecode(n *yaml.Node, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("line %d: %w", n.Line, err)
}

// ValidateCondition checks a condition tree for unknown variants, bad field
// values and excessive depth. Programmatically built trees with pointer
// cycles never terminate within MaxConditionDepth and are rejected.
func ValidateCondition(c Condition) error {
	return validateCondition(c, 0)
}

func validateCondition(c Condition, depth int) error {
	if depth > MaxConditionDepth {
		return fmt.Errorf("condition nesting exceeds %d (cycle?)", MaxConditionDepth)
	}
	c = deref(c)
	if c == nil {
		return fmt.Errorf("nil condition")
	}

	switch v := c.(type) {
	case ToolCondition:
		if len(v.Name) == 0 {
			return fmt.Errorf("tool condition requires name")
		}
	case TimeCondition:
		if v.Window == "" && v.After == "" && v.Before == "" {
			return fmt.Errorf("time condition requires window or after/before")
		}
		for _, d := range v.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("time condition day %d out of range 0-6", d)
			}
		}
	case AgentCondition:
		for _, t := range v.Tier {
			if _, err := model.ParseTier(t); err != nil {
				return err
			}
		}
	case RiskCondition:
		if v.Min != "" && v.Min.Rank() < 0 {
			return fmt.Errorf("unknown risk level %q", v.Min)
		}
		if v.Max != "" && v.Max.Rank() < 0 {
			return fmt.Errorf("unknown risk level %q", v.Max)
		}
	case FrequencyCondition:
		if v.MaxCount <= 0 || v.WindowSeconds <= 0 {
			return fmt.Errorf("frequency condition requires positive max_count and window_seconds")
		}
		if _, err := frequency.ParseScope(string(v.Scope)); err != nil {
			return err
		}
	case AnyCondition:
		if len(v.Conditions) == 0 {
			return fmt.Errorf("any condition requires at least one sub-condition")
		}
		for _, sub := range v.Conditions {
			if err := validateCondition(sub, depth+1); err != nil {
				return err
			}
		}
	case NotCondition:
		return validateCondition(v.Condition, depth+1)
	}
	return nil
}

// deref returns the value form of pointer variants, or nil for nil pointers.
func deref(c Condition) Condition {
	switch v := c.(type) {
	case *ToolCondition:
		if v != nil {
			return *v
		}
	case *TimeCondition:
		if v != nil {
			return *v
		}
	case *AgentCondition:
		if v != nil {
			return *v
		}
	case *ContextCondition:
		if v != nil {
			return *v
		}
	case *RiskCondition:
		if v != nil {
			return *v
		}
	case *FrequencyCondition:
		if v != nil {
			return *v
		}
	case *AnyCondition:
		if v != nil {
			return *v
		}
	case *NotCondition:
		if v != nil {
			return *v
		}
	default:
		return c
	}
	return nil
}
