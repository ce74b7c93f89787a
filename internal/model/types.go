package model

import (
	"fmt"
	"strings"
	"time"
)

// Action is the binary outcome of a governance evaluation.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// TrustTier is the five-level ordinal derived from a trust score.
type TrustTier string

const (
	TierUntrusted  TrustTier = "untrusted"
	TierRestricted TrustTier = "restricted"
	TierStandard   TrustTier = "standard"
	TierTrusted    TrustTier = "trusted"
	TierPrivileged TrustTier = "privileged"
)

// TierRank maps tiers to comparable integers. Unknown tiers rank -1.
var TierRank = map[TrustTier]int{
	TierUntrusted:  0,
	TierRestricted: 1,
	TierStandard:   2,
	TierTrusted:    3,
	TierPrivileged: 4,
}

// Rank returns the ordinal of the tier, or -1 if the tier is unknown.
func (t TrustTier) Rank() int {
	if r, ok := TierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is one of the five known tiers.
func (t TrustTier) Valid() bool {
	return t.Rank() >= 0
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (TrustTier, error) {
	t := TrustTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown trust tier %q", s)
	}
	return t, nil
}

// RiskLevel is the discrete classification of a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskRank maps risk levels to comparable integers.
var RiskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal of the level, or -1 if unknown.
func (l RiskLevel) Rank() int {
	if r, ok := RiskRank[l]; ok {
		return r
	}
	return -1
}

// RiskFactor is one weighted contribution to a risk score.
type RiskFactor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// RiskAssessment is the weighted risk classification of a single request.
// Factors always holds exactly five entries in a fixed order.
type RiskAssessment struct {
	Level   RiskLevel    `json:"level"`
	Score   float64      `json:"score"`
	Factors []RiskFactor `json:"factors"`
}

// TrustSnapshot is the trust state captured when a request is built.
type TrustSnapshot struct {
	Score float64   `json:"score"`
	Tier  TrustTier `json:"tier"`
}

// EvaluationContext is the immutable per-request snapshot that conditions
// reason about. It is built once per request and never mutated afterwards.
type EvaluationContext struct {
	Hook       string         `json:"hook"`
	AgentID    string         `json:"agent_id"`
	SessionKey string         `json:"session_key"`
	Channel    string         `json:"channel,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`

	MessageContent string `json:"message_content,omitempty"`
	MessageTo      string `json:"message_to,omitempty"`

	Timestamp time.Time    `json:"timestamp"`
	Hour      int          `json:"hour"`
	Minute    int          `json:"minute"`
	DayOfWeek time.Weekday `json:"day_of_week"`

	Trust TrustSnapshot `json:"trust"`

	Conversation []string       `json:"conversation,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MinutesSinceMidnight returns the wall-clock position of the request.
func (c *EvaluationContext) MinutesSinceMidnight() int {
	return c.Hour*60 + c.Minute
}

// Param returns a tool parameter by name.
func (c *EvaluationContext) Param(name string) (any, bool) {
	if c.ToolParams == nil {
		return nil, false
	}
	v, ok := c.ToolParams[name]
	return v, ok
}

// Request is the raw description of a privileged action before trust and
// clock fields are resolved into an EvaluationContext.
type Request struct {
	Hook         string         `json:"hook"`
	AgentID      string         `json:"agent_id"`
	SessionKey   string         `json:"session_key"`
	Channel      string         `json:"channel,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolParams   map[string]any `json:"tool_params,omitempty"`
	Message      string         `json:"message,omitempty"`
	MessageTo    string         `json:"message_to,omitempty"`
	Conversation []string       `json:"conversation,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Time         time.Time      `json:"time,omitempty"`
}

// EffectAction is what a matched rule asks for.
type EffectAction string

const (
	EffectAllow EffectAction = "allow"
	EffectDeny  EffectAction = "deny"
	EffectAudit EffectAction = "audit"
)

// Effect is the outcome attached to a rule.
type Effect struct {
	Action EffectAction `json:"action" yaml:"action"`
	Reason string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Level  string       `json:"level,omitempty" yaml:"level,omitempty"`
}

// MatchedPolicy records the single rule of a policy that matched a request.
type MatchedPolicy struct {
	PolicyID string   `json:"policy_id"`
	RuleID   string   `json:"rule_id"`
	Effect   Effect   `json:"effect"`
	Controls []string `json:"controls,omitempty"`
}

// Verdict is the output of one governance evaluation.
type Verdict struct {
	EvaluationID string          `json:"evaluation_id,omitempty"`
	Action       Action          `json:"action"`
	Reason       string          `json:"reason"`
	Risk         RiskAssessment  `json:"risk"`
	Matched      []MatchedPolicy `json:"matched_policies"`
	Trust        TrustSnapshot   `json:"trust"`
	Audit        bool            `json:"audit,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
}

// Allowed reports whether the verdict permits the action.
func (v Verdict) Allowed() bool {
	return v.Action == Allow
}
