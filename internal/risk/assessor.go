// Package risk computes the five-factor weighted risk assessment attached to
// every governance verdict.
package risk

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/frequency"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// Factor names, in assessment order.
const (
	FactorToolCriticality = "tool_criticality"
	FactorTimeOfDay       = "time_of_day"
	FactorTrust           = "trust"
	FactorFrequency       = "frequency"
	FactorExternalTarget  = "external_target"
)

// Factor weights. They sum to 100 so a request maxing every factor scores 100.
const (
	WeightToolCriticality = 30
	WeightTimeOfDay       = 15
	WeightTrust           = 20
	WeightFrequency       = 20
	WeightExternalTarget  = 15
)

// Score bands for levels. A score below LowBelow is low, and so on upward.
const (
	LowBelow    = 25
	MediumBelow = 50
	HighBelow   = 75
)

// DefaultCriticality applies to tools with no built-in or configured value.
const DefaultCriticality = 30

// builtinCriticality is the baseline per-tool danger rating (0-100).
var builtinCriticality = map[string]float64{
	"exec":           90,
	"shell":          90,
	"gateway":        95,
	"sessions_spawn": 70,
	"cron":           65,
	"write":          60,
	"edit":           55,
	"apply_patch":    55,
	"message":        50,
	"browser":        50,
	"web_fetch":      40,
	"web_search":     20,
	"read":           10,
	"memory_search":  5,
	"memory_get":     5,
}

var defaultInternalHosts = []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}

// Config tunes the assessor. Zero values fall back to defaults.
type Config struct {
	ToolCriticality        map[string]float64 `yaml:"tool_criticality,omitempty"`
	DefaultCriticality     float64            `yaml:"default_criticality,omitempty"`
	BusinessStart          string             `yaml:"business_start,omitempty"`
	BusinessEnd            string             `yaml:"business_end,omitempty"`
	FrequencyWindowSeconds int                `yaml:"frequency_window_seconds,omitempty"`
	FrequencyThreshold     int                `yaml:"frequency_threshold,omitempty"`
	InternalHosts          []string           `yaml:"internal_hosts,omitempty"`
	InternalTargets        []string           `yaml:"internal_targets,omitempty"`
}

// DefaultConfig returns the built-in assessor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCriticality:     DefaultCriticality,
		BusinessStart:          "08:00",
		BusinessEnd:            "20:00",
		FrequencyWindowSeconds: 60,
		FrequencyThreshold:     20,
	}
}

// Counter reports recent action counts. frequency.Tracker satisfies it.
type Counter interface {
	Count(window time.Duration, scope frequency.Scope, agentID, sessionKey string) int
}

// Assessor computes risk assessments. It is safe for concurrent use once
// constructed.
type Assessor struct {
	criticality   map[string]float64
	defaultCrit   float64
	businessStart int
	businessEnd   int
	window        time.Duration
	threshold     int
	internalHosts map[string]bool
	targets       []string
	counter       Counter
}

// NewAssessor validates cfg and builds an assessor. counter may be nil, in
// which case the frequency factor is always zero.
func NewAssessor(cfg Config, counter Counter) (*Assessor, error) {
	def := DefaultConfig()
	if cfg.DefaultCriticality == 0 {
		cfg.DefaultCriticality = def.DefaultCriticality
	}
	if cfg.BusinessStart == "" {
		cfg.BusinessStart = def.BusinessStart
	}
	if cfg.BusinessEnd == "" {
		cfg.BusinessEnd = def.BusinessEnd
	}
	if cfg.FrequencyWindowSeconds <= 0 {
		cfg.FrequencyWindowSeconds = def.FrequencyWindowSeconds
	}
	if cfg.FrequencyThreshold <= 0 {
		cfg.FrequencyThreshold = def.FrequencyThreshold
	}

	start, err := parseHHMM(cfg.BusinessStart)
	if err != nil {
		return nil, fmt.Errorf("risk: business_start: %w", err)
	}
	end, err := parseHHMM(cfg.BusinessEnd)
	if err != nil {
		return nil, fmt.Errorf("risk: business_end: %w", err)
	}

	a := &Assessor{
		criticality:   make(map[string]float64, len(builtinCriticality)+len(cfg.ToolCriticality)),
		defaultCrit:   clamp(cfg.DefaultCriticality),
		businessStart: start,
		businessEnd:   end,
		window:        time.Duration(cfg.FrequencyWindowSeconds) * time.Second,
		threshold:     cfg.FrequencyThreshold,
		internalHosts: make(map[string]bool),
		targets:       cfg.InternalTargets,
		counter:       counter,
	}
	for k, v := range builtinCriticality {
		a.criticality[k] = v
	}
	for k, v := range cfg.ToolCriticality {
		if v < 0 || v > 100 {
			return nil, fmt.Errorf("risk: tool_criticality %q: %v out of range 0-100", k, v)
		}
		a.criticality[k] = v
	}
	for _, h := range defaultInternalHosts {
		a.internalHosts[h] = true
	}
	for _, h := range cfg.InternalHosts {
		a.internalHosts[strings.ToLower(h)] = true
	}
	return a, nil
}

// Assess scores one request. The result always carries exactly five factors
// in a fixed order.
func (a *Assessor) Assess(ctx *model.EvaluationContext) model.RiskAssessment {
	factors := []model.RiskFactor{
		a.toolFactor(ctx),
		a.timeFactor(ctx),
		trustFactor(ctx),
		a.frequencyFactor(ctx),
		a.externalFactor(ctx),
	}

	var sum float64
	for _, f := range factors {
		sum += f.Value * f.Weight / 100
	}
	score := math.Round(clamp(sum)*100) / 100
	return model.RiskAssessment{
		Level:   LevelFor(score),
		Score:   score,
		Factors: factors,
	}
}

// Unassessed is the assessment attached to verdicts produced without
// running the assessor: five zero-valued factors, level low.
func Unassessed() model.RiskAssessment {
	names := []string{FactorToolCriticality, FactorTimeOfDay, FactorTrust, FactorFrequency, FactorExternalTarget}
	weights := []float64{WeightToolCriticality, WeightTimeOfDay, WeightTrust, WeightFrequency, WeightExternalTarget}
	factors := make([]model.RiskFactor, len(names))
	for i := range names {
		factors[i] = model.RiskFactor{Name: names[i], Weight: weights[i], Description: "not assessed"}
	}
	return model.RiskAssessment{Level: model.RiskLow, Factors: factors}
}

// LevelFor maps a score to its level. Scores outside [0,100] are clamped.
func LevelFor(score float64) model.RiskLevel {
	switch s := clamp(score); {
	case s < LowBelow:
		return model.RiskLow
	case s < MediumBelow:
		return model.RiskMedium
	case s < HighBelow:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

func (a *Assessor) toolFactor(ctx *model.EvaluationContext) model.RiskFactor {
	v, ok := a.criticality[ctx.ToolName]
	desc := fmt.Sprintf("tool %q criticality %.0f", ctx.ToolName, v)
	if !ok {
		v = a.defaultCrit
		desc = fmt.Sprintf("tool %q unknown, default criticality %.0f", ctx.ToolName, v)
	}
	if ctx.ToolName == "" {
		desc = fmt.Sprintf("no tool, default criticality %.0f", v)
	}
	return model.RiskFactor{Name: FactorToolCriticality, Weight: WeightToolCriticality, Value: v, Description: desc}
}

func (a *Assessor) timeFactor(ctx *model.EvaluationContext) model.RiskFactor {
	m := ctx.MinutesSinceMidnight()
	f := model.RiskFactor{Name: FactorTimeOfDay, Weight: WeightTimeOfDay}
	if inWindow(m, a.businessStart, a.businessEnd) {
		f.Description = fmt.Sprintf("%02d:%02d within business hours", ctx.Hour, ctx.Minute)
		return f
	}
	f.Value = 100
	f.Description = fmt.Sprintf("%02d:%02d outside business hours", ctx.Hour, ctx.Minute)
	return f
}

func trustFactor(ctx *model.EvaluationContext) model.RiskFactor {
	v := clamp(100 - ctx.Trust.Score)
	return model.RiskFactor{
		Name:        FactorTrust,
		Weight:      WeightTrust,
		Value:       v,
		Description: fmt.Sprintf("trust score %.1f (%s)", ctx.Trust.Score, ctx.Trust.Tier),
	}
}

func (a *Assessor) frequencyFactor(ctx *model.EvaluationContext) model.RiskFactor {
	f := model.RiskFactor{Name: FactorFrequency, Weight: WeightFrequency}
	if a.counter == nil {
		f.Description = "frequency not tracked"
		return f
	}
	n := a.counter.Count(a.window, frequency.ScopeAgent, ctx.AgentID, ctx.SessionKey)
	f.Value = clamp(float64(n) * 100 / float64(a.threshold))
	f.Description = fmt.Sprintf("%d actions in last %s (threshold %d)", n, a.window, a.threshold)
	return f
}

func (a *Assessor) externalFactor(ctx *model.EvaluationContext) model.RiskFactor {
	f := model.RiskFactor{Name: FactorExternalTarget, Weight: WeightExternalTarget}
	var reasons []string

	if to := strings.TrimSpace(ctx.MessageTo); to != "" && !a.ownTarget(ctx, to) {
		reasons = append(reasons, fmt.Sprintf("message target %q", to))
	}
	if truthy(ctx.ToolParams["elevated"]) {
		reasons = append(reasons, "elevated execution")
	}
	if h := targetHost(ctx.ToolParams); h != "" && !a.internalHosts[h] {
		reasons = append(reasons, fmt.Sprintf("external host %q", h))
	}

	if len(reasons) == 0 {
		f.Description = "no external target"
		return f
	}
	f.Value = 100
	f.Description = strings.Join(reasons, ", ")
	return f
}

// ownTarget reports whether a message recipient stays within the sending
// agent's own scope.
func (a *Assessor) ownTarget(ctx *model.EvaluationContext, to string) bool {
	if to == ctx.AgentID || strings.HasPrefix(to, ctx.AgentID+":") {
		return true
	}
	if ctx.SessionKey != "" && to == ctx.SessionKey {
		return true
	}
	for _, t := range a.targets {
		if strings.EqualFold(t, to) {
			return true
		}
	}
	return false
}

// targetHost extracts the lowercased host from host, hostname or url params.
func targetHost(params map[string]any) string {
	for _, key := range []string{"host", "hostname"} {
		if s, ok := params[key].(string); ok && s != "" {
			return normalizeHost(s)
		}
	}
	if s, ok := params["url"].(string); ok && s != "" {
		u, err := url.Parse(s)
		if err == nil && u.Host != "" {
			return normalizeHost(u.Host)
		}
	}
	return ""
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.Trim(h, "[]")
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, err := strconv.ParseBool(b)
		return err == nil && ok
	default:
		return false
	}
}

func inWindow(m, start, end int) bool {
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
