// Package outputval validates text an agent is about to emit. Stage 1 and 2
// detect claims and check them against known facts; the optional Stage 3
// asks a language model to review external communication.
package outputval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/factcheck"
)

// Fail modes for Stage 3 when the completion call keeps failing.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Config controls output validation.
type Config struct {
	Enabled               bool                       `yaml:"enabled"`
	Detectors             []factcheck.ClaimType      `yaml:"detectors,omitempty"`
	Thresholds            factcheck.Thresholds       `yaml:"contradiction_thresholds"`
	UnverifiedClaimPolicy factcheck.UnverifiedPolicy `yaml:"unverified_claim_policy"`
	SelfReferentialPolicy factcheck.UnverifiedPolicy `yaml:"self_referential_policy"`
	Facts                 []factcheck.Fact           `yaml:"facts,omitempty"`
	FactFiles             []string                   `yaml:"fact_files,omitempty"`
	LLM                   LLMConfig                  `yaml:"llm"`
}

// LLMConfig controls Stage 3.
type LLMConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	APIKeyEnv      string  `yaml:"api_key_env,omitempty"`
	BaseURL        string  `yaml:"base_url,omitempty"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryBackoffMS int     `yaml:"retry_backoff_ms"`
	FailMode       string  `yaml:"fail_mode"`
	MaxTokens      int     `yaml:"max_tokens,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
}

// DefaultConfig returns output validation enabled with Stage 3 off.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Thresholds:            factcheck.DefaultThresholds(),
		UnverifiedClaimPolicy: factcheck.UnverifiedIgnore,
		SelfReferentialPolicy: factcheck.UnverifiedIgnore,
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutMS:      5000,
			MaxRetries:     2,
			RetryBackoffMS: 500,
			FailMode:       FailOpen,
			MaxTokens:      512,
		},
	}
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if !c.UnverifiedClaimPolicy.Valid() {
		return fmt.Errorf("outputval: unknown unverified_claim_policy %q", c.UnverifiedClaimPolicy)
	}
	if !c.SelfReferentialPolicy.Valid() {
		return fmt.Errorf("outputval: unknown self_referential_policy %q", c.SelfReferentialPolicy)
	}
	switch c.LLM.FailMode {
	case "", FailOpen, FailClosed:
	default:
		return fmt.Errorf("outputval: llm fail_mode must be open or closed, got %q", c.LLM.FailMode)
	}
	if c.LLM.TimeoutMS < 0 || c.LLM.MaxRetries < 0 || c.LLM.RetryBackoffMS < 0 {
		return fmt.Errorf("outputval: llm timeout, retries and backoff must not be negative")
	}
	return nil
}

// CompletionFunc sends a prompt to a language model and returns its text.
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// Result is the final output-validation verdict.
type Result struct {
	Action  factcheck.Action   `json:"action"`
	Reason  string             `json:"reason"`
	Claims  []factcheck.Claim  `json:"claims,omitempty"`
	Results []factcheck.Result `json:"results,omitempty"`
	Stage3  *Stage3Result      `json:"stage3,omitempty"`
}

// Option configures a Validator.
type Option func(*Validator)

// WithCompletion enables Stage 3 through fn.
func WithCompletion(fn CompletionFunc) Option {
	return func(v *Validator) { v.complete = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithRegistry replaces the fact registry built from configuration.
func WithRegistry(r *factcheck.Registry) Option {
	return func(v *Validator) { v.registry = r }
}

// Validator runs the output validation pipeline. It is safe for concurrent use.
type Validator struct {
	cfg      Config
	checker  *factcheck.Checker
	registry *factcheck.Registry
	complete CompletionFunc
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a validator. Inline facts are registered first, then fact files
// in order, so file facts override inline ones with the same key. A fact file
// that cannot be read or parsed is logged and skipped.
func New(cfg Config, opts ...Option) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{cfg: cfg, logger: zap.NewNop(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(v)
	}

	detectors, err := factcheck.DefaultDetectors(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("outputval: %w", err)
	}

	if v.registry == nil {
		v.registry = factcheck.NewRegistry(cfg.Facts...)
		for _, path := range cfg.FactFiles {
			facts, err := factcheck.LoadFacts(path)
			if err != nil {
				v.logger.Error("fact file skipped", zap.String("path", path), zap.Error(err))
				continue
			}
			v.registry.Add(facts...)
		}
	}

	v.checker = factcheck.NewChecker(detectors, v.registry, factcheck.VerdictPolicy{
		Thresholds:      cfg.Thresholds,
		Unverified:      cfg.UnverifiedClaimPolicy,
		SelfReferential: cfg.SelfReferentialPolicy,
	})
	v.logger.Debug("output validator ready",
		zap.Int("facts", v.registry.Len()),
		zap.Int("detectors", len(detectors)),
		zap.Bool("stage3", v.Stage3Enabled()))
	return v, nil
}

// Registry returns the fact registry.
func (v *Validator) Registry() *factcheck.Registry {
	return v.registry
}

// Stage3Enabled reports whether external text is sent to the reviewer.
func (v *Validator) Stage3Enabled() bool {
	return v.cfg.LLM.Enabled && v.complete != nil
}

// Validate runs Stage 1+2 and, for external communication when configured,
// Stage 3. The more restrictive verdict wins and reasons are joined.
func (v *Validator) Validate(ctx context.Context, text string, trust float64, external bool) Result {
	if !v.cfg.Enabled {
		return Result{Action: factcheck.ActionPass, Reason: "output validation disabled"}
	}

	report := v.checker.Check(text, trust)
	res := Result{
		Action:  report.Action,
		Reason:  report.Reason,
		Claims:  report.Claims,
		Results: report.Results,
	}
	if !external || !v.Stage3Enabled() {
		return res
	}

	s3 := v.runStage3(ctx, text, trust, report)
	res.Stage3 = &s3
	res.Action = factcheck.MoreRestrictive(res.Action, s3.Action)
	res.Reason = strings.Join([]string{res.Reason, "stage 3: " + s3.Reason}, "; ")
	return res
}

func (v *Validator) runStage3(ctx context.Context, text string, trust float64, report factcheck.Report) Stage3Result {
	prompt := buildPrompt(text, trust, report)
	raw, attempts, err := v.callWithRetry(ctx, prompt)
	if err != nil {
		action := factcheck.ActionPass
		if v.cfg.LLM.FailMode == FailClosed {
			action = factcheck.ActionBlock
		}
		mode := v.cfg.LLM.FailMode
		if mode == "" {
			mode = FailOpen
		}
		v.logger.Warn("stage 3 validation unavailable",
			zap.Int("attempts", attempts),
			zap.String("fail_mode", mode),
			zap.Error(err))
		return Stage3Result{
			Action:   action,
			Reason:   fmt.Sprintf("unavailable after %d attempt(s): %v (fail-%s)", attempts, err, mode),
			Fallback: true,
		}
	}
	return ParseResponse(raw)
}

// callWithRetry makes up to MaxRetries+1 attempts, each bounded by the
// configured timeout, sleeping attempt*backoff between failures.
func (v *Validator) callWithRetry(ctx context.Context, prompt string) (string, int, error) {
	attempts := v.cfg.LLM.MaxRetries + 1
	timeout := time.Duration(v.cfg.LLM.TimeoutMS) * time.Millisecond
	backoff := time.Duration(v.cfg.LLM.RetryBackoffMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := v.callOnce(ctx, prompt, timeout)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		v.logger.Debug("stage 3 attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < attempts {
			if err := v.sleep(ctx, time.Duration(attempt)*backoff); err != nil {
				return "", attempt, errors.Join(lastErr, err)
			}
		}
	}
	return "", attempts, lastErr
}

func (v *Validator) callOnce(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return v.complete(ctx, prompt)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		out, err := v.complete(cctx, prompt)
		ch <- reply{out, err}
	}()

	// A completion that ignores its context still yields a definite
	// verdict once the timeout fires.
	select {
	case r := <-ch:
		return r.out, r.err
	case <-cctx.Done():
		return "", fmt.Errorf("completion timed out after %s: %w", timeout, cctx.Err())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
