// Package engine wires policies, risk, trust, frequency tracking, output
// validation and the audit log into a single governance decision point.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/audit"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/factcheck"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/frequency"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/outputval"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/policy"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/risk"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/trust"
)

// UnknownAgent is used when a request names no agent.
const UnknownAgent = "unknown"

// ErrNotStarted is returned by operations that need loaded trust state.
var ErrNotStarted = errors.New("engine: not started")

// snapshot is everything derived from one configuration. It is replaced as
// a whole on reload and never mutated.
type snapshot struct {
	cfg      *config.Config
	hash     string
	index    *policy.Index
	assessor *risk.Assessor
	output   *outputval.Validator
}

// Engine is safe for concurrent use. Evaluate and ValidateOutput read the
// current snapshot through an atomic pointer, so Reload never exposes a
// partially built index.
type Engine struct {
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location

	state   atomic.Pointer[snapshot]
	tracker *frequency.WindowTracker

	store      trust.Store
	completion outputval.CompletionFunc
	sink       audit.Sink
	ownSink    bool
	hash       string

	mu      sync.Mutex
	trust   *trust.Manager
	closers []func() error
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone used for hour, minute and weekday fields.
// The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithTrustStore overrides the store selected by trust_store.
func WithTrustStore(s trust.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithCompletion injects the Stage 3 completion function. Without it every
// build or reload creates one from output_validation.llm when that is enabled.
func WithCompletion(fn outputval.CompletionFunc) Option {
	return func(e *Engine) { e.completion = fn }
}

// WithAuditSink overrides the audit log selected by the audit section.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithConfigHash records the hash of the configuration source. Audit
// entries carry it.
func WithConfigHash(hash string) Option {
	return func(e *Engine) { e.hash = hash }
}

// New compiles cfg and builds an engine. Evaluate returns the fail-mode
// verdict until Start has loaded trust state.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		location: time.Local,
	}
	for _, o := range opts {
		o(e)
	}
	if e.hash == "" {
		e.hash = config.Hash(nil)
	}

	e.tracker = frequency.NewWindowTracker(frequency.WithClock(e.now))

	snap, err := e.build(cfg, e.hash)
	if err != nil {
		return nil, err
	}
	e.state.Store(snap)
	return e, nil
}

func (e *Engine) build(cfg *config.Config, hash string) (*snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	windows, err := cfg.Windows()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	idx, err := policy.Compile(cfg.Policies, windows, e.logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	assessor, err := risk.NewAssessor(cfg.Risk, e.tracker)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	output, err := outputval.New(cfg.OutputValidation,
		outputval.WithLogger(e.logger),
		outputval.WithCompletion(e.completionFor(cfg.OutputValidation.LLM)))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	retention := time.Duration(idx.MaxFrequencyWindowSeconds()) * time.Second
	if w := time.Duration(cfg.Risk.FrequencyWindowSeconds) * time.Second; w > retention {
		retention = w
	}
	e.tracker.EnsureRetention(retention)

	for _, r := range idx.Rejected() {
		e.logger.Warn("regex pattern rejected",
			zap.String("policy", r.PolicyID),
			zap.String("rule", r.RuleID),
			zap.String("pattern", r.Pattern),
			zap.String("reason", r.Reason))
	}
	return &snapshot{cfg: cfg, hash: hash, index: idx, assessor: assessor, output: output}, nil
}

// completionFor returns the injected completion function, or a litellm
// client built from llm when it is enabled. Each snapshot gets its own
// client so a reload can switch provider or model.
func (e *Engine) completionFor(llm outputval.LLMConfig) outputval.CompletionFunc {
	if e.completion != nil || !llm.Enabled {
		return e.completion
	}
	fn, err := outputval.NewLiteLLMCompletion(llm)
	if err != nil {
		e.logger.Warn("stage 3 disabled", zap.Error(err))
		return nil
	}
	return fn
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	return e.state.Load().cfg
}

// ConfigHash returns the hash of the active configuration source.
func (e *Engine) ConfigHash() string {
	return e.state.Load().hash
}

// Index returns the active compiled policy index.
func (e *Engine) Index() *policy.Index {
	return e.state.Load().index
}

// Tracker returns the frequency tracker.
func (e *Engine) Tracker() frequency.Tracker {
	return e.tracker
}

// Trust returns the trust manager, or nil before Start.
func (e *Engine) Trust() *trust.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trust
}

// Started reports whether Start has completed.
func (e *Engine) Started() bool {
	return e.started.Load()
}

// Start opens the trust store and the audit log, loads trust state and
// starts the periodic trust flusher. It is an error to call it twice.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started.Load() {
		return fmt.Errorf("engine: already started")
	}

	cfg := e.state.Load().cfg

	store := e.store
	if store == nil {
		s, closeFn, err := OpenStore(ctx, cfg.TrustStore)
		if err != nil {
			return err
		}
		store = s
		if closeFn != nil {
			e.closers = append(e.closers, closeFn)
		}
	}

	if e.sink == nil && cfg.Audit.Enabled {
		l, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			e.closeAll()
			return fmt.Errorf("engine: %w", err)
		}
		e.sink = l
		e.ownSink = true
		e.closers = append(e.closers, l.Close)
	}

	mgr := trust.NewManager(cfg.Trust, store, trust.WithLogger(e.logger), trust.WithClock(e.now))
	if err := mgr.Load(ctx); err != nil {
		e.closeAll()
		return fmt.Errorf("engine: load trust: %w", err)
	}
	e.trust = mgr

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		mgr.RunFlusher(runCtx, mgr.Config().PersistInterval)
	}()

	e.started.Store(true)
	e.logger.Info("governance engine started",
		zap.Int("policies", e.state.Load().index.Len()),
		zap.String("fail_mode", cfg.FailMode),
		zap.String("trust_backend", cfg.TrustStore.Backend))
	return nil
}

// Stop halts the flusher, performs a final trust flush and closes what
// Start opened. Evaluate returns the fail-mode verdict afterwards.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started.Swap(false) {
		return nil
	}

	e.cancel()
	<-e.done

	var errs []error
	if _, err := e.trust.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: final trust flush: %w", err))
	}
	if err := e.closeAll(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("governance engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) closeAll() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	if e.ownSink {
		e.sink = nil
		e.ownSink = false
	}
	return errors.Join(errs...)
}

// Reload compiles cfg and swaps it in. On error the previous configuration
// stays active. Policies, risk and output validation (including the Stage 3
// client) are rebuilt; trust and store settings only take effect on restart.
func (e *Engine) Reload(cfg *config.Config, hash string) error {
	snap, err := e.build(cfg, hash)
	if err != nil {
		return err
	}
	old := e.state.Swap(snap)
	e.logger.Info("configuration reloaded",
		zap.Int("policies", snap.index.Len()),
		zap.String("hash", hash),
		zap.String("previous_hash", old.hash))
	return nil
}

// ResolveAgentID returns the request's agent, falling back to the agent
// encoded in an "agent:<id>:..." session key, then UnknownAgent.
func ResolveAgentID(req model.Request) string {
	if id := strings.TrimSpace(req.AgentID); id != "" {
		return id
	}
	if rest, ok := strings.CutPrefix(req.SessionKey, "agent:"); ok {
		if id, _, _ := strings.Cut(rest, ":"); id != "" {
			return id
		}
	}
	return UnknownAgent
}

// BuildContext resolves clock and trust fields for req. The returned
// context must not be modified afterwards.
func (e *Engine) BuildContext(req model.Request) *model.EvaluationContext {
	ts := req.Time
	if ts.IsZero() {
		ts = e.now()
	}
	local := ts.In(e.location)
	agentID := ResolveAgentID(req)

	return &model.EvaluationContext{
		Hook:           req.Hook,
		AgentID:        agentID,
		SessionKey:     req.SessionKey,
		Channel:        req.Channel,
		ToolName:       req.ToolName,
		ToolParams:     req.ToolParams,
		MessageContent: req.Message,
		MessageTo:      req.MessageTo,
		Timestamp:      ts,
		Hour:           local.Hour(),
		Minute:         local.Minute(),
		DayOfWeek:      local.Weekday(),
		Trust:          e.trustSnapshot(agentID),
		Conversation:   req.Conversation,
		Metadata:       req.Metadata,
	}
}

func (e *Engine) trustSnapshot(agentID string) model.TrustSnapshot {
	if mgr := e.Trust(); mgr != nil && e.started.Load() {
		return mgr.Snapshot(agentID)
	}
	score := trust.Clamp(e.state.Load().cfg.Trust.DefaultScore, 0)
	return model.TrustSnapshot{Score: score, Tier: trust.TierForScore(score)}
}

// EvaluateRequest builds a context for req and evaluates it.
func (e *Engine) EvaluateRequest(req model.Request) model.Verdict {
	return e.Evaluate(e.BuildContext(req))
}

// Evaluate decides whether the action described by ctx may proceed.
//
// Evaluation order (must not be changed):
//  1. Engine not started: fail-mode verdict
//  2. Risk assessment
//  3. Policy evaluation against the active index
//  4. Side effects: frequency on allow, trust violation on deny
//  5. Audit append
//
// A panic anywhere in 2-4 is recovered into the fail-mode verdict.
func (e *Engine) Evaluate(ctx *model.EvaluationContext) (v model.Verdict) {
	start := time.Now()
	snap := e.state.Load()

	if ctx == nil {
		return e.failVerdict(snap, nil, "no evaluation context", start)
	}
	if !e.started.Load() {
		return e.failVerdict(snap, ctx, "engine not started", start)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked",
				zap.String("agent", ctx.AgentID),
				zap.String("tool", ctx.ToolName),
				zap.Any("panic", r),
				zap.Stack("stack"))
			v = e.failVerdict(snap, ctx, fmt.Sprintf("internal error: %v", r), start)
		}
	}()

	assessment := snap.assessor.Assess(ctx)
	res := snap.index.Evaluate(ctx, assessment, e.tracker)

	v = model.Verdict{
		EvaluationID: uuid.NewString(),
		Action:       res.Action,
		Reason:       res.Reason,
		Risk:         assessment,
		Matched:      res.Matches,
		Trust:        ctx.Trust,
		Audit:        res.Audit,
	}
	if v.Matched == nil {
		v.Matched = []model.MatchedPolicy{}
	}

	switch v.Action {
	case model.Allow:
		// Recorded at the tracker clock. ctx.Timestamp may be caller supplied
		// and only drives the time-of-day fields.
		e.tracker.Record(frequency.Entry{
			AgentID:    ctx.AgentID,
			SessionKey: ctx.SessionKey,
			ToolName:   ctx.ToolName,
		})
	case model.Deny:
		if snap.cfg.Trust.PenalizeDenials {
			e.Trust().RecordViolation(ctx.AgentID, v.Reason)
		}
	}

	v.Duration = time.Since(start)
	e.record(snap, ctx, v)
	return v
}

func (e *Engine) failVerdict(snap *snapshot, ctx *model.EvaluationContext, cause string, start time.Time) model.Verdict {
	action := model.Allow
	if snap.cfg.FailMode == config.FailClosed {
		action = model.Deny
	}
	v := model.Verdict{
		EvaluationID: uuid.NewString(),
		Action:       action,
		Reason:       fmt.Sprintf("%s (fail-%s)", cause, snap.cfg.FailMode),
		Risk:         risk.Unassessed(),
		Matched:      []model.MatchedPolicy{},
		Duration:     time.Since(start),
	}
	if ctx != nil {
		v.Trust = ctx.Trust
	}
	e.logger.Warn("fail-mode verdict",
		zap.String("cause", cause),
		zap.String("action", string(action)))
	e.record(snap, ctx, v)
	return v
}

func (e *Engine) record(snap *snapshot, ctx *model.EvaluationContext, v model.Verdict) {
	sink := e.auditSink()
	if sink == nil {
		return
	}
	if err := sink.Append(audit.FromVerdict(ctx, v, snap.hash)); err != nil {
		e.logger.Error("audit append failed", zap.Error(err), zap.String("evaluation_id", v.EvaluationID))
	}
}

func (e *Engine) auditSink() audit.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// RecordOutcome feeds the result of an executed action back into trust.
func (e *Engine) RecordOutcome(agentID string, success bool, reason string) (trust.AgentTrust, error) {
	if !e.started.Load() {
		return trust.AgentTrust{}, ErrNotStarted
	}
	if agentID == "" {
		agentID = UnknownAgent
	}
	mgr := e.Trust()
	if success {
		return mgr.RecordSuccess(agentID, reason), nil
	}
	return mgr.RecordViolation(agentID, reason), nil
}

// ValidateOutput checks agent output text against the fact registry and,
// for external messages, the optional Stage 3 reviewer. Audit entries are
// attributed to UnknownAgent; use ValidateAgentOutput when the sender is known.
func (e *Engine) ValidateOutput(ctx context.Context, text string, trustScore float64, isExternal bool) outputval.Result {
	return e.ValidateAgentOutput(ctx, "", text, trustScore, isExternal)
}

// ValidateAgentOutput is ValidateOutput for text sent by agentID.
func (e *Engine) ValidateAgentOutput(ctx context.Context, agentID, text string, trustScore float64, isExternal bool) outputval.Result {
	if agentID = strings.TrimSpace(agentID); agentID == "" {
		agentID = UnknownAgent
	}
	snap := e.state.Load()
	res := snap.output.Validate(ctx, text, trustScore, isExternal)

	if sink := e.auditSink(); sink != nil && res.Action != factcheck.ActionPass {
		entry := audit.Entry{
			Kind:       audit.KindOutput,
			AgentID:    agentID,
			Decision:   string(res.Action),
			Reason:     res.Reason,
			Trust:      audit.TrustRef{Score: trustScore, Tier: string(trust.TierForScore(trustScore))},
			ConfigHash: snap.hash,
		}
		if err := sink.Append(entry); err != nil {
			e.logger.Error("audit append failed", zap.Error(err))
		}
	}
	return res
}
