package trust

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// DecayConfig controls score decay for inactive agents.
type DecayConfig struct {
	Enabled        bool    `yaml:"enabled"`
	InactivityDays float64 `yaml:"inactivity_days"`
	Rate           float64 `yaml:"rate"`
}

// Config holds trust manager parameters.
type Config struct {
	DefaultScore    float64       `yaml:"default_score"`
	Weights         Weights       `yaml:"weights"`
	Decay           DecayConfig   `yaml:"decay"`
	MaxHistory      int           `yaml:"max_history"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	PenalizeDenials bool          `yaml:"penalize_denials"`
}

// DefaultConfig returns the built-in trust configuration.
func DefaultConfig() Config {
	return Config{
		DefaultScore: 10,
		Weights:      DefaultWeights(),
		Decay: DecayConfig{
			Enabled:        true,
			InactivityDays: 30,
			Rate:           0.95,
		},
		MaxHistory:      100,
		PersistInterval: 60 * time.Second,
		PenalizeDenials: true,
	}
}

// normalized returns a copy with out-of-range values replaced.
// Rates and caps are made non-negative and the violation penalty negative,
// which keeps RecordSuccess non-decreasing and RecordViolation non-increasing.
func (c Config) normalized() Config {
	c.DefaultScore = Clamp(c.DefaultScore, 0)
	w := &c.Weights
	w.AgePerDay = math.Abs(w.AgePerDay)
	w.AgeMax = math.Abs(w.AgeMax)
	w.SuccessPerAction = math.Abs(w.SuccessPerAction)
	w.SuccessMax = math.Abs(w.SuccessMax)
	w.StreakPerSuccess = math.Abs(w.StreakPerSuccess)
	w.StreakMax = math.Abs(w.StreakMax)
	w.ViolationPenalty = -math.Abs(w.ViolationPenalty)
	if c.MaxHistory <= 0 {
		c.MaxHistory = 100
	}
	if c.Decay.Rate <= 0 || c.Decay.Rate > 1 {
		c.Decay.Rate = 0.95
	}
	if c.Decay.InactivityDays <= 0 {
		c.Decay.InactivityDays = 30
	}
	return c
}

// Manager owns per-agent trust state. Agents are created lazily on first
// reference and never deleted, only reset.
//
// Each agent has its own mutex; the agent map is guarded separately so
// writes for different agents never contend.
type Manager struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	agents map[string]*agentEntry

	dirty   atomic.Bool
	flushMu sync.Mutex
}

type agentEntry struct {
	mu    sync.Mutex
	trust AgentTrust
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. A nil store keeps state in memory only.
func NewManager(cfg Config, store Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.normalized(),
		store:  store,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		agents: make(map[string]*agentEntry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the normalized configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Load replaces in-memory state with the persisted document and applies
// inactivity decay. Unreadable or corrupt documents are logged and the
// manager starts from an empty store.
func (m *Manager) Load(ctx context.Context) error {
	doc := NewDocument()
	if m.store != nil {
		loaded, err := m.store.Load(ctx)
		if err != nil {
			m.logger.Warn("trust store unreadable, starting empty", zap.Error(err))
		} else {
			doc = loaded
		}
	}

	now := m.now()
	agents := make(map[string]*agentEntry, len(doc.Agents))
	decayed := 0
	for id, at := range doc.Agents {
		at.AgentID = id
		if at.Created.IsZero() {
			at.Created = now
		}
		if at.Locked != nil && !at.Locked.Valid() {
			m.logger.Warn("dropping invalid tier lock", zap.String("agent", id), zap.String("tier", string(*at.Locked)))
			at.Locked = nil
		}
		stored := at.Score
		m.refreshAge(&at, now)
		if m.decay(&at, stored, now) {
			decayed++
		} else {
			m.recompute(&at)
		}
		agents[id] = &agentEntry{trust: at}
	}

	m.mu.Lock()
	m.agents = agents
	m.mu.Unlock()

	if decayed > 0 {
		m.dirty.Store(true)
		m.logger.Info("trust decay applied", zap.Int("agents", decayed))
	}
	m.logger.Debug("trust store loaded", zap.Int("agents", len(agents)))
	return nil
}

// Get returns a copy of the agent's trust state, creating it if needed.
func (m *Manager) Get(agentID string) AgentTrust {
	e := m.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trust.clone()
}

// Snapshot returns the agent's current score and tier and marks the agent
// as evaluated now.
func (m *Manager) Snapshot(agentID string) model.TrustSnapshot {
	e := m.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trust.LastEvaluation = m.now()
	m.dirty.Store(true)
	return e.trust.Snapshot()
}

// RecordSuccess credits a successful action.
func (m *Manager) RecordSuccess(agentID, reason string) AgentTrust {
	return m.mutate(agentID, EventSuccess, reason, func(a *AgentTrust, now time.Time) {
		a.Signals.SuccessCount++
		a.Signals.CleanStreak++
		m.refreshAge(a, now)
	})
}

// RecordViolation debits a violation and resets the clean streak.
func (m *Manager) RecordViolation(agentID, reason string) AgentTrust {
	return m.mutate(agentID, EventViolation, reason, func(a *AgentTrust, now time.Time) {
		a.Signals.ViolationCount++
		a.Signals.CleanStreak = 0
	})
}

// SetScore manually overrides the score by solving for the manual
// adjustment term that reproduces it under the current signals.
func (m *Manager) SetScore(agentID string, score float64, reason string) (AgentTrust, error) {
	if math.IsNaN(score) || score < 0 || score > MaxScore {
		return AgentTrust{}, fmt.Errorf("trust: score %v out of range [0,100]", score)
	}
	return m.mutate(agentID, EventManual, reason, func(a *AgentTrust, now time.Time) {
		a.Signals.ManualAdjustment = m.cfg.Weights.AdjustmentFor(a.Signals, score)
	}), nil
}

// LockTier pins the agent's tier regardless of score.
func (m *Manager) LockTier(agentID string, tier model.TrustTier) (AgentTrust, error) {
	if !tier.Valid() {
		return AgentTrust{}, fmt.Errorf("trust: unknown tier %q", tier)
	}
	return m.mutate(agentID, EventLock, "locked to "+string(tier), func(a *AgentTrust, now time.Time) {
		t := tier
		a.Locked = &t
	}), nil
}

// UnlockTier releases a tier lock so the tier follows the score again.
func (m *Manager) UnlockTier(agentID string) AgentTrust {
	return m.mutate(agentID, EventUnlock, "", func(a *AgentTrust, now time.Time) {
		a.Locked = nil
	})
}

// SetFloor sets the minimum score and re-clamps immediately.
func (m *Manager) SetFloor(agentID string, floor float64) (AgentTrust, error) {
	if math.IsNaN(floor) || floor < 0 || floor > MaxScore {
		return AgentTrust{}, fmt.Errorf("trust: floor %v out of range [0,100]", floor)
	}
	return m.mutate(agentID, EventFloor, fmt.Sprintf("floor set to %.1f", floor), func(a *AgentTrust, now time.Time) {
		a.Floor = floor
	}), nil
}

// Reset returns the agent to its initial state.
func (m *Manager) Reset(agentID string) AgentTrust {
	e := m.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	prev := e.trust.Score
	e.trust = m.newAgent(agentID, now)
	m.appendEvent(&e.trust, Event{Timestamp: now, Type: EventReset, Delta: e.trust.Score - prev, Score: e.trust.Score})
	m.dirty.Store(true)
	return e.trust.clone()
}

// List returns copies of all known agents sorted by id.
func (m *Manager) List() []AgentTrust {
	m.mu.RLock()
	entries := make([]*agentEntry, 0, len(m.agents))
	for _, e := range m.agents {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]AgentTrust, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.trust.clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Dirty reports whether there are unsaved changes.
func (m *Manager) Dirty() bool {
	return m.dirty.Load()
}

// Flush saves the store if it is dirty. A flush already in progress causes
// this call to be skipped; the dirty flag keeps the changes for the next one.
// Returns true if a save happened.
func (m *Manager) Flush(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	if !m.flushMu.TryLock() {
		return false, nil
	}
	defer m.flushMu.Unlock()

	if !m.dirty.Swap(false) {
		return false, nil
	}

	doc := NewDocument()
	doc.Updated = m.now()
	for _, at := range m.List() {
		doc.Agents[at.AgentID] = at
	}

	if err := m.store.Save(ctx, doc); err != nil {
		m.dirty.Store(true)
		return false, err
	}
	return true, nil
}

// RunFlusher flushes on every interval tick until ctx is cancelled.
func (m *Manager) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultConfig().PersistInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Flush(ctx); err != nil {
				m.logger.Warn("trust flush failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) entry(agentID string) *agentEntry {
	m.mu.RLock()
	e, ok := m.agents[agentID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.agents[agentID]; ok {
		return e
	}
	now := m.now()
	e = &agentEntry{trust: m.newAgent(agentID, now)}
	m.appendEvent(&e.trust, Event{Timestamp: now, Type: EventCreated, Score: e.trust.Score})
	m.agents[agentID] = e
	m.dirty.Store(true)
	return e
}

func (m *Manager) newAgent(agentID string, now time.Time) AgentTrust {
	a := AgentTrust{
		AgentID:        agentID,
		Created:        now,
		LastEvaluation: now,
		History:        []Event{},
	}
	a.Signals.ManualAdjustment = m.cfg.Weights.AdjustmentFor(a.Signals, m.cfg.DefaultScore)
	m.recompute(&a)
	return a
}

func (m *Manager) mutate(agentID string, typ EventType, reason string, fn func(a *AgentTrust, now time.Time)) AgentTrust {
	e := m.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	prev := e.trust.Score
	fn(&e.trust, now)
	m.recompute(&e.trust)
	e.trust.LastEvaluation = now
	m.appendEvent(&e.trust, Event{
		Timestamp: now,
		Type:      typ,
		Delta:     e.trust.Score - prev,
		Score:     e.trust.Score,
		Reason:    reason,
	})
	m.dirty.Store(true)
	return e.trust.clone()
}

// recompute derives score and tier from signals. The tier is the lock if set,
// otherwise the band of the score.
func (m *Manager) recompute(a *AgentTrust) {
	a.Floor = math.Max(0, math.Min(a.Floor, MaxScore))
	a.Score = m.cfg.Weights.Score(a.Signals, a.Floor)
	if a.Locked != nil {
		a.Tier = *a.Locked
	} else {
		a.Tier = TierForScore(a.Score)
	}
}

func (m *Manager) refreshAge(a *AgentTrust, now time.Time) {
	if age := now.Sub(a.Created).Hours() / 24; age > a.Signals.AgeDays {
		a.Signals.AgeDays = age
	}
}

// decay multiplies the persisted score of an idle agent by the decay rate.
// The result is folded into the manual adjustment so the formula still
// reproduces it.
func (m *Manager) decay(a *AgentTrust, stored float64, now time.Time) bool {
	d := m.cfg.Decay
	if !d.Enabled || a.LastEvaluation.IsZero() {
		return false
	}
	idle := now.Sub(a.LastEvaluation)
	if idle < time.Duration(d.InactivityDays*24*float64(time.Hour)) {
		return false
	}

	prev := stored
	target := Clamp(prev*d.Rate, a.Floor)
	a.Signals.ManualAdjustment = m.cfg.Weights.AdjustmentFor(a.Signals, target)
	m.recompute(a)
	a.LastEvaluation = now
	m.appendEvent(a, Event{
		Timestamp: now,
		Type:      EventDecay,
		Delta:     a.Score - prev,
		Score:     a.Score,
		Reason:    fmt.Sprintf("inactive for %.0f days", idle.Hours()/24),
	})
	return true
}

func (m *Manager) appendEvent(a *AgentTrust, ev Event) {
	a.History = append(a.History, ev)
	if over := len(a.History) - m.cfg.MaxHistory; over > 0 {
		a.History = append(a.History[:0:0], a.History[over:]...)
	}
}
