package trust

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu    sync.Mutex
	doc   *Document
	err   error
	saves int
}

func (s *memStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.doc == nil {
		return NewDocument(), nil
	}
	return s.doc, nil
}

func (s *memStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.doc = doc
	s.saves++
	return nil
}

func newTestManager(store Store) (*Manager, *testClock) {
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	return NewManager(DefaultConfig(), store, WithClock(clock.Now)), clock
}

func TestLazyCreationWithDefaultScore(t *testing.T) {
	m, _ := newTestManager(nil)
	at := m.Get("main")
	if at.Score != 10 {
		t.Errorf("expected default score 10, got %v", at.Score)
	}
	if at.Tier != model.TierUntrusted {
		t.Errorf("expected untrusted, got %s", at.Tier)
	}
	if len(at.History) != 1 || at.History[0].Type != EventCreated {
		t.Errorf("expected created event, got %+v", at.History)
	}
}

func TestRecordSuccessNeverDecreases(t *testing.T) {
	m, clock := newTestManager(nil)
	prev := m.Get("a").Score
	for i := 0; i < 500; i++ {
		clock.Advance(time.Hour)
		at := m.RecordSuccess("a", "tool ok")
		if at.Score < prev {
			t.Fatalf("score decreased on success %d: %v -> %v", i, prev, at.Score)
		}
		prev = at.Score
	}
	at := m.Get("a")
	if at.Signals.SuccessCount != 500 || at.Signals.CleanStreak != 500 {
		t.Errorf("unexpected signals: %+v", at.Signals)
	}
}

func TestRecordViolationResetsStreak(t *testing.T) {
	m, clock := newTestManager(nil)
	for i := 0; i < 20; i++ {
		m.RecordSuccess("a", "")
	}
	clock.Advance(72 * time.Hour)
	before := m.Get("a").Score
	at := m.RecordViolation("a", "denied exec")
	if at.Signals.CleanStreak != 0 {
		t.Errorf("expected clean streak reset, got %d", at.Signals.CleanStreak)
	}
	if at.Score > before {
		t.Errorf("violation raised score: %v -> %v", before, at.Score)
	}
	if at.Signals.ViolationCount != 1 {
		t.Errorf("expected 1 violation, got %d", at.Signals.ViolationCount)
	}
}

func TestViolationAtFloorHolds(t *testing.T) {
	m, _ := newTestManager(nil)
	if _, err := m.SetFloor("a", 10); err != nil {
		t.Fatal(err)
	}
	at := m.RecordViolation("a", "")
	if at.Score != 10 {
		t.Errorf("expected score held at floor 10, got %v", at.Score)
	}
}

func TestSetScoreBackSolves(t *testing.T) {
	m, _ := newTestManager(nil)
	for i := 0; i < 10; i++ {
		m.RecordSuccess("a", "")
	}
	at, err := m.SetScore("a", 65, "operator override")
	if err != nil {
		t.Fatal(err)
	}
	if at.Score != 65 {
		t.Errorf("expected 65, got %v", at.Score)
	}
	if at.Tier != model.TierTrusted {
		t.Errorf("expected trusted, got %s", at.Tier)
	}

	// Organic signals keep applying on top of the override.
	at = m.RecordSuccess("a", "")
	if at.Score <= 65 {
		t.Errorf("expected success to raise score above 65, got %v", at.Score)
	}
}

func TestSetScoreOutOfRange(t *testing.T) {
	m, _ := newTestManager(nil)
	if _, err := m.SetScore("a", 101, ""); err == nil {
		t.Error("expected error for score above 100")
	}
	if _, err := m.SetScore("a", -1, ""); err == nil {
		t.Error("expected error for negative score")
	}
}

func TestLockTierOverridesScore(t *testing.T) {
	m, _ := newTestManager(nil)
	at, err := m.LockTier("a", model.TierPrivileged)
	if err != nil {
		t.Fatal(err)
	}
	if at.Tier != model.TierPrivileged {
		t.Errorf("expected locked tier privileged, got %s", at.Tier)
	}

	at = m.RecordViolation("a", "")
	if at.Tier != model.TierPrivileged {
		t.Errorf("expected lock to survive violation, got %s", at.Tier)
	}

	at = m.UnlockTier("a")
	if at.Tier != TierForScore(at.Score) {
		t.Errorf("expected tier to follow score after unlock, got %s for %v", at.Tier, at.Score)
	}
}

func TestLockTierUnknown(t *testing.T) {
	m, _ := newTestManager(nil)
	if _, err := m.LockTier("a", model.TrustTier("root")); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestSetFloorReclamps(t *testing.T) {
	m, _ := newTestManager(nil)
	at, err := m.SetFloor("a", 45)
	if err != nil {
		t.Fatal(err)
	}
	if at.Score != 45 {
		t.Errorf("expected score raised to floor 45, got %v", at.Score)
	}
	if at.Tier != model.TierStandard {
		t.Errorf("expected standard tier, got %s", at.Tier)
	}
}

func TestTierConsistentWithScore(t *testing.T) {
	m, _ := newTestManager(nil)
	ops := []func() AgentTrust{
		func() AgentTrust { return m.RecordSuccess("a", "") },
		func() AgentTrust { return m.RecordViolation("a", "") },
		func() AgentTrust { at, _ := m.SetScore("a", 83, ""); return at },
		func() AgentTrust { at, _ := m.SetFloor("a", 30); return at },
		func() AgentTrust { return m.RecordViolation("a", "") },
	}
	for i, op := range ops {
		at := op()
		if at.Tier != TierForScore(at.Score) {
			t.Errorf("op %d: tier %s disagrees with score %v", i, at.Tier, at.Score)
		}
		if at.Score < at.Floor || at.Score > 100 {
			t.Errorf("op %d: score %v outside [%v,100]", i, at.Score, at.Floor)
		}
	}
}

func TestHistoryTrimmed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 5
	m := NewManager(cfg, nil)
	for i := 0; i < 20; i++ {
		m.RecordSuccess("a", "")
	}
	at := m.Get("a")
	if len(at.History) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(at.History))
	}
	for _, ev := range at.History {
		if ev.Type != EventSuccess {
			t.Errorf("expected only recent success events, got %s", ev.Type)
		}
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	m, _ := newTestManager(nil)
	m.RecordViolation("a", "")
	m.LockTier("a", model.TierTrusted)
	at := m.Reset("a")
	if at.Score != 10 || at.Locked != nil || at.Signals.ViolationCount != 0 {
		t.Errorf("expected default state after reset, got %+v", at)
	}
}

func TestDecayOnLoad(t *testing.T) {
	store := &memStore{}
	m, clock := newTestManager(store)
	m.SetScore("idle", 80, "")
	m.SetScore("active", 80, "")
	if _, err := m.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(31 * 24 * time.Hour)
	doc := store.doc
	active := doc.Agents["active"]
	active.LastEvaluation = clock.Now().Add(-time.Hour)
	doc.Agents["active"] = active

	m2 := NewManager(DefaultConfig(), store, WithClock(clock.Now))
	if err := m2.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	idle := m2.Get("idle")
	if idle.Score >= 80 {
		t.Errorf("expected idle agent to decay below 80, got %v", idle.Score)
	}
	if idle.History[len(idle.History)-1].Type != EventDecay {
		t.Errorf("expected decay event, got %s", idle.History[len(idle.History)-1].Type)
	}
	if got := m2.Get("active").Score; got < 80 {
		t.Errorf("expected active agent not to decay, got %v", got)
	}
	if !m2.Dirty() {
		t.Error("expected decay to mark store dirty")
	}
}

func TestDecayRespectsFloorAndLock(t *testing.T) {
	store := &memStore{}
	m, clock := newTestManager(store)
	m.SetScore("a", 30, "")
	m.SetFloor("a", 29)
	m.LockTier("a", model.TierTrusted)
	m.Flush(context.Background())

	clock.Advance(60 * 24 * time.Hour)
	m2 := NewManager(DefaultConfig(), store, WithClock(clock.Now))
	m2.Load(context.Background())

	at := m2.Get("a")
	if at.Score < 29 {
		t.Errorf("decay went below floor: %v", at.Score)
	}
	if at.Tier != model.TierTrusted {
		t.Errorf("decay ignored lock: %s", at.Tier)
	}
}

func TestLoadCorruptStoreStartsEmpty(t *testing.T) {
	store := &memStore{err: errors.New("bad json")}
	m, _ := newTestManager(store)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("expected corrupt store to be tolerated, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected empty store")
	}
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	store := &memStore{}
	m, _ := newTestManager(store)

	saved, err := m.Flush(context.Background())
	if err != nil || saved {
		t.Errorf("expected no save for clean store, saved=%v err=%v", saved, err)
	}

	m.RecordSuccess("a", "")
	saved, err = m.Flush(context.Background())
	if err != nil || !saved {
		t.Errorf("expected save, saved=%v err=%v", saved, err)
	}
	if m.Dirty() {
		t.Error("expected clean after flush")
	}
	if _, ok := store.doc.Agents["a"]; !ok {
		t.Error("expected agent in saved document")
	}
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	store := &memStore{}
	m, _ := newTestManager(store)
	m.RecordSuccess("a", "")
	store.err = errors.New("disk full")

	if _, err := m.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if !m.Dirty() {
		t.Error("expected dirty flag restored after failed flush")
	}
}

func TestConcurrentAgents(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	var wg sync.WaitGroup
	agents := []string{"a", "b", "c", "d"}
	for _, id := range agents {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					m.RecordSuccess(id, "")
					m.Snapshot(id)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range agents {
		if got := m.Get(id).Signals.SuccessCount; got != 200 {
			t.Errorf("agent %s: expected 200 successes, got %d", id, got)
		}
	}
	if len(m.List()) != len(agents) {
		t.Errorf("expected %d agents, got %d", len(agents), len(m.List()))
	}
}
