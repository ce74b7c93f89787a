package frequency

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*WindowTracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWindowTracker(WithClock(clock.Now)), clock
}

// --- Scope tests ---

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want Scope
	}{
		{"", ScopeAgent},
		{"agent", ScopeAgent},
		{"Session", ScopeSession},
		{" global ", ScopeGlobal},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if err != nil {
			t.Errorf("ParseScope(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseScope("tenant"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

// --- Tracker tests ---

func TestCountByScope(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Entry{AgentID: "a", SessionKey: "s1", ToolName: "exec"})
	tr.Record(Entry{AgentID: "a", SessionKey: "s2", ToolName: "read"})
	tr.Record(Entry{AgentID: "b", SessionKey: "s1", ToolName: "read"})

	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 2 {
		t.Errorf("agent count: expected 2, got %d", got)
	}
	if got := tr.Count(time.Minute, ScopeSession, "", "s1"); got != 2 {
		t.Errorf("session count: expected 2, got %d", got)
	}
	if got := tr.Count(time.Minute, ScopeGlobal, "", ""); got != 3 {
		t.Errorf("global count: expected 3, got %d", got)
	}
}

func TestCountTrailingWindow(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Entry{AgentID: "a"})
	clock.Advance(30 * time.Second)
	tr.Record(Entry{AgentID: "a"})
	clock.Advance(40 * time.Second)

	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 1 {
		t.Errorf("expected 1 entry in trailing minute, got %d", got)
	}
	if got := tr.Count(2*time.Minute, ScopeAgent, "a", ""); got != 2 {
		t.Errorf("expected 2 entries in trailing two minutes, got %d", got)
	}
}

func TestCountWindowBoundaryInclusive(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Entry{AgentID: "a"})
	clock.Advance(time.Minute)

	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 1 {
		t.Errorf("expected entry exactly at window edge to count, got %d", got)
	}
}

func TestCountZeroWindow(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Entry{AgentID: "a"})
	if got := tr.Count(0, ScopeAgent, "a", ""); got != 0 {
		t.Errorf("expected 0 for zero window, got %d", got)
	}
}

func TestRecordOutOfOrder(t *testing.T) {
	tr, clock := newTestTracker()
	now := clock.Now()
	tr.Record(Entry{AgentID: "a", Timestamp: now})
	tr.Record(Entry{AgentID: "a", Timestamp: now.Add(-2 * time.Minute)})
	tr.Record(Entry{AgentID: "a", Timestamp: now.Add(-10 * time.Second)})

	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestCountExcludesFutureEntries(t *testing.T) {
	tr, clock := newTestTracker()
	now := clock.Now()
	tr.Record(Entry{AgentID: "a", Timestamp: now.Add(24 * time.Hour)})
	tr.Record(Entry{AgentID: "a", Timestamp: now.Add(time.Second)})
	tr.Record(Entry{AgentID: "a"})

	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 1 {
		t.Errorf("expected only the entry at now, got %d", got)
	}
	clock.Advance(2 * time.Second)
	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 2 {
		t.Errorf("expected the +1s entry once it is in the past, got %d", got)
	}
}

func TestPruneOldEntries(t *testing.T) {
	tr, clock := newTestTracker()
	for i := 0; i < 10; i++ {
		tr.Record(Entry{AgentID: "a"})
	}
	clock.Advance(DefaultRetention + time.Second)
	tr.Record(Entry{AgentID: "a"})

	if tr.Len() != 1 {
		t.Errorf("expected old entries pruned, %d retained", tr.Len())
	}
}

func TestWithRetentionNeverBelowDefault(t *testing.T) {
	tr := NewWindowTracker(WithRetention(time.Second))
	if tr.retention != DefaultRetention {
		t.Errorf("expected retention %s, got %s", DefaultRetention, tr.retention)
	}
	tr = NewWindowTracker(WithRetention(2 * time.Hour))
	if tr.retention != 2*time.Hour {
		t.Errorf("expected retention 2h, got %s", tr.retention)
	}
}

func TestClear(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Entry{AgentID: "a"})
	tr.Clear()
	if got := tr.Count(time.Minute, ScopeGlobal, "", ""); got != 0 {
		t.Errorf("expected 0 after clear, got %d", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewWindowTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(Entry{AgentID: "a"})
				tr.Count(time.Minute, ScopeAgent, "a", "")
			}
		}()
	}
	wg.Wait()
	if got := tr.Count(time.Minute, ScopeAgent, "a", ""); got != 800 {
		t.Errorf("expected 800, got %d", got)
	}
}

// --- Limit tests ---

func TestCheckAtThreshold(t *testing.T) {
	limit := Limit{MaxCount: 15, Window: time.Minute, Scope: ScopeAgent}
	if Check(14, limit).Exceeded {
		t.Error("expected 14/15 within limit")
	}
	result := Check(15, limit)
	if !result.Exceeded {
		t.Error("expected 15/15 exceeded")
	}
	if result.Limit != 15 {
		t.Errorf("expected limit=15, got %d", result.Limit)
	}
}

func TestCheckInactiveLimit(t *testing.T) {
	if Check(100, Limit{}).Exceeded {
		t.Error("expected zero limit to never be exceeded")
	}
	if Check(100, Limit{MaxCount: 1}).Exceeded {
		t.Error("expected zero window to never be exceeded")
	}
}

func TestEvaluateAgentsIndependent(t *testing.T) {
	tr, _ := newTestTracker()
	limit := Limit{MaxCount: 3, Window: time.Minute, Scope: ScopeAgent}
	for i := 0; i < 3; i++ {
		tr.Record(Entry{AgentID: "a"})
	}
	if !Evaluate(tr, limit, "a", "").Exceeded {
		t.Error("expected agent a to hit the limit")
	}
	if Evaluate(tr, limit, "b", "").Exceeded {
		t.Error("expected agent b unaffected")
	}
}

func TestEvaluateNilTracker(t *testing.T) {
	limit := Limit{MaxCount: 1, Window: time.Minute}
	if Evaluate(nil, limit, "a", "").Exceeded {
		t.Error("expected nil tracker to never exceed")
	}
}

func TestEnsureRetentionOnlyGrows(t *testing.T) {
	tr := NewWindowTracker()
	tr.EnsureRetention(3 * time.Hour)
	tr.EnsureRetention(time.Minute)
	if got := tr.Retention(); got != 3*time.Hour {
		t.Errorf("expected 3h retention, got %s", got)
	}
}
