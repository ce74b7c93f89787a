package frequency

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scope selects which recorded events a count considers.
type Scope string

const (
	ScopeAgent   Scope = "agent"
	ScopeSession Scope = "session"
	ScopeGlobal  Scope = "global"
)

// ParseScope parses a scope name. Empty defaults to agent.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAgent:
		return ScopeAgent, nil
	case ScopeSession:
		return ScopeSession, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("unknown frequency scope %q", s)
	}
}

// DefaultRetention is the minimum time entries are kept for window queries.
const DefaultRetention = time.Hour

// Entry is one recorded action.
type Entry struct {
	Timestamp  time.Time
	AgentID    string
	SessionKey string
	ToolName   string
}

// Tracker records action events and counts them over trailing windows.
type Tracker interface {
	Record(e Entry)
	Count(window time.Duration, scope Scope, agentID, sessionKey string) int
	Clear()
}

// WindowTracker is an in-memory Tracker backed by a time-ordered slice.
// Entries older than the retention window are pruned lazily on Record.
//
// A single mutex guards the log: Count scans only the trailing window, so
// critical sections stay short even under concurrent evaluation.
type WindowTracker struct {
	mu        sync.Mutex
	entries   []Entry
	retention time.Duration
	now       func() time.Time
}

// Option configures a WindowTracker.
type Option func(*WindowTracker)

// WithClock overrides the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(t *WindowTracker) { t.now = now }
}

// WithRetention sets how long entries are kept. Values below
// DefaultRetention are raised to it.
func WithRetention(d time.Duration) Option {
	return func(t *WindowTracker) {
		if d > t.retention {
			t.retention = d
		}
	}
}

// NewWindowTracker creates an empty tracker.
func NewWindowTracker(opts ...Option) *WindowTracker {
	t := &WindowTracker{
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Record appends an entry. A zero timestamp is replaced by the tracker clock.
func (t *WindowTracker) Record(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}

	// Keep the log sorted so window queries can binary search.
	n := len(t.entries)
	if n == 0 || !e.Timestamp.Before(t.entries[n-1].Timestamp) {
		t.entries = append(t.entries, e)
	} else {
		i := sort.Search(n, func(i int) bool { return t.entries[i].Timestamp.After(e.Timestamp) })
		t.entries = append(t.entries, Entry{})
		copy(t.entries[i+1:], t.entries[i:])
		t.entries[i] = e
	}

	t.pruneLocked(now)
}

// Count returns how many entries fall within the trailing window and match scope.
// The window is [now-window, now]: an entry exactly window old still counts,
// an entry stamped after now does not.
func (t *WindowTracker) Count(window time.Duration, scope Scope, agentID, sessionKey string) int {
	if window <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-window)
	start := sort.Search(len(t.entries), func(i int) bool {
		return !t.entries[i].Timestamp.Before(cutoff)
	})
	end := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(now)
	})
	if end < start {
		return 0
	}

	count := 0
	for _, e := range t.entries[start:end] {
		switch scope {
		case ScopeGlobal:
			count++
		case ScopeSession:
			if e.SessionKey == sessionKey {
				count++
			}
		default:
			if e.AgentID == agentID {
				count++
			}
		}
	}
	return count
}

// EnsureRetention raises retention to at least d. It never lowers it.
func (t *WindowTracker) EnsureRetention(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > t.retention {
		t.retention = d
	}
}

// Retention returns how long entries are kept.
func (t *WindowTracker) Retention() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retention
}

// Clear drops every recorded entry.
func (t *WindowTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Len returns the number of retained entries.
func (t *WindowTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *WindowTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := sort.Search(len(t.entries), func(i int) bool {
		return !t.entries[i].Timestamp.Before(cutoff)
	})
	if i == 0 {
		return
	}
	t.entries = append(t.entries[:0], t.entries[i:]...)
}
