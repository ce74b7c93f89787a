package frequency

import (
	"fmt"
	"time"
)

// Limit is a count threshold over a trailing window for one scope.
// Zero values mean no limit.
type Limit struct {
	MaxCount int
	Window   time.Duration
	Scope    Scope
}

// Active returns true if the limit has a usable count and window.
func (l Limit) Active() bool {
	return l.MaxCount > 0 && l.Window > 0
}

// CheckResult is the outcome of a limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the limit. Reaching the
// threshold counts as exceeded.
func Check(count int, limit Limit) CheckResult {
	if !limit.Active() {
		return CheckResult{}
	}
	if count >= limit.MaxCount {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxCount,
			Reason: fmt.Sprintf("frequency limit reached: %d/%d %s-scoped actions in %s window",
				count, limit.MaxCount, limit.Scope, limit.Window),
		}
	}
	return CheckResult{Current: count, Limit: limit.MaxCount}
}

// Evaluate counts events for the limit's scope and checks the threshold.
func Evaluate(t Tracker, limit Limit, agentID, sessionKey string) CheckResult {
	if t == nil || !limit.Active() {
		return CheckResult{}
	}
	return Check(t.Count(limit.Window, limit.Scope, agentID, sessionKey), limit)
}
