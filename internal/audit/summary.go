package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Filter selects entries for Summarize. Zero fields match everything.
type Filter struct {
	AgentID string
	Kind    string
	From    time.Time
	To      time.Time
}

func (f Filter) match(e Entry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := e.ParseTimestamp()
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// PolicyCount is how often a policy contributed to a decision.
type PolicyCount struct {
	Policy string `json:"policy"`
	Deny   int    `json:"deny"`
	Allow  int    `json:"allow"`
	Audit  int    `json:"audit"`
}

// Summary aggregates the entries of a log.
type Summary struct {
	Total    int           `json:"total"`
	Allow    int           `json:"allow"`
	Deny     int           `json:"deny"`
	Audited  int           `json:"audited"`
	Agents   []string      `json:"agents"`
	Policies []PolicyCount `json:"policies"`
	First    string        `json:"first,omitempty"`
	Last     string        `json:"last,omitempty"`
	Skipped  int           `json:"skipped,omitempty"`
}

// Summarize reads the log at path and aggregates entries matching filter.
// Lines that do not parse are counted as skipped.
func Summarize(path string, filter Filter) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	s := &Summary{}
	agents := map[string]bool{}
	policies := map[string]*PolicyCount{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			s.Skipped++
			continue
		}
		if !filter.match(e) {
			continue
		}

		s.Total++
		switch e.Decision {
		case "allow", "pass":
			s.Allow++
		case "deny", "block":
			s.Deny++
		}
		if e.Audit {
			s.Audited++
		}
		if e.AgentID != "" {
			agents[e.AgentID] = true
		}
		for _, m := range e.Matched {
			pc := policies[m.Policy]
			if pc == nil {
				pc = &PolicyCount{Policy: m.Policy}
				policies[m.Policy] = pc
			}
			switch m.Effect {
			case "deny":
				pc.Deny++
			case "audit":
				pc.Audit++
			default:
				pc.Allow++
			}
		}
		if s.First == "" {
			s.First = e.Timestamp
		}
		s.Last = e.Timestamp
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}

	for a := range agents {
		s.Agents = append(s.Agents, a)
	}
	sort.Strings(s.Agents)
	for _, pc := range policies {
		s.Policies = append(s.Policies, *pc)
	}
	sort.Slice(s.Policies, func(i, j int) bool {
		if s.Policies[i].Deny != s.Policies[j].Deny {
			return s.Policies[i].Deny > s.Policies[j].Deny
		}
		return s.Policies[i].Policy < s.Policies[j].Policy
	})
	return s, nil
}

// FormatSummary renders a summary as plain text.
func FormatSummary(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries: %d (%d allow, %d deny, %d audited)\n", s.Total, s.Allow, s.Deny, s.Audited)
	if s.First != "" {
		fmt.Fprintf(&b, "Range:   %s .. %s\n", s.First, s.Last)
	}
	if len(s.Agents) > 0 {
		fmt.Fprintf(&b, "Agents:  %s\n", strings.Join(s.Agents, ", "))
	}
	for _, p := range s.Policies {
		fmt.Fprintf(&b, "  %-32s deny=%d allow=%d audit=%d\n", p.Policy, p.Deny, p.Allow, p.Audit)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped %d unparseable line(s)\n", s.Skipped)
	}
	return b.String()
}
