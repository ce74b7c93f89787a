package outputval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/factcheck"
)

// Issue is one problem reported by the Stage 3 reviewer.
type Issue struct {
	Category    string `json:"category"`
	Claim       string `json:"claim,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Severity    string `json:"severity"`
}

// Stage3Result is the reviewer verdict.
type Stage3Result struct {
	Action   factcheck.Action `json:"action"`
	Issues   []Issue          `json:"issues,omitempty"`
	Reason   string           `json:"reason"`
	Fallback bool             `json:"fallback,omitempty"`
}

type stage3Response struct {
	Verdict string  `json:"verdict"`
	Issues  []Issue `json:"issues"`
	Reason  string  `json:"reason"`
}

const promptTemplate = `You review messages an autonomous agent is about to send outside its organization.
Check the message for factual errors, fabricated claims about systems or people, leaked secrets, and statements the agent cannot know.

Agent trust score: %.0f/100
Known facts:
%s
Automated claim check: %s

Message:
<<<
%s
>>>

Reply with JSON only, no prose:
{"verdict": "pass|flag|block", "issues": [{"category": "...", "claim": "...", "explanation": "...", "severity": "low|medium|high|critical"}], "reason": "..."}`

func buildPrompt(text string, trust float64, report factcheck.Report) string {
	var facts strings.Builder
	for _, r := range report.Results {
		if r.Fact != nil {
			fmt.Fprintf(&facts, "- %s %s = %s\n", r.Fact.Subject, r.Fact.Predicate, r.Fact.Value)
		}
	}
	if facts.Len() == 0 {
		facts.WriteString("- (none relevant)\n")
	}
	return fmt.Sprintf(promptTemplate, trust, strings.TrimRight(facts.String(), "\n"), report.Reason, text)
}

// ParseResponse decodes a reviewer reply. Code fences and surrounding prose
// are tolerated. A reply that cannot be decoded passes with no issues and a
// reason describing the problem.
func ParseResponse(raw string) Stage3Result {
	body := extractJSON(raw)
	if body == "" {
		return Stage3Result{Action: factcheck.ActionPass, Reason: "reviewer reply contained no JSON object"}
	}

	var resp stage3Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Stage3Result{Action: factcheck.ActionPass, Reason: fmt.Sprintf("reviewer reply malformed: %v", err)}
	}

	action := factcheck.Action(strings.ToLower(strings.TrimSpace(resp.Verdict)))
	switch action {
	case factcheck.ActionPass, factcheck.ActionFlag, factcheck.ActionBlock:
	default:
		return Stage3Result{
			Action: factcheck.ActionPass,
			Issues: resp.Issues,
			Reason: fmt.Sprintf("reviewer verdict %q not recognized", resp.Verdict),
		}
	}

	reason := strings.TrimSpace(resp.Reason)
	if reason == "" {
		reason = fmt.Sprintf("%s with %d issue(s)", action, len(resp.Issues))
	}
	return Stage3Result{Action: action, Issues: resp.Issues, Reason: reason}
}

// extractJSON strips markdown fences and returns the outermost {...} span.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
