package audit

import (
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry kinds.
const (
	KindVerdict = "verdict"
	KindOutput  = "output"
)

// MatchRef names one policy rule that contributed to a decision.
type MatchRef struct {
	Policy string `json:"policy"`
	Rule   string `json:"rule"`
	Effect string `json:"effect"`
}

// RiskRef is the risk classification at decision time.
type RiskRef struct {
	Level string  `json:"level"`
	Score float64 `json:"score"`
}

// TrustRef is the agent trust at decision time.
type TrustRef struct {
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}

// Entry is one line in the hash-chained JSONL audit log.
// Only structs and slices are used so json.Marshal output is stable and
// the line hash reproducible.
type Entry struct {
	Timestamp    string     `json:"ts"`
	Kind         string     `json:"kind"`
	EvaluationID string     `json:"evaluation_id,omitempty"`
	Hook         string     `json:"hook,omitempty"`
	AgentID      string     `json:"agent_id"`
	SessionKey   string     `json:"session_key,omitempty"`
	Tool         string     `json:"tool,omitempty"`
	Decision     string     `json:"decision"`
	Reason       string     `json:"reason"`
	Audit        bool       `json:"audit,omitempty"`
	Risk         RiskRef    `json:"risk"`
	Trust        TrustRef   `json:"trust"`
	Matched      []MatchRef `json:"matched,omitempty"`
	ConfigHash   string     `json:"config_hash"`
	PrevHash     string     `json:"prev_hash"`
}

// FromVerdict flattens an evaluation and its verdict into an entry.
func FromVerdict(ctx *model.EvaluationContext, v model.Verdict, configHash string) Entry {
	e := Entry{
		Kind:         KindVerdict,
		EvaluationID: v.EvaluationID,
		Decision:     string(v.Action),
		Reason:       v.Reason,
		Audit:        v.Audit,
		Risk:         RiskRef{Level: string(v.Risk.Level), Score: v.Risk.Score},
		Trust:        TrustRef{Score: v.Trust.Score, Tier: string(v.Trust.Tier)},
		ConfigHash:   configHash,
	}
	if ctx != nil {
		e.Hook = ctx.Hook
		e.AgentID = ctx.AgentID
		e.SessionKey = ctx.SessionKey
		e.Tool = ctx.ToolName
		if !ctx.Timestamp.IsZero() {
			e.Timestamp = ctx.Timestamp.UTC().Format(TimestampFormat)
		}
	}
	for _, m := range v.Matched {
		e.Matched = append(e.Matched, MatchRef{Policy: m.PolicyID, Rule: m.RuleID, Effect: string(m.Effect.Action)})
	}
	return e
}

// ParseTimestamp parses an entry timestamp.
func (e Entry) ParseTimestamp() (time.Time, error) {
	return time.Parse(TimestampFormat, e.Timestamp)
}
