package trust

import (
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// DocumentVersion is the current persisted trust document version.
const DocumentVersion = 1

// EventType labels a history entry.
type EventType string

const (
	EventCreated   EventType = "created"
	EventSuccess   EventType = "success"
	EventViolation EventType = "violation"
	EventManual    EventType = "manual"
	EventLock      EventType = "lock"
	EventUnlock    EventType = "unlock"
	EventFloor     EventType = "floor"
	EventDecay     EventType = "decay"
	EventReset     EventType = "reset"
)

// Event is one entry of an agent's trust history.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Delta     float64   `json:"delta"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
}

// AgentTrust is the persisted trust state of one agent.
type AgentTrust struct {
	AgentID        string           `json:"agentId"`
	Score          float64          `json:"score"`
	Tier           model.TrustTier  `json:"tier"`
	Signals        Signals          `json:"signals"`
	History        []Event          `json:"history"`
	Locked         *model.TrustTier `json:"locked,omitempty"`
	Floor          float64          `json:"floor,omitempty"`
	Created        time.Time        `json:"created"`
	LastEvaluation time.Time        `json:"lastEvaluation"`
}

// Snapshot returns the score/tier pair used in evaluation contexts.
func (a *AgentTrust) Snapshot() model.TrustSnapshot {
	return model.TrustSnapshot{Score: a.Score, Tier: a.Tier}
}

func (a *AgentTrust) clone() AgentTrust {
	c := *a
	c.History = append([]Event(nil), a.History...)
	if a.Locked != nil {
		l := *a.Locked
		c.Locked = &l
	}
	return c
}

// Document is the versioned persisted form of the whole trust store.
type Document struct {
	Version int                   `json:"version"`
	Updated time.Time             `json:"updated"`
	Agents  map[string]AgentTrust `json:"agents"`
}

// NewDocument returns an empty current-version document.
func NewDocument() *Document {
	return &Document{
		Version: DocumentVersion,
		Updated: time.Now().UTC(),
		Agents:  make(map[string]AgentTrust),
	}
}
