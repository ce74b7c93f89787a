package factcheck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fact is an authoritative (subject, predicate, value) triple.
type Fact struct {
	Subject   string `json:"subject" yaml:"subject"`
	Predicate string `json:"predicate" yaml:"predicate"`
	Value     string `json:"value" yaml:"value"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Status labels a claim against the registry.
type Status string

const (
	StatusVerified     Status = "verified"
	StatusContradicted Status = "contradicted"
	StatusUnverified   Status = "unverified"
)

// Result is the outcome of checking one claim.
type Result struct {
	Claim  Claim  `json:"claim"`
	Status Status `json:"status"`
	Fact   *Fact  `json:"fact,omitempty"`
}

// Normalize lowercases and trims a value and maps yes/no to true/false.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yes":
		return "true"
	case "no":
		return "false"
	}
	return s
}

type factKey struct {
	subject   string
	predicate string
}

func keyOf(subject, predicate string) factKey {
	return factKey{subject: Normalize(subject), predicate: Normalize(predicate)}
}

// Registry holds facts keyed by normalized (subject, predicate). Later
// registrations replace earlier ones with the same key.
type Registry struct {
	mu    sync.RWMutex
	facts map[factKey]Fact
}

// NewRegistry creates a registry seeded with facts.
func NewRegistry(facts ...Fact) *Registry {
	r := &Registry{facts: make(map[factKey]Fact)}
	r.Add(facts...)
	return r
}

// Add registers facts in order.
func (r *Registry) Add(facts ...Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range facts {
		r.facts[keyOf(f.Subject, f.Predicate)] = f
	}
}

// Lookup finds the fact for a subject and predicate.
func (r *Registry) Lookup(subject, predicate string) (Fact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.facts[keyOf(subject, predicate)]
	return f, ok
}

// Len returns the number of distinct facts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facts)
}

// Check labels a claim as verified, contradicted or unverified.
func (r *Registry) Check(c Claim) Result {
	f, ok := r.Lookup(c.Subject, c.Predicate)
	if !ok {
		return Result{Claim: c, Status: StatusUnverified}
	}
	status := StatusContradicted
	if Normalize(f.Value) == Normalize(c.Value) {
		status = StatusVerified
	}
	return Result{Claim: c, Status: status, Fact: &f}
}

// LoadFacts reads a YAML or JSON fact file. The document is either a list
// of facts or a mapping with a "facts" list.
func LoadFacts(path string) ([]Fact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("factcheck: read %s: %w", path, err)
	}
	facts, err := ParseFacts(data)
	if err != nil {
		return nil, fmt.Errorf("factcheck: %s: %w", filepath.Base(path), err)
	}
	return facts, nil
}

// ParseFacts decodes fact data. JSON is accepted as a YAML subset.
func ParseFacts(data []byte) ([]Fact, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if node.Kind == 0 || len(node.Content) == 0 {
		return nil, nil
	}
	doc := node.Content[0]

	var facts []Fact
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&facts); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var wrapped struct {
			Facts []Fact `yaml:"facts"`
		}
		if err := doc.Decode(&wrapped); err != nil {
			return nil, err
		}
		facts = wrapped.Facts
	default:
		return nil, fmt.Errorf("line %d: expected list of facts", doc.Line)
	}

	for i, f := range facts {
		if strings.TrimSpace(f.Subject) == "" || strings.TrimSpace(f.Predicate) == "" {
			return nil, fmt.Errorf("fact #%d: subject and predicate are required", i+1)
		}
	}
	return facts, nil
}
