package factcheck

// Report is the Stage 1+2 outcome for one piece of text.
type Report struct {
	Action  Action   `json:"action"`
	Reason  string   `json:"reason"`
	Claims  []Claim  `json:"claims"`
	Results []Result `json:"results"`
}

// Contradictions returns the contradicted results.
func (r Report) Contradictions() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusContradicted {
			out = append(out, res)
		}
	}
	return out
}

// Checker runs claim detection against a registry.
type Checker struct {
	detectors []Detector
	registry  *Registry
	policy    VerdictPolicy
}

// NewChecker builds a checker. A nil registry checks against no facts.
func NewChecker(detectors []Detector, registry *Registry, policy VerdictPolicy) *Checker {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Checker{detectors: detectors, registry: registry, policy: policy}
}

// Registry returns the fact registry the checker consults.
func (c *Checker) Registry() *Registry {
	return c.registry
}

// Check extracts claims from text and decides a verdict for an agent with
// the given trust score.
func (c *Checker) Check(text string, trust float64) Report {
	claims := Extract(text, c.detectors)
	results := make([]Result, 0, len(claims))
	for _, cl := range claims {
		results = append(results, c.registry.Check(cl))
	}
	action, reason := Decide(results, trust, c.policy)
	return Report{Action: action, Reason: reason, Claims: claims, Results: results}
}
