// Package factcheck extracts factual claims from agent output and checks
// them against a registry of known facts.
package factcheck

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ClaimType identifies the detector that produced a claim.
type ClaimType string

const (
	ClaimSystemState       ClaimType = "system_state"
	ClaimEntityName        ClaimType = "entity_name"
	ClaimExistence         ClaimType = "existence"
	ClaimOperationalStatus ClaimType = "operational_status"
	ClaimSelfReferential   ClaimType = "self_referential"
)

// AllClaimTypes lists every built-in detector in scan order.
var AllClaimTypes = []ClaimType{
	ClaimSystemState,
	ClaimEntityName,
	ClaimExistence,
	ClaimOperationalStatus,
	ClaimSelfReferential,
}

// SelfSubject is the subject of self-referential claims.
const SelfSubject = "self"

// Claim is one assertion extracted from text.
type Claim struct {
	Type      ClaimType `json:"type"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	Offset    int       `json:"offset"`
}

// Detector extracts claims of one type.
type Detector interface {
	Type() ClaimType
	Detect(text string) []Claim
}

// patternDetector turns regex submatches into claims.
type patternDetector struct {
	typ     ClaimType
	re      *regexp.Regexp
	extract func(m []string) (subject, predicate, value string, ok bool)
}

func (d *patternDetector) Type() ClaimType { return d.typ }

func (d *patternDetector) Detect(text string) []Claim {
	var out []Claim
	for _, loc := range d.re.FindAllStringSubmatchIndex(text, -1) {
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		subject, predicate, value, ok := d.extract(m)
		value = strings.TrimRight(value, ".-")
		if !ok || value == "" {
			continue
		}
		out = append(out, Claim{
			Type:      d.typ,
			Subject:   subject,
			Predicate: predicate,
			Value:     value,
			Source:    m[0],
			Offset:    loc[0],
		})
	}
	return out
}

// Subjects that are pronouns or fillers rather than named entities.
var stopSubjects = map[string]bool{
	"it": true, "this": true, "that": true, "there": true, "which": true,
	"what": true, "who": true, "he": true, "she": true, "they": true,
	"everything": true, "nothing": true, "something": true,
}

func subjectOK(s string) bool {
	return s != "" && !stopSubjects[strings.ToLower(s)]
}

const subjectPattern = `([A-Za-z][\w.\-/]*)`

var (
	systemStateRe = regexp.MustCompile(`(?i)\b` + subjectPattern +
		`\s+(?:is|was|has been)\s+(?:currently\s+|now\s+|still\s+)?(running|stopped|started|active|inactive|enabled|disabled|failed|healthy|unhealthy|paused|restarting)\b`)
	operationalRe = regexp.MustCompile(`(?i)\b` + subjectPattern +
		`\s+(?:is|are|was)\s+(?:currently\s+|now\s+|still\s+)?(online|offline|up|down|available|unavailable|operational|degraded|reachable|unreachable|deployed)\b`)
	existenceRe = regexp.MustCompile(`(?i)\b` + subjectPattern +
		`\s+(exists|does not exist|doesn't exist|is missing|is present)\b`)
	entityNameRe = regexp.MustCompile(`(?i)\b` + subjectPattern +
		`\s+is\s+(?:called|named)\s+["']?([\w.\-]+)`)
	selfRe = regexp.MustCompile(`(?i)\b(?:i am|i'm|my name is)\s+(?:an?\s+|the\s+)?([\w.\-]+)|\bmy\s+(\w+)\s+is\s+([\w.\-]+)`)
)

// DefaultDetectors returns the built-in detectors for the requested types.
// An empty list selects all of them.
func DefaultDetectors(types []ClaimType) ([]Detector, error) {
	if len(types) == 0 {
		types = AllClaimTypes
	}
	out := make([]Detector, 0, len(types))
	for _, t := range types {
		d, err := builtinDetector(t)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func builtinDetector(t ClaimType) (Detector, error) {
	switch t {
	case ClaimSystemState:
		return &patternDetector{typ: t, re: systemStateRe, extract: func(m []string) (string, string, string, bool) {
			return m[1], "state", m[2], subjectOK(m[1])
		}}, nil
	case ClaimOperationalStatus:
		return &patternDetector{typ: t, re: operationalRe, extract: func(m []string) (string, string, string, bool) {
			return m[1], "status", m[2], subjectOK(m[1])
		}}, nil
	case ClaimExistence:
		return &patternDetector{typ: t, re: existenceRe, extract: func(m []string) (string, string, string, bool) {
			v := "true"
			switch strings.ToLower(m[2]) {
			case "does not exist", "doesn't exist", "is missing":
				v = "false"
			}
			return m[1], "exists", v, subjectOK(m[1])
		}}, nil
	case ClaimEntityName:
		return &patternDetector{typ: t, re: entityNameRe, extract: func(m []string) (string, string, string, bool) {
			return m[1], "name", m[2], subjectOK(m[1])
		}}, nil
	case ClaimSelfReferential:
		return &patternDetector{typ: t, re: selfRe, extract: func(m []string) (string, string, string, bool) {
			if m[1] != "" {
				return SelfSubject, "identity", m[1], true
			}
			return SelfSubject, strings.ToLower(m[2]), m[3], m[2] != ""
		}}, nil
	default:
		return nil, fmt.Errorf("factcheck: unknown detector %q", t)
	}
}

// Extract runs every detector over text and returns claims in text order.
// A claim found by several detectors at the same position is reported once.
func Extract(text string, detectors []Detector) []Claim {
	var claims []Claim
	seen := make(map[string]bool)
	for _, d := range detectors {
		for _, c := range d.Detect(text) {
			key := fmt.Sprintf("%d|%s|%s", c.Offset, Normalize(c.Subject), Normalize(c.Predicate))
			if seen[key] {
				continue
			}
			seen[key] = true
			claims = append(claims, c)
		}
	}
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Offset < claims[j].Offset })
	return claims
}
