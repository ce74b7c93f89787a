package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var globCache sync.Map // pattern -> *regexp.Regexp

// matchGlob matches s against a pattern where * matches any run of
// characters and ? matches exactly one. Patterns without wildcards compare
// exactly.
func matchGlob(pattern, s string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == s
	}
	if pattern == "*" {
		return true
	}
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s)
	}

	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	globCache.Store(pattern, re)
	return re.MatchString(s)
}

// matchAnyGlob reports whether s matches at least one pattern.
func matchAnyGlob(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchGlob(p, s) {
			return true
		}
	}
	return false
}

// containsFold reports whether any needle occurs in s, ignoring case.
func containsFold(s string, needles []string) bool {
	ls := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(ls, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// looseEqual compares two scalar values from JSON or YAML. Numbers compare
// numerically regardless of their decoded type; everything else compares by
// string form.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(v)
	}
}
