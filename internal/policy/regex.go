package policy

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// MaxPatternLength is the longest regex source accepted from configuration.
const MaxPatternLength = 500

var (
	// ErrInvalidPattern wraps every reason a configured regex is rejected.
	ErrInvalidPattern = errors.New("invalid pattern")

	// nestedQuantifier detects a quantifier closing a group that is itself
	// quantified, e.g. (a+)+ or (x*){2}.
	nestedQuantifier = regexp.MustCompile(`[+*{]\)[+*{]`)
)

// ValidatePattern screens a configured regex before it is compiled.
func ValidatePattern(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidPattern, len(pattern), MaxPatternLength)
	}
	if nestedQuantifier.MatchString(pattern) {
		return fmt.Errorf("%w: nested quantifier", ErrInvalidPattern)
	}
	return nil
}

// RegexCache holds compiled patterns keyed by source text. Patterns that fail
// validation or compilation are remembered as rejected so they are reported
// once and never retried.
type RegexCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
	rejected map[string]error
	logger   *zap.Logger
}

// NewRegexCache creates an empty cache. A nil logger discards rejections.
func NewRegexCache(logger *zap.Logger) *RegexCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegexCache{
		compiled: make(map[string]*regexp.Regexp),
		rejected: make(map[string]error),
		logger:   logger,
	}
}

// Compile validates and compiles a pattern, caching the outcome.
func (c *RegexCache) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.compiled[pattern]
	rerr, bad := c.rejected[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	if bad {
		return nil, rerr
	}

	err := ValidatePattern(pattern)
	if err == nil {
		re, err = regexp.Compile(pattern)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if _, seen := c.rejected[pattern]; !seen {
			c.rejected[pattern] = err
			c.logger.Warn("regex pattern rejected", zap.String("pattern", truncatePattern(pattern)), zap.Error(err))
		}
		return nil, err
	}
	c.compiled[pattern] = re
	return re, nil
}

// Get returns the compiled pattern, compiling it on first use after the same
// screening as Compile. Rejected patterns return false.
func (c *RegexCache) Get(pattern string) (*regexp.Regexp, bool) {
	re, err := c.Compile(pattern)
	return re, err == nil
}

// MatchString reports whether s matches pattern. Rejected patterns never match.
func (c *RegexCache) MatchString(pattern, s string) bool {
	re, ok := c.Get(pattern)
	return ok && re.MatchString(s)
}

// Len returns the number of compiled patterns.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

func truncatePattern(p string) string {
	if len(p) <= 80 {
		return p
	}
	return p[:80] + "..."
}
