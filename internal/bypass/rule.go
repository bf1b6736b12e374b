package bypass

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vyrodovalexey/apiguard/internal/config"
)

// Kind is the rule match strategy.
type Kind string

const (
	// MatchExact matches the whole path, with a single trailing slash
	// treated as equivalent.
	MatchExact Kind = "exact"

	// MatchPrefix matches the path itself or anything below it.
	MatchPrefix Kind = "prefix"

	// MatchPattern matches the path against a compiled regular expression.
	MatchPattern Kind = "pattern"
)

// ErrInvalidRule indicates a bypass rule that cannot be constructed.
var ErrInvalidRule = errors.New("invalid bypass rule")

// Rule is one immutable bypass rule. Pattern-kind rules compile their
// matcher once at construction.
type Rule struct {
	pattern     string
	normalized  string
	kind        Kind
	rateLimited bool
	regex       *regexp.Regexp
}

// NewRule constructs a rule, normalizing its pattern and compiling it
// when the kind is MatchPattern.
func NewRule(pattern string, kind Kind, rateLimited bool) (*Rule, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidRule)
	}

	r := &Rule{
		pattern:     pattern,
		kind:        kind,
		rateLimited: rateLimited,
	}

	switch kind {
	case MatchExact, MatchPrefix:
		r.normalized = NormalizePath(pattern)
	case MatchPattern:
		regex, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		r.regex = regex
	default:
		return nil, fmt.Errorf("%w: unknown match kind %q", ErrInvalidRule, kind)
	}

	return r, nil
}

// FromConfig builds rules from their configuration form. Any invalid
// rule fails the whole set; this is a startup-only error.
func FromConfig(cfgs []config.RuleConfig) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		rule, err := NewRule(rc.Pattern, Kind(strings.ToLower(rc.Match)), rc.RateLimited)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Pattern, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Pattern returns the raw rule pattern.
func (r *Rule) Pattern() string {
	return r.pattern
}

// Kind returns the match kind.
func (r *Rule) Kind() Kind {
	return r.kind
}

// RateLimited reports whether a match still consumes quota.
func (r *Rule) RateLimited() bool {
	return r.rateLimited
}

// Matches checks the candidate path against the rule. The candidate is
// normalized the same way rule patterns are.
func (r *Rule) Matches(path string) bool {
	path = NormalizePath(path)

	switch r.kind {
	case MatchExact:
		return path == r.normalized
	case MatchPrefix:
		return path == r.normalized || strings.HasPrefix(path, r.normalized+"/")
	case MatchPattern:
		return r.regex.MatchString(path)
	default:
		return false
	}
}

// NormalizePath strips any query or fragment, collapses duplicate
// slashes, ensures a leading slash, and drops a single trailing slash
// (the root path stays "/").
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if idx := strings.IndexByte(path, '#'); idx >= 0 {
		path = path[:idx]
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	return path
}
