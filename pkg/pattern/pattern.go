// Package pattern matches strings against configurable patterns, used for
// request blocklists and host filters.
//
// Pattern syntax:
//
//   - "~expr"  case-sensitive regular expression
//   - "~*expr" case-insensitive regular expression
//   - any pattern containing "*": wildcard match, case-insensitive,
//     where * matches any run of characters including none
//   - anything else: case-insensitive exact match
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled matcher. Compile once at startup or config load;
// Match is safe for concurrent use.
type Pattern struct {
	raw      string
	wildcard string         // lowercased wildcard pattern, empty unless wildcard
	exact    string         // exact pattern, empty unless exact
	re       *regexp.Regexp // nil unless regexp
}

// Compile parses a pattern string into a matcher.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{raw: raw}

	switch {
	case strings.HasPrefix(raw, "~*"):
		re, err := regexp.Compile("(?i)" + raw[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		p.re = re
	case strings.HasPrefix(raw, "~"):
		re, err := regexp.Compile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		p.re = re
	case strings.Contains(raw, "*"):
		p.wildcard = strings.ToLower(raw)
	default:
		p.exact = raw
	}

	return p, nil
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether input matches the pattern.
func (p *Pattern) Match(input string) bool {
	switch {
	case p == nil:
		return false
	case p.re != nil:
		return p.re.MatchString(input)
	case p.wildcard != "":
		return MatchWildcard(strings.ToLower(input), p.wildcard)
	default:
		return strings.EqualFold(input, p.exact)
	}
}

// MatchWildcard matches text against a wildcard pattern where each * matches
// any run of characters. Both arguments are taken as-is; callers wanting
// case-insensitive behavior lowercase both sides first.
func MatchWildcard(text, pat string) bool {
	if !strings.Contains(pat, "*") {
		return text == pat
	}

	parts := strings.Split(pat, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(text, last) {
		return false
	}
	text = text[:len(text)-len(last)]

	// Interior fragments must appear in order
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx == -1 {
			return false
		}
		text = text[idx+len(part):]
	}

	return true
}
