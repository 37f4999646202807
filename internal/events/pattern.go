package events

import (
	"fmt"
	"strings"
)

// Pattern selects event types for a subscription: "*" (everything),
// "approval.*" (a dotted prefix) or an exact type name.
type Pattern string

const MatchAll Pattern = "*"

// ParsePattern validates a subscription pattern.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", fmt.Errorf("empty event type pattern")
	case s == string(MatchAll):
		return MatchAll, nil
	case strings.HasSuffix(s, ".*"):
		if strings.Contains(strings.TrimSuffix(s, ".*"), "*") {
			return "", fmt.Errorf("invalid event type pattern %q", s)
		}
		return Pattern(s), nil
	case strings.Contains(s, "*"):
		return "", fmt.Errorf("invalid event type pattern %q", s)
	}
	return Pattern(s), nil
}

// Matches reports whether t is selected by the pattern.
func (p Pattern) Matches(t Type) bool {
	switch {
	case p == MatchAll:
		return true
	case strings.HasSuffix(string(p), ".*"):
		return strings.HasPrefix(string(t), strings.TrimSuffix(string(p), "*"))
	}
	return string(p) == string(t)
}
