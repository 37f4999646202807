// Package strings provides string slice helpers shared by request parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every element and drops empty values and repeats,
// keeping the first occurrence. It works on any string-backed type so actor
// lists and event type lists can be cleaned without conversion.
//
//	DedupeAndTrim([]string{"  a ", "b", "a", "", "  "}) // []string{"a", "b"}
func DedupeAndTrim[S ~string](values []S) []S {
	if len(values) == 0 {
		return values
	}

	seen := make(map[S]struct{}, len(values))
	result := make([]S, 0, len(values))
	for _, v := range values {
		trimmed := S(strings.TrimSpace(string(v)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
