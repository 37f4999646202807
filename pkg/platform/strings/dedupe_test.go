package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type actor string

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "trims whitespace",
			input:    []string{"  approver-a  ", "approver-b  "},
			expected: []string{"approver-a", "approver-b"},
		},
		{
			name:     "keeps the first of repeated values",
			input:    []string{"approver-b", "approver-a", "approver-b", " approver-a"},
			expected: []string{"approver-b", "approver-a"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"approval.granted", "", "  ", "approval.rejected"},
			expected: []string{"approval.granted", "approval.rejected"},
		},
		{
			name:     "preserves case",
			input:    []string{"Role:Finance", "role:finance"},
			expected: []string{"Role:Finance", "role:finance"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimNamedType(t *testing.T) {
	got := DedupeAndTrim([]actor{"lead", " lead ", "ops"})
	assert.Equal(t, []actor{"lead", "ops"}, got)
}
