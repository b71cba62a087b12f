package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_EmptyMessage(t *testing.T) {
	v := Extract("", "github", 0.0)

	assert.Equal(t, 0.0, v.Entropy)
	assert.False(t, math.Signbit(v.Entropy))
	assert.Equal(t, 1, v.NumLines)
	assert.Equal(t, 0, v.KeywordCount)
	assert.Equal(t, "github", v.Provider)
}

func TestExtract_NumLines(t *testing.T) {
	tests := []struct {
		message  string
		expected int
	}{
		{"single line", 1},
		{"two\nlines", 2},
		{"trailing newline\n", 2},
		{"\n\n\n", 4},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, Extract(tt.message, "gitlab", 1.0).NumLines)
		})
	}
}

func TestEntropy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{name: "single symbol", input: "aaaa", expected: 0.0},
		{name: "two symbols evenly", input: "abab", expected: 1.0},
		{name: "four symbols evenly", input: "abcd", expected: 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Entropy(tt.input), 1e-12)
		})
	}
}

func TestEntropy_NonNegative(t *testing.T) {
	inputs := []string{"x", "hello world", "AKIA1234567890EXAMPLE", "ünïcödé ✓", "\n\t "}
	for _, in := range inputs {
		assert.GreaterOrEqual(t, Entropy(in), 0.0, in)
	}
}

func TestKeywordCount(t *testing.T) {
	assert.Equal(t, 0, KeywordCount("all good"))
	assert.Equal(t, 1, KeywordCount("ERROR: build broke"))
	assert.Equal(t, 1, KeywordCount("error error error"))
	assert.Equal(t, 3, KeywordCount("Permission DENIED: unauthorized, request failed"))
}

func TestExtract_Pure(t *testing.T) {
	msg := "Step uses: actions/checkout@latest\nfatal: access denied"
	first := Extract(msg, "github", 12.5)
	second := Extract(msg, "github", 12.5)

	assert.Equal(t, first, second)
	assert.Equal(t, math.Float64bits(first.Entropy), math.Float64bits(second.Entropy))
	assert.Equal(t, 12.5, first.DurationSeconds)
}

func TestVector_Finite(t *testing.T) {
	v := Extract("ok", "github", 1.0)
	assert.True(t, v.Finite())

	v.DurationSeconds = math.NaN()
	assert.False(t, v.Finite())
}
