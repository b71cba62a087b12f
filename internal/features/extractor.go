package features

import (
	"math"
	"strings"
)

// Keywords is the fixed keyword set counted by KeywordCount.
// The trained models depend on this exact list.
var Keywords = []string{"error", "fail", "exception", "fatal", "denied", "forbidden", "unauthorized"}

// Vector is the feature vector derived from a single event message
type Vector struct {
	Text            string  `json:"log_text"`
	Provider        string  `json:"provider"`
	DurationSeconds float64 `json:"duration_seconds"`
	NumLines        int     `json:"num_lines"`
	Entropy         float64 `json:"entropy"`
	KeywordCount    int     `json:"keyword_count"`
}

// Extract derives the feature vector for message. It is a pure function.
func Extract(message, provider string, durationSeconds float64) Vector {
	return Vector{
		Text:            message,
		Provider:        provider,
		DurationSeconds: durationSeconds,
		NumLines:        strings.Count(message, "\n") + 1,
		Entropy:         Entropy(message),
		KeywordCount:    KeywordCount(message),
	}
}

// Entropy returns the base-2 Shannon entropy of the code points in s.
// Terms are summed in first-appearance order so the result is stable
// bit for bit.
func Entropy(s string) float64 {
	if s == "" {
		return 0.0
	}

	counts := make(map[rune]int)
	var order []rune
	total := 0
	for _, r := range s {
		if _, seen := counts[r]; !seen {
			order = append(order, r)
		}
		counts[r]++
		total++
	}

	entropy := 0.0
	for _, r := range order {
		p := float64(counts[r]) / float64(total)
		entropy += p * math.Log(p) / math.Log(2.0)
	}
	if entropy == 0 {
		// avoid -0.0 for single-symbol strings
		return 0.0
	}
	return -entropy
}

// KeywordCount returns how many distinct keywords occur in s, ignoring case
func KeywordCount(s string) int {
	lower := strings.ToLower(s)
	count := 0
	for _, k := range Keywords {
		if strings.Contains(lower, k) {
			count++
		}
	}
	return count
}

// Numeric returns the named numeric features of v
func (v Vector) Numeric() map[string]float64 {
	return map[string]float64{
		"num_lines":        float64(v.NumLines),
		"entropy":          v.Entropy,
		"keyword_count":    float64(v.KeywordCount),
		"duration_seconds": v.DurationSeconds,
	}
}

// Finite reports whether every numeric feature is a finite number
func (v Vector) Finite() bool {
	for _, f := range v.Numeric() {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
