package scorer

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/abdelilah771/devsecops-pipeline/internal/features"
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
)

// DefaultThreshold is the phase 1 risk threshold when none is configured
const DefaultThreshold = 0.5

// UnknownCategory is returned whenever phase 2 cannot produce a category
const UnknownCategory = "Unknown"

// RiskAssessment is the phase 1 result
type RiskAssessment struct {
	Risky    bool
	Score    float64
	Degraded bool
}

// Classification is the phase 2 result
type Classification struct {
	Category   string
	Confidence float64
	Degraded   bool
}

// Scorer runs the two-phase risk model. It is immutable once built and
// safe for concurrent use.
type Scorer struct {
	phase1    *Phase1Artifact
	phase2    *Phase2Artifact
	threshold float64
}

// Load reads the phase 1 and phase 2 artifacts from dir. It never fails:
// when an artifact cannot be loaded the returned scorer is degraded for
// its whole lifetime and reports every event as non-risky.
func Load(dir string, threshold float64, logger *slog.Logger) *Scorer {
	logger.Info("Loading risk models", "model_dir", dir)

	phase1, err := readPhase1(filepath.Join(dir, Phase1File))
	if err != nil {
		logger.Error("Failed to load phase 1 model, running in degraded mode", "error", err)
		return NewDegraded()
	}
	phase2, err := readPhase2(filepath.Join(dir, Phase2File))
	if err != nil {
		logger.Error("Failed to load phase 2 model, running in degraded mode", "error", err)
		return NewDegraded()
	}

	s, err := New(phase1, phase2, threshold)
	if err != nil {
		logger.Error("Invalid risk models, running in degraded mode", "error", err)
		return NewDegraded()
	}

	logger.Info("Risk models loaded",
		"model", phase1.Name,
		"threshold", s.threshold,
		"classes", len(phase2.Classes))
	return s
}

// New builds a scorer from in-memory artifacts
func New(phase1 *Phase1Artifact, phase2 *Phase2Artifact, threshold float64) (*Scorer, error) {
	if phase1 == nil || phase2 == nil {
		return nil, fmt.Errorf("both phase 1 and phase 2 artifacts are required")
	}
	if threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0.0 and 1.0")
	}
	if err := phase1.Model.compile(); err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	for i := range phase2.Models {
		if err := phase2.Models[i].compile(); err != nil {
			return nil, fmt.Errorf("phase 2 model %d: %w", i, err)
		}
	}
	if phase1.Name == "" {
		phase1.Name = DefaultModelName
	}

	if threshold <= 0 {
		threshold = phase1.Threshold
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Scorer{phase1: phase1, phase2: phase2, threshold: threshold}, nil
}

// NewDegraded returns a scorer with no models loaded
func NewDegraded() *Scorer {
	return &Scorer{threshold: DefaultThreshold}
}

// Available reports whether the models were loaded
func (s *Scorer) Available() bool {
	return s != nil && s.phase1 != nil && s.phase2 != nil
}

// ModelName returns the name reported in model evidence
func (s *Scorer) ModelName() string {
	if !s.Available() {
		return ""
	}
	return s.phase1.Name
}

// Threshold returns the effective phase 1 threshold
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// ScoreRisk runs phase 1. Degraded scorers always return a non-risky result.
func (s *Scorer) ScoreRisk(v features.Vector) RiskAssessment {
	if !s.Available() || !v.Finite() {
		return RiskAssessment{Degraded: true}
	}

	p := sigmoid(s.phase1.Model.decision(v))
	if math.IsNaN(p) {
		return RiskAssessment{Degraded: true}
	}
	return RiskAssessment{
		Risky: p >= s.threshold,
		Score: p,
	}
}

// ClassifyCategory runs phase 2. Any failure yields UnknownCategory with zero confidence.
func (s *Scorer) ClassifyCategory(v features.Vector) Classification {
	unknown := Classification{Category: UnknownCategory, Degraded: true}
	if !s.Available() || !v.Finite() {
		return unknown
	}

	scores := make([]float64, len(s.phase2.Models))
	for i := range s.phase2.Models {
		scores[i] = s.phase2.Models[i].decision(v)
	}
	probs := softmax(scores)

	best := -1
	for i, p := range probs {
		if math.IsNaN(p) {
			return unknown
		}
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	if best < 0 || best >= len(s.phase2.Classes) {
		return unknown
	}

	return Classification{
		Category:   s.phase2.Classes[best],
		Confidence: probs[best],
	}
}

// SeverityFor maps a phase 1 risk score onto a vulnerability severity
func SeverityFor(score float64) model.Severity {
	if score > 0.8 {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	if len(z) == 0 {
		return nil
	}
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}
	sum := 0.0
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
