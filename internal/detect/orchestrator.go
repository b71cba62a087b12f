package detect

import (
	"fmt"
	"log/slog"

	"github.com/abdelilah771/devsecops-pipeline/internal/features"
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/abdelilah771/devsecops-pipeline/internal/rules"
	"github.com/abdelilah771/devsecops-pipeline/internal/scorer"
	"github.com/google/uuid"
)

const (
	// ModelRuleName is the evidence rule name of model findings
	ModelRuleName = "ai_model_phase1_phase2"
	// FixReviewAIAlert is the fix key attached to model findings
	FixReviewAIAlert = "review_ai_alert"
	// DefaultProvider is used when a run does not name its CI provider
	DefaultProvider = "unknown"
	// DefaultDurationSeconds is used when a run carries no duration
	DefaultDurationSeconds = 1.0

	maxModelExcerpt = 200
)

// RiskModel is the two-phase model consulted after the rules
type RiskModel interface {
	Available() bool
	ModelName() string
	ScoreRisk(v features.Vector) scorer.RiskAssessment
	ClassifyCategory(v features.Vector) scorer.Classification
}

// Run is the context a detection pass runs in
type Run struct {
	RunID           string
	Provider        string
	DurationSeconds float64
}

// NewRun builds a Run, applying defaults for missing provider and duration
func NewRun(runID, provider string, durationSeconds *float64) Run {
	run := Run{RunID: runID, Provider: provider, DurationSeconds: DefaultDurationSeconds}
	if run.Provider == "" {
		run.Provider = DefaultProvider
	}
	if durationSeconds != nil {
		run.DurationSeconds = *durationSeconds
	}
	return run
}

// Orchestrator merges rule and model findings into one vulnerability list per run
type Orchestrator struct {
	engine *rules.Engine
	model  RiskModel
	newID  func() string
	logger *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithIDGenerator overrides the vulnerability ID generator
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// NewOrchestrator creates a new orchestrator. A nil model runs rules only.
func NewOrchestrator(engine *rules.Engine, riskModel RiskModel, logger *slog.Logger, opts ...Option) *Orchestrator {
	if engine == nil {
		engine = rules.NewDefaultEngine()
	}
	if riskModel == nil {
		riskModel = scorer.NewDegraded()
	}
	o := &Orchestrator{
		engine: engine,
		model:  riskModel,
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ModelAvailable reports whether model-based detection is active
func (o *Orchestrator) ModelAvailable() bool {
	return o.model.Available()
}

// Detect runs detection for runID with default run context
func (o *Orchestrator) Detect(runID string, events []model.Event) []model.Vulnerability {
	return o.DetectRun(NewRun(runID, "", nil), events)
}

// DetectRun evaluates every event in order: all rules in rule order, then
// the model path. Findings for event i always precede those for event i+1.
// Identical findings on the same event are kept as distinct records.
func (o *Orchestrator) DetectRun(run Run, events []model.Event) []model.Vulnerability {
	vulns := make([]model.Vulnerability, 0)
	for _, ev := range events {
		for _, v := range o.detectEvent(run, ev) {
			v.VulnID = o.newID()
			v.RunID = run.RunID
			vulns = append(vulns, v)
		}
	}

	o.logger.Debug("Detection pass finished",
		"run_id", run.RunID,
		"event_count", len(events),
		"vulnerability_count", len(vulns))
	return vulns
}

// detectEvent never fails: a panicking rule drops that event's findings
func (o *Orchestrator) detectEvent(run Run, ev model.Event) (found []model.Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Detection panicked, event skipped",
				"run_id", run.RunID,
				"event_id", ev.EventID,
				"panic", fmt.Sprint(r))
			found = nil
		}
	}()

	found = o.engine.Evaluate(ev)
	if v, ok := o.modelFinding(ev, run); ok {
		found = append(found, v)
	}
	return found
}

// modelFinding runs phase 1 and, only when risky, phase 2
func (o *Orchestrator) modelFinding(ev model.Event, run Run) (model.Vulnerability, bool) {
	if !o.model.Available() {
		return model.Vulnerability{}, false
	}

	vector := features.Extract(ev.Message, run.Provider, run.DurationSeconds)
	risk := o.model.ScoreRisk(vector)
	if !risk.Risky {
		return model.Vulnerability{}, false
	}

	cls := o.model.ClassifyCategory(vector)
	return model.Vulnerability{
		OWASPCategory: cls.Category,
		Severity:      scorer.SeverityFor(risk.Score),
		Description:   fmt.Sprintf("AI-Detected Anomaly: %s (Confidence: %.2f)", cls.Category, cls.Confidence),
		Location:      model.LocationFor(ev, truncate(ev.Message, maxModelExcerpt)),
		Evidence: model.Evidence{
			Rule:       ModelRuleName,
			Model:      o.model.ModelName(),
			Confidence: clamp01(cls.Confidence),
			Score:      model.Float64(risk.Score),
		},
		SuggestedFixKey: FixReviewAIAlert,
	}, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
