package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
)

// PatternRuleKind is the kind accepted in rule files
const PatternRuleKind = "PatternRule"

// RuleMetadata contains metadata about a rule
type RuleMetadata struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Match defines which event messages a pattern rule fires on.
// All populated clauses must hold.
type Match struct {
	ContainsAll     []string `yaml:"contains_all" json:"contains_all"`
	ContainsAny     []string `yaml:"contains_any" json:"contains_any"`
	Regex           string   `yaml:"regex" json:"regex"`
	CaseInsensitive bool     `yaml:"case_insensitive" json:"case_insensitive"`
	EventTypes      []string `yaml:"event_types" json:"event_types"`
}

// Outcome defines the vulnerability produced when a rule fires
type Outcome struct {
	Category    string  `yaml:"category" json:"category"`
	Severity    string  `yaml:"severity" json:"severity"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
	Description string  `yaml:"description" json:"description"`
	FixKey      string  `yaml:"fix_key" json:"fix_key"`
}

// PatternSpec contains the rule specification
type PatternSpec struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Match   Match   `yaml:"match" json:"match"`
	Outcome Outcome `yaml:"outcome" json:"outcome"`
}

// PatternRule is an operator-defined rule loaded from a rule file
type PatternRule struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Kind       string       `yaml:"kind" json:"kind"`
	Metadata   RuleMetadata `yaml:"metadata" json:"metadata"`
	Spec       PatternSpec  `yaml:"spec" json:"spec"`
	SourceFile string       `yaml:"-" json:"source_file"`

	severity model.Severity
	regex    *regexp.Regexp
}

// ValidationError represents a rule validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsEnabled checks if the rule is enabled
func (r *PatternRule) IsEnabled() bool {
	return r.Spec.Enabled
}

// Validate checks the rule and compiles its regex
func (r *PatternRule) Validate() error {
	if r.Metadata.ID == "" {
		return &ValidationError{Field: "metadata.id", Message: "rule ID is required"}
	}
	if r.Kind != "" && r.Kind != PatternRuleKind {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported kind %q", r.Kind)}
	}

	m := r.Spec.Match
	if len(m.ContainsAll) == 0 && len(m.ContainsAny) == 0 && m.Regex == "" {
		return &ValidationError{Field: "spec.match", Message: "at least one of contains_all, contains_any or regex is required"}
	}

	if r.Spec.Outcome.Category == "" {
		return &ValidationError{Field: "spec.outcome.category", Message: "category is required"}
	}
	severity, err := model.ParseSeverity(r.Spec.Outcome.Severity)
	if err != nil {
		return &ValidationError{Field: "spec.outcome.severity", Message: err.Error()}
	}
	if r.Spec.Outcome.Confidence < 0.0 || r.Spec.Outcome.Confidence > 1.0 {
		return &ValidationError{Field: "spec.outcome.confidence", Message: "confidence must be between 0.0 and 1.0"}
	}

	if m.Regex != "" {
		expr := m.Regex
		if m.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return &ValidationError{Field: "spec.match.regex", Message: err.Error()}
		}
		r.regex = re
	}

	r.severity = severity
	return nil
}

// Name returns the rule ID
func (r *PatternRule) Name() string {
	return r.Metadata.ID
}

// Match reports whether ev satisfies every populated clause
func (r *PatternRule) Match(ev model.Event) bool {
	m := r.Spec.Match

	if len(m.EventTypes) > 0 && !containsString(m.EventTypes, ev.Type) {
		return false
	}

	msg := ev.Message
	if m.CaseInsensitive {
		msg = strings.ToLower(msg)
	}
	norm := func(s string) string {
		if m.CaseInsensitive {
			return strings.ToLower(s)
		}
		return s
	}

	for _, s := range m.ContainsAll {
		if !strings.Contains(msg, norm(s)) {
			return false
		}
	}

	if len(m.ContainsAny) > 0 {
		found := false
		for _, s := range m.ContainsAny {
			if strings.Contains(msg, norm(s)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.regex != nil && !r.regex.MatchString(ev.Message) {
		return false
	}
	return true
}

// Build creates the vulnerability described by the rule outcome
func (r *PatternRule) Build(ev model.Event) model.Vulnerability {
	description := r.Spec.Outcome.Description
	if description == "" {
		description = r.Metadata.Name
	}
	return model.Vulnerability{
		OWASPCategory:   r.Spec.Outcome.Category,
		Severity:        r.severity,
		Description:     description,
		Location:        model.LocationFor(ev, ev.Message),
		Evidence:        model.Evidence{Rule: r.Metadata.ID, Confidence: r.Spec.Outcome.Confidence},
		SuggestedFixKey: r.Spec.Outcome.FixKey,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
