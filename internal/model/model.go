package model

import (
	"errors"
	"fmt"
	"strings"
)

// Severity is the severity of a detected vulnerability
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every severity from lowest to highest
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Weight returns the risk weight used when aggregating a run's risk score
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.2
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.8
	case SeverityCritical:
		return 1.0
	default:
		return 0.0
	}
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	return s.Weight() > 0
}

// ParseSeverity parses a case-insensitive severity name
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid severity %q, must be low/medium/high/critical", value)
	}
	return s, nil
}

// Event types produced by the log parser
const (
	EventTypeLog          = "log"
	EventTypeStep         = "step"
	EventTypeCommand      = "command"
	EventTypeExitCode     = "exit-code"
	EventTypeScannerAlert = "scanner-alert"
)

// Event represents one parsed unit of CI/CD execution output
type Event struct {
	EventID   string `json:"event_id" bson:"event_id"`
	RunID     string `json:"run_id,omitempty" bson:"run_id"`
	Type      string `json:"type" bson:"type"`
	JobName   string `json:"job_name,omitempty" bson:"job_name,omitempty"`
	StepName  string `json:"step_name,omitempty" bson:"step_name,omitempty"`
	Status    string `json:"status,omitempty" bson:"status,omitempty"`
	Message   string `json:"message" bson:"message"`
	Timestamp string `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Scanner   string `json:"scanner,omitempty" bson:"scanner,omitempty"`
	Severity  string `json:"severity,omitempty" bson:"severity,omitempty"`
}

var (
	// ErrMissingEventID is returned for events without an event_id
	ErrMissingEventID = errors.New("event_id is required")
	// ErrEmptyMessage is returned for events without a message
	ErrEmptyMessage = errors.New("message is required")
)

// Validate checks the invariants every event must satisfy
func (e *Event) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return ErrMissingEventID
	}
	if e.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Location points back at the event that triggered a vulnerability
type Location struct {
	JobName     string `json:"job_name,omitempty"`
	StepName    string `json:"step_name,omitempty"`
	EventID     string `json:"event_id"`
	LineExcerpt string `json:"line_excerpt,omitempty"`
}

// Evidence describes which detector produced a vulnerability
type Evidence struct {
	Rule       string   `json:"rule,omitempty"`
	Model      string   `json:"model,omitempty"`
	Confidence float64  `json:"confidence"` // 0.0 to 1.0
	Score      *float64 `json:"score,omitempty"`
}

// Source returns the model name when set, otherwise the rule name
func (e Evidence) Source() string {
	if e.Model != "" {
		return e.Model
	}
	return e.Rule
}

// Vulnerability represents one detection finding
type Vulnerability struct {
	VulnID          string   `json:"vuln_id"`
	RunID           string   `json:"run_id"`
	OWASPCategory   string   `json:"owasp_category"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	Location        Location `json:"location"`
	Evidence        Evidence `json:"evidence"`
	SuggestedFixKey string   `json:"suggested_fix_key,omitempty"`
}

// LocationFor builds the back-reference to ev, using excerpt as the line excerpt
func LocationFor(ev Event, excerpt string) Location {
	return Location{
		JobName:     ev.JobName,
		StepName:    ev.StepName,
		EventID:     ev.EventID,
		LineExcerpt: excerpt,
	}
}

// AggregateRisk returns the highest severity weight among vulns, or 0 when empty
func AggregateRisk(vulns []Vulnerability) float64 {
	risk := 0.0
	for _, v := range vulns {
		if w := v.Severity.Weight(); w > risk {
			risk = w
		}
	}
	return risk
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 {
	return &v
}
