package rules

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadPatternRules(t *testing.T) {
	tempDir := t.TempDir()

	rule1Content := `
apiVersion: vulndetector/v1
kind: PatternRule
metadata:
  id: "curl-pipe-shell"
  name: "Remote script piped to shell"
  version: "1.0.0"
spec:
  enabled: true
  match:
    contains_all: ["curl", "| sh"]
  outcome:
    category: "CICD-SEC-03: Dependency Chain Abuse"
    severity: "high"
    confidence: 0.8
    fix_key: "verify_remote_script"
`

	rule2Content := `
- apiVersion: vulndetector/v1
  kind: PatternRule
  metadata:
    id: "disabled-rule"
    name: "Disabled"
  spec:
    enabled: false
    match:
      contains_any: ["anything"]
    outcome:
      category: "X"
      severity: "low"
      confidence: 0.1
- apiVersion: vulndetector/v1
  kind: PatternRule
  metadata:
    id: "bad-severity"
    name: "Bad severity"
  spec:
    enabled: true
    match:
      contains_any: ["x"]
    outcome:
      category: "X"
      severity: "urgent"
      confidence: 0.1
---
apiVersion: vulndetector/v1
kind: PatternRule
metadata:
  id: "debug-token"
  name: "Token printed in debug output"
spec:
  enabled: true
  match:
    regex: 'token[=:]\s*\S{8,}'
    case_insensitive: true
    event_types: ["log"]
  outcome:
    category: "CICD-SEC-06: Insufficient Credential Hygiene"
    severity: "critical"
    confidence: 0.7
    fix_key: "mask_secret_in_logs"
`

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "01-curl.yaml"), []byte(rule1Content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "02-misc.yml"), []byte(rule2Content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "README.md"), []byte("not a rule"), 0644))

	loaded, err := LoadPatternRules(tempDir, testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// sorted by ID
	assert.Equal(t, "curl-pipe-shell", loaded[0].Name())
	assert.Equal(t, "debug-token", loaded[1].Name())

	curl := loaded[0]
	assert.True(t, curl.Match(model.Event{Message: "curl https://x.io/install | sh"}))
	assert.False(t, curl.Match(model.Event{Message: "curl https://x.io/install -o out"}))

	v := curl.Build(model.Event{EventID: "e9", Message: "curl https://x.io/install | sh"})
	assert.Equal(t, model.SeverityHigh, v.Severity)
	assert.Equal(t, "Remote script piped to shell", v.Description)
	assert.Equal(t, "verify_remote_script", v.SuggestedFixKey)
	assert.Equal(t, "curl-pipe-shell", v.Evidence.Rule)
	assert.Equal(t, "e9", v.Location.EventID)

	token := loaded[1]
	assert.True(t, token.Match(model.Event{Type: "log", Message: "TOKEN=abcdef123456"}))
	assert.False(t, token.Match(model.Event{Type: "command", Message: "TOKEN=abcdef123456"}))
	assert.False(t, token.Match(model.Event{Type: "log", Message: "token=short"}))
}

func TestLoadPatternRules_FilenameOverride(t *testing.T) {
	tempDir := t.TempDir()
	rule := func(severity string) string {
		return `
kind: PatternRule
metadata:
  id: "same-id"
  name: "Same"
spec:
  enabled: true
  match:
    contains_any: ["x"]
  outcome:
    category: "X"
    severity: "` + severity + `"
    confidence: 0.5
`
	}
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "01.yaml"), []byte(rule("low")), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "02.yaml"), []byte(rule("high")), 0644))

	loaded, err := LoadPatternRules(tempDir, testLogger())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, model.SeverityHigh, loaded[0].Build(model.Event{}).Severity)
	assert.Equal(t, filepath.Join(tempDir, "02.yaml"), loaded[0].(*PatternRule).SourceFile)
}

func TestLoadPatternRules_MissingDirectory(t *testing.T) {
	loaded, err := LoadPatternRules(filepath.Join(t.TempDir(), "nope"), testLogger())
	assert.NoError(t, err)
	assert.Empty(t, loaded)

	loaded, err = LoadPatternRules("", testLogger())
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadPatternRules_BrokenFileSkipped(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "broken.yaml"), []byte("metadata: [unclosed"), 0644))

	loaded, err := LoadPatternRules(tempDir, testLogger())
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPatternRule_Validate(t *testing.T) {
	base := func() PatternRule {
		return PatternRule{
			Kind:     PatternRuleKind,
			Metadata: RuleMetadata{ID: "r1", Name: "R1"},
			Spec: PatternSpec{
				Enabled: true,
				Match:   Match{ContainsAny: []string{"x"}},
				Outcome: Outcome{Category: "C", Severity: "medium", Confidence: 0.5},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *PatternRule)
		field  string
	}{
		{name: "missing id", mutate: func(r *PatternRule) { r.Metadata.ID = "" }, field: "metadata.id"},
		{name: "wrong kind", mutate: func(r *PatternRule) { r.Kind = "CorrelationRule" }, field: "kind"},
		{name: "no match clause", mutate: func(r *PatternRule) { r.Spec.Match = Match{} }, field: "spec.match"},
		{name: "missing category", mutate: func(r *PatternRule) { r.Spec.Outcome.Category = "" }, field: "spec.outcome.category"},
		{name: "bad severity", mutate: func(r *PatternRule) { r.Spec.Outcome.Severity = "nope" }, field: "spec.outcome.severity"},
		{name: "confidence above one", mutate: func(r *PatternRule) { r.Spec.Outcome.Confidence = 1.5 }, field: "spec.outcome.confidence"},
		{name: "bad regex", mutate: func(r *PatternRule) { r.Spec.Match.Regex = "(" }, field: "spec.match.regex"},
	}

	valid := base()
	require.NoError(t, valid.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			err := r.Validate()
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
