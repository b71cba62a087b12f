package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateRisk(t *testing.T) {
	tests := []struct {
		name       string
		severities []Severity
		expected   float64
	}{
		{name: "no vulnerabilities", severities: nil, expected: 0.0},
		{name: "high and low", severities: []Severity{SeverityHigh, SeverityLow}, expected: 0.8},
		{name: "single medium", severities: []Severity{SeverityMedium}, expected: 0.5},
		{name: "critical wins", severities: []Severity{SeverityLow, SeverityCritical, SeverityHigh}, expected: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vulns []Vulnerability
			for _, s := range tt.severities {
				vulns = append(vulns, Vulnerability{Severity: s})
			}
			assert.Equal(t, tt.expected, AggregateRisk(vulns))
		})
	}
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("high")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestDecodeRunReady(t *testing.T) {
	t.Run("valid message with extra fields", func(t *testing.T) {
		msg, err := DecodeRunReady([]byte(`{"run_id":"run-42","status":"PARSED","unexpected":true}`))
		require.NoError(t, err)
		assert.Equal(t, "run-42", msg.RunID)
		assert.Equal(t, "PARSED", msg.Status)
		assert.Nil(t, msg.DurationSeconds)
	})

	t.Run("missing run_id", func(t *testing.T) {
		_, err := DecodeRunReady([]byte(`{"status":"PARSED"}`))
		assert.True(t, errors.Is(err, ErrMissingRunID))
	})

	t.Run("blank run_id", func(t *testing.T) {
		_, err := DecodeRunReady([]byte(`{"run_id":"   "}`))
		assert.True(t, errors.Is(err, ErrMissingRunID))
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeRunReady([]byte(`run_id=42`))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})
}

func TestEventValidate(t *testing.T) {
	ev := Event{EventID: "e1", Message: "hello"}
	assert.NoError(t, ev.Validate())

	ev = Event{Message: "hello"}
	assert.ErrorIs(t, ev.Validate(), ErrMissingEventID)

	ev = Event{EventID: "e1"}
	assert.ErrorIs(t, ev.Validate(), ErrEmptyMessage)
}

func TestNewDetectionResult(t *testing.T) {
	clean := NewDetectionResult("run-1", nil)
	assert.Equal(t, StatusClean, clean.Status)
	assert.NotNil(t, clean.Vulnerabilities)
	assert.Equal(t, 0.0, clean.RiskScore)

	found := NewDetectionResult("run-1", []Vulnerability{{Severity: SeverityCritical}})
	assert.Equal(t, StatusVulnerabilitiesFound, found.Status)
	assert.Equal(t, 1.0, found.RiskScore)
}
