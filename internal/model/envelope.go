package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Detection result statuses
const (
	StatusVulnerabilitiesFound = "VULNERABILITIES_FOUND"
	StatusClean                = "CLEAN"
)

var (
	// ErrMalformedEnvelope is returned when a message body cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrMissingRunID is returned when a message carries no run_id
	ErrMissingRunID = errors.New("run_id is required")
)

// RunReady is the inbound "run ready for detection" message
type RunReady struct {
	RunID           string   `json:"run_id"`
	Status          string   `json:"status,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// DecodeRunReady decodes an inbound message body.
// Unknown fields are ignored; a missing run_id yields ErrMissingRunID.
func DecodeRunReady(data []byte) (RunReady, error) {
	var msg RunReady
	if err := json.Unmarshal(data, &msg); err != nil {
		return RunReady{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	msg.RunID = strings.TrimSpace(msg.RunID)
	if msg.RunID == "" {
		return msg, ErrMissingRunID
	}
	return msg, nil
}

// DetectionResult is the outbound envelope published when a run has findings
type DetectionResult struct {
	RunID           string          `json:"run_id"`
	Status          string          `json:"status"`
	RiskScore       float64         `json:"risk_score"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// NewDetectionResult builds the envelope for a run's vulnerabilities
func NewDetectionResult(runID string, vulns []Vulnerability) DetectionResult {
	status := StatusClean
	if len(vulns) > 0 {
		status = StatusVulnerabilitiesFound
	}
	if vulns == nil {
		vulns = []Vulnerability{}
	}
	return DetectionResult{
		RunID:           runID,
		Status:          status,
		RiskScore:       AggregateRisk(vulns),
		Vulnerabilities: vulns,
	}
}

// RunMetadata carries optional run context sent with synchronous detection requests
type RunMetadata struct {
	Repo            string   `json:"repo,omitempty"`
	Branch          string   `json:"branch,omitempty"`
	PipelineName    string   `json:"pipeline_name,omitempty"`
	Environment     string   `json:"environment,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// DetectRequest is the body of a synchronous detection request
type DetectRequest struct {
	RunID    string       `json:"run_id"`
	Provider string       `json:"provider"`
	Metadata *RunMetadata `json:"metadata,omitempty"`
	Events   []Event      `json:"events"`
}

// DetectResponse is returned for a synchronous detection request
type DetectResponse struct {
	RunID           string          `json:"run_id"`
	RiskScore       float64         `json:"risk_score"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}
