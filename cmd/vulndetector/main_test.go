package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/abdelilah771/devsecops-pipeline/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectRequest = `{
  "run_id": "run-42",
  "provider": "github",
  "events": [
    {"event_id": "e1", "message": "uses: actions/checkout@latest"},
    {"event_id": "e2", "message": "npm ci"},
    {"event_id": "e3", "message": "export AWS_SECRET_ACCESS_KEY=abc"}
  ]
}`

func executeDetect(t *testing.T, stdin string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	t.Setenv("VULNDET_LOG_LEVEL", "error")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"detect"}, args...))
	return out, cmd.Execute()
}

func TestDetectCommand_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(detectRequest), 0o600))

	out, err := executeDetect(t, "", "--file", path)
	require.NoError(t, err)

	var resp model.DetectResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "run-42", resp.RunID)
	require.Len(t, resp.Vulnerabilities, 2)
	assert.Equal(t, rules.UnpinnedActionRule, resp.Vulnerabilities[0].Evidence.Rule)
	assert.Equal(t, rules.SecretLeakRule, resp.Vulnerabilities[1].Evidence.Rule)
	assert.Equal(t, "run-42", resp.Vulnerabilities[1].RunID)
	assert.InDelta(t, model.AggregateRisk(resp.Vulnerabilities), resp.RiskScore, 1e-9)
}

func TestDetectCommand_FromStdin(t *testing.T) {
	out, err := executeDetect(t, `{"run_id":"run-7","events":[{"event_id":"e1","message":"ok"}]}`, "--file", "-")
	require.NoError(t, err)

	var resp model.DetectResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "run-7", resp.RunID)
	assert.Empty(t, resp.Vulnerabilities)
	assert.Zero(t, resp.RiskScore)
}

func TestDetectCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{name: "missing file", args: []string{"--file", filepath.Join(t.TempDir(), "nope.json")}},
		{name: "invalid json", stdin: "{", args: []string{"--file", "-"}},
		{name: "missing run_id", stdin: `{"events":[]}`, args: []string{"--file", "-"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeDetect(t, tt.stdin, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "detect", "migrate"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestDetectCommand_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  dedupe_policy: sometimes\n"), 0o600))

	_, err := executeDetect(t, `{"run_id":"r"}`, "--config", path, "--file", "-")
	assert.ErrorContains(t, err, "dedupe_policy")
}
