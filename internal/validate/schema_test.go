package validate

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *SchemaValidator {
	t.Helper()
	v, err := NewSchemaValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func TestValidateRunReady(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "full message",
			body: `{"run_id":"r1","status":"parsed","provider":"GITHUB","duration_seconds":12.5}`,
		},
		{
			name: "extra upstream fields",
			body: `{"run_id":"r1","repo_name":"org/repo","pipeline_name":"ci","environment":"prod"}`,
		},
		{
			name: "missing run_id is left to the decoder",
			body: `{"status":"parsed"}`,
		},
		{
			name: "null duration",
			body: `{"run_id":"r1","duration_seconds":null}`,
		},
		{
			name:    "numeric run_id",
			body:    `{"run_id":42}`,
			wantErr: true,
		},
		{
			name:    "negative duration",
			body:    `{"run_id":"r1","duration_seconds":-1}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			body:    `["r1"]`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			body:    `run_id=r1`,
			wantErr: true,
		},
		{
			name: "integer duration beyond float precision",
			body: `{"run_id":"r1","duration_seconds":90071992547409931}`,
		},
		{
			name: "trailing whitespace",
			body: "{\"run_id\":\"r1\"}\n  ",
		},
		{
			name:    "trailing data",
			body:    `{"run_id":"r1"} {"run_id":"r2"}`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRunReady([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateDetectRequest(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "minimal request",
			body: `{"run_id":"r1","events":[]}`,
		},
		{
			name: "request with metadata and events",
			body: `{
				"run_id":"r1",
				"provider":"github",
				"metadata":{"repo":"org/repo","branch":"main","duration_seconds":30},
				"events":[{"event_id":"e1","type":"log","message":"uses: a/b@latest","job_name":"build"}]
			}`,
		},
		{
			name: "events left to the event store",
			body: `{"run_id":"r1"}`,
		},
		{
			name:    "missing run_id",
			body:    `{"events":[]}`,
			wantErr: true,
		},
		{
			name:    "empty run_id",
			body:    `{"run_id":"","events":[]}`,
			wantErr: true,
		},
		{
			name:    "event without message",
			body:    `{"run_id":"r1","events":[{"event_id":"e1"}]}`,
			wantErr: true,
		},
		{
			name:    "event with empty id",
			body:    `{"run_id":"r1","events":[{"event_id":"","message":"x"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDetectRequest([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecodeJSON_KeepsNumbers(t *testing.T) {
	doc, err := decodeJSON([]byte(`{"duration_seconds":12.5}`))
	require.NoError(t, err)

	obj, ok := doc.(map[string]interface{})
	require.True(t, ok)
	assert.IsType(t, json.Number(""), obj["duration_seconds"])
}
