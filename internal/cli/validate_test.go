package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tripsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateCommand_Valid(t *testing.T) {
	path := writeConfigFile(t, "server:\n  websocket_url: wss://trips.example.com/ws\njournal:\n  path: trips.db\n")

	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "wss://trips.example.com/ws", resp.Data.WebsocketURL)
	assert.Equal(t, "trips.db", resp.Data.Journal)
}

func TestValidateCommand_UsesConfigFlag(t *testing.T) {
	path := writeConfigFile(t, "user:\n  nickname: Mina\n")

	cmd := NewValidateCommand(&RootOptions{Format: "text", Config: path})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ Configuration valid")
}

func TestValidateCommand_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad scheme", "server:\n  websocket_url: http://trips.example.com/ws\n"},
		{"reconnect too fast", "sync:\n  reconnect_interval: 10ms\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.body)

			cmd := NewValidateCommand(&RootOptions{Format: "json"})
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs([]string{path})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeConfig, resp.Error.Code)
		})
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Error [E_CONFIG]")
}
