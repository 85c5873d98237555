package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoaderDefaults(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: notes
    endpoint: http://localhost:7001/rpc
    enabled: true
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, "toolgate.db", cfg.StorePath)
	assert.Equal(t, "openai", cfg.Model.Provider)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "notes", cfg.Servers[0].ID)
	// Display name falls back to the id.
	assert.Equal(t, "notes", cfg.Servers[0].DisplayName)
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("NOTES_ENDPOINT", "http://notes.internal/rpc")
	t.Setenv("NOTES_ENABLED", "true")

	path := writeConfig(t, `
servers:
  - id: notes
    endpoint: ${NOTES_ENDPOINT}
    enabled: ${NOTES_ENABLED}
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "http://notes.internal/rpc", cfg.Servers[0].Endpoint)
	assert.True(t, cfg.Servers[0].Enabled)
}

func TestLoaderRejectsBadServers(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "duplicate id",
			yaml: `
servers:
  - id: notes
    endpoint: http://a/rpc
  - id: notes
    endpoint: http://b/rpc
`,
			wantErr: "duplicate id",
		},
		{
			name: "empty id",
			yaml: `
servers:
  - id: ""
    endpoint: http://a/rpc
`,
			wantErr: "id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := NewLoader(nil).Load(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoaderAuthTokens(t *testing.T) {
	path := writeConfig(t, `
auth:
  tokens:
    tok-abc: user-1
    tok-def: user-2
`)
	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "user-1", cfg.Auth.Tokens["tok-abc"])
	assert.Equal(t, "user-2", cfg.Auth.Tokens["tok-def"])
}
