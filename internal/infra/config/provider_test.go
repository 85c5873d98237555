package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderReload(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: notes
    endpoint: http://localhost:7001/rpc
    enabled: true
`)
	provider, err := NewProvider(context.Background(), path, nil)
	require.NoError(t, err)

	snapshot := provider.Snapshot()
	require.Len(t, snapshot.Servers, 1)
	assert.True(t, snapshot.Servers[0].Enabled)

	notified := 0
	provider.OnChange(func() { notified++ })

	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - id: notes
    endpoint: http://localhost:7001/rpc
    enabled: false
  - id: mail
    endpoint: http://localhost:7002/rpc
    enabled: true
`), 0o600))
	require.NoError(t, provider.Reload(context.Background()))

	snapshot = provider.Snapshot()
	require.Len(t, snapshot.Servers, 2)
	assert.False(t, snapshot.Servers[0].Enabled)
	assert.Equal(t, "mail", snapshot.Servers[1].ID)
	assert.Equal(t, 1, notified)
}

func TestProviderReloadKeepsSnapshotOnBadConfig(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: notes
    endpoint: http://localhost:7001/rpc
`)
	provider, err := NewProvider(context.Background(), path, nil)
	require.NoError(t, err)

	notified := 0
	provider.OnChange(func() { notified++ })

	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - id: notes
    endpoint: http://a/rpc
  - id: notes
    endpoint: http://b/rpc
`), 0o600))
	require.Error(t, provider.Reload(context.Background()))

	// The last good snapshot stays in place and nobody is notified.
	snapshot := provider.Snapshot()
	require.Len(t, snapshot.Servers, 1)
	assert.Zero(t, notified)
}

func TestProviderMissingFile(t *testing.T) {
	_, err := NewProvider(context.Background(), "does-not-exist.yaml", nil)
	require.Error(t, err)
}
