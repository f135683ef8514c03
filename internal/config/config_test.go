package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a config file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ":4317", cfg.Server.GRPCListenAddr)
		assert.Equal(t, ":8080", cfg.Server.HTTPListenAddr)
		assert.Equal(t, 10000, cfg.Buffer.Capacity)
		assert.Equal(t, time.Second, cfg.Buffer.FlushInterval)
		assert.Equal(t, 15*time.Minute, cfg.Rotation.Interval)
		assert.Equal(t, 30*time.Second, cfg.Alerting.Interval)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pharos.yaml")
		contents := `
server:
  grpc_listen_addr: ":5317"
buffer:
  capacity: 500
  flush_threshold: 50
rotation:
  interval: 5m
auth:
  tokens:
    - token: writer-token
      capabilities: ["telemetry:write"]
      projects: ["*"]
`
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":5317", cfg.Server.GRPCListenAddr)
		assert.Equal(t, 500, cfg.Buffer.Capacity)
		assert.Equal(t, 5*time.Minute, cfg.Rotation.Interval)
		require.Len(t, cfg.Auth.Tokens, 1)
		assert.Equal(t, "writer-token", cfg.Auth.Tokens[0].Token)
	})

	t.Run("rejects inconsistent buffer settings", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pharos.yaml")
		contents := `
buffer:
  capacity: 10
  flush_threshold: 100
`
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
