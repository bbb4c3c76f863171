package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("PYRE_DATA_DIR", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000/pyre", cfg.Client.Endpoint)
	require.Equal(t, TransportGorilla, cfg.Client.Transport)
	require.True(t, cfg.Client.Reconnect.Enabled)
	require.Equal(t, 5, cfg.Client.Reconnect.MaxAttempts)
	require.Equal(t, filepath.Join(dir, "config", "pyrechat", "session.json"), cfg.Client.TokenFile)
	require.Equal(t, filepath.Join(dir, "data", "pyrechat", "pyrechat.db"), cfg.Relay.DBPath)
	require.Equal(t, filepath.Join(dir, "state", "pyrechat", "pyrechat.log"), cfg.Log.File)
	require.Equal(t, "/pyre", cfg.Relay.Path)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "pyre.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  endpoint: wss://chat.example.com/pyre
  transport: coder
  reconnect:
    enabled: false
    max_interval: 10s
relay:
  addr: 127.0.0.1:9000
  path: chat
log:
  level: debug
`), 0o600))

	t.Setenv("PYRE_CLIENT_ENDPOINT", "ws://override:1/pyre")
	t.Setenv("PYRE_RELAY_SECRET", "s3cret")
	t.Setenv("PYRE_CLIENT_RECONNECT_MAX_ATTEMPTS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://override:1/pyre", cfg.Client.Endpoint)
	require.Equal(t, TransportCoder, cfg.Client.Transport)
	require.False(t, cfg.Client.Reconnect.Enabled)
	require.Equal(t, 9, cfg.Client.Reconnect.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.Client.Reconnect.MaxInterval)
	require.Equal(t, "127.0.0.1:9000", cfg.Relay.Addr)
	require.Equal(t, "/chat", cfg.Relay.Path)
	require.Equal(t, "s3cret", cfg.Relay.Secret)
	require.Equal(t, "debug", cfg.Log.Level)

	policy := cfg.Client.Reconnect.Policy()
	require.False(t, policy.Enabled)
	require.Equal(t, 9, policy.MaxAttempts)
	require.Equal(t, time.Second, policy.InitialInterval)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestNewDialer(t *testing.T) {
	_, err := NewDialer(ClientConfig{Transport: "gorilla"})
	require.NoError(t, err)
	_, err = NewDialer(ClientConfig{Transport: "CODER"})
	require.NoError(t, err)
	_, err = NewDialer(ClientConfig{Transport: "carrier-pigeon"})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	_, err := parseLevel("loud")
	require.Error(t, err)
	level, err := parseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, "warn", level.String())
}
