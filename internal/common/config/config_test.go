package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}")
	out := resolveEnv(in)
	assert.Contains(t, string(out), "a: va")
	assert.Contains(t, string(out), "b: db")
}

func TestLoadConfig_AppliesEnvAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	require.NoError(t, os.Chdir(tmp))

	t.Setenv("X_PORT", "9090")

	yaml := `
server:
  port: ${X_PORT}
  instance_id: relay-a
kv:
  backend: redis
  redis:
    addr: localhost:6379
auth:
  jwt_secret: a-secret-that-is-long-enough-32x
`
	file := filepath.Join(tmp, "relay.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))

	cfg, path, err := LoadConfig("relay.yaml")
	require.NoError(t, err)
	realFile, _ := filepath.EvalSymlinks(file)
	realPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, realFile, realPath)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "relay-a", cfg.Server.InstanceID)
	assert.Equal(t, "redis", cfg.KV.Backend)
	assert.Equal(t, 30*time.Second, cfg.KV.SweepInterval)
	assert.Equal(t, time.Second, cfg.Leadership.PollInterval)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "stun:stun.l.google.com:19302", cfg.ICEServers[0].URLs[0])
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, _, err := LoadConfig("/nonexistent/relay.yaml")
	assert.Error(t, err)
}
