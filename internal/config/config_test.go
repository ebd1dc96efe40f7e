package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, "kick", cfg.Backpressure)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:3000")
	assert.False(t, cfg.Redis.Enabled)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers[0].URLs)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
mode: debug
port: 9000
send_buffer: 8
allowed_origins:
  - https://chat.example.com
rate_limit:
  events: 5
  interval: 2s
redis:
  enabled: true
  addr: redis:6379
webrtc:
  ice_servers:
    - urls: ["turn:turn.example.com:3478"]
      username: relay
      credential: secret
`), 0o600))
	t.Setenv("RELAY_REDIS_DB", "3")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--config", file, "--port", "9100"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "flag overrides file")
	assert.Equal(t, 8, cfg.SendBuffer)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, RateLimit{Events: 5, Interval: 2 * time.Second}, cfg.RateLimit)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB, "env overrides default")
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, "relay", cfg.WebRTC.ICEServers[0].Username)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("send_buffer: 0\nbackpressure: panic\n"), 0o600))

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--config", file}))

	_, err := Load(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_buffer")
	assert.Contains(t, err.Error(), "backpressure")
}
