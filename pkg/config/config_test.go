package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10*time.Second, cfg.Signaling.SubscribeTimeout)
	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Session.Disconnected.Base)
	assert.Equal(t, 1.5, cfg.Session.Disconnected.Multiplier)
	assert.Equal(t, time.Second, cfg.Session.Failed.Base)
	assert.Equal(t, 2.0, cfg.Session.Failed.Multiplier)
	assert.Equal(t, 3*time.Second, cfg.Broadcast.AnnounceInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Viewer.InitialOfferDelay)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Relay.Address, cfg.Relay.Address)
}

func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
relay:
  address: ":9999"
broadcast:
  announce_interval: 5s
viewer:
  initial_offer_delay: 100ms
session:
  max_attempts: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Relay.Address)
	assert.Equal(t, 5*time.Second, cfg.Broadcast.AnnounceInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Viewer.InitialOfferDelay)
	assert.Equal(t, 7, cfg.Session.MaxAttempts)
	// Untouched sections keep defaults.
	assert.Equal(t, 10*time.Second, cfg.Signaling.SubscribeTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty relay address",
			mutate:  func(c *Config) { c.Relay.Address = "" },
			wantErr: "relay.address",
		},
		{
			name:    "zero subscribe timeout",
			mutate:  func(c *Config) { c.Signaling.SubscribeTimeout = 0 },
			wantErr: "signaling.subscribe_timeout",
		},
		{
			name:    "half-open port range",
			mutate:  func(c *Config) { c.WebRTC.PortRange.Min = 10000 },
			wantErr: "webrtc.port_range",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Session.Failed.Multiplier = 0.5 },
			wantErr: "session.failed",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "ftp" },
			wantErr: "storage.backend",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Backend = "s3"; c.Storage.Bucket = "" },
			wantErr: "storage.bucket",
		},
		{
			name:    "redis enabled without address",
			mutate:  func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
			wantErr: "redis.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIVECAST_RELAY_ADDRESS", ":7777")
	t.Setenv("LIVECAST_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Relay.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
