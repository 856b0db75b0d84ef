package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 0xFFFF, cfg.Server.MaxFrameBytes)
	assert.Equal(t, 65536, cfg.Server.MaxBufferBytes)
	assert.Equal(t, 15, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30000, cfg.Server.FrameExpiryMsecs)
	assert.Equal(t, 1<<20, cfg.Firewall.UploadBytesPerSecond)
	assert.Equal(t, 1<<20, cfg.Firewall.DownloadBytesPerSecond)
	assert.EqualValues(t, 32, cfg.Firewall.BurstSlots)
	assert.Equal(t, 5, cfg.Handshake.TimeoutSec)
	assert.Equal(t, ":9001", cfg.Admin.ListenAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{ListenAddr: ":8000"}}
	cfg.applyDefaults()
	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
}

func TestEnvOverridesTakePrecedenceOverFileValues(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":7777")
	t.Setenv("GATEWAY_MAX_FRAME_BYTES", "2048")
	t.Setenv("GATEWAY_ADMIN_ENABLED", "true")

	cfg := &Config{Server: ServerConfig{ListenAddr: ":9000", MaxFrameBytes: 100}}
	cfg.applyEnvOverrides()

	assert.Equal(t, ":7777", cfg.Server.ListenAddr)
	assert.Equal(t, 2048, cfg.Server.MaxFrameBytes)
	assert.True(t, cfg.Admin.Enabled)
}

func TestGetEnvIntIgnoresUnparsableValue(t *testing.T) {
	t.Setenv("GATEWAY_BURST_SLOTS", "not-a-number")
	assert.Equal(t, 7, getEnvInt("GATEWAY_BURST_SLOTS", 7))
}
