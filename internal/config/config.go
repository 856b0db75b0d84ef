package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// OCX Gateway - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Firewall  FirewallConfig  `yaml:"firewall"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	MaxFrameBytes    int    `yaml:"max_frame_bytes"`
	MaxBufferBytes   int    `yaml:"max_buffer_bytes"`
	ShutdownTimeout  int    `yaml:"shutdown_timeout_sec"`
	FrameExpiryMsecs int    `yaml:"frame_expiry_msecs"`
}

type FirewallConfig struct {
	UploadBytesPerSecond   int   `yaml:"upload_bytes_per_second"`
	DownloadBytesPerSecond int   `yaml:"download_bytes_per_second"`
	BurstSlots             int64 `yaml:"burst_slots"`
}

type HandshakeConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading config.yaml (or
// $CONFIG_PATH) on first call.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.ListenAddr = getEnv("GATEWAY_LISTEN_ADDR", c.Server.ListenAddr)
	if v := getEnvInt("GATEWAY_MAX_FRAME_BYTES", 0); v > 0 {
		c.Server.MaxFrameBytes = v
	}
	if v := getEnvInt("GATEWAY_MAX_BUFFER_BYTES", 0); v > 0 {
		c.Server.MaxBufferBytes = v
	}
	if v := getEnvInt("GATEWAY_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if v := getEnvInt("GATEWAY_FRAME_EXPIRY_MSECS", 0); v > 0 {
		c.Server.FrameExpiryMsecs = v
	}

	if v := getEnvInt("GATEWAY_UPLOAD_BYTES_PER_SEC", 0); v > 0 {
		c.Firewall.UploadBytesPerSecond = v
	}
	if v := getEnvInt("GATEWAY_DOWNLOAD_BYTES_PER_SEC", 0); v > 0 {
		c.Firewall.DownloadBytesPerSecond = v
	}
	if v := getEnvInt("GATEWAY_BURST_SLOTS", 0); v > 0 {
		c.Firewall.BurstSlots = int64(v)
	}

	if v := getEnvInt("GATEWAY_HANDSHAKE_TIMEOUT_SEC", 0); v > 0 {
		c.Handshake.TimeoutSec = v
	}

	c.Admin.ListenAddr = getEnv("GATEWAY_ADMIN_LISTEN_ADDR", c.Admin.ListenAddr)
	c.Admin.Enabled = getEnvBool("GATEWAY_ADMIN_ENABLED", c.Admin.Enabled)

	c.Logging.Level = getEnv("GATEWAY_LOG_LEVEL", c.Logging.Level)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9000"
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = 0xFFFF
	}
	if c.Server.MaxBufferBytes == 0 {
		c.Server.MaxBufferBytes = 65536
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15
	}
	if c.Server.FrameExpiryMsecs == 0 {
		c.Server.FrameExpiryMsecs = 30000
	}
	if c.Firewall.UploadBytesPerSecond == 0 {
		c.Firewall.UploadBytesPerSecond = 1 << 20
	}
	if c.Firewall.DownloadBytesPerSecond == 0 {
		c.Firewall.DownloadBytesPerSecond = 1 << 20
	}
	if c.Firewall.BurstSlots == 0 {
		c.Firewall.BurstSlots = 32
	}
	if c.Handshake.TimeoutSec == 0 {
		c.Handshake.TimeoutSec = 5
	}
	if c.Admin.ListenAddr == "" {
		c.Admin.ListenAddr = ":9001"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
