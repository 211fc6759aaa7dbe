package config

import (
	"fmt"
	"strings"
	"time"
)

// Encryption settings. Auto keeps whatever the installation last used.
const (
	EncryptionAuto = "auto"
	EncryptionOn   = "on"
	EncryptionOff  = "off"
)

// Config holds runtime settings for the mindvault shell.
type Config struct {
	DataDir    string
	Encryption string
	UserID     string

	LogLevel   string
	LogBackend string

	OpenTimeout       time.Duration
	BlockedRetries    int
	BlockedRetryDelay time.Duration
	DeleteRetryDelay  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "mindvault-data"
	c.Encryption = EncryptionAuto
	c.UserID = "local"
	c.LogLevel = "info"
	c.LogBackend = "slog"
	c.OpenTimeout = 2 * time.Second
	c.BlockedRetries = 3
	c.BlockedRetryDelay = 200 * time.Millisecond
	c.DeleteRetryDelay = 500 * time.Millisecond
}

// Validate reports settings the shell cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Encryption) {
	case EncryptionAuto, EncryptionOn, EncryptionOff:
	default:
		return fmt.Errorf("invalid encryption setting %q, want auto, on or off", c.Encryption)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}
	if c.BlockedRetries < 0 {
		return fmt.Errorf("blocked retries must not be negative")
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
