// Package config holds the player and server configuration, loaded from
// YAML with sane defaults for every field.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/guacplay/guacplay/internal/logging"
)

// Config is the complete guacplay configuration
type Config struct {
	Player PlayerConfig `yaml:"player"`
	Server ServerConfig `yaml:"server"`
}

// PlayerConfig contains playback and ingest settings
type PlayerConfig struct {
	LogLevel     string `yaml:"log_level"`      // debug, info, warn, error
	LogFormat    string `yaml:"log_format"`     // "json" or "text"
	FollowPollMs int    `yaml:"follow_poll_ms"` // Poll fallback when watching a growing capture (default: 500)
}

// ServerConfig contains playback server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"` // Address for the HTTP/WebSocket server (default: 127.0.0.1:4822)

	// Connection limits
	MaxSessions int `yaml:"max_sessions"` // Max concurrent playback sessions (default: 16)

	// Rate limiting for session admission
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max new sessions per window (default: 30)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	// Timeouts
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`  // Read timeout (default: 30)
	WriteTimeoutSecs int `yaml:"write_timeout_secs"` // Write timeout (default: 30)
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`  // Idle connection timeout (default: 120)

	// WebSocket origin allowlist; empty allows same-host only, "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultPlayerConfig returns the default player configuration
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		LogLevel:     "info",
		LogFormat:    "text",
		FollowPollMs: 500,
	}
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:          "127.0.0.1:4822",
		MaxSessions:         16,
		RateLimitRequests:   30,
		RateLimitWindowSecs: 60,
		ReadTimeoutSecs:     30,
		WriteTimeoutSecs:    30,
		IdleTimeoutSecs:     120,
	}
}

// DefaultConfig returns the complete default configuration
func DefaultConfig() *Config {
	return &Config{
		Player: DefaultPlayerConfig(),
		Server: DefaultServerConfig(),
	}
}

// DefaultConfigPath returns the standard config location
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "guacplay.yaml"
	}
	return filepath.Join(home, ".guacplay", "config.yaml")
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Player.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.Player.LogLevel)
	}
	if c.Player.LogFormat != "json" && c.Player.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s", c.Player.LogFormat)
	}
	if c.Player.FollowPollMs < 1 {
		return fmt.Errorf("follow_poll_ms must be at least 1")
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1")
	}
	if c.Server.RateLimitRequests < 1 {
		return fmt.Errorf("rate_limit_requests must be at least 1")
	}
	if c.Server.RateLimitWindowSecs < 1 {
		return fmt.Errorf("rate_limit_window_secs must be at least 1")
	}
	if c.Server.ReadTimeoutSecs < 1 || c.Server.WriteTimeoutSecs < 1 || c.Server.IdleTimeoutSecs < 1 {
		return fmt.Errorf("timeouts must be at least 1 second")
	}
	return nil
}

// ApplyLogging configures the global logger per the player settings
func (c *Config) ApplyLogging() {
	var level slog.Level
	switch c.Player.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if c.Player.LogFormat == "text" {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
		return
	}
	logging.SetLevel(level)
}

// expandPath expands a leading ~ to the user home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
