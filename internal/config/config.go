// Package config loads rtspengine's YAML configuration: a set of
// defaults overridden by whatever the config file supplies, then
// validated as a whole.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RTSP     RTSPConfig     `yaml:"rtsp"`
	Auth     AuthConfig     `yaml:"auth"`
	Registry RegistryConfig `yaml:"registry"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type RTSPConfig struct {
	Port            int           `yaml:"port"`
	HTTPTunnelPort  int           `yaml:"http_tunnel_port"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	ContinuePushMs  int           `yaml:"continue_push_ms"`
	RTCPReportSec   int           `yaml:"rtcp_report_interval_seconds"`
	// ForceTransport pins every session to one RTP transport flavor
	// ("tcp", "udp", or "multicast"); empty leaves the client's SETUP
	// choice unconstrained. Mismatched SETUPs are rejected with 461.
	ForceTransport string `yaml:"force_transport"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Basic   bool   `yaml:"basic"` // false: Digest
	Realm   string `yaml:"realm"`
}

type RegistryConfig struct {
	VhostEnabled      bool          `yaml:"vhost_enabled"`
	FindAsyncTimeout  time.Duration `yaml:"find_async_timeout"`
	Mp4FallbackEnable bool          `yaml:"mp4_fallback_enabled"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WithDefaults returns the configuration used when no file is supplied,
// or as the base a file's values are unmarshalled on top of.
func WithDefaults() *Config {
	return &Config{
		RTSP: RTSPConfig{
			Port:           554,
			HTTPTunnelPort: 8554,
			SessionTimeout: 60 * time.Second,
			ContinuePushMs: 15000,
			RTCPReportSec:  5,
		},
		Auth: AuthConfig{
			Enabled: false,
			Basic:   false,
			Realm:   "rtspengine",
		},
		Registry: RegistryConfig{
			VhostEnabled:      false,
			FindAsyncTimeout:  15 * time.Second,
			Mp4FallbackEnable: false,
		},
		API: APIConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, unmarshalling its contents on top of WithDefaults,
// and validates the result. A missing file is not an error — the
// defaults are returned as-is, matching how this server runs with zero
// configuration in development.
func Load(path string) (*Config, error) {
	cfg := WithDefaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RTSP.Port <= 0 || c.RTSP.Port > 65535 {
		return fmt.Errorf("invalid rtsp port: %d (must be between 1-65535)", c.RTSP.Port)
	}
	if c.RTSP.HTTPTunnelPort <= 0 || c.RTSP.HTTPTunnelPort > 65535 {
		return fmt.Errorf("invalid rtsp http tunnel port: %d (must be between 1-65535)", c.RTSP.HTTPTunnelPort)
	}
	if c.RTSP.SessionTimeout <= 0 {
		return fmt.Errorf("invalid rtsp session timeout: %v (must be positive)", c.RTSP.SessionTimeout)
	}
	if c.RTSP.ContinuePushMs < 0 {
		return fmt.Errorf("invalid continue_push_ms: %d (must be non-negative)", c.RTSP.ContinuePushMs)
	}
	switch strings.ToLower(strings.TrimSpace(c.RTSP.ForceTransport)) {
	case "", "tcp", "udp", "multicast":
	default:
		return fmt.Errorf("invalid rtsp force_transport: %q (must be one of: \"\", tcp, udp, multicast)", c.RTSP.ForceTransport)
	}

	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Realm) == "" {
		return fmt.Errorf("auth.realm is required when auth is enabled")
	}

	if c.Registry.FindAsyncTimeout <= 0 {
		return fmt.Errorf("invalid registry find_async_timeout: %v (must be positive)", c.Registry.FindAsyncTimeout)
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d (must be between 1-65535)", c.API.Port)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.EqualFold(c.Logging.Level, level) {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// SlogLevel maps the configured textual log level to slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
