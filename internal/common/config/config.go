// Package config provides configuration management for the hub.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the hub.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Hub     HubConfig     `mapstructure:"hub"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	// LocalhostOnly forces the bind host to 127.0.0.1 regardless of Host.
	LocalhostOnly bool `mapstructure:"localhostOnly"`
}

// HubConfig holds the connection and session policy knobs.
type HubConfig struct {
	RegisterTimeout int `mapstructure:"registerTimeout"` // seconds to receive the first REGISTER
	LivenessTimeout int `mapstructure:"livenessTimeout"` // seconds of inbound silence before disconnect
	SessionTimeout  int `mapstructure:"sessionTimeout"`  // seconds per session, 0 = unlimited
	SendBuffer      int `mapstructure:"sendBuffer"`      // per-connection outbound queue length
	// DefaultPlatform is used when a dispatch target reported no platform.
	DefaultPlatform string `mapstructure:"defaultPlatform"`
	// DevicesFile points to the optional per-device overlay YAML.
	DevicesFile string `mapstructure:"devicesFile"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// BindHost resolves the effective bind host honoring LocalhostOnly.
func (s *ServerConfig) BindHost() string {
	if s.LocalhostOnly {
		return "127.0.0.1"
	}
	return s.Host
}

// RegisterTimeoutDuration returns the registration timeout as a time.Duration.
func (h *HubConfig) RegisterTimeoutDuration() time.Duration {
	return time.Duration(h.RegisterTimeout) * time.Second
}

// LivenessTimeoutDuration returns the liveness timeout as a time.Duration.
func (h *HubConfig) LivenessTimeoutDuration() time.Duration {
	return time.Duration(h.LivenessTimeout) * time.Second
}

// SessionTimeoutDuration returns the per-session timeout, 0 meaning none.
func (h *HubConfig) SessionTimeoutDuration() time.Duration {
	return time.Duration(h.SessionTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("AGENTHUB_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.localhostOnly", false)

	// Hub defaults
	v.SetDefault("hub.registerTimeout", 10)
	v.SetDefault("hub.livenessTimeout", 30)
	v.SetDefault("hub.sessionTimeout", 0) // unlimited
	v.SetDefault("hub.sendBuffer", 256)
	v.SetDefault("hub.defaultPlatform", "linux")
	v.SetDefault("hub.devicesFile", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agenthub")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTHUB_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agenthub/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.readTimeout", "AGENTHUB_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "AGENTHUB_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("server.localhostOnly", "AGENTHUB_SERVER_LOCALHOST_ONLY")
	_ = v.BindEnv("hub.registerTimeout", "AGENTHUB_HUB_REGISTER_TIMEOUT")
	_ = v.BindEnv("hub.livenessTimeout", "AGENTHUB_HUB_LIVENESS_TIMEOUT")
	_ = v.BindEnv("hub.sessionTimeout", "AGENTHUB_HUB_SESSION_TIMEOUT")
	_ = v.BindEnv("hub.sendBuffer", "AGENTHUB_HUB_SEND_BUFFER")
	_ = v.BindEnv("hub.defaultPlatform", "AGENTHUB_HUB_DEFAULT_PLATFORM")
	_ = v.BindEnv("hub.devicesFile", "AGENTHUB_HUB_DEVICES_FILE")
	_ = v.BindEnv("nats.clientId", "AGENTHUB_NATS_CLIENT_ID")
	_ = v.BindEnv("nats.maxReconnects", "AGENTHUB_NATS_MAX_RECONNECTS")
	_ = v.BindEnv("logging.outputPath", "AGENTHUB_LOGGING_OUTPUT_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agenthub/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Hub validation
	if cfg.Hub.RegisterTimeout <= 0 {
		errs = append(errs, "hub.registerTimeout must be positive")
	}
	if cfg.Hub.LivenessTimeout <= 0 {
		errs = append(errs, "hub.livenessTimeout must be positive")
	}
	if cfg.Hub.SessionTimeout < 0 {
		errs = append(errs, "hub.sessionTimeout must be zero or positive")
	}
	if cfg.Hub.SendBuffer <= 0 {
		errs = append(errs, "hub.sendBuffer must be positive")
	}
	if cfg.Hub.DefaultPlatform == "" {
		errs = append(errs, "hub.defaultPlatform must not be empty")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
