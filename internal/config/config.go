// Package config loads and validates wisp's runtime configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config is the complete application configuration.
type Config struct {
	App       AppConfig       `json:"app"`
	Hub       HubConfig       `json:"hub"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
	Vault     VaultConfig     `json:"vault"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Presence  PresenceConfig  `json:"presence"`
}

// PresenceConfig selects the optional Redis pub/sub backplane that lets
// multiple hub processes behind a load balancer rebroadcast
// user_status_update to peers attached to a different process. Disabled
// by default: single-process mode needs no backplane, and this fan-out
// never carries message content or durable state, so it does not
// constitute federation.
type PresenceConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	Channel      string        `json:"channel"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // dev, staging, production
	DataDir     string `json:"data_dir"`
}

// HubConfig contains the Session Hub's listen settings.
type HubConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Path            string        `json:"path"` // websocket upgrade path, default "/ws"
	TLSEnabled      bool          `json:"tls_enabled"`
	TLSCertFile     string        `json:"tls_cert_file"`
	TLSKeyFile      string        `json:"tls_key_file"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CallPurgeDelay  time.Duration `json:"call_purge_delay"` // time after "ended" before a call record is purged
	CORS            CORSConfig    `json:"cors"`
}

// CORSConfig contains CORS settings for the hub's HTTP surface.
type CORSConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
}

// BootstrapConfig controls the optional HTTP device-pairing endpoint that
// hands a fresh client its hub URL and TLS fingerprint before it ever opens
// a WebSocket connection.
type BootstrapConfig struct {
	Enabled       bool          `json:"enabled"`
	Secret        string        `json:"secret"` // HMAC signing secret, min 32 bytes
	TokenTTL      time.Duration `json:"token_ttl"`
	TLSFingerprint string       `json:"tls_fingerprint"` // sha256 fingerprint advertised to pairing clients
}

// HeartbeatConfig controls the Connection Manager's ping/pong cadence.
type HeartbeatConfig struct {
	Interval    time.Duration `json:"interval"`     // 20-30s per spec
	PongTimeout time.Duration `json:"pong_timeout"` // 10s per spec
}

// ReconnectConfig controls the Connection Manager's backoff schedule.
type ReconnectConfig struct {
	BaseDelays  []time.Duration `json:"base_delays"` // {2,4,8,16,30,30,...}
	MaxDelay    time.Duration   `json:"max_delay"`
	MaxAttempts int             `json:"max_attempts"`
}

// SecurityConfig contains auth freshness and request-timeout settings.
type SecurityConfig struct {
	AuthFreshnessWindow time.Duration `json:"auth_freshness_window"` // 5 min per spec
	RequestTimeout      time.Duration `json:"request_timeout"`       // 10s default
	RegisterTimeout     time.Duration `json:"register_timeout"`      // 15s
	RateLimitPerMinute  int           `json:"rate_limit_per_minute"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level        string `json:"level"` // debug, info, warn, error
	Format       string `json:"format"`
	OutputPath   string `json:"output_path"`
	EnableCaller bool   `json:"enable_caller"`
}

// VaultConfig selects and configures the Key Vault backend.
type VaultConfig struct {
	Backend string `json:"backend"` // "memory" or "sqlite"
	Path    string `json:"path"`    // sqlite backend only
}

// Load loads configuration from file and environment variables.
// Priority: env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(configPath); err != nil {
					return nil, fmt.Errorf("config: create default config: %w", err)
				}
			} else {
				return nil, fmt.Errorf("config: load config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("WISP_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("WISP_DATA_DIR"); v != "" {
		c.App.DataDir = v
	}
	if v := os.Getenv("WISP_HUB_HOST"); v != "" {
		c.Hub.Host = v
	}
	if v := os.Getenv("WISP_VAULT_PATH"); v != "" {
		c.Vault.Path = v
	}
	if v := os.Getenv("WISP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save writes configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}
	return nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("config: app name cannot be empty")
	}
	if c.App.Environment != "dev" && c.App.Environment != "staging" && c.App.Environment != "production" {
		return fmt.Errorf("config: invalid environment: %s", c.App.Environment)
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		return fmt.Errorf("config: invalid hub port: %d", c.Hub.Port)
	}
	if c.Hub.Path == "" {
		return errors.New("config: hub path cannot be empty")
	}
	if c.Security.AuthFreshnessWindow <= 0 {
		return errors.New("config: auth freshness window must be positive")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.PongTimeout <= 0 {
		return errors.New("config: heartbeat interval and pong timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("config: invalid log level: %s", c.Logging.Level)
	}

	if c.Vault.Backend != "memory" && c.Vault.Backend != "sqlite" {
		return fmt.Errorf("config: invalid vault backend: %s", c.Vault.Backend)
	}

	if c.Bootstrap.Enabled {
		if len(c.Bootstrap.Secret) < 32 {
			return errors.New("config: bootstrap secret must be at least 32 characters")
		}
		if c.Bootstrap.TokenTTL <= 0 {
			return errors.New("config: bootstrap token ttl must be positive")
		}
	}

	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
