package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := getDefaultDataDir()

	return &Config{
		App: AppConfig{
			Name:        "wisp",
			Version:     "0.1.0",
			Environment: "dev",
			DataDir:     dataDir,
		},

		Hub: HubConfig{
			Host:            "0.0.0.0",
			Port:            8081,
			Path:            "/ws",
			TLSEnabled:      false,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CallPurgeDelay:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
		},

		Heartbeat: HeartbeatConfig{
			Interval:    25 * time.Second,
			PongTimeout: 10 * time.Second,
		},

		Reconnect: ReconnectConfig{
			BaseDelays: []time.Duration{
				2 * time.Second,
				4 * time.Second,
				8 * time.Second,
				16 * time.Second,
				30 * time.Second,
			},
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},

		Security: SecurityConfig{
			AuthFreshnessWindow: 5 * time.Minute,
			RequestTimeout:      10 * time.Second,
			RegisterTimeout:     15 * time.Second,
			RateLimitPerMinute:  60,
		},

		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			OutputPath:   "stdout",
			EnableCaller: false,
		},

		Vault: VaultConfig{
			Backend: "memory",
			Path:    filepath.Join(dataDir, "wisp-vault.db"),
		},

		Bootstrap: BootstrapConfig{
			Enabled:  false,
			TokenTTL: 2 * time.Minute,
		},

		Presence: PresenceConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         6379,
			Channel:      "wisp:presence",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

// getDefaultDataDir returns the default data directory.
func getDefaultDataDir() string {
	baseDir := os.Getenv("XDG_DATA_HOME")
	if baseDir == "" {
		baseDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(baseDir, "wisp")
}
