// Package config loads the ledger service configuration from an optional
// YAML file plus LEDGER_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level ledger service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Replay   ReplayConfig   `yaml:"replay" mapstructure:"replay"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ReplayConfig tunes the replay guard.
type ReplayConfig struct {
	StatePath     string        `yaml:"state_path" mapstructure:"state_path"`
	Window        time.Duration `yaml:"window" mapstructure:"window"`
	MaxFutureSkew time.Duration `yaml:"max_future_skew" mapstructure:"max_future_skew"`
	MaxEntries    int           `yaml:"max_entries" mapstructure:"max_entries"`
}

// IngestConfig controls proof-submission authentication. An empty
// shared secret disables signature checking.
type IngestConfig struct {
	SharedSecret string `yaml:"shared_secret" mapstructure:"shared_secret"`
}

// AuditConfig locates the local audit database.
type AuditConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig holds logging preferences.
type LoggingConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Level  string `yaml:"level" mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("replay.state_path", "/var/lib/prooflane/replay-state.json")
	v.SetDefault("replay.window", 24*time.Hour)
	v.SetDefault("replay.max_future_skew", 5*time.Minute)
	v.SetDefault("replay.max_entries", 100_000)
	v.SetDefault("audit.path", "/var/lib/prooflane/audit.db")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")
}

func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"server.addr":             "LEDGER_ADDR",
		"server.shutdown_timeout": "LEDGER_SHUTDOWN_TIMEOUT",
		"database.url":            "LEDGER_DATABASE_URL",
		"replay.state_path":       "LEDGER_REPLAY_STATE_PATH",
		"replay.window":           "LEDGER_REPLAY_WINDOW",
		"replay.max_future_skew":  "LEDGER_REPLAY_MAX_FUTURE_SKEW",
		"replay.max_entries":      "LEDGER_REPLAY_MAX_ENTRIES",
		"audit.path":              "LEDGER_AUDIT_PATH",
		"ingest.shared_secret":    "LEDGER_INGEST_SECRET",
		"logging.format":          "LEDGER_LOG_FORMAT",
		"logging.level":           "LEDGER_LOG_LEVEL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url (LEDGER_DATABASE_URL) is required")
	}
	return &cfg, nil
}
