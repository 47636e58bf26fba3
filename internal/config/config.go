// Package config loads datacollect's process configuration. Per the design
// notes in SPEC_FULL.md, nothing here is a package-level singleton: Load
// returns a Config that callers pass explicitly into store constructors.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all process configuration for one datacollect instance.
type Config struct {
	TenantID string `mapstructure:"tenant_id"`
	LogLevel string `mapstructure:"log_level"`

	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// StorageConfig selects and configures the event/entity/auth storage
// adapters (§4.1 of the spec).
type StorageConfig struct {
	// Backend is "local" (badger/pebble, embedded) or "remote" (postgres).
	Backend string `mapstructure:"backend"`

	// DataDir is the badger/pebble data directory for the local backend.
	DataDir string `mapstructure:"data_dir"`

	// PostgresDSN is the connection string for the remote backend.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// SyncConfig configures the internal and external sync coordinators.
type SyncConfig struct {
	ServerURL string `mapstructure:"server_url"`

	// PageSize caps getEventsSincePagination (§4.3); default 10.
	PageSize int `mapstructure:"page_size"`

	// RetryLimit is N in §4.6's "retry a failed page up to N times".
	RetryLimit int `mapstructure:"retry_limit"`

	// External names the registered ExternalSyncAdapter type (§4.7), e.g.
	// "openspp". Empty disables external sync.
	External string `mapstructure:"external"`

	// DuplicateThreshold is the number of matching fields (§4.5) required
	// to flag a potential duplicate pair.
	DuplicateThreshold int `mapstructure:"duplicate_threshold"`
}

// AuthConfig lists the configured AuthAdapter instances (§4.8).
type AuthConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	JWTSecret string           `mapstructure:"jwt_secret"`
}

// ProviderConfig mirrors spec.md §4.8's AuthConfig{type, fields}.
type ProviderConfig struct {
	Type   string            `mapstructure:"type"`
	Fields map[string]string `mapstructure:"fields"`
}

// Load reads configuration from flags, an optional config file, and
// MAXIOFS-style environment variables (prefixed DATACOLLECT_), the same
// layering the teacher's config.Load uses.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DATACOLLECT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenant_id", "default")
	v.SetDefault("log_level", "info")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("sync.page_size", 10)
	v.SetDefault("sync.retry_limit", 3)
	v.SetDefault("sync.duplicate_threshold", 2)

	v.SetDefault("auth.providers", []map[string]any{})
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"tenant-id":  "tenant_id",
		"log-level":  "log_level",
		"data-dir":   "storage.data_dir",
		"backend":    "storage.backend",
		"server-url": "sync.server_url",
		"external":   "sync.external",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the local backend")
		}
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	case "remote":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Sync.PageSize <= 0 {
		cfg.Sync.PageSize = 10
	}
	if cfg.Sync.RetryLimit <= 0 {
		cfg.Sync.RetryLimit = 3
	}
	if cfg.Sync.DuplicateThreshold <= 0 {
		cfg.Sync.DuplicateThreshold = 2
	}

	return nil
}
