// Package config loads the store configuration from a yaml file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig configures the SQLite store and its connection pool.
type DatabaseConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	PoolSize       int           `mapstructure:"pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// CacheConfig configures TTLs for the read cache.
type CacheConfig struct {
	PageTTL      time.Duration `mapstructure:"page_ttl"`
	AnalyticsTTL time.Duration `mapstructure:"analytics_ttl"`
}

// MigrationsConfig configures schema migration discovery and drift policy.
type MigrationsConfig struct {
	Dir string `mapstructure:"dir"`
	// ChecksumPolicy is "warn" or "fail". On "warn" a ledger/script
	// checksum mismatch is logged and startup continues; on "fail"
	// startup is refused.
	ChecksumPolicy string `mapstructure:"checksum_policy"`
}

// SyncConfig configures sync queue defaults.
type SyncConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// WorkersConfig configures the background executor.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Log        LogConfig        `mapstructure:"log"`
}

// Load reads configuration from the given file path. An empty path falls
// back to "config.yaml" in the working directory. Missing files are not an
// error; defaults apply. Environment variables prefixed with LLEDGER_
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.data_dir", "data")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.acquire_timeout", 30*time.Second)
	v.SetDefault("cache.page_ttl", 5*time.Minute)
	v.SetDefault("cache.analytics_ttl", 30*time.Minute)
	v.SetDefault("migrations.dir", "migrations")
	v.SetDefault("migrations.checksum_policy", PolicyWarn)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("workers.count", 4)
	v.SetDefault("log.level", "info")

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LLEDGER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Checksum drift policies.
const (
	PolicyWarn = "warn"
	PolicyFail = "fail"
)

func (c *Config) validate() error {
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("database.pool_size must be at least 1, got %d", c.Database.PoolSize)
	}
	if c.Migrations.ChecksumPolicy != PolicyWarn && c.Migrations.ChecksumPolicy != PolicyFail {
		return fmt.Errorf("migrations.checksum_policy must be %q or %q, got %q",
			PolicyWarn, PolicyFail, c.Migrations.ChecksumPolicy)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	return nil
}
