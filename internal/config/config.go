// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Source    SourceConfig    `mapstructure:"source"`
	Cache     CacheConfig     `mapstructure:"cache"`
	API       APIConfig       `mapstructure:"api"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Export    ExportConfig    `mapstructure:"export"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig locates the SafeGraph weekly patterns table.
type SourceConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig locates the profile cache and the combined output inside it.
type CacheConfig struct {
	Dir          string `mapstructure:"dir"`
	CombinedFile string `mapstructure:"combined_file"`
}

// APIConfig controls the Census Profile API client.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	DGUIDPrefix    string `mapstructure:"dguid_prefix"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AggregateConfig controls indicator extraction.
type AggregateConfig struct {
	OnLookupError     string `mapstructure:"on_lookup_error"`
	CorrectedAgeBands bool   `mapstructure:"corrected_age_bands"`
}

// ExportConfig enables the optional sinks; each is off while its key fields are empty.
type ExportConfig struct {
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// GCSConfig sets the bucket and object prefix for uploads.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig points at a node-exporter textfile; empty disables the write.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. With an empty path it looks for
// config.yaml in the working directory, /etc/census-crawler and
// $HOME/.census-crawler, and carries on with defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/census-crawler/")
		v.AddConfigPath("$HOME/.census-crawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("source.path", "")
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.combined_file", "cbgs-census.csv")
	v.SetDefault("api.base_url", "https://www12.statcan.gc.ca/rest/census-recensement/CPR2016.json")
	v.SetDefault("api.dguid_prefix", "2016S0512")
	v.SetDefault("api.user_agent", "census-crawler/0.1")
	v.SetDefault("api.timeout_seconds", 60)
	v.SetDefault("aggregate.on_lookup_error", "fail")
	v.SetDefault("aggregate.corrected_age_bands", false)
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.prefix", "")
	v.SetDefault("export.postgres.dsn", "")
	v.SetDefault("export.postgres.table", "census_indicators")
	v.SetDefault("export.pubsub.project_id", "")
	v.SetDefault("export.pubsub.topic", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// resolvePaths fills source and cache locations that were left relative to data_dir.
func (c *Config) resolvePaths() {
	if c.Source.Path == "" {
		c.Source.Path = filepath.Join(c.DataDir, "SafeGraph", "weekly-patterns.csv")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.DataDir, "CensusProfile")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.Path) == "" {
		return fmt.Errorf("source.path must be set")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	if c.Cache.CombinedFile == "" || filepath.Base(c.Cache.CombinedFile) != c.Cache.CombinedFile {
		return fmt.Errorf("cache.combined_file must be a bare file name")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.DGUIDPrefix == "" {
		return fmt.Errorf("api.dguid_prefix must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	switch strings.ToLower(c.Aggregate.OnLookupError) {
	case "fail", "blank":
	default:
		return fmt.Errorf("aggregate.on_lookup_error must be fail or blank, got %q", c.Aggregate.OnLookupError)
	}
	if (c.Export.PubSub.ProjectID == "") != (c.Export.PubSub.Topic == "") {
		return fmt.Errorf("export.pubsub.project_id and export.pubsub.topic must be set together")
	}
	if c.Export.GCS.Bucket == "" && c.Export.GCS.Prefix != "" {
		return fmt.Errorf("export.gcs.bucket must be set when export.gcs.prefix is")
	}
	return nil
}

// APITimeout converts the configured timeout into a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}
