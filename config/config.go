package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/curator/models"
)

// Config holds all configuration for the selection engine. It is loaded once
// and passed explicitly into the cycle entry point; there is no process-wide
// mutable state.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Selection SelectionConfig `mapstructure:"selection"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig groups the persistent store and redis settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the content-items store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a connection string from the configuration.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the cycle-lock / title-cache connection. Redis is
// optional; an empty host disables it and the engine degrades to
// store-backed lookups.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, or empty when redis is disabled.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// SelectionConfig contains the knobs of the selection pipeline itself.
type SelectionConfig struct {
	Tiers []models.TierConfig `mapstructure:"tiers"`

	// TargetCount is the number of articles a cycle aims to select.
	TargetCount int `mapstructure:"target_count"`

	// DynamicThreshold toggles the distribution-derived acceptance
	// threshold; when off a fixed threshold of 80 applies.
	DynamicThreshold bool `mapstructure:"dynamic_threshold"`

	// FlexibleCount allows expanding the result up to five items when more
	// than three validated selections score at least 85.
	FlexibleCount bool `mapstructure:"flexible_count"`

	// TopicWindowDays bounds the recent-topics similarity window.
	TopicWindowDays int `mapstructure:"topic_window_days"`

	// StalenessHours is how long an unfulfilled selection holds before it
	// is reset and becomes eligible again.
	StalenessHours int `mapstructure:"staleness_hours"`

	// ShortlistSize bounds the shortlist sent to the ranking oracle.
	ShortlistSize int `mapstructure:"shortlist_size"`

	// CommitWorkers bounds concurrent selection-metadata writes.
	CommitWorkers int `mapstructure:"commit_workers"`
}

// OracleConfig describes the external ranking/categorization oracle.
type OracleConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`

	// Categorization toggles the optional relabeling pass at commit time.
	Categorization bool `mapstructure:"categorization"`
}

// SchedulerConfig drives the cron-like cycle trigger.
type SchedulerConfig struct {
	CronSpec string        `mapstructure:"cron_spec"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// DefaultTiers is the tier table used when none is configured.
func DefaultTiers() []models.TierConfig {
	return []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp", "hkfp", "rthk"}, Quota: 10, MaxAgeHours: 12, MinContentChars: 300, Weight: 1.0},
		{Name: "standard", Sources: []string{"thestandard", "mingpao", "hk01"}, Quota: 8, MaxAgeHours: 24, MinContentChars: 200, Weight: 0.8},
		{Name: "local", Sources: []string{"dimsumdaily", "harbourtimes", "coconuts"}, Quota: 6, MaxAgeHours: 48, MinContentChars: 120, Weight: 0.6},
	}
}

// Load reads configuration from an optional file plus CURATOR_* environment
// overrides and fills in defaults for everything the file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.debug", false)
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("server.address", ":10020")
	v.SetDefault("selection.target_count", 3)
	v.SetDefault("selection.dynamic_threshold", true)
	v.SetDefault("selection.flexible_count", false)
	v.SetDefault("selection.topic_window_days", 4)
	v.SetDefault("selection.staleness_hours", 4)
	v.SetDefault("selection.shortlist_size", 15)
	v.SetDefault("selection.commit_workers", 8)
	v.SetDefault("oracle.provider", "perplexity")
	v.SetDefault("oracle.model", "sonar-pro")
	v.SetDefault("oracle.embedding_model", "text-embedding-3-small")
	v.SetDefault("oracle.timeout", 30*time.Second)
	v.SetDefault("oracle.categorization", false)
	v.SetDefault("scheduler.cron_spec", "@hourly")
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Defaults plus environment are enough to run.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if len(cfg.Selection.Tiers) == 0 {
		cfg.Selection.Tiers = DefaultTiers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	seen := map[string]string{}
	for _, tier := range c.Selection.Tiers {
		if tier.Quota <= 0 {
			return fmt.Errorf("tier %q: quota must be > 0", tier.Name)
		}
		if tier.MaxAgeHours <= 0 {
			return fmt.Errorf("tier %q: max_age_hours must be > 0", tier.Name)
		}
		for _, src := range tier.Sources {
			if owner, dup := seen[src]; dup {
				return fmt.Errorf("source %q appears in tiers %q and %q", src, owner, tier.Name)
			}
			seen[src] = tier.Name
		}
	}
	if c.Selection.TargetCount <= 0 {
		return errors.New("selection.target_count must be > 0")
	}
	if c.Selection.CommitWorkers <= 0 || c.Selection.CommitWorkers > 8 {
		return errors.New("selection.commit_workers must be in 1..8")
	}
	return nil
}
