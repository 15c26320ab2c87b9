// Package config loads service configuration from an optional YAML file and
// the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	OddsAPI  OddsAPIConfig  `mapstructure:"oddsapi"`
	Sports   SportsConfig   `mapstructure:"sports"`
	Updater  UpdaterConfig  `mapstructure:"updater"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OddsAPIConfig holds The Odds API client settings
type OddsAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SportsConfig holds query defaults and cache windows
type SportsConfig struct {
	DefaultRegion      string        `mapstructure:"default_region"`
	DefaultMarkets     string        `mapstructure:"default_markets"`
	SportsTTL          time.Duration `mapstructure:"sports_ttl"`
	OddsTTL            time.Duration `mapstructure:"odds_ttl"`
	UpcomingTTL        time.Duration `mapstructure:"upcoming_ttl"`
	StaleTTL           time.Duration `mapstructure:"stale_ttl"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	FailureBackoff     time.Duration `mapstructure:"failure_backoff"`
	MaxUpcomingSports  int           `mapstructure:"max_upcoming_sports"`
	MaxResultsPerSport int           `mapstructure:"max_results_per_sport"`
	FetchConcurrency   int           `mapstructure:"fetch_concurrency"`
}

// UpdaterConfig holds refresh scheduler settings
type UpdaterConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
	ForceRefresh bool          `mapstructure:"force_refresh"`
}

// CacheConfig selects the cache backend
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig holds the Alexandria connection string
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (optional) and environment variables.
// Environment keys use the PYTHIA_ prefix with dots replaced by underscores,
// e.g. PYTHIA_HTTP_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PYTHIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names shared with the rest of the platform
	bindings := map[string]string{
		"oddsapi.api_key": "ODDS_API_KEY",
		"redis.url":       "REDIS_URL",
		"redis.password":  "REDIS_PASSWORD",
		"database.dsn":    "ALEXANDRIA_DSN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "PYTHIA_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("oddsapi.base_url", "https://api.the-odds-api.com/v4/sports")
	v.SetDefault("oddsapi.api_key", "")
	v.SetDefault("oddsapi.timeout", "10s")

	v.SetDefault("sports.default_region", "us")
	v.SetDefault("sports.default_markets", "h2h")
	v.SetDefault("sports.sports_ttl", "1h")
	v.SetDefault("sports.odds_ttl", "5m")
	v.SetDefault("sports.upcoming_ttl", "10m")
	v.SetDefault("sports.stale_ttl", "24h")
	v.SetDefault("sports.fetch_timeout", "30s")
	v.SetDefault("sports.failure_backoff", "30s")
	v.SetDefault("sports.max_upcoming_sports", 5)
	v.SetDefault("sports.max_results_per_sport", 10)
	v.SetDefault("sports.fetch_concurrency", 3)

	v.SetDefault("updater.enabled", true)
	v.SetDefault("updater.schedule", "*/15 * * * *")
	v.SetDefault("updater.call_timeout", "20s")
	v.SetDefault("updater.run_on_start", false)
	v.SetDefault("updater.force_refresh", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 0)

	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pythia:")

	v.SetDefault("database.dsn", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.OddsAPI.APIKey == "" {
		return fmt.Errorf("oddsapi.api_key is required")
	}
	if c.OddsAPI.BaseURL == "" {
		return fmt.Errorf("oddsapi.base_url is required")
	}
	if c.OddsAPI.Timeout <= 0 {
		return fmt.Errorf("oddsapi.timeout must be positive")
	}

	if c.Sports.DefaultRegion == "" {
		return fmt.Errorf("sports.default_region is required")
	}
	if c.Sports.DefaultMarkets == "" {
		return fmt.Errorf("sports.default_markets is required")
	}
	if c.Sports.SportsTTL <= 0 || c.Sports.OddsTTL <= 0 || c.Sports.UpcomingTTL <= 0 {
		return fmt.Errorf("sports cache TTLs must be positive")
	}
	if c.Sports.StaleTTL < 0 {
		return fmt.Errorf("sports.stale_ttl must not be negative")
	}
	if c.Sports.FetchTimeout <= 0 {
		return fmt.Errorf("sports.fetch_timeout must be positive")
	}
	if c.Sports.FailureBackoff < 0 {
		return fmt.Errorf("sports.failure_backoff must not be negative")
	}
	if c.Sports.MaxUpcomingSports < 1 {
		return fmt.Errorf("sports.max_upcoming_sports must be at least 1")
	}
	if c.Sports.MaxResultsPerSport < 1 {
		return fmt.Errorf("sports.max_results_per_sport must be at least 1")
	}

	if c.Updater.CallTimeout <= 0 {
		return fmt.Errorf("updater.call_timeout must be positive")
	}
	if c.Updater.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the updater is enabled")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}
