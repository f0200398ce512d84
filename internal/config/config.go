// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Provider ProviderConfig `mapstructure:"provider"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate         bool   `mapstructure:"migrate"`
}

// ProviderConfig governs access to the rank data provider.
type ProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	UserID         string  `mapstructure:"user_id"`
	APIKey         string  `mapstructure:"api_key"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RetryDelaySec  int     `mapstructure:"retry_delay_seconds"`
}

// CheckerConfig governs the reconciliation run.
type CheckerConfig struct {
	SearcherKey        int   `mapstructure:"searcher_key"`
	KeywordConcurrency int64 `mapstructure:"keyword_concurrency"`
	MaxWaitMinutes     int   `mapstructure:"max_wait_minutes"`
	PollIntervalSec    int   `mapstructure:"poll_interval_seconds"`
	IntervalHours      int   `mapstructure:"interval_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("provider.base_url", "https://api.topvisor.com/v2/json")
	v.SetDefault("provider.rps", 10)
	v.SetDefault("provider.burst", 1)
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.retry_delay_seconds", 5)
	v.SetDefault("checker.searcher_key", 0)
	v.SetDefault("checker.keyword_concurrency", 4)
	v.SetDefault("checker.max_wait_minutes", 15)
	v.SetDefault("checker.poll_interval_seconds", 10)
	v.SetDefault("checker.interval_hours", 24)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.UserID == "" || c.Provider.APIKey == "" {
		return fmt.Errorf("provider.user_id and provider.api_key are required")
	}
	if c.Provider.RPS <= 0 {
		return fmt.Errorf("provider.rps must be > 0")
	}
	if c.Checker.KeywordConcurrency <= 0 {
		return fmt.Errorf("checker.keyword_concurrency must be > 0")
	}
	if c.Checker.MaxWaitMinutes < 0 {
		return fmt.Errorf("checker.max_wait_minutes must be >= 0")
	}
	if c.Checker.PollIntervalSec <= 0 {
		return fmt.Errorf("checker.poll_interval_seconds must be > 0")
	}
	return nil
}

// ProviderTimeout converts the provider HTTP timeout to a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// RetryDelay converts the provider retry delay to a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Provider.RetryDelaySec) * time.Second
}

// MaxWait converts the checker wait ceiling to a duration.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.Checker.MaxWaitMinutes) * time.Minute
}

// PollInterval converts the checker poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Checker.PollIntervalSec) * time.Second
}

// RunInterval converts the checker schedule interval to a duration.
func (c Config) RunInterval() time.Duration {
	return time.Duration(c.Checker.IntervalHours) * time.Hour
}

// ConnLifetime converts the pool connection lifetime to a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetime) * time.Minute
}
