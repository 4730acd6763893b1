package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the genqueue server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Collector CollectorConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// DatabaseConfig configures the optional archive of evicted jobs.
// An empty URL disables archiving.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional job status mirror and rate limiter.
// An empty URL disables both.
type RedisConfig struct {
	URL string
}

type SchedulerConfig struct {
	MaxConcurrent int
}

type CollectorConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

type ProviderConfig struct {
	Kind                  string
	BaseURL               string
	APIKey                string
	Model                 string
	HTTPTimeout           time.Duration
	CallTimeout           time.Duration
	MaxConcurrent         int
	MaxRetries            int
	UnconditionedAttempts int
	Breaker               BreakerConfig
}

// BreakerConfig configures the circuit breaker in front of the HTTP provider.
// A zero Threshold disables the breaker.
type BreakerConfig struct {
	Threshold uint32
	Cooldown  time.Duration
}

type RateLimitConfig struct {
	SubmitsPerMinute int
}

var validProviders = map[string]bool{
	"http": true,
	"mock": true,
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.port":                     "GENQUEUE_PORT",
	"server.env":                      "GENQUEUE_ENV",
	"database.url":                    "DATABASE_URL",
	"database.max_open_conns":         "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":         "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime":      "DATABASE_CONN_MAX_LIFETIME",
	"redis.url":                       "REDIS_URL",
	"scheduler.max_concurrent":        "SCHEDULER_MAX_CONCURRENT",
	"collector.interval":              "COLLECTOR_INTERVAL",
	"collector.ttl":                   "COLLECTOR_TTL",
	"provider.kind":                   "PROVIDER",
	"provider.base_url":               "PROVIDER_BASE_URL",
	"provider.api_key":                "PROVIDER_API_KEY",
	"provider.model":                  "PROVIDER_MODEL",
	"provider.http_timeout":           "PROVIDER_HTTP_TIMEOUT",
	"provider.call_timeout":           "PROVIDER_CALL_TIMEOUT",
	"provider.max_concurrent":         "PROVIDER_MAX_CONCURRENT",
	"provider.max_retries":            "PROVIDER_MAX_RETRIES",
	"provider.unconditioned_attempts": "PROVIDER_UNCONDITIONED_ATTEMPTS",
	"provider.breaker.threshold":      "PROVIDER_BREAKER_THRESHOLD",
	"provider.breaker.cooldown":       "PROVIDER_BREAKER_COOLDOWN",
	"ratelimit.submits_per_minute":    "RATE_LIMIT_SUBMITS_PER_MIN",
}

// Load reads configuration from an optional genqueue.yaml and environment
// variables (environment wins) and returns a validated Config.
// Returns an error with a descriptive message if any value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("genqueue")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
			Env:  v.GetString("server.env"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: v.GetInt("scheduler.max_concurrent"),
		},
		Collector: CollectorConfig{
			Interval: v.GetDuration("collector.interval"),
			TTL:      v.GetDuration("collector.ttl"),
		},
		Provider: ProviderConfig{
			Kind:                  strings.ToLower(v.GetString("provider.kind")),
			BaseURL:               strings.TrimRight(v.GetString("provider.base_url"), "/"),
			APIKey:                v.GetString("provider.api_key"),
			Model:                 v.GetString("provider.model"),
			HTTPTimeout:           v.GetDuration("provider.http_timeout"),
			CallTimeout:           v.GetDuration("provider.call_timeout"),
			MaxConcurrent:         v.GetInt("provider.max_concurrent"),
			MaxRetries:            v.GetInt("provider.max_retries"),
			UnconditionedAttempts: v.GetInt("provider.unconditioned_attempts"),
			Breaker: BreakerConfig{
				Threshold: v.GetUint32("provider.breaker.threshold"),
				Cooldown:  v.GetDuration("provider.breaker.cooldown"),
			},
		},
		RateLimit: RateLimitConfig{
			SubmitsPerMinute: v.GetInt("ratelimit.submits_per_minute"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("scheduler.max_concurrent", 10)
	v.SetDefault("collector.interval", 5*time.Minute)
	v.SetDefault("collector.ttl", 60*time.Minute)
	v.SetDefault("provider.kind", "http")
	v.SetDefault("provider.model", "image-gen-1")
	v.SetDefault("provider.http_timeout", 150*time.Second)
	v.SetDefault("provider.call_timeout", 120*time.Second)
	v.SetDefault("provider.max_concurrent", 10)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.unconditioned_attempts", 2)
	v.SetDefault("provider.breaker.threshold", 5)
	v.SetDefault("provider.breaker.cooldown", 30*time.Second)
	v.SetDefault("ratelimit.submits_per_minute", 30)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("GENQUEUE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}

	if c.Redis.URL != "" &&
		!strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://")
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CONCURRENT must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}

	if c.Collector.Interval <= 0 {
		return fmt.Errorf("COLLECTOR_INTERVAL must be positive, got %s", c.Collector.Interval)
	}
	if c.Collector.TTL <= 0 {
		return fmt.Errorf("COLLECTOR_TTL must be positive, got %s", c.Collector.TTL)
	}

	if !validProviders[c.Provider.Kind] {
		return fmt.Errorf("PROVIDER must be one of http, mock; got %q", c.Provider.Kind)
	}
	if c.Provider.Kind == "http" {
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("PROVIDER_BASE_URL is required when PROVIDER is http")
		}
		if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
			return fmt.Errorf("PROVIDER_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
		}
		if c.Provider.APIKey == "" {
			return fmt.Errorf("PROVIDER_API_KEY is required when PROVIDER is http")
		}
	}
	if c.Provider.MaxConcurrent < 1 {
		return fmt.Errorf("PROVIDER_MAX_CONCURRENT must be at least 1, got %d", c.Provider.MaxConcurrent)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative, got %d", c.Provider.MaxRetries)
	}
	if c.Provider.UnconditionedAttempts < 1 {
		return fmt.Errorf("PROVIDER_UNCONDITIONED_ATTEMPTS must be at least 1, got %d", c.Provider.UnconditionedAttempts)
	}
	if c.Provider.CallTimeout <= 0 {
		return fmt.Errorf("PROVIDER_CALL_TIMEOUT must be positive, got %s", c.Provider.CallTimeout)
	}

	if c.RateLimit.SubmitsPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_SUBMITS_PER_MIN must not be negative, got %d", c.RateLimit.SubmitsPerMinute)
	}

	return nil
}
