// Package config provides layered configuration loading for the kiro2 data
// access layer: defaults, then an optional YAML file, then environment
// variables (highest priority), validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	kerrors "github.com/entrega363/kiro2/internal/errors"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config holds every tunable of the process.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development production"`
	HTTPAddr    string      `yaml:"httpAddr" validate:"required"`

	Supabase SupabaseConfig `yaml:"supabase"`
	Cache    CacheConfig    `yaml:"cache"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Fallback FallbackConfig `yaml:"fallback"`
}

// SupabaseConfig carries the remote service credentials.
type SupabaseConfig struct {
	URL           string `yaml:"url" validate:"required,url"`
	ServiceKey    string `yaml:"serviceKey" validate:"required"`
	StorageBucket string `yaml:"storageBucket" validate:"required"`
}

// CacheConfig tunes the TTL cache.
type CacheConfig struct {
	MaxSize         int           `yaml:"maxSize" validate:"gt=0"`
	DefaultTTL      time.Duration `yaml:"defaultTTL" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" validate:"gt=0"`
}

// RetryConfig tunes the retry executor defaults.
type RetryConfig struct {
	MaxRetries    int           `yaml:"maxRetries" validate:"gte=0"`
	BaseDelay     time.Duration `yaml:"baseDelay" validate:"gt=0"`
	BackoffFactor float64       `yaml:"backoffFactor" validate:"gte=1"`
	MaxDelay      time.Duration `yaml:"maxDelay" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
}

// BreakerConfig tunes the remote circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"maxRequests" validate:"gt=0"`
	Interval         time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	FailureThreshold float64       `yaml:"failureThreshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"minRequests" validate:"gt=0"`
}

// FallbackConfig locates the durable offline write queue.
type FallbackConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		HTTPAddr:    ":8080",
		Cache: CacheConfig{
			MaxSize:         100,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     1 * time.Second,
			BackoffFactor: 2.0,
			MaxDelay:      10 * time.Second,
			Timeout:       8 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
		Fallback: FallbackConfig{
			Path: "data/offline-queue.jsonl",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// KIRO2_CONFIG_FILE (if any), then environment variables. A missing or
// invalid Supabase credential surfaces as a configuration failure.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("KIRO2_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kerrors.Configuration("CONFIG_FILE_UNREADABLE", fmt.Sprintf("cannot read config file %s", path)).WithCause(err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return kerrors.Configuration("CONFIG_FILE_INVALID", fmt.Sprintf("cannot parse config file %s", path)).WithCause(err)
	}
	return nil
}

// loadEnv applies environment variables on top of the current values.
func (c *Config) loadEnv() {
	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.ServiceKey, "SUPABASE_SERVICE_ROLE_KEY")
	setString(&c.Supabase.StorageBucket, "SUPABASE_STORAGE_BUCKET")
	setString(&c.HTTPAddr, "KIRO2_HTTP_ADDR")
	setString(&c.Fallback.Path, "KIRO2_FALLBACK_PATH")

	if v := os.Getenv("KIRO2_ENV"); v != "" {
		c.Environment = Environment(v)
	}
	if v, err := strconv.Atoi(os.Getenv("KIRO2_CACHE_MAX_SIZE")); err == nil && v > 0 {
		c.Cache.MaxSize = v
	}
	setDuration(&c.Cache.DefaultTTL, "KIRO2_CACHE_TTL")
	setDuration(&c.Retry.BaseDelay, "KIRO2_RETRY_BASE_DELAY")
	setDuration(&c.Retry.Timeout, "KIRO2_RETRY_TIMEOUT")
	if v, err := strconv.Atoi(os.Getenv("KIRO2_RETRY_MAX_RETRIES")); err == nil && v >= 0 {
		c.Retry.MaxRetries = v
	}
}

// Validate checks the assembled configuration. Violations are configuration
// failures: fatal, never retried.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return kerrors.Configuration("CONFIG_INVALID", "configuration failed validation").WithCause(err)
	}
	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*target = d
		}
	}
}
