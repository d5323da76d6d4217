package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the Vista server.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Polling   PollingConfig
	Uploads   UploadConfig
	Templates TemplatesConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type StoreConfig struct {
	Backend    string
	BadgerPath string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; without a URL the server uses a process-local cache.
type RedisConfig struct {
	URL string
}

type ProviderConfig struct {
	Name              string
	FalKey            string
	QueueURL          string
	StorageURL        string
	Timeout           time.Duration
	UploadTimeout     time.Duration
	RequestsPerSecond int
}

type PollingConfig struct {
	Interval             time.Duration
	MaxConsecutiveErrors int
	ReconcileSchedule    string
	OrphanAfter          time.Duration
}

type UploadConfig struct {
	MaxImageBytes int64
	MaxVideoBytes int64
}

type TemplatesConfig struct {
	File string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"

	ProviderFal     = "fal"
	ProviderSandbox = "sandbox"
)

var validBackends = map[string]bool{
	BackendMemory:   true,
	BackendBadger:   true,
	BackendPostgres: true,
}

var validProviders = map[string]bool{
	ProviderFal:     true,
	ProviderSandbox: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Values in .env and .env.local are loaded first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("VISTA_PORT", 8080),
			Env:      envString("VISTA_ENV", "development"),
			LogLevel: strings.ToLower(envString("LOG_LEVEL", "info")),
		},
		Store: StoreConfig{
			Backend:    envString("STORE_BACKEND", BackendMemory),
			BadgerPath: envString("BADGER_PATH", "./data/jobs"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			Name:              envString("PROVIDER", ProviderFal),
			FalKey:            os.Getenv("FAL_KEY"),
			QueueURL:          envString("FAL_QUEUE_URL", "https://queue.fal.run"),
			StorageURL:        envString("FAL_STORAGE_URL", "https://rest.alpha.fal.ai"),
			Timeout:           envDuration("PROVIDER_TIMEOUT", 60*time.Second),
			UploadTimeout:     envDuration("PROVIDER_UPLOAD_TIMEOUT", 300*time.Second),
			RequestsPerSecond: envInt("PROVIDER_REQUESTS_PER_SECOND", 10),
		},
		Polling: PollingConfig{
			Interval:             envDuration("POLL_INTERVAL", 3*time.Second),
			MaxConsecutiveErrors: envInt("POLL_MAX_CONSECUTIVE_ERRORS", 1),
			ReconcileSchedule:    envString("RECONCILE_SCHEDULE", "@every 1m"),
			OrphanAfter:          envDuration("ORPHAN_AFTER", 10*time.Minute),
		},
		Uploads: UploadConfig{
			MaxImageBytes: int64(envInt("MAX_IMAGE_BYTES", 10<<20)),
			MaxVideoBytes: int64(envInt("MAX_VIDEO_BYTES", 100<<20)),
		},
		Templates: TemplatesConfig{
			File: envString("TEMPLATES_FILE", "templates.toml"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("VISTA_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of memory, badger, postgres; got %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}
	if c.Store.Backend == BackendBadger && c.Store.BadgerPath == "" {
		return fmt.Errorf("BADGER_PATH is required when STORE_BACKEND is badger")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.Provider.Name] {
		return fmt.Errorf("PROVIDER must be one of fal, sandbox; got %q", c.Provider.Name)
	}
	if c.Provider.Name == ProviderFal && c.Provider.FalKey == "" {
		return fmt.Errorf("FAL_KEY is required when PROVIDER is fal")
	}
	for name, u := range map[string]string{"FAL_QUEUE_URL": c.Provider.QueueURL, "FAL_STORAGE_URL": c.Provider.StorageURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}
	if c.Provider.Timeout <= 0 || c.Provider.UploadTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT and PROVIDER_UPLOAD_TIMEOUT must be positive")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		return fmt.Errorf("PROVIDER_REQUESTS_PER_SECOND must be positive, got %d", c.Provider.RequestsPerSecond)
	}

	if c.Polling.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("POLL_MAX_CONSECUTIVE_ERRORS must be at least 1, got %d", c.Polling.MaxConsecutiveErrors)
	}
	if _, err := cron.ParseStandard(c.Polling.ReconcileSchedule); err != nil {
		return fmt.Errorf("RECONCILE_SCHEDULE is invalid: %w", err)
	}

	if c.Uploads.MaxImageBytes <= 0 || c.Uploads.MaxVideoBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES and MAX_VIDEO_BYTES must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
