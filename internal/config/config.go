// Package config handles application configuration loading from environment
// variables. It provides a centralized Config struct used across the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Cache drivers.
const (
	CacheValkey = "valkey"
	CacheMemory = "memory"
	CacheNone   = "none"
)

// Event sinks.
const (
	EventsStream = "stream"
	EventsLog    = "log"
)

// Config holds all application configuration values loaded from the environment.
type Config struct {
	// Server settings
	Host string
	Port string
	Env  string // "development", "production", "testing"

	// PostgreSQL connection
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Valkey (Redis-compatible cache)
	ValkeyHost     string
	ValkeyPort     string
	ValkeyPassword string

	// Backends
	Store       string // "postgres" or "memory"
	CacheDriver string // "valkey", "memory" or "none"
	EventSink   string // "stream" or "log"

	// Catalog behavior
	MaxDepth          int
	CacheTTL          time.Duration
	EventStream       string
	EventStreamMaxLen int64
	ActorHeader       string

	// Rate limiting; RateLimit 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// LoadDotEnv reads a .env file into the process environment if one exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no .env file found", "path", path)
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("loaded environment file", "path", path)
	return nil
}

// Load reads configuration from environment variables, applying defaults
// for development where appropriate. Returns an error if a value does not
// parse or if critical values are missing in production mode.
func Load() (*Config, error) {
	cfg := &Config{
		Host: envOrDefault("APP_HOST", "0.0.0.0"),
		Port: envOrDefault("APP_PORT", "8080"),
		Env:  envOrDefault("APP_ENV", "development"),

		DBHost:     envOrDefault("POSTGRES_HOST", "localhost"),
		DBPort:     envOrDefault("POSTGRES_PORT", "5432"),
		DBUser:     envOrDefault("POSTGRES_USER", "procgrid"),
		DBPassword: envOrDefault("POSTGRES_PASSWORD", "changeme"),
		DBName:     envOrDefault("POSTGRES_DB", "procgrid"),

		ValkeyHost:     envOrDefault("VALKEY_HOST", "localhost"),
		ValkeyPort:     envOrDefault("VALKEY_PORT", "6379"),
		ValkeyPassword: os.Getenv("VALKEY_PASSWORD"),

		Store:       envOrDefault("CATALOG_STORE", StorePostgres),
		CacheDriver: envOrDefault("CATALOG_CACHE", CacheValkey),
		EventSink:   envOrDefault("CATALOG_EVENTS", EventsStream),

		EventStream: envOrDefault("CATALOG_EVENT_STREAM", "procgrid:catalog:events"),
		ActorHeader: envOrDefault("CATALOG_ACTOR_HEADER", "X-Authenticated-User"),
	}

	var err error
	if cfg.MaxDepth, err = envInt("CATALOG_MAX_DEPTH", 5); err != nil {
		return nil, err
	}
	if cfg.MaxDepth < 1 {
		return nil, fmt.Errorf("CATALOG_MAX_DEPTH must be at least 1, got %d", cfg.MaxDepth)
	}
	if cfg.CacheTTL, err = envDuration("CATALOG_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	maxLen, err := envInt("CATALOG_EVENT_STREAM_MAXLEN", 100000)
	if err != nil {
		return nil, err
	}
	cfg.EventStreamMaxLen = int64(maxLen)
	if cfg.RateLimit, err = envInt("RATE_LIMIT", 120); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = envDuration("RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return nil, fmt.Errorf("CATALOG_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	switch cfg.CacheDriver {
	case CacheValkey, CacheMemory, CacheNone:
	default:
		return nil, fmt.Errorf("CATALOG_CACHE must be %q, %q or %q, got %q", CacheValkey, CacheMemory, CacheNone, cfg.CacheDriver)
	}
	switch cfg.EventSink {
	case EventsStream, EventsLog:
	default:
		return nil, fmt.Errorf("CATALOG_EVENTS must be %q or %q, got %q", EventsStream, EventsLog, cfg.EventSink)
	}

	if cfg.Env == "production" {
		if cfg.DBPassword == "changeme" {
			return nil, fmt.Errorf("POSTGRES_PASSWORD must be set in production")
		}
		if cfg.Store == StoreMemory {
			return nil, fmt.Errorf("CATALOG_STORE=memory is not allowed in production")
		}
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

// Addr returns the server listen address (host:port).
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDev returns true if the application is running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// NeedsValkey reports whether any configured backend talks to Valkey.
func (c *Config) NeedsValkey() bool {
	return c.CacheDriver == CacheValkey || c.EventSink == EventsStream
}

// envOrDefault reads an environment variable, returning a fallback if unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}
