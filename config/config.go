// Package config loads the session configuration from FLEET_* environment
// variables and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/krisalay/fleet-agenda-cache/eviction"
)

// Spill backends.
const (
	SpillMemory = "memory"
	SpillSQLite = "sqlite"
	SpillRedis  = "redis"
	SpillNone   = "none"
)

// ByteSize is a byte count written the human way: "5MB", "512 KiB", "1048576".
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string { return humanize.Bytes(uint64(b)) }

// Config is everything a session needs.
type Config struct {
	APIBaseURL     string        `env:"FLEET_API_BASE_URL" envDefault:"http://localhost:8080/api"`
	APIToken       string        `env:"FLEET_API_TOKEN"`
	RequestTimeout time.Duration `env:"FLEET_REQUEST_TIMEOUT" envDefault:"15s"`

	CacheTTL     time.Duration `env:"FLEET_CACHE_TTL" envDefault:"5m"`
	StaleDivisor int           `env:"FLEET_STALE_DIVISOR" envDefault:"5"`
	PageSize     int           `env:"FLEET_PAGE_SIZE" envDefault:"10"`
	RefreshLimit int           `env:"FLEET_REFRESH_LIMIT" envDefault:"8"`

	// MaxPages bounds the pages held in memory per paged collection. 0 is unbounded.
	MaxPages int                 `env:"FLEET_MAX_PAGES" envDefault:"0"`
	Eviction eviction.PolicyType `env:"FLEET_EVICTION" envDefault:"LRU"`

	SpillBackend  string   `env:"FLEET_SPILL_BACKEND" envDefault:"memory"`
	SpillQuota    ByteSize `env:"FLEET_SPILL_QUOTA" envDefault:"5MB"`
	SpillEntryMax ByteSize `env:"FLEET_SPILL_ENTRY_MAX" envDefault:"1MB"`
	SQLitePath    string   `env:"FLEET_SQLITE_PATH" envDefault:"fleet-cache.db"`
	RedisAddr     string   `env:"FLEET_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB       int      `env:"FLEET_REDIS_DB" envDefault:"0"`
	RedisPrefix   string   `env:"FLEET_REDIS_PREFIX" envDefault:"fleet:"`

	LogLevel string `env:"FLEET_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("FLEET_API_BASE_URL is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FLEET_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("FLEET_CACHE_TTL must not be negative, got %s", c.CacheTTL))
	}
	if c.StaleDivisor < 1 {
		errs = append(errs, fmt.Errorf("FLEET_STALE_DIVISOR must be at least 1, got %d", c.StaleDivisor))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("FLEET_PAGE_SIZE must be at least 1, got %d", c.PageSize))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("FLEET_MAX_PAGES must not be negative, got %d", c.MaxPages))
	}
	if _, err := eviction.NewEvictionPolicy(c.Eviction); err != nil {
		errs = append(errs, fmt.Errorf("FLEET_EVICTION: %w", err))
	}
	switch c.SpillBackend {
	case SpillMemory, SpillSQLite, SpillRedis, SpillNone:
	default:
		errs = append(errs, fmt.Errorf("FLEET_SPILL_BACKEND must be one of memory, sqlite, redis, none; got %q", c.SpillBackend))
	}
	if c.SpillEntryMax > c.SpillQuota && c.SpillQuota > 0 {
		errs = append(errs, fmt.Errorf("FLEET_SPILL_ENTRY_MAX (%s) exceeds FLEET_SPILL_QUOTA (%s)", c.SpillEntryMax, c.SpillQuota))
	}
	return errors.Join(errs...)
}
