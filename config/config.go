package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds process configuration read from the environment. The
// database keys keep the lowercase names the hosted postgres dashboard
// exports into .env files.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DBUser      string `env:"user"`
	DBPassword  string `env:"password"`
	DBHost      string `env:"host"`
	DBPort      string `env:"port" envDefault:"5432"`
	DBName      string `env:"dbname"`
	DBSSLMode   string `env:"DB_SSLMODE" envDefault:"require"`

	// MemoryOwners seeds assessment ownership ("assessmentID=userID") when
	// running without postgres.
	MemoryOwners []string `env:"MEMORY_OWNERS" envSeparator:","`

	JWTSecret string `env:"SUPABASE_JWT_SECRET"`

	RedisURL         string `env:"REDIS_URL"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"assessment.activity"`

	PresenceStaleAfter time.Duration `env:"PRESENCE_STALE_AFTER" envDefault:"5m"`
	FeedPageSize       int           `env:"FEED_PAGE_SIZE" envDefault:"20"`
	FeedMaxPageSize    int           `env:"FEED_MAX_PAGE_SIZE" envDefault:"100"`
}

// Load parses the environment into a validated Config.
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

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PresenceStaleAfter <= 0 {
		return errors.New("PRESENCE_STALE_AFTER must be positive")
	}
	if c.FeedPageSize <= 0 {
		return errors.New("FEED_PAGE_SIZE must be positive")
	}
	if c.FeedMaxPageSize < c.FeedPageSize {
		return errors.New("FEED_MAX_PAGE_SIZE must not be below FEED_PAGE_SIZE")
	}
	return nil
}

// PostgresDSN builds the connection string for lib/pq.
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}
