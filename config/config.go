package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the service configuration derived from the environment.
type Config struct {
	// Database settings
	DBURL      string
	DBUser     string
	DBPassword string

	// HTTP server settings
	HTTPPort int

	// Cache refresh intervals
	RateRefreshInterval time.Duration
	RuleRefreshInterval time.Duration

	// Notification delivery settings
	NotificationMaxRetries int
	NotifyURL              string

	// Exposure limit applied when a counterparty has no configured limit
	DefaultExposureLimitUSD decimal.Decimal

	// Optional external sources for rates and rules
	RateSourceURL string
	RuleSourceURL string

	// Running-total engine settings
	EventWorkers int

	// Logging settings
	LogLevel string
}

// Load builds the configuration from defaults and environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:                8080,
		RateRefreshInterval:     900 * time.Second,
		RuleRefreshInterval:     1800 * time.Second,
		NotificationMaxRetries:  10,
		DefaultExposureLimitUSD: decimal.New(500_000_000, 0),
		EventWorkers:            4,
		LogLevel:                "info",
	}

	cfg.DBURL = os.Getenv("DB_URL")
	cfg.DBUser = os.Getenv("DB_USER")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	cfg.RateSourceURL = os.Getenv("RATE_SOURCE_URL")
	cfg.RuleSourceURL = os.Getenv("RULE_SOURCE_URL")
	cfg.NotifyURL = os.Getenv("NOTIFY_URL")

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("RATE_REFRESH_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_REFRESH_SECONDS: %w", err)
		}
		cfg.RateRefreshInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("RULE_REFRESH_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RULE_REFRESH_SECONDS: %w", err)
		}
		cfg.RuleRefreshInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("NOTIFICATION_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFICATION_MAX_RETRIES: %w", err)
		}
		cfg.NotificationMaxRetries = n
	}

	if v := os.Getenv("DEFAULT_EXPOSURE_LIMIT_USD"); v != "" {
		limit, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_EXPOSURE_LIMIT_USD: %w", err)
		}
		cfg.DefaultExposureLimitUSD = limit
	}

	if v := os.Getenv("EVENT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EVENT_WORKERS: %w", err)
		}
		cfg.EventWorkers = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.RateRefreshInterval <= 0 {
		return fmt.Errorf("RATE_REFRESH_SECONDS must be positive")
	}
	if c.RuleRefreshInterval <= 0 {
		return fmt.Errorf("RULE_REFRESH_SECONDS must be positive")
	}
	if c.NotificationMaxRetries < 1 {
		return fmt.Errorf("NOTIFICATION_MAX_RETRIES must be at least 1")
	}
	if c.DefaultExposureLimitUSD.Sign() <= 0 {
		return fmt.Errorf("DEFAULT_EXPOSURE_LIMIT_USD must be positive")
	}
	if c.EventWorkers < 1 {
		return fmt.Errorf("EVENT_WORKERS must be at least 1")
	}
	return nil
}

// DSN returns the database connection string with DB_USER and DB_PASSWORD
// injected. URL-form and key=value connection strings are both supported.
func (c *Config) DSN() string {
	if c.DBUser == "" {
		return c.DBURL
	}
	if strings.HasPrefix(c.DBURL, "postgres://") || strings.HasPrefix(c.DBURL, "postgresql://") {
		u, err := url.Parse(c.DBURL)
		if err != nil {
			return c.DBURL
		}
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
		return u.String()
	}
	dsn := c.DBURL + " user=" + c.DBUser
	if c.DBPassword != "" {
		dsn += " password=" + c.DBPassword
	}
	return dsn
}

// String returns a printable summary with credentials redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DBURL: %s, HTTPPort: %d, RateRefresh: %s, RuleRefresh: %s, "+
		"NotificationMaxRetries: %d, DefaultLimitUSD: %s, EventWorkers: %d, LogLevel: %s}",
		redactURL(c.DBURL), c.HTTPPort, c.RateRefreshInterval, c.RuleRefreshInterval,
		c.NotificationMaxRetries, c.DefaultExposureLimitUSD.StringFixed(2), c.EventWorkers, c.LogLevel)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(u.User.Username())
	return u.String() + " (password redacted)"
}
