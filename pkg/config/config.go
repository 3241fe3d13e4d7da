// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/market-gateway/pkg/pricing"
)

// Config holds every runtime knob of the gateway.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	Postgres PostgresConfig
	Redis    RedisConfig
	Skinport SkinportConfig
	Database DatabaseConfig

	LogLevel  string
	LogPretty bool
}

// PostgresConfig describes how to reach the relational store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders a pgx-compatible connection URL.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig describes the cache store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SkinportConfig holds upstream pricing API settings and read-path defaults.
type SkinportConfig struct {
	BaseURL         string
	UserAgent       string
	Timeout         time.Duration
	DefaultAppID    int
	DefaultCurrency string
	CacheTTL        time.Duration
}

// DatabaseConfig holds connection supervision and query budget settings.
type DatabaseConfig struct {
	QueryTimeout        time.Duration
	MaxRetries          int
	RetryInterval       time.Duration
	ConnectTimeout      time.Duration
	HealthCheckInterval time.Duration
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

func getEnvSeconds(key string, defaultSec int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSec)) * time.Second
}

// Load collects configuration from the environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":3000"),
		ShutdownTimeout: getEnvSeconds("SHUTDOWN_TIMEOUT_SECONDS", 15),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "127.0.0.1"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "password"),
			Database: getEnv("POSTGRES_DB", "postgres"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "127.0.0.1"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Skinport: SkinportConfig{
			BaseURL:         strings.TrimRight(getEnv("SKINPORT_BASE_URL", "https://api.skinport.com/v1"), "/"),
			UserAgent:       getEnv("USER_AGENT", "market-gateway/0.1.0"),
			Timeout:         getEnvMillis("UPSTREAM_TIMEOUT_MS", 10000),
			DefaultAppID:    getEnvInt("DEFAULT_APP_ID", 730),
			DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
			CacheTTL:        getEnvSeconds("CACHE_TTL_SECONDS", 300),
		},
		Database: DatabaseConfig{
			QueryTimeout:        getEnvMillis("QUERY_TIMEOUT_MS", 5000),
			MaxRetries:          getEnvInt("DB_MAX_RETRIES", 10),
			RetryInterval:       getEnvMillis("DB_RETRY_INTERVAL_MS", 5000),
			ConnectTimeout:      getEnvMillis("DB_CONNECT_TIMEOUT_MS", 5000),
			HealthCheckInterval: getEnvMillis("DB_HEALTH_CHECK_INTERVAL_MS", 30000),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http addr is required")
	}
	if c.Postgres.Port <= 0 || c.Redis.Port <= 0 {
		return fmt.Errorf("ports must be positive (postgres %d, redis %d)", c.Postgres.Port, c.Redis.Port)
	}
	if c.Skinport.BaseURL == "" {
		return fmt.Errorf("skinport base url is required")
	}
	if c.Skinport.DefaultAppID <= 0 {
		return fmt.Errorf("default app id must be positive (got %d)", c.Skinport.DefaultAppID)
	}
	if !slices.Contains(pricing.SupportedCurrencies, c.Skinport.DefaultCurrency) {
		return fmt.Errorf("default currency must be one of %s (got %q)",
			strings.Join(pricing.SupportedCurrencies, " | "), c.Skinport.DefaultCurrency)
	}
	if c.Skinport.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative (got %s)", c.Skinport.CacheTTL)
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive (got %s)", c.Database.QueryTimeout)
	}
	if c.Database.MaxRetries < 0 {
		return fmt.Errorf("db max retries must not be negative (got %d)", c.Database.MaxRetries)
	}
	return nil
}
