package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Outflow server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Enrich   EnrichConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EnrichConfig struct {
	Provider         string
	DefaultBatchSize int
	DefaultTimeout   time.Duration
	ItemDelay        time.Duration
	BatchDelay       time.Duration
	FreshnessWindow  time.Duration
	Apollo           ApolloConfig
	Proxycurl        ProxycurlConfig
}

type ApolloConfig struct {
	BaseURL string
	APIKey  string
}

type ProxycurlConfig struct {
	BaseURL string
	APIKey  string
}

var validProviders = map[string]bool{
	"apollo":    true,
	"proxycurl": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("OUTFLOW_PORT", 8080),
			Env:  envString("OUTFLOW_ENV", "development"),
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
		Enrich: EnrichConfig{
			Provider:         os.Getenv("ENRICH_PROVIDER"),
			DefaultBatchSize: envInt("ENRICH_DEFAULT_BATCH_SIZE", 3),
			DefaultTimeout:   envDurationSecs("ENRICH_TIMEOUT_SECS", 30*time.Second),
			ItemDelay:        envDuration("ENRICH_ITEM_DELAY", time.Second),
			BatchDelay:       envDuration("ENRICH_BATCH_DELAY", 3*time.Second),
			FreshnessWindow:  envDuration("ENRICH_FRESHNESS_WINDOW", 24*time.Hour),
			Apollo: ApolloConfig{
				BaseURL: envString("APOLLO_BASE_URL", "https://api.apollo.io"),
				APIKey:  os.Getenv("APOLLO_API_KEY"),
			},
			Proxycurl: ProxycurlConfig{
				BaseURL: envString("PROXYCURL_BASE_URL", "https://nubela.co/proxycurl"),
				APIKey:  os.Getenv("PROXYCURL_API_KEY"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Enrich.Provider == "" {
		return fmt.Errorf("ENRICH_PROVIDER is required")
	}
	if !validProviders[c.Enrich.Provider] {
		return fmt.Errorf("ENRICH_PROVIDER must be one of apollo, proxycurl, mock; got %q", c.Enrich.Provider)
	}

	if c.Enrich.Provider == "apollo" {
		if c.Enrich.Apollo.APIKey == "" {
			return fmt.Errorf("APOLLO_API_KEY is required when ENRICH_PROVIDER is apollo")
		}
		if !hasHTTPScheme(c.Enrich.Apollo.BaseURL) {
			return fmt.Errorf("APOLLO_BASE_URL must start with http:// or https://, got %q", c.Enrich.Apollo.BaseURL)
		}
	}
	if c.Enrich.Provider == "proxycurl" {
		if c.Enrich.Proxycurl.APIKey == "" {
			return fmt.Errorf("PROXYCURL_API_KEY is required when ENRICH_PROVIDER is proxycurl")
		}
		if !hasHTTPScheme(c.Enrich.Proxycurl.BaseURL) {
			return fmt.Errorf("PROXYCURL_BASE_URL must start with http:// or https://, got %q", c.Enrich.Proxycurl.BaseURL)
		}
	}

	if c.Enrich.DefaultBatchSize < 1 {
		return fmt.Errorf("ENRICH_DEFAULT_BATCH_SIZE must be at least 1, got %d", c.Enrich.DefaultBatchSize)
	}
	if c.Enrich.ItemDelay < 0 || c.Enrich.BatchDelay < 0 {
		return fmt.Errorf("enrichment delays must not be negative")
	}

	return nil
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
