package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Postgres configuration; empty means in-memory storage
	DatabaseURL string

	// Redis configuration (run event stream)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration (rate-limit block markers)
	MemcacheAddr string

	// Worker configuration
	ScrapeInterval time.Duration
	RunRetention   time.Duration

	// Fetch configuration
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Proxies           []string

	// Run configuration
	RunTimeBudget  time.Duration
	StalenessGrace time.Duration
	InterItemDelay DelayRange

	// Validation configuration
	PriceMin        float64
	PriceMax        float64
	RequiredFields  []string
	MaxFieldLengths map[string]int

	// Environment
	Environment string
}

// DelayRange is a randomized sleep window in seconds
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))

	interval, _ := strconv.Atoi(getEnv("SCRAPE_INTERVAL_SECONDS", "172800"))
	retention, _ := strconv.Atoi(getEnv("RUN_RETENTION_DAYS", "30"))
	timeout, _ := strconv.Atoi(getEnv("REQUEST_TIMEOUT_SECONDS", "30"))
	retries, _ := strconv.Atoi(getEnv("MAX_RETRIES", "3"))
	rps, _ := strconv.ParseFloat(getEnv("REQUESTS_PER_SECOND", "1"), 64)
	budget, _ := strconv.Atoi(getEnv("RUN_TIME_BUDGET_SECONDS", "3600"))
	grace, _ := strconv.Atoi(getEnv("STALENESS_GRACE_SECONDS", "3600"))

	itemDelayMin, _ := strconv.Atoi(getEnv("ITEM_DELAY_MIN_SECONDS", "2"))
	itemDelayMax, _ := strconv.Atoi(getEnv("ITEM_DELAY_MAX_SECONDS", "5"))

	priceMin, _ := strconv.ParseFloat(getEnv("PRICE_MIN", "100"), 64)
	priceMax, _ := strconv.ParseFloat(getEnv("PRICE_MAX", "600000"), 64)

	return Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "scrape-runs"),
		RedisStreamCount:     streamCount,
		RedisStreamMaxLength: streamMaxLen,
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		ScrapeInterval:       time.Duration(interval) * time.Second,
		RunRetention:         time.Duration(retention) * 24 * time.Hour,
		RequestTimeout:       time.Duration(timeout) * time.Second,
		MaxRetries:           retries,
		RequestsPerSecond:    rps,
		Proxies:              splitList(os.Getenv("SCRAPER_PROXIES")),
		RunTimeBudget:        time.Duration(budget) * time.Second,
		StalenessGrace:       time.Duration(grace) * time.Second,
		InterItemDelay: DelayRange{
			Min: time.Duration(itemDelayMin) * time.Second,
			Max: time.Duration(itemDelayMax) * time.Second,
		},
		PriceMin:       priceMin,
		PriceMax:       priceMax,
		RequiredFields: []string{"natural_key", "title"},
		MaxFieldLengths: map[string]int{
			"title":       500,
			"description": 5000,
			"brand":       100,
			"model":       200,
		},
		Environment: getEnv("SCRAPER_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.RunTimeBudget <= 0 {
		return fmt.Errorf("RUN_TIME_BUDGET_SECONDS must be positive")
	}
	if c.RunRetention < 0 {
		return fmt.Errorf("RUN_RETENTION_DAYS must not be negative")
	}
	if c.PriceMin < 0 || c.PriceMax <= c.PriceMin {
		return fmt.Errorf("invalid price range [%v, %v]", c.PriceMin, c.PriceMax)
	}
	if c.InterItemDelay.Min < 0 || c.InterItemDelay.Max < c.InterItemDelay.Min {
		return fmt.Errorf("invalid inter-item delay range")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// splitList parses a comma-separated environment value
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
