package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "localhost:11211", cfg.MemcacheAddr)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Hour, cfg.RunTimeBudget)
	assert.Equal(t, time.Hour, cfg.StalenessGrace)
	assert.Equal(t, 30*24*time.Hour, cfg.RunRetention)
	assert.Equal(t, 100.0, cfg.PriceMin)
	assert.Equal(t, 600000.0, cfg.PriceMax)
	assert.Contains(t, cfg.RequiredFields, "title")
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RUN_TIME_BUDGET_SECONDS", "120")
	t.Setenv("RUN_RETENTION_DAYS", "7")
	t.Setenv("SCRAPER_PROXIES", "http://p1:8080, socks5://p2:1080,")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.RunTimeBudget)
	assert.Equal(t, 7*24*time.Hour, cfg.RunRetention)
	assert.Equal(t, []string{"http://p1:8080", "socks5://p2:1080"}, cfg.Proxies)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := LoadConfig()
	cfg.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.PriceMax = cfg.PriceMin
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.InterItemDelay.Max = cfg.InterItemDelay.Min - time.Second
	assert.Error(t, cfg.Validate())
}
