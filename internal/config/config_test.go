package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Crawler.GlobalConcurrency)
	assert.Equal(t, 5, cfg.Crawler.PerSiteMax)
	assert.Equal(t, "IRR", cfg.Crawler.Currency)
	assert.Equal(t, 3, cfg.Policy.RetryBudget)
	assert.Equal(t, 5, cfg.Policy.FailureThreshold)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "log", cfg.Notify.Backend)
	assert.Equal(t, "interval", cfg.Identity.RotationStrategy)
	assert.Equal(t, 30, cfg.Aggregate.TrendDays)
	assert.InDelta(t, 10.0, cfg.Aggregate.AlertThresholdPct, 0.001)

	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Hour, cfg.SessionTimeout())
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 300*time.Second, cfg.RotationInterval())
	assert.Equal(t, 2*time.Second, cfg.BaseDelay())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawler:
  global_concurrency: 4
  currency: USD
policy:
  retry_budget: 1
cache:
  backend: redis
  redis_addr: localhost:6379
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Crawler.GlobalConcurrency)
	assert.Equal(t, "USD", cfg.Crawler.Currency)
	assert.Equal(t, 1, cfg.Policy.RetryBudget)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 5, cfg.Crawler.PerSiteMax, "defaults still apply")
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Crawler.GlobalConcurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Cache.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Policy.FailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Identity.RotationStrategy = "burst"
	assert.Error(t, cfg.Validate())
}
