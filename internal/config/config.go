// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CrawlerConfig governs orchestrator and pipeline behavior.
type CrawlerConfig struct {
	GlobalConcurrency int    `mapstructure:"global_concurrency"`
	PerSiteMax        int    `mapstructure:"per_site_max"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	SessionTimeoutMin int    `mapstructure:"session_timeout_minutes"`
	MaxItems          int    `mapstructure:"max_items"`
	MaxPages          int    `mapstructure:"max_pages"`
	MaxErrors         int    `mapstructure:"max_errors"`
	Currency          string `mapstructure:"currency"`
}

// PolicyConfig controls rate, retry and circuit-breaker behavior.
type PolicyConfig struct {
	BaseDelayMs      int     `mapstructure:"base_delay_ms"`
	JitterMs         int     `mapstructure:"jitter_ms"`
	TargetInflight   int     `mapstructure:"target_inflight"`
	RPSPerOrigin     float64 `mapstructure:"rps_per_origin"`
	RetryBudget      int     `mapstructure:"retry_budget"`
	FailureThreshold int     `mapstructure:"failure_threshold"`
}

// IdentityConfig seeds the rotation pool.
type IdentityConfig struct {
	Proxies          []string `mapstructure:"proxies"`
	UserAgents       []string `mapstructure:"user_agents"`
	RotationSeconds  int      `mapstructure:"rotation_seconds"`
	RotationStrategy string   `mapstructure:"rotation_strategy"`
	ProbeURLs        []string `mapstructure:"probe_urls"`
	ProbeTimeoutSec  int      `mapstructure:"probe_timeout_seconds"`
}

// AggregateConfig governs the price aggregation engine.
type AggregateConfig struct {
	TrendDays         int     `mapstructure:"trend_days"`
	AlertThresholdPct float64 `mapstructure:"alert_threshold_pct"`
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	Backend      string `mapstructure:"backend"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisDB      int    `mapstructure:"redis_db"`
	MemcacheAddr string `mapstructure:"memcache_addr"`
	MemorySize   int    `mapstructure:"memory_size"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
}

// NotifyConfig selects the notification transport.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARTSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("crawler.global_concurrency", 16)
	v.SetDefault("crawler.per_site_max", 5)
	v.SetDefault("crawler.user_agent", "partswatch-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.session_timeout_minutes", 60)
	v.SetDefault("crawler.max_items", 5000)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.max_errors", 50)
	v.SetDefault("crawler.currency", "IRR")
	v.SetDefault("policy.base_delay_ms", 2000)
	v.SetDefault("policy.jitter_ms", 500)
	v.SetDefault("policy.target_inflight", 2)
	v.SetDefault("policy.rps_per_origin", 2.0)
	v.SetDefault("policy.retry_budget", 3)
	v.SetDefault("policy.failure_threshold", 5)
	v.SetDefault("identity.rotation_seconds", 300)
	v.SetDefault("identity.rotation_strategy", "interval")
	v.SetDefault("identity.probe_timeout_seconds", 5)
	v.SetDefault("identity.probe_urls", []string{
		"http://httpbin.org/ip",
		"https://api.ipify.org?format=json",
	})
	v.SetDefault("aggregate.trend_days", 30)
	v.SetDefault("aggregate.alert_threshold_pct", 10.0)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.memory_size", 4096)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.channel", "partswatch:alerts")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.GlobalConcurrency <= 0 {
		return fmt.Errorf("crawler.global_concurrency must be > 0")
	}
	if c.Crawler.PerSiteMax <= 0 {
		return fmt.Errorf("crawler.per_site_max must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Policy.RetryBudget < 0 {
		return fmt.Errorf("policy.retry_budget must be >= 0")
	}
	if c.Policy.FailureThreshold <= 0 {
		return fmt.Errorf("policy.failure_threshold must be > 0")
	}
	switch c.Identity.RotationStrategy {
	case "", "interval", "random":
	default:
		return fmt.Errorf("identity.rotation_strategy must be interval or random")
	}
	switch c.Cache.Backend {
	case "memory", "redis", "memcache":
	default:
		return fmt.Errorf("cache.backend must be one of memory, redis, memcache")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr must be set when cache.backend is redis")
	}
	if c.Cache.Backend == "memcache" && c.Cache.MemcacheAddr == "" {
		return fmt.Errorf("cache.memcache_addr must be set when cache.backend is memcache")
	}
	return nil
}

// RequestTimeout converts the crawler timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// SessionTimeout converts the session budget config into a duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.Crawler.SessionTimeoutMin) * time.Minute
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RotationInterval converts the identity rotation config into a duration.
func (c Config) RotationInterval() time.Duration {
	return time.Duration(c.Identity.RotationSeconds) * time.Second
}

// ProbeTimeout converts the proxy probe timeout config into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Identity.ProbeTimeoutSec) * time.Second
}

// BaseDelay converts the policy base delay config into a duration.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Policy.BaseDelayMs) * time.Millisecond
}

// Jitter converts the policy jitter config into a duration.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.Policy.JitterMs) * time.Millisecond
}
