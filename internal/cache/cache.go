// Package cache fronts expensive aggregate reads with a TTL'd key-value
// cache. Three backends are supported: in-process LRU, redis and memcached.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/metrics"
)

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Backend is the raw byte-level store beneath the Cache facade.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes keys matching a glob pattern.
	DeleteMatching(ctx context.Context, pattern string) error
	Close() error
}

// Config selects and tunes the cache backend.
type Config struct {
	Backend      string
	RedisAddr    string
	RedisDB      int
	MemcacheAddr string
	MemorySize   int
	DefaultTTL   time.Duration
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64  `json:"hits"`
	Misses uint64  `json:"misses"`
	Sets   uint64  `json:"sets"`
	Errors uint64  `json:"errors"`
	Rate   float64 `json:"hit_rate"`
}

// Cache wraps a Backend with value encoding, a default TTL and hit/miss
// accounting.
type Cache struct {
	backend    Backend
	defaultTTL time.Duration
	logger     *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
	errs   atomic.Uint64
}

// New builds the configured cache.
func New(cfg Config, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", "memory":
		backend, err = newMemoryBackend(cfg.MemorySize)
	case "redis":
		backend, err = newRedisBackend(cfg.RedisAddr, cfg.RedisDB)
	case "memcache":
		backend, err = newMemcacheBackend(cfg.MemcacheAddr)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &Cache{backend: backend, defaultTTL: ttl, logger: logger}, nil
}

// NewWithBackend wraps an existing backend (primarily for testing).
func NewWithBackend(backend Backend, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Cache{backend: backend, defaultTTL: defaultTTL, logger: zap.NewNop()}
}

// Get loads the value at key into dest. Returns ErrMiss when absent.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		c.misses.Add(1)
		metrics.ObserveCacheOp("miss")
		return ErrMiss
	}
	if err != nil {
		c.errs.Add(1)
		metrics.ObserveCacheOp("error")
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := decodeValue(raw, dest); err != nil {
		c.errs.Add(1)
		metrics.ObserveCacheOp("error")
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	c.hits.Add(1)
	metrics.ObserveCacheOp("hit")
	return nil
}

// Set stores value at key. A non-positive ttl uses the default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := encodeValue(value)
	if err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.errs.Add(1)
		metrics.ObserveCacheOp("error")
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	c.sets.Add(1)
	metrics.ObserveCacheOp("set")
	return nil
}

// Delete removes one key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrMiss) {
		c.errs.Add(1)
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Clear removes all keys matching a glob pattern.
func (c *Cache) Clear(ctx context.Context, pattern string) error {
	if err := c.backend.DeleteMatching(ctx, pattern); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("cache clear %s: %w", pattern, err)
	}
	return nil
}

// GetOrCompute loads key into dest, invoking compute only on a miss. The
// computed value is cached for ttl and round-tripped through the codec so
// dest always sees exactly what a later hit would.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, dest any, compute func(ctx context.Context) (any, error)) error {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMiss) {
		c.logger.Warn("cache read failed, recomputing", zap.String("key", key), zap.Error(err))
	}

	value, err := compute(ctx)
	if err != nil {
		return err
	}
	if value == nil {
		return ErrMiss
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}

	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return decodeValue(raw, dest)
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.Rate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close releases backend resources.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// Values are encoded with a one-byte tag: 'j' for JSON, 'g' for gob when the
// value cannot be represented as JSON.
const (
	codecJSON = 'j'
	codecGob  = 'g'
)

func encodeValue(v any) ([]byte, error) {
	if raw, err := json.Marshal(v); err == nil {
		return append([]byte{codecJSON}, raw...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(codecGob)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(raw []byte, dest any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	switch raw[0] {
	case codecJSON:
		return json.Unmarshal(raw[1:], dest)
	case codecGob:
		return gob.NewDecoder(bytes.NewReader(raw[1:])).Decode(dest)
	default:
		return fmt.Errorf("unknown codec tag %q", raw[0])
	}
}
