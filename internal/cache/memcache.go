package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcacheBackend adapts a memcached cluster. The protocol has no keyspace
// scan, so pattern clears fall back to flushing everything; callers only use
// Clear to invalidate derived aggregates, which recompute on the next read.
type memcacheBackend struct {
	client *memcache.Client
}

func newMemcacheBackend(addr string) (*memcacheBackend, error) {
	if addr == "" {
		return nil, fmt.Errorf("cache: memcache backend requires an address")
	}
	return &memcacheBackend{client: memcache.New(addr)}, nil
}

func (b *memcacheBackend) Get(_ context.Context, key string) ([]byte, error) {
	item, err := b.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (b *memcacheBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	})
}

func (b *memcacheBackend) Delete(_ context.Context, key string) error {
	err := b.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (b *memcacheBackend) DeleteMatching(_ context.Context, _ string) error {
	return b.client.FlushAll()
}

func (b *memcacheBackend) Close() error { return nil }
