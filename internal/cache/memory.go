package cache

import (
	"context"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 4096

// memoryEntry carries its own deadline; the LRU's built-in TTL is global per
// cache, so expiry is checked at read time instead.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// memoryBackend is an in-process LRU for single-binary deployments.
type memoryBackend struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func newMemoryBackend(size int) (*memoryBackend, error) {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &memoryBackend{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, 0),
		now: time.Now,
	}, nil
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := b.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if b.now().After(entry.expiresAt) {
		b.lru.Remove(key)
		return nil, ErrMiss
	}
	return entry.value, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.lru.Add(key, memoryEntry{value: value, expiresAt: b.now().Add(ttl)})
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.lru.Remove(key)
	return nil
}

func (b *memoryBackend) DeleteMatching(_ context.Context, pattern string) error {
	for _, key := range b.lru.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			b.lru.Remove(key)
		}
	}
	return nil
}

func (b *memoryBackend) Close() error { return nil }
