package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend keys expire natively; pattern clears walk the keyspace with
// SCAN so large instances are never blocked by KEYS.
type redisBackend struct {
	client *redis.Client
}

func newRedisBackend(addr string, db int) (*redisBackend, error) {
	if addr == "" {
		return nil, fmt.Errorf("cache: redis backend requires an address")
	}
	return &redisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
	}, nil
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBackend) DeleteMatching(ctx context.Context, pattern string) error {
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
