// Package notify delivers best-effort notifications to downstream consumers.
// The log backend is the default; the redis backend publishes JSON messages
// on a pub/sub channel for external subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier delivers one message. Implementations must be safe for concurrent
// use; delivery failures are for the caller to log, never to act on.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, fields map[string]any) error
	Close() error
}

// Config selects and tunes the notifier backend.
type Config struct {
	Backend   string
	RedisAddr string
	Channel   string
}

// New builds the configured notifier. Unknown backends are an error so a
// typo never silently drops notifications.
func New(cfg Config, logger *zap.Logger) (Notifier, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("notify: redis backend requires an address")
		}
		return NewRedisNotifier(cfg.RedisAddr, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("notify: unknown backend %q", cfg.Backend)
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps a logger as a Notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message at warn level with its fields attached.
func (n *LogNotifier) Notify(_ context.Context, subject, body string, fields map[string]any) error {
	n.logger.Warn(subject, zap.String("body", body), zap.Any("fields", fields))
	return nil
}

// Close is a no-op for the log backend.
func (n *LogNotifier) Close() error { return nil }

// message is the wire form published by the redis backend.
type message struct {
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RedisNotifier publishes notifications as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewRedisNotifier connects a redis client for publishing.
func NewRedisNotifier(addr, channel string) *RedisNotifier {
	if channel == "" {
		channel = "partswatch:alerts"
	}
	return &RedisNotifier{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		now:     time.Now,
	}
}

// Notify serializes the message and publishes it.
func (n *RedisNotifier) Notify(ctx context.Context, subject, body string, fields map[string]any) error {
	payload, err := json.Marshal(message{
		Subject:   subject,
		Body:      body,
		Fields:    fields,
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Close shuts down the redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
