package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifierWritesFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))

	err := n.Notify(context.Background(), "price alert", "movement detected",
		map[string]any{"product_id": int64(7), "change_pct": 12.5})
	require.NoError(t, err)
	require.NoError(t, n.Close())

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "price alert", entries[0].Message)
}

func TestNewSelectsBackend(t *testing.T) {
	n, err := New(Config{Backend: "log"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)

	n, err = New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n, "log is the default backend")

	n, err = New(Config{Backend: "redis", RedisAddr: "localhost:6379"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisNotifier{}, n)

	_, err = New(Config{Backend: "redis"}, nil)
	assert.Error(t, err, "redis backend without address")

	_, err = New(Config{Backend: "smoke-signal"}, nil)
	assert.Error(t, err)
}
