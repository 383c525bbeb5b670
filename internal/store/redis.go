package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
)

const redisConnectAttempts = 5

// Redis stores each path as a plain string key under a prefix, so
// "state/ulsan" lives at "<prefix>state/ulsan".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings with exponential backoff before giving up.
func NewRedis(ctx context.Context, redisURL, prefix string, m *metrics.Metrics) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= redisConnectAttempts; attempt++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			m.RecordStoreConnectionRetries(attempt)
			return &Redis{client: client, prefix: prefix}, nil
		}

		m.RecordStoreError("connect")
		slog.Warn("redis ping failed", "attempt", attempt, "of", redisConnectAttempts, "err", err)
		if attempt == redisConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	m.RecordStoreConnectionRetries(redisConnectAttempts)
	_ = client.Close()
	return nil, fmt.Errorf("connect to redis after %d attempts: %w", redisConnectAttempts, err)
}

// NewRedisFromClient wraps an existing client without pinging it.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, path string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, path string, value []byte) error {
	return r.client.Set(ctx, r.prefix+path, value, 0).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
