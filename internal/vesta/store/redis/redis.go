// Package redis keeps alert dedupe reservations in Redis so several engine
// instances share one suppression window.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "vesta:dedupe:"

// NewClient parses url, connects and pings.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// DedupeStore reserves keys with SET NX PX.  Expiry is left to Redis, so it
// needs no pruner.
type DedupeStore struct {
	client *redis.Client
	prefix string
}

func NewDedupeStore(client *redis.Client, prefix string) *DedupeStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &DedupeStore{client: client, prefix: prefix}
}

// Reserve returns true when no reservation for key is live.  A zero or
// negative window never suppresses.
func (s *DedupeStore) Reserve(ctx context.Context, key string, window time.Duration, now time.Time) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	ok, err := s.client.SetNX(ctx, s.key(key), now.UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return ok, nil
}

func (s *DedupeStore) key(k string) string {
	return s.prefix + k
}
