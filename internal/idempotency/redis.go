// Package idempotency stores Idempotency-Key claims in Redis.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "idempotency:order:"
	pending   = "pending"
)

const defaultPendingTTL = 30 * time.Second

type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

type Option func(*RedisStore)

// WithPendingTTL sets how long a claim lives before Complete. A placement
// that dies mid-flight frees its key once this expires.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.pendingTTL = ttl
		}
	}
}

// NewRedisStore keeps completed keys for ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, ttl: ttl, pendingTTL: min(defaultPendingTTL, ttl)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim atomically marks key as in progress. When the key already exists it
// reports the order recorded for it, or "" while that placement is running.
func (s *RedisStore) Claim(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pending, s.pendingTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired or abandoned between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, keyPrefix+key, pending, s.pendingTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w", err)
		}
		return "", ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == pending {
		return "", false, nil
	}
	return val, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("abandon idempotency key: %w", err)
	}
	return nil
}
