package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisIdempotencyPrefix = "bonzai:idempotency:"

// RedisIdempotencyStore shares cached responses between replicas. Expiry is
// left to Redis, so Stop has nothing to release.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	raw, err := s.client.Get(ctx, redisIdempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var response CachedResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return &response, true, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, response *CachedResponse) error {
	response.CreatedAt = time.Now()
	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	// First writer wins when two replicas finish the same key concurrently.
	if err := s.client.SetNX(ctx, redisIdempotencyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Stop() {}
