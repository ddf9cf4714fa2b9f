package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "storefront:cart:"

// RedisStore keeps each cart as a JSON value whose expiry is refreshed on
// every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Cart, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("redis: failed to get cart: %w", err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("redis: failed to decode cart: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: failed to encode cart: %w", err)
	}
	if err := s.client.Set(ctx, s.key(c.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to save cart: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete cart: %w", err)
	}
	return nil
}
