// Package idempotency makes retried POST requests replay the first
// response instead of running twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrFingerprintMismatch = errors.New("idempotency key was already used with a different request")
	ErrInProgress          = errors.New("a request with this idempotency key is still being processed")
)

// Record is what is kept per key: the request fingerprint and, once the
// first request finished, its response.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Completed   bool   `json:"completed"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store interface {
	// Begin claims key for a new request. When the key is already known the
	// stored record is returned and claimed is false.
	Begin(ctx context.Context, key, fingerprint string) (rec *Record, claimed bool, err error)
	Complete(ctx context.Context, key string, rec Record) error
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && s.now().Before(e.expiresAt) {
		rec := e.rec
		return &rec, false, nil
	}
	s.entries[key] = memoryEntry{rec: Record{Fingerprint: fingerprint}, expiresAt: s.now().Add(s.ttl)}
	return nil, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Completed = true
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

const redisKeyPrefix = "storefront:idempotency:"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	data, err := json.Marshal(Record{Fingerprint: fingerprint})
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to encode idempotency record: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, redisKeyPrefix+key, data, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to claim idempotency key: %w", err)
	}
	if claimed {
		return nil, true, nil
	}

	stored, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; try once more
			claimed, err = s.client.SetNX(ctx, redisKeyPrefix+key, data, s.ttl).Result()
			if err != nil {
				return nil, false, fmt.Errorf("redis: failed to claim idempotency key: %w", err)
			}
			if claimed {
				return nil, true, nil
			}
			return nil, false, ErrInProgress
		}
		return nil, false, fmt.Errorf("redis: failed to read idempotency record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(stored, &rec); err != nil {
		return nil, false, fmt.Errorf("redis: failed to decode idempotency record: %w", err)
	}
	return &rec, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record) error {
	rec.Completed = true
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: failed to encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to store idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: failed to release idempotency key: %w", err)
	}
	return nil
}
