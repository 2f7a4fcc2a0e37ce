package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const taskQueueKey = "crawl:queue"

// RedisStore handles interactions with Redis: dedup locks, the task queue,
// the task result backend, and the search cache.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// TryAcquire takes a lock key with SET NX EX semantics. It reports false when
// the key is already held.
func (s *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// Release drops a lock key before its TTL expires.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// EnqueueTask adds a serialized task descriptor to the left side of the Redis
// list (acting as a queue).
func (s *RedisStore) EnqueueTask(ctx context.Context, payload []byte) error {
	return s.client.LPush(ctx, taskQueueKey, payload).Err()
}

// DequeueTask removes a descriptor from the right side of the list, blocking
// up to timeout. A nil payload with nil error means the queue stayed empty.
func (s *RedisStore) DequeueTask(ctx context.Context, timeout time.Duration) ([]byte, error) {
	vals, err := s.client.BRPop(ctx, timeout, taskQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply length %d", len(vals))
	}
	return []byte(vals[1]), nil
}

// QueueSize returns the current number of queued tasks.
func (s *RedisStore) QueueSize(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, taskQueueKey).Result()
}

// SaveResult stores a task outcome under its task ID with an expiry, so
// consumers can poll for a while without results accumulating forever.
func (s *RedisStore) SaveResult(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error {
	key := fmt.Sprintf("result:%s", taskID)
	return s.client.Set(ctx, key, payload, ttl).Err()
}

// GetResult returns the stored outcome, or nil when unknown or expired.
func (s *RedisStore) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	key := fmt.Sprintf("result:%s", taskID)
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

// CacheSet stores a serialized search response.
func (s *RedisStore) CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, fmt.Sprintf("cache:%s", key), payload, ttl).Err()
}

// CacheGet returns a cached search response, or nil on a miss.
func (s *RedisStore) CacheGet(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, fmt.Sprintf("cache:%s", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}
