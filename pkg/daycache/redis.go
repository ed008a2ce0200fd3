package daycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL outlives the default retention window by a day.
const DefaultRedisTTL = 8 * 24 * time.Hour

// RedisBackend stores entries as JSON strings in Redis.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a Redis backend. prefix namespaces the keys so
// several deployments can share one Redis database.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{
		redis:  client,
		prefix: prefix,
		ttl:    DefaultRedisTTL,
	}
}

// WithTTL overrides the backstop expiry of stored keys.
func (r *RedisBackend) WithTTL(ttl time.Duration) *RedisBackend {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) redisKey(key Key) string {
	if r.prefix == "" {
		return key.String()
	}
	return r.prefix + ":" + key.String()
}

func (r *RedisBackend) Load(ctx context.Context, key Key) (*Entry, error) {
	data, err := r.redis.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func (r *RedisBackend) Save(ctx context.Context, key Key, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.redis.Set(ctx, r.redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = r.redisKey(k)
	}
	if err := r.redis.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys SCANs every day key under the backend's prefix. The cost is O(N) in
// the number of cached entries, and Store.Put pays it on every write through
// Prune, so keep RetentionDays small when the prefix is shared by many plants.
func (r *RedisBackend) Keys(ctx context.Context) ([]Key, error) {
	pattern := keyPrefix + "*"
	if r.prefix != "" {
		pattern = r.prefix + ":" + pattern
	}

	var keys []Key
	iter := r.redis.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		name := iter.Val()
		if r.prefix != "" {
			name = name[len(r.prefix)+1:]
		}
		k, err := ParseKey(name)
		if err != nil {
			// foreign key under our prefix; leave it alone
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
