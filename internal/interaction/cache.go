package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache keeps synthesized interactions in redis so repeated pairs skip
// the fallback call.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

type cachedRecord struct {
	Record *Record `json:"record"`
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Record, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entry cachedRecord
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached interaction: %w", err)
	}
	return entry.Record, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, rec *Record) error {
	raw, err := json.Marshal(cachedRecord{Record: rec})
	if err != nil {
		return fmt.Errorf("encode cached interaction: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
