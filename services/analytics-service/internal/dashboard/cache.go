package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// RedisKV is the subset of the go-redis client the cache needs.
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares cached figures between analytics replicas.
type RedisCache struct {
	rdb    RedisKV
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb RedisKV, ttl time.Duration, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "analytics"
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Stats, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, err
	}
	var st Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return Stats{}, false, err
	}
	return st, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, s Stats) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+":"+key, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+":"+key).Err()
}

// LRUCache keeps figures in process when no Redis is configured.
type LRUCache struct {
	lru *expirable.LRU[string, Stats]
}

func NewLRUCache(ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, Stats](8, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, key string) (Stats, bool, error) {
	st, ok := c.lru.Get(key)
	return st, ok, nil
}

func (c *LRUCache) Set(_ context.Context, key string, s Stats) error {
	c.lru.Add(key, s)
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}
