// Package cache keeps the last good supplier batches in Redis so a failed
// refresh can fall back to them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/polyedge/internal/supplier"
)

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	TTL       time.Duration
}

// BatchCache implements supplier.Cache on Redis string keys holding the
// JSON-encoded batch.
//
// Key schema:
//
//	{prefix}batch:{key} - JSON supplier.Batch
type BatchCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*BatchCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewWithClient(rdb, cfg.KeyPrefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *BatchCache {
	return &BatchCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *BatchCache) key(k string) string {
	return c.prefix + "batch:" + k
}

func (c *BatchCache) GetBatch(ctx context.Context, key string) (supplier.Batch, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return supplier.Batch{}, false, nil
		}
		return supplier.Batch{}, false, fmt.Errorf("redis: get batch %s: %w", key, err)
	}

	var batch supplier.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return supplier.Batch{}, false, fmt.Errorf("redis: unmarshal batch %s: %w", key, err)
	}
	return batch, true, nil
}

func (c *BatchCache) SetBatch(ctx context.Context, key string, batch supplier.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("redis: marshal batch %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set batch %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *BatchCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *BatchCache) Close() error {
	return c.rdb.Close()
}

var _ supplier.Cache = (*BatchCache)(nil)
