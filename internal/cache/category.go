// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// category.go provides a Valkey-backed cache for catalog reads. Values are
// stored as JSON under a shared prefix so a single structural change can
// drop every cached tree view at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// categoryKeyPrefix is the Valkey key prefix for cached category reads.
	categoryKeyPrefix = "category:"

	// DefaultCategoryTTL is how long a cached read survives without a write.
	DefaultCategoryTTL = 10 * time.Minute
)

// CategoryCache manages cached category reads in Valkey. Every error is
// logged and treated as a miss.
type CategoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCategoryCache creates a new category cache backed by the given Valkey client.
func NewCategoryCache(client *redis.Client, ttl time.Duration) *CategoryCache {
	if ttl == 0 {
		ttl = DefaultCategoryTTL
	}
	return &CategoryCache{client: client, ttl: ttl}
}

// Get decodes the cached value for key into dst and reports whether it hit.
func (cc *CategoryCache) Get(ctx context.Context, key string, dst any) bool {
	val, err := cc.client.Get(ctx, categoryKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		slog.Warn("category cache get error", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		slog.Warn("category cache decode error", "key", key, "error", err)
		return false
	}
	slog.Debug("category cache hit", "key", key)
	return true
}

// Set stores value for key with the configured TTL.
func (cc *CategoryCache) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("category cache encode error", "key", key, "error", err)
		return
	}
	if err := cc.client.Set(ctx, categoryKeyPrefix+key, data, cc.ttl).Err(); err != nil {
		slog.Warn("category cache set error", "key", key, "error", err)
	}
}

// InvalidateAll removes every cached category read by scanning for the prefix.
func (cc *CategoryCache) InvalidateAll(ctx context.Context) {
	var cursor uint64
	var deleted int
	for {
		keys, nextCursor, err := cc.client.Scan(ctx, cursor, categoryKeyPrefix+"*", 100).Result()
		if err != nil {
			slog.Warn("category cache scan error", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := cc.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("category cache bulk delete error", "error", err)
			}
			deleted += len(keys)
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		slog.Info("category cache cleared", "deleted", deleted)
	}
}
