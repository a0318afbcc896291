// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// testValkeyClient returns a Redis client for tests.
// Skips if Valkey is unavailable.
func testValkeyClient(t *testing.T) *redis.Client {
	t.Helper()

	host := envOr("VALKEY_HOST", "localhost")
	port := envOr("VALKEY_PORT", "6379")
	password := os.Getenv("VALKEY_PASSWORD")

	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: password,
		DB:       15, // Use DB 15 for tests.
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("skipping integration test: Valkey not reachable: %v", err)
	}

	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, categoryKeyPrefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})

	return client
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestConnectValkey(t *testing.T) {
	host := envOr("VALKEY_HOST", "localhost")
	port := envOr("VALKEY_PORT", "6379")

	client, err := ConnectValkey(host, port, "")
	if err != nil {
		t.Skipf("skipping: Valkey not available: %v", err)
	}
	defer client.Close()

	// Verify connection.
	ctx := context.Background()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if pong != "PONG" {
		t.Errorf("expected PONG, got %q", pong)
	}
}

type cachedNode struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func TestCategoryCacheSetAndGet(t *testing.T) {
	client := testValkeyClient(t)
	cc := NewCategoryCache(client, 1*time.Minute)

	ctx := context.Background()

	// Miss.
	var got cachedNode
	if cc.Get(ctx, "id:test", &got) {
		t.Error("expected cache miss")
	}

	// Set.
	want := cachedNode{ID: "test", Path: "/grains/rice"}
	cc.Set(ctx, "id:test", want)

	// Hit.
	if !cc.Get(ctx, "id:test", &got) {
		t.Fatal("expected cache hit")
	}
	if got != want {
		t.Errorf("value mismatch: got %+v, want %+v", got, want)
	}
}

func TestCategoryCacheDecodeErrorIsMiss(t *testing.T) {
	client := testValkeyClient(t)
	cc := NewCategoryCache(client, 1*time.Minute)

	ctx := context.Background()
	client.Set(ctx, categoryKeyPrefix+"broken", "not json", time.Minute)

	var got cachedNode
	if cc.Get(ctx, "broken", &got) {
		t.Error("expected undecodable entry to miss")
	}
}

func TestCategoryCacheInvalidateAll(t *testing.T) {
	client := testValkeyClient(t)
	cc := NewCategoryCache(client, 1*time.Minute)

	ctx := context.Background()

	cc.Set(ctx, "roots", []cachedNode{{ID: "a"}})
	cc.Set(ctx, "leaves", []cachedNode{{ID: "b"}})
	cc.Set(ctx, "popular:10", []cachedNode{{ID: "c"}})
	client.Set(ctx, "unrelated:key", "keep", time.Minute)
	t.Cleanup(func() { client.Del(ctx, "unrelated:key") })

	cc.InvalidateAll(ctx)

	for _, key := range []string{"roots", "leaves", "popular:10"} {
		var got []cachedNode
		if cc.Get(ctx, key, &got) {
			t.Errorf("expected miss for %q after InvalidateAll", key)
		}
	}
	if v, _ := client.Get(ctx, "unrelated:key").Result(); v != "keep" {
		t.Error("InvalidateAll removed a key outside the category prefix")
	}
}

func TestNewCategoryCacheDefaultTTL(t *testing.T) {
	cc := NewCategoryCache(nil, 0)
	if cc.ttl != DefaultCategoryTTL {
		t.Errorf("expected DefaultCategoryTTL (%v), got %v", DefaultCategoryTTL, cc.ttl)
	}
}
