// memory.go provides an in-process cache for single-node deployments and
// tests. Entries hold the JSON encoding of the cached value so callers never
// share mutable state with the cache.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// Memory is a concurrency-safe in-memory cache with per-entry expiry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache. ttl 0 selects DefaultCategoryTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl == 0 {
		ttl = DefaultCategoryTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get decodes the entry for key into dst. Expired entries miss.
func (m *Memory) Get(_ context.Context, key string, dst any) bool {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return false
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		slog.Warn("memory cache decode error", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("memory cache encode error", "key", key, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{data: data, expires: m.now().Add(m.ttl)}
}

// InvalidateAll clears the entire cache.
func (m *Memory) InvalidateAll(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	slog.Debug("memory cache fully cleared")
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
