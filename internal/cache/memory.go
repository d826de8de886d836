package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tiendamovil/cartsync/internal/config"
)

// memoryCache is the in-process backend used on-device, where no Redis is
// available. Values round-trip through JSON so both backends behave the same.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	cfg     *config.CacheConfig
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryCache(cfg *config.CacheConfig) Cache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		cfg:     cfg,
	}
}

func (m *memoryCache) Get(ctx context.Context, key string, value any) (bool, error) {

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if time.Now().After(entry.expiresAt) {

		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()

		return false, nil
	}

	if err := json.Unmarshal(entry.data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache data for key %s: %w", key, err)
	}

	return true, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()

	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	return nil
}

func (m *memoryCache) Close() error {

	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()

	return nil
}
