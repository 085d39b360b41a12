package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryTier is an in-process EphemeralTier. It backs unit tests and local
// development runs without a Redis instance.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[string]memoryEntry)}
}

// Get retrieves the value for key, honouring expiry.
func (t *MemoryTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		t.mu.Lock()
		delete(t.entries, key)
		t.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key. A zero ttl means no expiry.
func (t *MemoryTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	t.mu.Lock()
	t.entries[key] = entry
	t.mu.Unlock()
	return nil
}

// Delete removes key.
func (t *MemoryTier) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	return nil
}

// DeletePrefix removes every key under prefix.
func (t *MemoryTier) DeletePrefix(ctx context.Context, prefix string) error {
	t.mu.Lock()
	for k := range t.entries {
		if strings.HasPrefix(k, prefix) {
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()
	return nil
}

// Len reports the number of live entries. Test helper.
func (t *MemoryTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

var _ EphemeralTier = (*MemoryTier)(nil)
