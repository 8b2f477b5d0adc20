package repository

import (
	"context"
	"sync"
	"time"

	"ddalti/internal/domain"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the in-process KVCache used without Redis or while Redis is down.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	sets    map[string]map[string]struct{}
}

var _ domain.KVCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (r *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (r *MemoryCache) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memoryEntry{value: value}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.entries[key] = entry
	return nil
}

func (r *MemoryCache) MarkSeen(_ context.Context, set, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.sets[set]
	if !ok {
		members = make(map[string]struct{})
		r.sets[set] = members
	}
	if _, seen := members[key]; seen {
		return false, nil
	}
	members[key] = struct{}{}
	return true, nil
}

func (r *MemoryCache) Forget(_ context.Context, set, key string) error {
	r.mu.Lock()
	delete(r.sets[set], key)
	r.mu.Unlock()
	return nil
}
