package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	repo := NewMemoryCache(time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "k", "v"))
	got, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, ok, err = repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheNoTTL(t *testing.T) {
	repo := NewMemoryCache(0)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, "k", "v"))
	repo.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	_, ok, _ := repo.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryCacheMarkSeenConcurrent(t *testing.T) {
	repo := NewMemoryCache(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.MarkSeen(ctx, "urls", fmt.Sprintf("u%d", i%10))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, added)
}

func TestMemoryCacheForget(t *testing.T) {
	repo := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, repo.Forget(ctx, "missing", "k"))

	added, err := repo.MarkSeen(ctx, "hashes", "k")
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, repo.Forget(ctx, "hashes", "k"))
	added, err = repo.MarkSeen(ctx, "hashes", "k")
	require.NoError(t, err)
	assert.True(t, added)
}
