package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ddalti/internal/domain"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*3600)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "ddalti.db"), kst, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newItem(id, title string, priority int) *models.QueueItem {
	return &models.QueueItem{
		ID:        id,
		Title:     title,
		Code:      "25" + id[:6],
		Genre:     "콘서트",
		Status:    models.StatusPending,
		Priority:  priority,
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, kst),
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, kst, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Memory(t *testing.T) {
	db, err := NewDB(":memory:", kst, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Append(context.Background(), newItem("aaaaaaaaaaaa", "BTS", 90)))
	exists, err := db.Exists(context.Background(), "aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestQueueAppendAndExists(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := newItem("aaaaaaaaaaaa", "세븐틴 콘서트", 90)
	require.NoError(t, db.Append(ctx, item))

	err := db.Append(ctx, item)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	exists, err := db.Exists(ctx, "aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.Exists(ctx, "zzzzzzzzzzzz")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueueRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	scheduled := time.Date(2025, 3, 1, 10, 15, 0, 0, kst)
	item := newItem("bbbbbbbbbbbb", "블랙핑크", 88)
	item.ScheduledAt = &scheduled
	item.Status = models.StatusScheduled
	item.Artist = "블랙핑크 (BLACKPINK)"
	item.Hashtags = "#블랙핑크 #댈티"
	require.NoError(t, db.Append(ctx, item))

	items, err := db.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item, items[0])
}

func TestQueueQueryOrderAndPredicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Append(ctx, newItem("aaaaaaaaaaaa", "first", 50)))
	require.NoError(t, db.Append(ctx, newItem("bbbbbbbbbbbb", "second", 90)))
	posted := newItem("cccccccccccc", "third", 70)
	posted.Status = models.StatusPosted
	require.NoError(t, db.Append(ctx, posted))

	items, err := db.Query(ctx, func(item *models.QueueItem) bool {
		return item.Status.IsDueCandidate()
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Title)
	assert.Equal(t, "second", items[1].Title)
}

func TestQueueUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := newItem("aaaaaaaaaaaa", "뉴진스", 80)
	require.NoError(t, db.Append(ctx, item))

	posted := time.Date(2025, 3, 1, 10, 30, 0, 0, kst)
	item.Status = models.StatusPosted
	item.PostedAt = &posted
	item.ResultURL = "https://t.me/ddalti/7"
	require.NoError(t, db.Update(ctx, item))

	items, err := db.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusPosted, items[0].Status)
	require.NotNil(t, items[0].PostedAt)
	assert.True(t, posted.Equal(*items[0].PostedAt))
	assert.Equal(t, "https://t.me/ddalti/7", items[0].ResultURL)

	err = db.Update(ctx, newItem("missing00000", "x", 1))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQueueStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	statuses := []models.Status{
		models.StatusPending, models.StatusScheduled, models.StatusPosted,
		models.StatusFailed, models.StatusRetrying, models.StatusPosted,
	}
	ids := []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb", "cccccccccccc", "dddddddddddd", "eeeeeeeeeeee", "ffffffffffff"}
	for i, st := range statuses {
		item := newItem(ids[i], "t", 50)
		item.Status = st
		require.NoError(t, db.Append(ctx, item))
	}

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Total: 6, Pending: 2, Completed: 2, Failed: 1, Retry: 1}, stats)
}

func TestAppendHot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tickets := []models.Ticket{
		{Title: "아이브 콘서트", GoodsCode: "25000001", OpenDateStr: "2025-03-02 20:00", IsHot: true},
		{Title: "에스파 콘서트", GoodsCode: "25000002", OpenDateStr: "2025-03-03 20:00", IsHot: true},
	}
	require.NoError(t, db.AppendHot(ctx, tickets, time.Now()))
	require.NoError(t, db.AppendHot(ctx, tickets[:1], time.Now()))

	n, err := db.HotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSubscribers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	added, err := db.AddSubscriber(ctx, 100)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = db.AddSubscriber(ctx, 100)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = db.AddSubscriber(ctx, 200)
	require.NoError(t, err)

	ids, err := db.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{100, 200}, ids)

	removed, err := db.RemoveSubscriber(ctx, 100)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = db.RemoveSubscriber(ctx, 100)
	require.NoError(t, err)
	assert.False(t, removed)

	ids, err = db.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{200}, ids)
}
