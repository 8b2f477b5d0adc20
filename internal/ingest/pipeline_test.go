package ingest

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/database"
	"ddalti/internal/events"
	"ddalti/internal/models"
	"ddalti/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*3600)

type fakeFeed struct {
	tickets []models.Ticket
	err     error
	calls   int
}

func (f *fakeFeed) Fetch(context.Context) ([]models.Ticket, error) {
	f.calls++
	return f.tickets, f.err
}

type fakeImages struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeImages) Download(_ context.Context, imageURL, goodsCode, _ string, _ int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, imageURL)
	return "images/" + goodsCode + ".jpg"
}

type fakeEnricher struct{}

func (fakeEnricher) EnrichAll(_ context.Context, items []*models.QueueItem) {
	for _, it := range items {
		it.Artist = "artist of " + it.Code
		it.Hashtags = "#" + it.Code
	}
}

func setup(t *testing.T, src *fakeFeed, opts Options) (*Pipeline, *database.DB, *fakeImages) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"), kst, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, kst)
	clock := func() time.Time { return now }
	sched := scheduler.New(nil, kst, scheduler.WithClock(clock), scheduler.WithRand(rand.New(rand.NewPCG(1, 2))))

	imgs := &fakeImages{}
	p := New(src, imgs, fakeEnricher{}, sched, db, nil, opts, nil).WithClock(clock)
	return p, db, imgs
}

func sampleTickets() []models.Ticket {
	return []models.Ticket{
		{IsHot: true, Title: "BTS WORLD TOUR", GoodsCode: "25000001", OpenDateStr: "2025-03-01 20:00:00", GoodsGenreStr: "콘서트", ViewCount: 12000, PosterImageURL: "https://img.example/1.jpg"},
		{IsHot: true, Title: "뮤지컬 레미제라블", GoodsCode: "25000002", OpenDateStr: "2025-03-05 14:00:00", GoodsGenreStr: "뮤지컬", ViewCount: 800},
		{IsHot: false, Title: "동네 연극", GoodsCode: "25000003", OpenDateStr: "2025-03-03 14:00:00", GoodsGenreStr: "연극", ViewCount: 20},
		{IsHot: true, Title: "BTS WORLD TOUR", GoodsCode: "25000001", OpenDateStr: "2025-03-01 20:00:00", GoodsGenreStr: "콘서트", ViewCount: 12000, PosterImageURL: "https://img.example/1.jpg"},
	}
}

func TestPipelineRun(t *testing.T) {
	src := &fakeFeed{tickets: sampleTickets()}
	p, db, imgs := setup(t, src, Options{HotMode: config.HotModeFlag, AutoQueue: true})
	ctx := context.Background()

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.Fetched)
	assert.Equal(t, 3, summary.Hot)
	assert.Equal(t, 2, summary.New)
	assert.Equal(t, 2, summary.Queued)
	assert.Equal(t, 1, summary.Images)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, []string{"https://img.example/1.jpg"}, imgs.calls)

	items, err := db.Query(ctx, func(*models.QueueItem) bool { return true })
	require.NoError(t, err)
	require.Len(t, items, 2)

	bts := items[0]
	assert.Equal(t, models.TicketID("25000001", "BTS WORLD TOUR", "2025-03-01 20:00:00"), bts.ID)
	assert.Equal(t, models.StatusScheduled, bts.Status)
	assert.Equal(t, 100, bts.Priority)
	assert.Equal(t, "images/25000001.jpg", bts.ImagePath)
	assert.Equal(t, "artist of 25000001", bts.Artist)
	require.NotNil(t, bts.ScheduledAt)
	assert.True(t, bts.ScheduledAt.After(time.Date(2025, 3, 1, 10, 0, 0, 0, kst)))

	for _, it := range items {
		assert.GreaterOrEqual(t, it.Priority, 0)
		assert.LessOrEqual(t, it.Priority, 100)
	}

	hot, err := db.HotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, hot)
}

func TestPipelineRunIsIdempotent(t *testing.T) {
	src := &fakeFeed{tickets: sampleTickets()}
	p, db, _ := setup(t, src, Options{HotMode: config.HotModeFlag, AutoQueue: true})
	ctx := context.Background()

	_, err := p.Run(ctx)
	require.NoError(t, err)
	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.New)
	assert.Equal(t, 0, summary.Queued)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
}

func TestPipelineViewsMode(t *testing.T) {
	src := &fakeFeed{tickets: sampleTickets()}
	p, _, _ := setup(t, src, Options{
		HotMode:        config.HotModeViews,
		ViewThresholds: map[string]int{"콘서트": 600, "뮤지컬": 500, "연극": 500},
		AutoQueue:      true,
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Hot)
	assert.Equal(t, 2, summary.Queued)
}

func TestPipelineHotLogOnly(t *testing.T) {
	src := &fakeFeed{tickets: sampleTickets()}
	p, db, imgs := setup(t, src, Options{HotMode: config.HotModeFlag})
	ctx := context.Background()

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.New)
	assert.Zero(t, summary.Queued)
	assert.Empty(t, imgs.calls)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	hot, err := db.HotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, hot)
}

func TestPipelineFeedError(t *testing.T) {
	src := &fakeFeed{err: errors.New("HTTP 503")}
	p, _, _ := setup(t, src, Options{AutoQueue: true})

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch feed")
	assert.Zero(t, summary.Fetched)
	assert.NotEmpty(t, summary.RunID)
}

func TestPipelinePublishesEvents(t *testing.T) {
	src := &fakeFeed{tickets: sampleTickets()}
	p, _, _ := setup(t, src, Options{HotMode: config.HotModeFlag, AutoQueue: true})

	bus := events.NewEventBus()
	var queued []string
	var completed int
	bus.Subscribe(events.EventItemQueued, func(e *events.Event) error {
		var payload events.ItemEventPayload
		require.NoError(t, e.Decode(&payload))
		queued = append(queued, payload.Code)
		return nil
	})
	bus.Subscribe(events.EventIngestCompleted, func(*events.Event) error {
		completed++
		return nil
	})
	p.events = bus

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"25000001", "25000002"}, queued)
	assert.Equal(t, 1, completed)
}
