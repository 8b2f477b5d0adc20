package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ddalti/internal/domain"
	"ddalti/internal/events"
	"ddalti/internal/feed"
	"ddalti/internal/metrics"
	"ddalti/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BatchEnricher fills Artist and Hashtags on a batch of items. *enrich.Service implements it.
type BatchEnricher interface {
	EnrichAll(ctx context.Context, items []*models.QueueItem)
}

// Store is the part of the record store the pipeline writes to.
type Store interface {
	domain.RecordStore
	domain.HotRecorder
}

// Options tune one pipeline.
type Options struct {
	HotMode        string
	ViewThresholds map[string]int
	// AutoQueue appends new hot tickets to the posting queue. When false they only go to the hot log.
	AutoQueue bool
}

// Pipeline turns feed tickets into scheduled queue items.
type Pipeline struct {
	feed      domain.FeedSource
	images    domain.ImageFetcher
	enricher  BatchEnricher
	scheduler domain.Scheduler
	store     Store
	events    domain.EventPublisher
	opts      Options
	now       func() time.Time
	logger    *zerolog.Logger

	// one crawl at a time; cron, menu, bot and API may all ask for one
	runMu sync.Mutex
}

// New builds a pipeline. images, enricher and bus may be nil.
func New(src domain.FeedSource, images domain.ImageFetcher, enricher BatchEnricher, sched domain.Scheduler,
	store Store, bus domain.EventPublisher, opts Options, logger *zerolog.Logger) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pipeline{
		feed:      src,
		images:    images,
		enricher:  enricher,
		scheduler: sched,
		store:     store,
		events:    bus,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces time.Now. Used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run performs one crawl. A feed failure aborts the run; per-ticket failures are counted in Errors.
func (p *Pipeline) Run(ctx context.Context) (models.IngestSummary, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := p.now()
	summary := models.IngestSummary{RunID: uuid.NewString(), StartedAt: started}
	logger := p.logger.With().Str("run_id", summary.RunID).Logger()
	logger.Info().Msg("crawl started")

	tickets, err := p.feed.Fetch(ctx)
	if err != nil {
		metrics.IncIngestRun("error")
		summary.Duration = time.Since(started)
		return summary, fmt.Errorf("fetch feed: %w", err)
	}
	summary.Fetched = len(tickets)

	hot := feed.FilterHot(tickets, p.opts.HotMode, p.opts.ViewThresholds)
	summary.Hot = len(hot)

	fresh, err := p.unseen(ctx, hot)
	if err != nil {
		metrics.IncIngestRun("error")
		summary.Duration = time.Since(started)
		return summary, err
	}
	summary.New = len(fresh)

	if len(fresh) > 0 {
		if err := p.store.AppendHot(ctx, fresh, started); err != nil {
			summary.Errors++
			logger.Error().Err(err).Str("stage", "hot_log").Msg("hot log append failed")
		}
	}

	if p.opts.AutoQueue && len(fresh) > 0 {
		p.queue(ctx, fresh, started, &summary, &logger)
	}

	summary.Duration = time.Since(started)
	metrics.AddIngestTickets("fetched", summary.Fetched)
	metrics.AddIngestTickets("hot", summary.Hot)
	metrics.AddIngestTickets("new", summary.New)
	metrics.AddIngestTickets("queued", summary.Queued)
	metrics.IncIngestRun("ok")
	if stats, err := p.store.Stats(ctx); err == nil {
		metrics.SetQueueSize(stats)
	}

	logger.Info().
		Int("fetched", summary.Fetched).
		Int("hot", summary.Hot).
		Int("new", summary.New).
		Int("queued", summary.Queued).
		Int("images", summary.Images).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration).
		Msg("crawl finished")

	if p.events != nil {
		if err := p.events.PublishJSON(events.EventIngestCompleted, summary); err != nil {
			logger.Warn().Err(err).Msg("event publish failed")
		}
	}
	return summary, nil
}

// unseen drops tickets whose fingerprint is already queued, including repeats inside one feed response.
func (p *Pipeline) unseen(ctx context.Context, hot []models.Ticket) ([]models.Ticket, error) {
	seen := make(map[string]struct{}, len(hot))
	fresh := make([]models.Ticket, 0, len(hot))
	for _, t := range hot {
		id := t.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		exists, err := p.store.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", id, err)
		}
		if !exists {
			fresh = append(fresh, t)
		}
	}
	return fresh, nil
}

func (p *Pipeline) queue(ctx context.Context, fresh []models.Ticket, now time.Time, summary *models.IngestSummary, logger *zerolog.Logger) {
	items := make([]*models.QueueItem, 0, len(fresh))
	for i, t := range fresh {
		var path string
		if p.images != nil && t.PosterImageURL != "" {
			path = p.images.Download(ctx, t.PosterImageURL, t.GoodsCode, t.Title, i)
			if path != "" {
				summary.Images++
			}
		}
		items = append(items, models.NewQueueItem(t, path, now))
	}

	if p.enricher != nil {
		p.enricher.EnrichAll(ctx, items)
	}

	for _, item := range items {
		priority, at := p.scheduler.ScoreAndSchedule(item)
		item.Priority = priority
		item.ScheduledAt = &at
		item.Status = models.StatusScheduled

		err := p.store.Append(ctx, item)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			logger.Debug().Str("item_id", item.ID).Msg("already queued")
			continue
		case err != nil:
			summary.Errors++
			logger.Error().Err(err).Str("item_id", item.ID).Str("stage", "append").Msg("queue append failed")
			continue
		}

		summary.Queued++
		metrics.IncQueued()
		logger.Info().
			Str("item_id", item.ID).
			Str("title", item.Title).
			Int("priority", item.Priority).
			Time("scheduled_at", at).
			Msg("item queued")

		if p.events != nil {
			payload := events.ItemEventPayload{
				ItemID:    item.ID,
				Title:     item.Title,
				Code:      item.Code,
				Status:    string(item.Status),
				Priority:  item.Priority,
				Scheduled: item.ScheduledAt,
			}
			if err := p.events.PublishJSON(events.EventItemQueued, payload); err != nil {
				logger.Warn().Err(err).Str("item_id", item.ID).Msg("event publish failed")
			}
		}
	}
}
