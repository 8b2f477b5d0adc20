package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ddalti/internal/domain"
	"ddalti/internal/events"
	"ddalti/internal/metrics"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
)

// State is what the poll loop is doing right now.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StatePosting
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StatePosting:
		return "posting"
	default:
		return "idle"
	}
}

// Run results reported in Outcome.Result.
const (
	ResultPosted      = "posted"
	ResultRetrying    = "retrying"
	ResultFailed      = "failed"
	ResultRateLimited = "rate_limited"
	ResultEmpty       = "empty"
)

// Limiter gates publishing. *ratelimit.RateLimiter implements it.
type Limiter interface {
	Check(now time.Time) error
	Record(t time.Time)
}

// Outcome describes a single run.
type Outcome struct {
	Result string             `json:"result"`
	Reason string             `json:"reason,omitempty"`
	Item   *models.QueueItem  `json:"item,omitempty"`
	Post   *models.PostResult `json:"post,omitempty"`
}

type Option func(*PollLoop)

func WithPeriod(d time.Duration) Option {
	return func(l *PollLoop) { l.period = d }
}

func WithTick(d time.Duration) Option {
	return func(l *PollLoop) { l.tick = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *PollLoop) { l.now = now }
}

// PollLoop publishes at most one due item per run. Tick-driven runs and manual
// triggers share one mutex, so a single publish is ever in flight.
type PollLoop struct {
	store     domain.RecordStore
	publisher domain.Publisher
	limiter   Limiter
	retry     RetryPolicy
	events    domain.EventPublisher
	logger    *zerolog.Logger

	period time.Duration
	tick   time.Duration
	now    func() time.Time

	runMu    sync.Mutex
	// unsaved holds published items whose status write failed; guarded by runMu.
	unsaved  map[string]*models.QueueItem
	state    atomic.Int32
	paused   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPollLoop wires the loop. events may be nil.
func NewPollLoop(store domain.RecordStore, publisher domain.Publisher, limiter Limiter, retry RetryPolicy, bus domain.EventPublisher, logger *zerolog.Logger, opts ...Option) *PollLoop {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = models.MaxRetries
	}

	l := &PollLoop{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		retry:     retry,
		events:    bus,
		logger:    logger,
		period:    3 * time.Minute,
		tick:      30 * time.Second,
		now:       time.Now,
		unsaved:   make(map[string]*models.QueueItem),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tick <= 0 {
		l.tick = 30 * time.Second
	}
	return l
}

// Run blocks until ctx is done or Stop is called. Neither is an error.
func (l *PollLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.logger.Info().
		Dur("period", l.period).
		Dur("tick", l.tick).
		Str("platform", l.publisher.Platform()).
		Msg("poll loop started")
	defer l.logger.Info().Msg("poll loop stopped")

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stopCh:
			return nil
		case <-ticker.C:
		}

		if l.paused.Load() {
			continue
		}
		now := l.now()
		if !last.IsZero() && now.Sub(last) < l.period {
			continue
		}
		last = now

		if _, err := l.RunOnce(ctx); err != nil {
			l.logger.Error().Err(err).Msg("poll run failed")
		}
	}
}

// TriggerNow runs immediately, waiting for any run already in progress.
func (l *PollLoop) TriggerNow(ctx context.Context) (Outcome, error) {
	l.logger.Info().Msg("manual post triggered")
	return l.RunOnce(ctx)
}

// RunOnce checks the limiter, picks the best due item and publishes it.
func (l *PollLoop) RunOnce(ctx context.Context) (Outcome, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	l.state.Store(int32(StateChecking))
	defer l.state.Store(int32(StateIdle))

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	l.flushUnsaved(ctx)

	now := l.now()
	if err := l.limiter.Check(now); err != nil {
		metrics.IncRateLimited()
		l.logger.Debug().Err(err).Msg("posting deferred")
		return Outcome{Result: ResultRateLimited, Reason: err.Error()}, nil
	}

	item, err := l.nextDue(ctx, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("query due items: %w", err)
	}
	if item == nil {
		return Outcome{Result: ResultEmpty}, nil
	}

	l.state.Store(int32(StatePosting))
	platform := l.publisher.Platform()
	started := time.Now()
	res := l.publisher.Publish(ctx, item)

	out := Outcome{Item: item, Post: &res}
	if res.Success {
		postedAt := l.now()
		item.Status = models.StatusPosted
		item.PostedAt = &postedAt
		item.ResultURL = res.URL
		item.LastError = ""
		l.limiter.Record(postedAt)
		out.Result = ResultPosted
	} else {
		out.Result = l.retryOrFail(item, res, now)
	}
	metrics.ObservePost(platform, out.Result, time.Since(started))

	logEvent := l.logger.Info()
	if !res.Success {
		logEvent = l.logger.Warn().Str("error", res.Message)
	}
	logEvent.
		Str("item_id", item.ID).
		Str("stage", "publish").
		Str("platform", platform).
		Int("priority", item.Priority).
		Int("retry_count", item.RetryCount).
		Str("result", out.Result).
		Str("url", item.ResultURL).
		Msg("publish attempt finished")

	// the post already happened; the status write must not be lost to a cancelled ctx
	if err := l.store.Update(context.WithoutCancel(ctx), item); err != nil {
		l.unsaved[item.ID] = item
		l.publishEvent(out.Result, item, platform)
		return out, fmt.Errorf("update item %s: %w", item.ID, err)
	}
	l.publishEvent(out.Result, item, platform)
	return out, nil
}

// flushUnsaved retries status writes left over from earlier runs.
func (l *PollLoop) flushUnsaved(ctx context.Context) {
	for id, item := range l.unsaved {
		if err := l.store.Update(context.WithoutCancel(ctx), item); err != nil {
			l.logger.Warn().Err(err).Str("item_id", id).Str("stage", "update").Msg("status write still failing")
			continue
		}
		delete(l.unsaved, id)
		l.logger.Info().Str("item_id", id).Str("status", string(item.Status)).Msg("pending status write saved")
	}
}

func (l *PollLoop) retryOrFail(item *models.QueueItem, res models.PostResult, now time.Time) string {
	attempt := item.RetryCount + 1
	item.RetryCount = attempt
	item.LastError = res.Message

	if res.Duplicate || l.retry.Exhausted(attempt) {
		item.Status = models.StatusFailed
		return ResultFailed
	}

	next := now.Add(l.retry.NextDelay(attempt))
	item.Status = models.StatusRetrying
	item.ScheduledAt = &next
	return ResultRetrying
}

// nextDue returns the highest-priority due item, first in row order on ties.
func (l *PollLoop) nextDue(ctx context.Context, now time.Time) (*models.QueueItem, error) {
	due, err := l.store.Query(ctx, func(it *models.QueueItem) bool {
		if _, pending := l.unsaved[it.ID]; pending {
			return false
		}
		return it.IsDue(now)
	})
	if err != nil {
		return nil, err
	}

	var best *models.QueueItem
	for _, it := range due {
		if best == nil || it.Priority > best.Priority {
			best = it
		}
	}
	return best, nil
}

func (l *PollLoop) publishEvent(result string, item *models.QueueItem, platform string) {
	if l.events == nil {
		return
	}
	var eventType string
	switch result {
	case ResultPosted:
		eventType = events.EventItemPosted
	case ResultRetrying:
		eventType = events.EventItemRetrying
	case ResultFailed:
		eventType = events.EventItemFailed
	default:
		return
	}
	payload := events.ItemEventPayload{
		ItemID:     item.ID,
		Title:      item.Title,
		Code:       item.Code,
		Status:     string(item.Status),
		Priority:   item.Priority,
		Platform:   platform,
		URL:        item.ResultURL,
		Error:      item.LastError,
		RetryCount: item.RetryCount,
		Scheduled:  item.ScheduledAt,
	}
	if err := l.events.PublishJSON(eventType, payload); err != nil {
		l.logger.Warn().Err(err).Str("item_id", item.ID).Str("event", eventType).Msg("event publish failed")
	}
}

// Stop ends Run. The process and manual triggers keep working.
func (l *PollLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.logger.Info().Msg("poll loop stop requested")
	})
}

// Pause skips tick-driven runs until Resume. Manual triggers still run.
func (l *PollLoop) Pause() { l.paused.Store(true) }

func (l *PollLoop) Resume() { l.paused.Store(false) }

func (l *PollLoop) Paused() bool { return l.paused.Load() }

func (l *PollLoop) State() State { return State(l.state.Load()) }
