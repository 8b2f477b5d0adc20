package bot

import (
	"context"
	"time"

	"ddalti/internal/domain"
	"ddalti/internal/metrics"
	"ddalti/internal/models"
	"ddalti/internal/ratelimit"
	"ddalti/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const updateTimeout = 30 * time.Second

// Poster controls the poll loop. *worker.PollLoop implements it.
type Poster interface {
	TriggerNow(ctx context.Context) (worker.Outcome, error)
	State() worker.State
	Paused() bool
	Pause()
	Resume()
}

// Crawler runs one ingest. *ingest.Pipeline implements it.
type Crawler interface {
	Run(ctx context.Context) (models.IngestSummary, error)
}

// LimitReporter exposes the posting limiter state.
type LimitReporter interface {
	Snapshot(now time.Time) ratelimit.Snapshot
}

// Deps are the services the bot commands drive. Poster, Crawler, Limiter
// and Digest may be nil; the matching commands then report unavailability.
type Deps struct {
	Sender      domain.TelegramSender
	Subscribers domain.SubscriberStore
	Store       domain.RecordStore
	Poster      Poster
	Crawler     Crawler
	Limiter     LimitReporter
	Digest      *Digest
	ExportDir   string
	AdminIDs    []int64
	Location    *time.Location
	Logger      *zerolog.Logger
}

// Bot answers subscriber and admin commands over the Telegram update stream.
type Bot struct {
	tg          domain.TelegramSender
	subscribers domain.SubscriberStore
	store       domain.RecordStore
	poster      Poster
	crawler     Crawler
	limiter     LimitReporter
	digest      *Digest
	exportDir   string
	admins      map[int64]bool
	loc         *time.Location
	now         func() time.Time
	logger      *zerolog.Logger
}

func NewBot(deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "bot").Logger()

	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	exportDir := deps.ExportDir
	if exportDir == "" {
		exportDir = "exports"
	}

	admins := make(map[int64]bool, len(deps.AdminIDs))
	for _, id := range deps.AdminIDs {
		admins[id] = true
	}

	return &Bot{
		tg:          deps.Sender,
		subscribers: deps.Subscribers,
		store:       deps.Store,
		poster:      deps.Poster,
		crawler:     deps.Crawler,
		limiter:     deps.Limiter,
		digest:      deps.Digest,
		exportDir:   exportDir,
		admins:      admins,
		loc:         loc,
		now:         time.Now,
		logger:      &l,
	}
}

// Start consumes updates until ctx is done or the channel closes.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	start := time.Now()
	command := update.Message.Command()
	defer func() {
		metrics.ObserveBotUpdate(commandLabel(command), time.Since(start))
	}()

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	l := b.logger.With().
		Str("request_id", uuid.New().String()).
		Str("command", command).
		Int64("chat_id", update.Message.Chat.ID).
		Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		b.handleCommand(updateCtx, update.Message)
	})
}

// Stop ends the long-poll so Start returns once the channel closes.
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}
