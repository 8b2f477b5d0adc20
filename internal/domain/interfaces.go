package domain

import (
	"context"
	"errors"
	"time"

	"ddalti/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// RecordStore is the posting queue table.
type RecordStore interface {
	// Append stores a new item. It returns ErrAlreadyExists when the ID is taken.
	Append(ctx context.Context, item *models.QueueItem) error
	Exists(ctx context.Context, id string) (bool, error)
	// Query returns copies of every item matching pred, in insertion order.
	Query(ctx context.Context, pred func(*models.QueueItem) bool) ([]*models.QueueItem, error)
	// Update overwrites the stored row with the same ID.
	Update(ctx context.Context, item *models.QueueItem) error
	Stats(ctx context.Context) (models.QueueStats, error)
}

// HotRecorder keeps the append-only log of hot tickets.
type HotRecorder interface {
	AppendHot(ctx context.Context, tickets []models.Ticket, crawledAt time.Time) error
}

type Publisher interface {
	Platform() string
	Publish(ctx context.Context, item *models.QueueItem) models.PostResult
}

type Enricher interface {
	Enrich(ctx context.Context, title, genre string) (artist, hashtags string)
}

type FeedSource interface {
	Fetch(ctx context.Context) ([]models.Ticket, error)
}

type ImageFetcher interface {
	Download(ctx context.Context, imageURL, goodsCode, title string, index int) string
}

// Scheduler scores an item and picks its posting time.
type Scheduler interface {
	ScoreAndSchedule(item *models.QueueItem) (int, time.Time)
}

// KVCache backs AI results and content hashes.
type KVCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// MarkSeen records key in set and reports whether it was absent before.
	MarkSeen(ctx context.Context, set, key string) (bool, error)
	// Forget removes key from set.
	Forget(ctx context.Context, set, key string) error
}

type SubscriberStore interface {
	AddSubscriber(ctx context.Context, chatID int64) (bool, error)
	RemoveSubscriber(ctx context.Context, chatID int64) (bool, error)
	ListSubscribers(ctx context.Context) ([]int64, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
