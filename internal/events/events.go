package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"ddalti/internal/domain"
)

const (
	EventItemQueued      = "item_queued"
	EventItemPosted      = "item_posted"
	EventItemRetrying    = "item_retrying"
	EventItemFailed      = "item_failed"
	EventIngestCompleted = "ingest_completed"
)

// ItemEventPayload is the queue item snapshot sent to subscribers.
type ItemEventPayload struct {
	ItemID     string     `json:"item_id"`
	Title      string     `json:"title"`
	Code       string     `json:"code"`
	Status     string     `json:"status"`
	Priority   int        `json:"priority"`
	Platform   string     `json:"platform,omitempty"`
	URL        string     `json:"url,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	Scheduled  *time.Time `json:"scheduled_at,omitempty"`
}

// Event is a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus is an in-process pub/sub. Handlers run synchronously on the publisher's goroutine.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64

	// OnError receives handler failures. Nil drops them.
	OnError func(event *Event, err error)
}

var _ domain.EventPublisher = (*EventBus)(nil)

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.OnError != nil {
			b.OnError(event, err)
		}
	}
}

// PublishJSON serializes payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
