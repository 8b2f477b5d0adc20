package main

import (
	"fmt"
	"html"

	"ddalti/internal/domain"
	"ddalti/internal/events"
	"ddalti/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// subscribeEvents logs queue events and tells the admins about terminal failures.
func subscribeEvents(bus *events.EventBus, tg domain.TelegramSender, admins []int64, logger *zerolog.Logger) {
	l := logger.With().Str("component", "events").Logger()

	bus.OnError = func(event *events.Event, err error) {
		l.Error().Err(err).Str("event", event.Type).Int64("event_id", event.ID).Msg("event handler failed")
	}

	for _, eventType := range []string{events.EventItemQueued, events.EventItemPosted, events.EventItemRetrying} {
		bus.Subscribe(eventType, func(event *events.Event) error {
			var p events.ItemEventPayload
			if err := event.Decode(&p); err != nil {
				return err
			}
			l.Debug().Str("event", event.Type).Str("item_id", p.ItemID).Int("priority", p.Priority).Msg("queue event")
			return nil
		})
	}

	bus.Subscribe(events.EventIngestCompleted, func(event *events.Event) error {
		var s models.IngestSummary
		if err := event.Decode(&s); err != nil {
			return err
		}
		l.Info().Str("run_id", s.RunID).Int("queued", s.Queued).Int("errors", s.Errors).Msg("ingest completed")
		return nil
	})

	bus.Subscribe(events.EventItemFailed, func(event *events.Event) error {
		var p events.ItemEventPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		l.Warn().Str("item_id", p.ItemID).Str("platform", p.Platform).Str("error", p.Error).Msg("item failed permanently")

		if tg == nil || len(admins) == 0 {
			return nil
		}
		text := fmt.Sprintf("❌ <b>게시 실패</b> (%s)\n%s\n예매코드: <code>%s</code>\n재시도: %d\n%s",
			html.EscapeString(p.Platform), html.EscapeString(p.Title), html.EscapeString(p.Code), p.RetryCount, html.EscapeString(p.Error))
		var firstErr error
		for _, chatID := range admins {
			msg := tgbotapi.NewMessage(chatID, text)
			msg.ParseMode = tgbotapi.ModeHTML
			if _, err := tg.Send(msg); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("notify admin %d: %w", chatID, err)
			}
		}
		return firstErr
	})
}
