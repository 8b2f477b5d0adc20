package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/images"
	"ddalti/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramPublisher posts to a channel the bot administers.
type TelegramPublisher struct {
	bot       domain.TelegramSender
	channelID int64
	username  string
	logger    *zerolog.Logger
}

var _ domain.Publisher = (*TelegramPublisher)(nil)

func NewTelegramPublisher(bot domain.TelegramSender, cfg config.TelegramConfig, logger *zerolog.Logger) *TelegramPublisher {
	return &TelegramPublisher{
		bot:       bot,
		channelID: cfg.ChannelID,
		username:  strings.TrimPrefix(cfg.ChannelUsername, "@"),
		logger:    orNop(logger),
	}
}

func (p *TelegramPublisher) Platform() string { return models.PlatformTelegram }

func (p *TelegramPublisher) Publish(ctx context.Context, item *models.QueueItem) models.PostResult {
	if err := ctx.Err(); err != nil {
		return failure("telegram", err)
	}
	text := RenderText(item)

	if images.Exists(item.ImagePath) {
		photo := tgbotapi.NewPhoto(p.channelID, tgbotapi.FilePath(item.ImagePath))
		if p.channelID == 0 {
			photo.ChannelUsername = "@" + p.username
		}
		photo.Caption = text

		msg, err := p.bot.Send(photo)
		if err == nil {
			return success(p.permalink(msg.MessageID))
		}
		// Fall back to text only when Telegram rejected the photo.
		if !photoRejected(err) {
			return failure("telegram photo", err)
		}
		p.logger.Warn().Err(err).Str("item_id", item.ID).Msg("photo rejected, posting text only")
	}

	msg := tgbotapi.NewMessage(p.channelID, text)
	if p.channelID == 0 {
		msg.ChannelUsername = "@" + p.username
	}
	msg.DisableWebPagePreview = true

	sent, err := p.bot.Send(msg)
	if err != nil {
		return failure("telegram", err)
	}
	return success(p.permalink(sent.MessageID))
}

func photoRejected(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError &&
		apiErr.Code != http.StatusTooManyRequests
}

// permalink prefers the public username; private channels use the t.me/c form.
func (p *TelegramPublisher) permalink(messageID int) string {
	if p.username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", p.username, messageID)
	}
	internal := strings.TrimPrefix(strconv.FormatInt(p.channelID, 10), "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}
