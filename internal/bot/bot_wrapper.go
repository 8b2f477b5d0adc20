package bot

import (
	"fmt"

	"ddalti/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotWrapper adapts *tgbotapi.BotAPI to domain.TelegramSender.
type BotWrapper struct {
	*tgbotapi.BotAPI
}

func (w *BotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

func (w *BotWrapper) StopReceivingUpdates() {
	w.BotAPI.StopReceivingUpdates()
}

func NewBotWrapper(bot *tgbotapi.BotAPI) *BotWrapper {
	return &BotWrapper{BotAPI: bot}
}

// Connect authorizes the bot token and registers the public command menu.
func Connect(cfg config.TelegramConfig) (*BotWrapper, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = cfg.Debug

	w := NewBotWrapper(api)
	if _, err := w.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		return nil, fmt.Errorf("set bot commands: %w", err)
	}
	return w, nil
}
