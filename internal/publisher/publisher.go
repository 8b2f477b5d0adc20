package publisher

import (
	"errors"
	"fmt"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
)

// ErrDuplicateContent marks a post the platform refused as a repeat. It is never retried.
var ErrDuplicateContent = errors.New("duplicate content")

// New builds the publisher for the configured platform. tg is only used by the telegram platform.
func New(cfg *config.Config, tg domain.TelegramSender, logger *zerolog.Logger) (domain.Publisher, error) {
	l := orNop(logger).With().Str("platform", cfg.Posting.Platform).Logger()

	switch cfg.Posting.Platform {
	case models.PlatformTwitter:
		return NewTwitterPublisher(cfg.Twitter, &l), nil
	case models.PlatformTelegram:
		if tg == nil {
			return nil, errors.New("telegram publisher needs a bot client")
		}
		return NewTelegramPublisher(tg, cfg.Telegram, &l), nil
	case models.PlatformBunjang:
		return NewBunjangPublisher(cfg.Bunjang, &l), nil
	case models.PlatformDryRun:
		return NewDryRunPublisher(&l), nil
	}
	return nil, fmt.Errorf("unknown platform %q", cfg.Posting.Platform)
}

// failure converts a publish error into a result. Duplicate rejections are marked terminal.
func failure(stage string, err error) models.PostResult {
	return models.PostResult{
		Success:   false,
		Message:   fmt.Sprintf("%s: %v", stage, err),
		Duplicate: errors.Is(err, ErrDuplicateContent),
	}
}

func success(url string) models.PostResult {
	return models.PostResult{Success: true, Message: "posted", URL: url}
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}
