package bot

import (
	"context"

	"github.com/rs/zerolog"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// isAdmin reports whether the sender may run control commands.
// With no admins configured every control command is refused.
func (b *Bot) isAdmin(userID int64) bool {
	return b.admins[userID]
}

func (b *Bot) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return b.logger
}
