package bot

import (
	"context"
	"errors"

	"ddalti/internal/ratelimit"
)

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "⏱ 처리 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요."
	}

	if errors.Is(err, ratelimit.ErrRateLimited) {
		return "⏱ 게시 한도에 도달했습니다. 잠시 후 다시 시도해 주세요."
	}

	return "❌ 요청을 처리하는 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
}
