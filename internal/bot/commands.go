package bot

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"ddalti/internal/export"
	"ddalti/internal/models"
	"ddalti/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const queuePreviewSize = 10

const helpText = "<b>인터파크 티켓 오픈 알림 봇 도움말</b>\n\n" +
	"/start - 봇 구독 시작\n" +
	"/stop - 봇 구독 취소\n" +
	"/help - 도움말 보기\n\n" +
	"이 봇은 인터파크의 오늘 티켓 오픈 정보를 알려드립니다."

const adminHelpText = "\n\n<b>관리자 명령</b>\n" +
	"/stats - 큐 통계\n" +
	"/queue - 대기 중인 게시물\n" +
	"/crawl - 지금 수집 실행\n" +
	"/post - 지금 게시 실행\n" +
	"/pause - 자동 게시 일시정지\n" +
	"/resume - 자동 게시 재개\n" +
	"/export - 큐 엑셀 내보내기\n" +
	"/digest - 오늘의 알림 미리보기"

var adminCommands = map[string]bool{
	"stats": true, "queue": true, "crawl": true, "post": true,
	"pause": true, "resume": true, "export": true, "digest": true,
}

// Commands registers the command menu shown by Telegram clients.
var Commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "봇 구독 시작"},
	{Command: "stop", Description: "봇 구독 취소"},
	{Command: "help", Description: "도움말 보기"},
}

// commandLabel keeps the metric label set bounded.
func commandLabel(command string) string {
	switch command {
	case "start", "stop", "help":
		return command
	}
	if adminCommands[command] {
		return command
	}
	return "other"
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	command := msg.Command()

	if adminCommands[command] && (msg.From == nil || !b.isAdmin(msg.From.ID)) {
		b.log(ctx).Warn().Msg("admin command refused")
		b.sendMessage(chatID, "⛔ 권한이 없습니다.")
		return
	}

	switch command {
	case "start":
		b.handleSubscribe(ctx, chatID)
	case "stop":
		b.handleUnsubscribe(ctx, chatID)
	case "help":
		text := helpText
		if msg.From != nil && b.isAdmin(msg.From.ID) {
			text += adminHelpText
		}
		b.sendHTML(chatID, text)
	case "stats":
		b.handleStats(ctx, chatID)
	case "queue":
		b.handleQueue(ctx, chatID)
	case "crawl":
		b.handleCrawl(ctx, chatID)
	case "post":
		b.handlePost(ctx, chatID)
	case "pause":
		b.handlePause(chatID, true)
	case "resume":
		b.handlePause(chatID, false)
	case "export":
		b.handleExport(ctx, chatID)
	case "digest":
		b.handleDigest(ctx, chatID)
	default:
		b.sendMessage(chatID, "알 수 없는 명령입니다. /help 를 입력하세요.")
	}
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64) {
	added, err := b.subscribers.AddSubscriber(ctx, chatID)
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("add subscriber failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	if !added {
		b.sendMessage(chatID, "이미 구독 중입니다.")
		return
	}
	b.log(ctx).Info().Msg("subscriber added")
	b.sendMessage(chatID, "구독이 완료되었습니다. 티켓 오픈 정보를 받아보실 수 있습니다.")
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	removed, err := b.subscribers.RemoveSubscriber(ctx, chatID)
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("remove subscriber failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	if !removed {
		b.sendMessage(chatID, "구독 중이 아닙니다.")
		return
	}
	b.log(ctx).Info().Msg("subscriber removed")
	b.sendMessage(chatID, "구독이 취소되었습니다.")
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("stats query failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>📊 큐 통계</b>\n\n")
	fmt.Fprintf(&sb, "전체: %d\n%s: %d\n%s: %d\n%s: %d\n%s: %d\n",
		stats.Total,
		models.LabelPending, stats.Pending,
		models.LabelPosted, stats.Completed,
		models.LabelFailed, stats.Failed,
		models.LabelRetrying, stats.Retry)

	if b.limiter != nil {
		snap := b.limiter.Snapshot(b.now())
		fmt.Fprintf(&sb, "\n<b>⏱ 게시 한도</b>\n15분: %d/%d\n오늘: %d/%d\n최소 간격: %s\n",
			snap.Last15Min, snap.MaxPer15Min, snap.Today, snap.MaxPerDay, snap.MinInterval)
		if !snap.Allowed {
			fmt.Fprintf(&sb, "다음 가능: %s\n", snap.NextAllowed.In(b.loc).Format("15:04:05"))
		}
	}
	if b.poster != nil {
		state := b.poster.State().String()
		if b.poster.Paused() {
			state += " (일시정지)"
		}
		fmt.Fprintf(&sb, "\n게시 루프: %s\n", state)
	}

	b.sendHTML(chatID, sb.String())
}

func (b *Bot) handleQueue(ctx context.Context, chatID int64) {
	items, err := b.store.Query(ctx, func(it *models.QueueItem) bool { return it.Status.IsDueCandidate() })
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("queue query failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	if len(items) == 0 {
		b.sendMessage(chatID, "대기 중인 게시물이 없습니다.")
		return
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>📋 대기 중인 게시물 (%d)</b>\n\n", len(items))
	for i, it := range items {
		if i == queuePreviewSize {
			fmt.Fprintf(&sb, "... 외 %d건\n", len(items)-queuePreviewSize)
			break
		}
		fmt.Fprintf(&sb, "%d. [%d] <b>%s</b>\n   %s · %s",
			i+1, it.Priority, html.EscapeString(truncateRunes(it.Title, maxDigestTitle)),
			it.Status.Label(), models.FormatTimeIn(it.ScheduledAt, b.loc))
		if it.RetryCount > 0 {
			fmt.Fprintf(&sb, " · 재시도 %d", it.RetryCount)
		}
		sb.WriteString("\n")
	}
	b.sendHTML(chatID, sb.String())
}

func (b *Bot) handleCrawl(ctx context.Context, chatID int64) {
	if b.crawler == nil {
		b.sendMessage(chatID, "수집기가 설정되지 않았습니다.")
		return
	}

	summary, err := b.crawler.Run(ctx)
	if err != nil {
		b.log(ctx).Error().Err(err).Str("run_id", summary.RunID).Msg("manual crawl failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("✅ 수집 완료\n수집: %d · 인기: %d · 신규: %d · 대기열 추가: %d · 이미지: %d",
		summary.Fetched, summary.Hot, summary.New, summary.Queued, summary.Images))
}

func (b *Bot) handlePost(ctx context.Context, chatID int64) {
	if b.poster == nil {
		b.sendMessage(chatID, "게시 루프가 실행 중이 아닙니다.")
		return
	}

	out, err := b.poster.TriggerNow(ctx)
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("manual post failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	b.sendMessage(chatID, formatOutcome(out))
}

func (b *Bot) handlePause(chatID int64, pause bool) {
	if b.poster == nil {
		b.sendMessage(chatID, "게시 루프가 실행 중이 아닙니다.")
		return
	}
	if pause {
		b.poster.Pause()
		b.sendMessage(chatID, "⏸ 자동 게시를 일시정지했습니다.")
		return
	}
	b.poster.Resume()
	b.sendMessage(chatID, "▶️ 자동 게시를 재개했습니다.")
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	items, err := b.store.Query(ctx, func(*models.QueueItem) bool { return true })
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("export query failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	path, err := export.Save(b.exportDir, items, b.now(), b.loc)
	if err != nil {
		b.log(ctx).Error().Err(err).Msg("export failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = fmt.Sprintf("게시 큐 %d건", len(items))
	if _, err := b.tg.Send(doc); err != nil {
		b.log(ctx).Error().Err(err).Str("path", path).Msg("send export failed")
		return
	}
	b.log(ctx).Info().Str("path", path).Int("rows", len(items)).Msg("export sent")
}

func (b *Bot) handleDigest(ctx context.Context, chatID int64) {
	if b.digest == nil {
		b.sendMessage(chatID, "알림 기능이 설정되지 않았습니다.")
		return
	}
	if err := b.digest.SendTo(chatID, b.digest.Compose(ctx, b.now())); err != nil {
		b.log(ctx).Error().Err(err).Msg("digest preview failed")
	}
}

func formatOutcome(out worker.Outcome) string {
	switch out.Result {
	case worker.ResultEmpty:
		return "게시할 항목이 없습니다."
	case worker.ResultRateLimited:
		return "⏱ 게시 한도에 걸렸습니다: " + out.Reason
	}

	title := ""
	if out.Item != nil {
		title = out.Item.Title
	}
	switch out.Result {
	case worker.ResultPosted:
		text := "✅ 게시 완료: " + title
		if out.Post != nil && out.Post.URL != "" {
			text += "\n" + out.Post.URL
		}
		return text
	case worker.ResultRetrying:
		return fmt.Sprintf("🔁 게시 실패, 재시도 예정: %s\n%s", title, postMessage(out.Post))
	case worker.ResultFailed:
		return fmt.Sprintf("❌ 게시 실패: %s\n%s", title, postMessage(out.Post))
	}
	return out.Result
}

func postMessage(p *models.PostResult) string {
	if p == nil {
		return ""
	}
	return p.Message
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}
