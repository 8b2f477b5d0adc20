package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"ddalti/internal/domain"
	"ddalti/internal/feed"
	"ddalti/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	maxDigestTitle = 40
	// Telegram rejects longer message texts.
	maxMessageLen = 4096

	digestSeparator = "───────────────────\n"
	noTicketsToday  = "오늘 오픈하는 티켓이 없습니다."
)

// NoticeSource lists webzine open notices. *feed.WebzineSource implements it.
type NoticeSource interface {
	Fetch(ctx context.Context) ([]models.WebzineNotice, error)
}

// Digest builds the daily open-notice message and fans it out to subscribers.
type Digest struct {
	sender      domain.TelegramSender
	subscribers domain.SubscriberStore
	feed        domain.FeedSource
	webzine     NoticeSource
	loc         *time.Location
	logger      *zerolog.Logger
}

// NewDigest wires a digest sender. webzine may be nil.
func NewDigest(sender domain.TelegramSender, subscribers domain.SubscriberStore, src domain.FeedSource, webzine NoticeSource, loc *time.Location, logger *zerolog.Logger) *Digest {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "digest").Logger()
	return &Digest{
		sender:      sender,
		subscribers: subscribers,
		feed:        src,
		webzine:     webzine,
		loc:         loc,
		logger:      &l,
	}
}

// Compose fetches both sources and renders the digest for now.
// A feed failure is rendered into the message rather than returned.
func (d *Digest) Compose(ctx context.Context, now time.Time) string {
	var b strings.Builder

	tickets, err := d.feed.Fetch(ctx)
	if err != nil {
		d.logger.Error().Err(err).Str("stage", "feed").Msg("digest feed fetch failed")
		b.WriteString(FormatFeedError(err))
	} else {
		b.WriteString(FormatDigest(tickets, now, d.loc))
	}

	if d.webzine != nil {
		notices, err := d.webzine.Fetch(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Str("stage", "webzine").Msg("webzine fetch failed, section skipped")
		} else if section := FormatWebzineSection(notices, now, d.loc); section != "" {
			b.WriteString("\n")
			b.WriteString(section)
		}
	}

	return b.String()
}

// Send composes the digest and delivers it to every subscriber.
// It returns how many chats received it.
func (d *Digest) Send(ctx context.Context, now time.Time) (int, error) {
	chats, err := d.subscribers.ListSubscribers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}
	if len(chats) == 0 {
		d.logger.Info().Msg("no subscribers, digest skipped")
		return 0, nil
	}

	text := d.Compose(ctx, now)
	sent := 0
	var errs []error
	for _, chatID := range chats {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.SendTo(chatID, text); err != nil {
			d.logger.Error().Err(err).Int64("chat_id", chatID).Msg("digest send failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		sent++
	}

	d.logger.Info().Int("subscribers", len(chats)).Int("sent", sent).Msg("digest delivered")
	return sent, errors.Join(errs...)
}

// SendTo delivers one rendered digest, split to fit Telegram's limit.
func (d *Digest) SendTo(chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := d.sender.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// FormatDigest renders today's and tomorrow's tickets. The feed is sorted
// by open time, so rendering stops at the first ticket after tomorrow.
func FormatDigest(tickets []models.Ticket, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>🎫 %s 티켓 오픈 정보 🎫</b>\n\n", now.Format("2006년 01월 02일"))

	lines := 0
	for _, t := range tickets {
		day, err := time.ParseInLocation("2006-01-02", prefix(t.OpenDateStr, 10), loc)
		if err != nil {
			continue
		}
		if day.After(tomorrow) {
			break
		}

		var marker string
		switch {
		case day.Equal(today):
			marker = "🔴 오늘"
		case day.Equal(tomorrow):
			marker = "🟠 내일"
		default:
			marker = fmt.Sprintf("⚪ %d월 %d일", day.Month(), day.Day())
		}

		fmt.Fprintf(&b, "<b>%s [%s]</b>\n", marker, openClock(t.OpenDateStr))
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(truncateRunes(t.Title, maxDigestTitle)))
		fmt.Fprintf(&b, "👁 조회수: %d  |  🎟 예매코드: <code>%s</code>  |  📌%s\n",
			t.ViewCount, html.EscapeString(t.GoodsCode), html.EscapeString(t.OpenTypeStr))
		b.WriteString(digestSeparator)
		lines++
	}

	if lines == 0 {
		b.WriteString(noTicketsToday)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatWebzineSection lists today's webzine notices, or "" when there are none.
func FormatWebzineSection(notices []models.WebzineNotice, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	var b strings.Builder
	i := 0
	for _, n := range notices {
		day, ok := feed.NoticeDate(n.OpenDate, loc)
		if !ok || day.Year() != now.Year() || day.YearDay() != now.YearDay() {
			continue
		}
		if i == 0 {
			b.WriteString("<b>📰 웹진 오픈 공지</b>\n\n")
		}
		i++

		fmt.Fprintf(&b, "%d. <b>[%s]</b> %s", i, html.EscapeString(n.Type), html.EscapeString(n.Title))
		if n.Count != "" {
			fmt.Fprintf(&b, " (조회수: %s)", html.EscapeString(n.Count))
		}
		fmt.Fprintf(&b, "\n   오픈: %s", html.EscapeString(n.OpenDate))
		if n.BookingCode != "" {
			fmt.Fprintf(&b, "\n   예매코드: %s", html.EscapeString(n.BookingCode))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatFeedError is sent in place of the ticket list when the feed is down.
func FormatFeedError(err error) string {
	return fmt.Sprintf("<b>❌ 티켓 정보를 가져오는데 실패했습니다.</b>\n오류: %s\n", html.EscapeString(err.Error()))
}

func openClock(openDate string) string {
	if len(openDate) < 16 {
		return ""
	}
	return openDate[11:16]
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// splitMessage cuts text on line boundaries into parts of at most limit bytes.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) > limit && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		for len(line) > limit {
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
