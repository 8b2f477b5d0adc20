package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ddalti/internal/database"
	"ddalti/internal/domain"
	"ddalti/internal/models"
	"ddalti/internal/ratelimit"
	"ddalti/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*3600)

const adminID = 42

type mockSender struct {
	domain.TelegramSender

	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	sent        []tgbotapi.Chattable
	failFor     map[int64]bool
	stopped     bool
}

func newMockSender() *mockSender {
	return &mockSender{updatesChan: make(chan tgbotapi.Update, 4)}
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok && m.failFor[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockSender) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockSender) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "ddalti_bot"}
}

func (m *mockSender) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockSender) messages() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range m.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSender) lastText(t *testing.T) string {
	t.Helper()
	msgs := m.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text
}

type fakePoster struct {
	out     worker.Outcome
	err     error
	calls   int
	paused  bool
	running worker.State
}

func (p *fakePoster) TriggerNow(context.Context) (worker.Outcome, error) {
	p.calls++
	return p.out, p.err
}

func (p *fakePoster) State() worker.State { return p.running }
func (p *fakePoster) Paused() bool        { return p.paused }
func (p *fakePoster) Pause()              { p.paused = true }
func (p *fakePoster) Resume()             { p.paused = false }

type fakeCrawler struct {
	summary models.IngestSummary
	err     error
}

func (c *fakeCrawler) Run(context.Context) (models.IngestSummary, error) {
	return c.summary, c.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"), kst, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestBot(t *testing.T, deps Deps) (*Bot, *mockSender) {
	t.Helper()
	tg := newMockSender()
	deps.Sender = tg
	if deps.Subscribers == nil || deps.Store == nil {
		db := newTestDB(t)
		if deps.Subscribers == nil {
			deps.Subscribers = db
		}
		if deps.Store == nil {
			deps.Store = db
		}
	}
	deps.AdminIDs = []int64{adminID}
	deps.Location = kst
	b := NewBot(deps)
	b.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, kst) }
	return b, tg
}

func command(from int64, text string) tgbotapi.Update {
	end := len(text)
	for i, r := range text {
		if r == ' ' {
			end = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: from},
		From:     &tgbotapi.User{ID: from},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}},
	}}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	db := newTestDB(t)
	b, tg := newTestBot(t, Deps{Subscribers: db, Store: db})
	ctx := context.Background()

	b.processUpdate(ctx, command(7, "/start"))
	assert.Equal(t, "구독이 완료되었습니다. 티켓 오픈 정보를 받아보실 수 있습니다.", tg.lastText(t))

	b.processUpdate(ctx, command(7, "/start"))
	assert.Equal(t, "이미 구독 중입니다.", tg.lastText(t))

	subs, err := db.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, subs)

	b.processUpdate(ctx, command(7, "/stop"))
	assert.Equal(t, "구독이 취소되었습니다.", tg.lastText(t))

	b.processUpdate(ctx, command(7, "/stop"))
	assert.Equal(t, "구독 중이 아닙니다.", tg.lastText(t))
}

func TestHelp(t *testing.T) {
	b, tg := newTestBot(t, Deps{})

	b.processUpdate(context.Background(), command(7, "/help"))
	msg := tg.messages()[0]
	assert.Equal(t, helpText, msg.Text)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)

	b.processUpdate(context.Background(), command(adminID, "/help"))
	assert.Equal(t, helpText+adminHelpText, tg.lastText(t))
}

func TestIgnoresPlainText(t *testing.T) {
	b, tg := newTestBot(t, Deps{})

	b.processUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: 7},
		From: &tgbotapi.User{ID: 7},
	}})
	b.processUpdate(context.Background(), tgbotapi.Update{})
	assert.Empty(t, tg.messages())
}

func TestUnknownCommand(t *testing.T) {
	b, tg := newTestBot(t, Deps{})
	b.processUpdate(context.Background(), command(7, "/foo"))
	assert.Equal(t, "알 수 없는 명령입니다. /help 를 입력하세요.", tg.lastText(t))
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	poster := &fakePoster{}
	b, tg := newTestBot(t, Deps{Poster: poster})

	for _, cmd := range []string{"/stats", "/queue", "/crawl", "/post", "/pause", "/resume", "/export", "/digest"} {
		b.processUpdate(context.Background(), command(7, cmd))
		assert.Equal(t, "⛔ 권한이 없습니다.", tg.lastText(t), cmd)
	}
	assert.Zero(t, poster.calls)
	assert.False(t, poster.paused)
}

func seedQueue(t *testing.T, db *database.DB) {
	t.Helper()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, kst)
	sched := time.Date(2025, 3, 1, 12, 0, 0, 0, kst)
	for _, it := range []*models.QueueItem{
		{ID: "q1", Title: "IVE", Code: "1", Status: models.StatusScheduled, Priority: 70, ScheduledAt: &sched, CreatedAt: created},
		{ID: "q2", Title: "BTS", Code: "2", Status: models.StatusRetrying, Priority: 95, RetryCount: 1, ScheduledAt: &sched, CreatedAt: created},
		{ID: "q3", Title: "done", Code: "3", Status: models.StatusPosted, Priority: 99, CreatedAt: created},
	} {
		require.NoError(t, db.Append(context.Background(), it))
	}
}

func TestStatsCommand(t *testing.T) {
	db := newTestDB(t)
	seedQueue(t, db)
	limiter := ratelimit.New(ratelimit.Limits{MaxPer15Min: 50, MaxPerDay: 500}, kst)
	b, tg := newTestBot(t, Deps{Store: db, Subscribers: db, Limiter: limiter, Poster: &fakePoster{paused: true}})

	b.processUpdate(context.Background(), command(adminID, "/stats"))
	text := tg.lastText(t)
	assert.Contains(t, text, "전체: 3\n")
	assert.Contains(t, text, models.LabelPosted+": 1\n")
	assert.Contains(t, text, models.LabelRetrying+": 1\n")
	assert.Contains(t, text, "15분: 0/50")
	assert.Contains(t, text, "게시 루프: idle (일시정지)")
}

func TestQueueCommand(t *testing.T) {
	db := newTestDB(t)
	seedQueue(t, db)
	b, tg := newTestBot(t, Deps{Store: db, Subscribers: db})

	b.processUpdate(context.Background(), command(adminID, "/queue"))
	text := tg.lastText(t)
	assert.Contains(t, text, "대기 중인 게시물 (2)")
	assert.Contains(t, text, "1. [95] <b>BTS</b>\n   "+models.LabelRetrying+" · 2025-03-01 12:00:00 · 재시도 1\n")
	assert.Contains(t, text, "2. [70] <b>IVE</b>")
	assert.NotContains(t, text, "done")
}

func TestQueueCommandEmpty(t *testing.T) {
	b, tg := newTestBot(t, Deps{})
	b.processUpdate(context.Background(), command(adminID, "/queue"))
	assert.Equal(t, "대기 중인 게시물이 없습니다.", tg.lastText(t))
}

func TestPostCommand(t *testing.T) {
	poster := &fakePoster{out: worker.Outcome{
		Result: worker.ResultPosted,
		Item:   &models.QueueItem{Title: "BTS"},
		Post:   &models.PostResult{Success: true, URL: "https://t.me/ddalti/10"},
	}}
	b, tg := newTestBot(t, Deps{Poster: poster})

	b.processUpdate(context.Background(), command(adminID, "/post"))
	assert.Equal(t, 1, poster.calls)
	assert.Equal(t, "✅ 게시 완료: BTS\nhttps://t.me/ddalti/10", tg.lastText(t))

	poster.out = worker.Outcome{Result: worker.ResultRateLimited, Reason: "rate limited: 15-minute cap"}
	b.processUpdate(context.Background(), command(adminID, "/post"))
	assert.Equal(t, "⏱ 게시 한도에 걸렸습니다: rate limited: 15-minute cap", tg.lastText(t))

	poster.err = errors.New("store down")
	b.processUpdate(context.Background(), command(adminID, "/post"))
	assert.Contains(t, tg.lastText(t), "오류가 발생했습니다")
}

func TestFormatOutcome(t *testing.T) {
	item := &models.QueueItem{Title: "IVE"}
	fail := &models.PostResult{Message: "publish: HTTP 503"}

	assert.Equal(t, "게시할 항목이 없습니다.", formatOutcome(worker.Outcome{Result: worker.ResultEmpty}))
	assert.Equal(t, "🔁 게시 실패, 재시도 예정: IVE\npublish: HTTP 503",
		formatOutcome(worker.Outcome{Result: worker.ResultRetrying, Item: item, Post: fail}))
	assert.Equal(t, "❌ 게시 실패: IVE\npublish: HTTP 503",
		formatOutcome(worker.Outcome{Result: worker.ResultFailed, Item: item, Post: fail}))
}

func TestPauseResumeCommands(t *testing.T) {
	poster := &fakePoster{}
	b, tg := newTestBot(t, Deps{Poster: poster})

	b.processUpdate(context.Background(), command(adminID, "/pause"))
	assert.True(t, poster.paused)
	assert.Equal(t, "⏸ 자동 게시를 일시정지했습니다.", tg.lastText(t))

	b.processUpdate(context.Background(), command(adminID, "/resume"))
	assert.False(t, poster.paused)
	assert.Equal(t, "▶️ 자동 게시를 재개했습니다.", tg.lastText(t))
}

func TestControlCommandsWithoutServices(t *testing.T) {
	b, tg := newTestBot(t, Deps{})

	b.processUpdate(context.Background(), command(adminID, "/post"))
	assert.Equal(t, "게시 루프가 실행 중이 아닙니다.", tg.lastText(t))
	b.processUpdate(context.Background(), command(adminID, "/crawl"))
	assert.Equal(t, "수집기가 설정되지 않았습니다.", tg.lastText(t))
	b.processUpdate(context.Background(), command(adminID, "/digest"))
	assert.Equal(t, "알림 기능이 설정되지 않았습니다.", tg.lastText(t))
}

func TestCrawlCommand(t *testing.T) {
	crawler := &fakeCrawler{summary: models.IngestSummary{Fetched: 50, Hot: 12, New: 4, Queued: 4, Images: 3}}
	b, tg := newTestBot(t, Deps{Crawler: crawler})

	b.processUpdate(context.Background(), command(adminID, "/crawl"))
	assert.Equal(t, "✅ 수집 완료\n수집: 50 · 인기: 12 · 신규: 4 · 대기열 추가: 4 · 이미지: 3", tg.lastText(t))

	crawler.err = context.DeadlineExceeded
	b.processUpdate(context.Background(), command(adminID, "/crawl"))
	assert.Equal(t, "⏱ 처리 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요.", tg.lastText(t))
}

func TestExportCommand(t *testing.T) {
	db := newTestDB(t)
	seedQueue(t, db)
	dir := filepath.Join(t.TempDir(), "exports")
	b, tg := newTestBot(t, Deps{Store: db, Subscribers: db, ExportDir: dir})

	b.processUpdate(context.Background(), command(adminID, "/export"))

	tg.mu.Lock()
	defer tg.mu.Unlock()
	require.Len(t, tg.sent, 1)
	doc, ok := tg.sent[0].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, int64(adminID), doc.ChatID)
	assert.Equal(t, "게시 큐 3건", doc.Caption)

	path := string(doc.File.(tgbotapi.FilePath))
	assert.Equal(t, filepath.Join(dir, "queue_export_2025-03-01_10-00-00.xlsx"), path)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestDigestCommandPreviewsToRequester(t *testing.T) {
	db := newTestDB(t)
	tg := newMockSender()
	digest := NewDigest(tg, db, &fakeFeed{tickets: digestTickets()}, nil, kst, nil)

	b := NewBot(Deps{Sender: tg, Subscribers: db, Store: db, Digest: digest, AdminIDs: []int64{adminID}, Location: kst})
	b.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, kst) }

	b.processUpdate(context.Background(), command(adminID, "/digest"))
	msgs := tg.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(adminID), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "🔴 오늘 [14:00]")
}

type panicStore struct {
	domain.SubscriberStore
}

func (panicStore) AddSubscriber(context.Context, int64) (bool, error) {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	b, _ := newTestBot(t, Deps{Subscribers: panicStore{}})
	assert.NotPanics(t, func() {
		b.processUpdate(context.Background(), command(7, "/start"))
	})
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	b, tg := newTestBot(t, Deps{Subscribers: db, Store: db})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	tg.updatesChan <- command(9, "/start")
	require.Eventually(t, func() bool { return len(tg.messages()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}

	b.Stop()
	assert.True(t, tg.stopped)
}

func TestStartStopsWhenChannelCloses(t *testing.T) {
	b, tg := newTestBot(t, Deps{})
	close(tg.updatesChan)

	done := make(chan struct{})
	go func() {
		b.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}
