package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketID(t *testing.T) {
	id := TicketID("25001234", "BTS WORLD TOUR", "2025-03-01 20:00:00")
	assert.Len(t, id, TicketIDLength)
	assert.Equal(t, id, TicketID("25001234", "BTS WORLD TOUR", "2025-03-01 20:00:00"))
	assert.NotEqual(t, id, TicketID("25001234", "BTS WORLD TOUR", "2025-03-02 20:00:00"))

	tk := Ticket{GoodsCode: "25001234", Title: "BTS WORLD TOUR", OpenDateStr: "2025-03-01 20:00:00"}
	assert.Equal(t, id, tk.ID())
}

func TestStatusLabels(t *testing.T) {
	cases := map[Status]string{
		StatusPending:   "대기",
		StatusScheduled: "대기",
		StatusPosted:    "완료",
		StatusFailed:    "실패",
		StatusRetrying:  "재시도",
	}
	for status, label := range cases {
		assert.Equal(t, label, status.Label(), string(status))
	}

	for _, label := range []string{"대기", "완료", "실패", "재시도"} {
		st, err := ParseStatus(label)
		require.NoError(t, err)
		assert.Equal(t, label, st.Label())
	}

	_, err := ParseStatus("보류")
	assert.Error(t, err)

	assert.True(t, StatusPosted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}

func TestQueueItemIsDue(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&QueueItem{Status: StatusPending}).IsDue(now))
	assert.True(t, (&QueueItem{Status: StatusRetrying, ScheduledAt: &past}).IsDue(now))
	assert.True(t, (&QueueItem{Status: StatusPending, ScheduledAt: &now}).IsDue(now))
	assert.False(t, (&QueueItem{Status: StatusPending, ScheduledAt: &future}).IsDue(now))
	assert.False(t, (&QueueItem{Status: StatusPosted}).IsDue(now))
	assert.False(t, (&QueueItem{Status: StatusFailed}).IsDue(now))
}

func TestQueueItemClone(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &QueueItem{ID: "a", ScheduledAt: &at}
	c := item.Clone()
	*c.ScheduledAt = at.Add(time.Hour)
	assert.Equal(t, at, *item.ScheduledAt)
}

func TestQueueStats(t *testing.T) {
	var s QueueStats
	for _, st := range []Status{StatusPending, StatusScheduled, StatusPosted, StatusFailed, StatusRetrying, StatusRetrying} {
		s.Add(st)
	}
	assert.Equal(t, QueueStats{Total: 6, Pending: 2, Completed: 1, Failed: 1, Retry: 2}, s)
}

func TestTimeFormatting(t *testing.T) {
	assert.Equal(t, "", FormatTime(nil))
	at := time.Date(2025, 3, 1, 9, 5, 7, 0, time.UTC)
	raw := FormatTime(&at)
	assert.Equal(t, "2025-03-01 09:05:07", raw)

	parsed := ParseTime(raw, time.UTC)
	require.NotNil(t, parsed)
	assert.True(t, at.Equal(*parsed))

	assert.Nil(t, ParseTime("", time.UTC))
	assert.Nil(t, ParseTime("not a date", time.UTC))
}

func TestNewQueueItem(t *testing.T) {
	now := time.Now()
	tk := Ticket{GoodsCode: "1", Title: "t", OpenDateStr: "2025-03-01 20:00:00", GoodsGenreStr: "콘서트", ViewCount: 700}
	item := NewQueueItem(tk, "images/1.jpg", now)
	assert.Equal(t, tk.ID(), item.ID)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 700, item.Views)
	assert.Equal(t, "images/1.jpg", item.ImagePath)
	assert.Equal(t, now, item.CreatedAt)
}
