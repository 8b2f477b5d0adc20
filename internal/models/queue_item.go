package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Sheet labels. Pending and Scheduled share one label.
const (
	LabelPending  = "대기"
	LabelPosted   = "완료"
	LabelFailed   = "실패"
	LabelRetrying = "재시도"
)

// Label returns the record-store label for s.
func (s Status) Label() string {
	switch s {
	case StatusPosted:
		return LabelPosted
	case StatusFailed:
		return LabelFailed
	case StatusRetrying:
		return LabelRetrying
	default:
		return LabelPending
	}
}

// IsTerminal reports whether no further attempts will be made.
func (s Status) IsTerminal() bool {
	return s == StatusPosted || s == StatusFailed
}

// IsDueCandidate reports whether the poll loop may pick an item in this state.
func (s Status) IsDueCandidate() bool {
	return s == StatusPending || s == StatusScheduled || s == StatusRetrying
}

// ParseStatus accepts both sheet labels and the English names.
func ParseStatus(raw string) (Status, error) {
	switch strings.TrimSpace(raw) {
	case LabelPending, string(StatusPending):
		return StatusPending, nil
	case string(StatusScheduled):
		return StatusScheduled, nil
	case LabelPosted, string(StatusPosted):
		return StatusPosted, nil
	case LabelFailed, string(StatusFailed):
		return StatusFailed, nil
	case LabelRetrying, string(StatusRetrying):
		return StatusRetrying, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// QueueItem is one candidate promotional post.
type QueueItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Code        string     `json:"code"`
	OpenTime    string     `json:"open_time"`
	Genre       string     `json:"genre"`
	Views       int        `json:"views"`
	ImagePath   string     `json:"image_path,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   time.Time  `json:"created_at"`
	ResultURL   string     `json:"result_url,omitempty"`
	Artist      string     `json:"artist,omitempty"`
	Hashtags    string     `json:"hashtags,omitempty"`
}

// TicketID derives the stable queue identifier from the source fields.
func TicketID(code, title, openTime string) string {
	sum := md5.Sum([]byte(code + title + openTime))
	return hex.EncodeToString(sum[:])[:TicketIDLength]
}

// NewQueueItem builds a pending item from a feed ticket.
func NewQueueItem(t Ticket, imagePath string, now time.Time) *QueueItem {
	return &QueueItem{
		ID:        TicketID(t.GoodsCode, t.Title, t.OpenDateStr),
		Title:     t.Title,
		Code:      t.GoodsCode,
		OpenTime:  t.OpenDateStr,
		Genre:     t.GoodsGenreStr,
		Views:     t.ViewCount,
		ImagePath: imagePath,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// IsDue reports whether the item can be published at now.
func (q *QueueItem) IsDue(now time.Time) bool {
	if !q.Status.IsDueCandidate() {
		return false
	}
	return q.ScheduledAt == nil || !q.ScheduledAt.After(now)
}

// Clone returns a copy that does not share time pointers with q.
func (q *QueueItem) Clone() *QueueItem {
	c := *q
	if q.ScheduledAt != nil {
		t := *q.ScheduledAt
		c.ScheduledAt = &t
	}
	if q.PostedAt != nil {
		t := *q.PostedAt
		c.PostedAt = &t
	}
	return &c
}

// QueueStats counts queue rows by label.
type QueueStats struct {
	Total     int `json:"total_queued"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retry     int `json:"retry"`
}

// Add counts one item.
func (s *QueueStats) Add(status Status) {
	s.Total++
	switch status.Label() {
	case LabelPosted:
		s.Completed++
	case LabelFailed:
		s.Failed++
	case LabelRetrying:
		s.Retry++
	default:
		s.Pending++
	}
}

// FormatTime renders an optional timestamp for the record store.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

// FormatTimeIn is FormatTime after converting t to loc.
func FormatTimeIn(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	if loc != nil {
		local := t.In(loc)
		t = &local
	}
	return t.Format(TimeLayout)
}

// ParseTime reads an optional timestamp written by FormatTime. Empty or bad values yield nil.
func ParseTime(raw string, loc *time.Location) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimeLayout, raw, loc)
	if err != nil {
		return nil
	}
	return &t
}
