package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ddalti/internal/config"
)

var ErrRateLimited = errors.New("rate limited")

const (
	shortWindow  = 15 * time.Minute
	retainWindow = 24 * time.Hour
)

// Limits are the posting caps and spacing rules.
type Limits struct {
	MaxPer15Min    int
	MaxPerDay      int
	PeakInterval   time.Duration
	NormalInterval time.Duration
	NightInterval  time.Duration
	PeakHours      []config.HourWindow
	NightStart     int
	NightEnd       int
	// MinSpacing replaces the hour-based interval when non-zero.
	MinSpacing time.Duration
}

// LimitsFromConfig uses the lower bound of every interval range.
func LimitsFromConfig(p config.PostingConfig) Limits {
	return Limits{
		MaxPer15Min:    p.MaxPer15Min,
		MaxPerDay:      p.MaxPerDay,
		PeakInterval:   time.Duration(p.Intervals.PeakMin) * time.Minute,
		NormalInterval: time.Duration(p.Intervals.NormalMin) * time.Minute,
		NightInterval:  time.Duration(p.Intervals.NightMin) * time.Minute,
		PeakHours:      p.PeakHours,
		NightStart:     p.NightStart,
		NightEnd:       p.NightEnd,
		MinSpacing:     p.MinSpacing,
	}
}

// Snapshot is a point-in-time view of the limiter.
type Snapshot struct {
	Last15Min   int        `json:"last_15min"`
	Today       int        `json:"today"`
	MaxPer15Min int        `json:"max_per_15min"`
	MaxPerDay   int        `json:"max_per_day"`
	LastPost    *time.Time `json:"last_post,omitempty"`
	MinInterval string     `json:"min_interval"`
	NextAllowed time.Time  `json:"next_allowed"`
	Allowed     bool       `json:"allowed"`
}

// RateLimiter keeps a bounded log of successful posts.
type RateLimiter struct {
	limits   Limits
	loc      *time.Location
	capacity int

	mu  sync.Mutex
	log []time.Time
}

func New(limits Limits, loc *time.Location) *RateLimiter {
	if loc == nil {
		loc = time.Local
	}
	capacity := limits.MaxPerDay
	if capacity < limits.MaxPer15Min {
		capacity = limits.MaxPer15Min
	}
	return &RateLimiter{
		limits:   limits,
		loc:      loc,
		capacity: capacity,
		log:      make([]time.Time, 0, capacity),
	}
}

// Allow reports whether a post may go out at now.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.Check(now) == nil
}

// Check is Allow with the reason. The returned error wraps ErrRateLimited.
func (r *RateLimiter) Check(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	recent, today := r.counts(now)

	if recent >= r.limits.MaxPer15Min {
		return fmt.Errorf("%w: %d posts in the last 15 minutes", ErrRateLimited, recent)
	}
	if today >= r.limits.MaxPerDay {
		return fmt.Errorf("%w: daily cap of %d reached", ErrRateLimited, r.limits.MaxPerDay)
	}
	if n := len(r.log); n > 0 {
		interval := r.minInterval(now)
		if since := now.Sub(r.log[n-1]); since < interval {
			return fmt.Errorf("%w: %s since last post, need %s", ErrRateLimited, since.Round(time.Second), interval)
		}
	}
	return nil
}

// Record adds a successful post at t.
func (r *RateLimiter) Record(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// keep the log sorted even if callers record slightly out of order
	i := len(r.log)
	for i > 0 && r.log[i-1].After(t) {
		i--
	}
	r.log = append(r.log, time.Time{})
	copy(r.log[i+1:], r.log[i:])
	r.log[i] = t

	r.prune(t)
	if r.capacity > 0 && len(r.log) > r.capacity {
		r.log = append(r.log[:0], r.log[len(r.log)-r.capacity:]...)
	}
}

// MinInterval returns the spacing required at now.
func (r *RateLimiter) MinInterval(now time.Time) time.Duration {
	return r.minInterval(now)
}

func (r *RateLimiter) Snapshot(now time.Time) Snapshot {
	err := r.Check(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	recent, today := r.counts(now)
	interval := r.minInterval(now)
	snap := Snapshot{
		Last15Min:   recent,
		Today:       today,
		MaxPer15Min: r.limits.MaxPer15Min,
		MaxPerDay:   r.limits.MaxPerDay,
		MinInterval: interval.String(),
		NextAllowed: now,
		Allowed:     err == nil,
	}
	if snap.Allowed {
		if n := len(r.log); n > 0 {
			last := r.log[n-1]
			snap.LastPost = &last
		}
		return snap
	}

	next := now
	if n := len(r.log); n > 0 {
		last := r.log[n-1]
		snap.LastPost = &last
		next = later(next, last.Add(interval))
	}
	if recent >= r.limits.MaxPer15Min && recent > 0 && recent <= len(r.log) {
		// the oldest post inside the window has to age out
		oldest := r.log[len(r.log)-recent]
		next = later(next, oldest.Add(shortWindow))
	}
	if today >= r.limits.MaxPerDay {
		next = later(next, r.midnight(now).AddDate(0, 0, 1))
	}
	snap.NextAllowed = next
	return snap
}

func (r *RateLimiter) minInterval(now time.Time) time.Duration {
	if r.limits.MinSpacing > 0 {
		return r.limits.MinSpacing
	}
	hour := now.In(r.loc).Hour()
	for _, w := range r.limits.PeakHours {
		if w.Contains(hour) {
			return r.limits.PeakInterval
		}
	}
	if r.isNight(hour) {
		return r.limits.NightInterval
	}
	return r.limits.NormalInterval
}

func (r *RateLimiter) isNight(hour int) bool {
	start, end := r.limits.NightStart, r.limits.NightEnd
	if start == end {
		return false
	}
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

// counts must be called with mu held.
func (r *RateLimiter) counts(now time.Time) (recent, today int) {
	windowStart := now.Add(-shortWindow)
	midnight := r.midnight(now)
	for _, ts := range r.log {
		if ts.After(now) {
			continue
		}
		if ts.After(windowStart) {
			recent++
		}
		if !ts.Before(midnight) {
			today++
		}
	}
	return recent, today
}

// prune must be called with mu held.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-retainWindow)
	drop := 0
	for drop < len(r.log) && r.log[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		r.log = append(r.log[:0], r.log[drop:]...)
	}
}

func (r *RateLimiter) midnight(now time.Time) time.Time {
	local := now.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
