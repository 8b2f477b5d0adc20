package scheduler

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/models"
)

const basePriority = 50

var (
	highPriorityArtists   = []string{"BTS", "세븐틴", "SEVENTEEN", "블랙핑크", "BLACKPINK", "뉴진스", "NEWJEANS"}
	mediumPriorityArtists = []string{"IVE", "AESPA", "에스파", "르세라핌", "LE SSERAFIM"}
)

// openTimeLayouts are tried in order. Weekday suffixes like "(월)" are stripped before parsing.
var openTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
	"06.01.02 15:04",
}

// DefaultPeakHours are the posting windows used when none are configured.
var DefaultPeakHours = []config.HourWindow{
	{Start: 9, End: 11},
	{Start: 12, End: 13},
	{Start: 15, End: 17},
	{Start: 19, End: 22},
}

type Option func(*PriorityScheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *PriorityScheduler) { s.now = now }
}

// WithRand replaces the random source used for delays and minutes.
func WithRand(r *rand.Rand) Option {
	return func(s *PriorityScheduler) { s.rng = r }
}

// PriorityScheduler scores queue items and picks when they should go out.
type PriorityScheduler struct {
	peaks []config.HourWindow
	loc   *time.Location
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func New(peaks []config.HourWindow, loc *time.Location, opts ...Option) *PriorityScheduler {
	if len(peaks) == 0 {
		peaks = DefaultPeakHours
	}
	if loc == nil {
		loc = time.Local
	}
	s := &PriorityScheduler{
		peaks: peaks,
		loc:   loc,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreAndSchedule returns the item's priority and target posting time.
func (s *PriorityScheduler) ScoreAndSchedule(item *models.QueueItem) (int, time.Time) {
	now := s.now().In(s.loc)
	priority := s.Score(item, now)
	return priority, s.schedule(priority, now)
}

// Score computes a priority in [0,100]. now is the reference for open-time urgency.
func (s *PriorityScheduler) Score(item *models.QueueItem, now time.Time) int {
	priority := basePriority

	if openTime, ok := ParseOpenTime(item.OpenTime, s.loc); ok {
		priority += urgencyBonus(openTime.Sub(now))
	}

	switch {
	case item.Views > 10000:
		priority += 20
	case item.Views > 5000:
		priority += 15
	case item.Views > 1000:
		priority += 10
	}

	title := strings.ToUpper(item.Title)
	if containsAny(title, highPriorityArtists) {
		priority += 25
	} else if containsAny(title, mediumPriorityArtists) {
		priority += 15
	}

	switch {
	case strings.Contains(item.Genre, "콘서트") || strings.Contains(strings.ToUpper(item.Genre), "CONCERT"):
		priority += 15
	case strings.Contains(item.Genre, "뮤지컬"):
		priority += 10
	case strings.Contains(item.Genre, "페스티벌"):
		priority += 12
	}

	return clamp(priority, 0, 100)
}

func urgencyBonus(until time.Duration) int {
	hours := until.Hours()
	switch {
	case hours <= 24:
		return 30
	case hours <= 72:
		return 20
	case hours <= 168:
		return 10
	default:
		return 0
	}
}

func (s *PriorityScheduler) schedule(priority int, now time.Time) time.Time {
	var lo, hi int
	switch {
	case priority >= 80:
		lo, hi = 5, 15
	case priority >= 60:
		lo, hi = 15, 60
	default:
		lo, hi = 60, 180
	}

	delay := time.Duration(s.intBetween(lo, hi)) * time.Minute
	return s.AdjustToPeak(now.Add(delay), now)
}

// AdjustToPeak keeps t if its hour is inside a peak window. Otherwise it moves t to the start
// of the window whose start hour is closest, with a random minute, rolling to the next day
// when that is not after now.
func (s *PriorityScheduler) AdjustToPeak(t, now time.Time) time.Time {
	hour := t.Hour()
	for _, w := range s.peaks {
		if w.Contains(hour) {
			return t
		}
	}

	best := s.peaks[0].Start
	bestDiff := abs(hour - best)
	for _, w := range s.peaks[1:] {
		if d := abs(hour - w.Start); d < bestDiff {
			best, bestDiff = w.Start, d
		}
	}

	adjusted := time.Date(t.Year(), t.Month(), t.Day(), best, s.intBetween(0, 59), 0, 0, t.Location())
	if !adjusted.After(now) {
		adjusted = adjusted.AddDate(0, 0, 1)
	}
	return adjusted
}

// InPeak reports whether hour falls in one of the scheduler's peak windows.
func (s *PriorityScheduler) InPeak(hour int) bool {
	for _, w := range s.peaks {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

func (s *PriorityScheduler) intBetween(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.IntN(hi-lo+1)
}

// ParseOpenTime parses the feed's free-text open time. It reports false instead of failing.
func ParseOpenTime(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	// drop weekday markers: "2025.01.15 (수) 20:00" -> "2025.01.15 20:00"
	if open := strings.Index(raw, "("); open >= 0 {
		if closing := strings.Index(raw[open:], ")"); closing >= 0 {
			raw = strings.TrimSpace(raw[:open]) + " " + strings.TrimSpace(raw[open+closing+1:])
		}
	}

	for _, layout := range openTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, strings.ToUpper(n)) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
