package models

import "time"

// Ticket is one record of the open-notice feed.
type Ticket struct {
	IsHot                bool   `json:"isHot"`
	OpenDateStr          string `json:"openDateStr"`
	ViewCount            int    `json:"viewCount"`
	OpenTypeStr          string `json:"openTypeStr"`
	Title                string `json:"title"`
	GoodsCode            string `json:"goodsCode"`
	HasMultipleOpenDates bool   `json:"hasMultipleOpenDates"`
	GoodsGenreStr        string `json:"goodsGenreStr"`
	GoodsRegionStr       string `json:"goodsRegionStr"`
	VenueName            string `json:"venueName"`
	PosterImageURL       string `json:"posterImageUrl"`
}

// ID returns the queue identifier this ticket maps to.
func (t Ticket) ID() string {
	return TicketID(t.GoodsCode, t.Title, t.OpenDateStr)
}

// WebzineNotice is a row of the webzine open-notice board.
type WebzineNotice struct {
	Title       string `json:"title"`
	OpenDate    string `json:"open_date"`
	Type        string `json:"type"`
	Count       string `json:"count"`
	BookingCode string `json:"booking_code,omitempty"`
	DetailURL   string `json:"detail_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PostResult is the outcome of one publish attempt.
type PostResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// IngestSummary describes one crawl run.
type IngestSummary struct {
	RunID     string        `json:"run_id"`
	Fetched   int           `json:"fetched"`
	Hot       int           `json:"hot"`
	New       int           `json:"new_tickets"`
	Queued    int           `json:"queued_posts"`
	Images    int           `json:"images"`
	Errors    int           `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
