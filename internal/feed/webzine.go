package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/net/html/charset"
	"resty.dev/v3"
)

var (
	noticeDatePattern = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{2})`)
	goodsCodePattern  = regexp.MustCompile(`"goodsCode":"(\d+)"`)
)

// WebzineSource scrapes the webzine open-notice board.
type WebzineSource struct {
	cfg    config.WebzineConfig
	http   *resty.Client
	rl     ratelimit.Limiter
	loc    *time.Location
	now    func() time.Time
	logger *zerolog.Logger

	attempts   uint
	retryDelay time.Duration
}

func NewWebzineSource(cfg config.WebzineConfig, loc *time.Location, logger *zerolog.Logger) *WebzineSource {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if loc == nil {
		loc = time.Local
	}
	rps := cfg.DetailRPS
	if rps <= 0 {
		rps = 1
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", browserUserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")

	return &WebzineSource{
		cfg:        cfg,
		http:       client,
		rl:         ratelimit.New(rps),
		loc:        loc,
		now:        time.Now,
		logger:     logger,
		attempts:   3,
		retryDelay: time.Second,
	}
}

func (w *WebzineSource) Close() error {
	return w.http.Close()
}

// Fetch walks the board pages until MaxPages or until a page lists tomorrow's date.
func (w *WebzineSource) Fetch(ctx context.Context) ([]models.WebzineNotice, error) {
	maxPages := w.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	tomorrow := w.now().In(w.loc).AddDate(0, 0, 1)

	var all []models.WebzineNotice
	for page := 1; page <= maxPages; page++ {
		target, err := pageURL(w.cfg.URL, page)
		if err != nil {
			return nil, err
		}

		body, err := w.get(ctx, target)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("fetch webzine page %d: %w", page, err)
			}
			w.logger.Warn().Err(err).Int("page", page).Msg("webzine page failed, keeping earlier pages")
			break
		}

		notices, err := ParseNoticeList(body, w.cfg.DetailURL)
		if err != nil {
			return nil, fmt.Errorf("parse webzine page %d: %w", page, err)
		}
		if len(notices) == 0 {
			break
		}

		for i := range notices {
			w.fillBookingCode(ctx, &notices[i])
		}
		all = append(all, notices...)

		if containsDate(notices, tomorrow, w.loc) {
			w.logger.Debug().Int("page", page).Msg("tomorrow's notices reached, stopping")
			break
		}
	}

	w.logger.Info().Int("count", len(all)).Msg("webzine notices fetched")
	return all, nil
}

func (w *WebzineSource) fillBookingCode(ctx context.Context, n *models.WebzineNotice) {
	if n.DetailURL == "" {
		return
	}
	w.rl.Take()

	body, err := w.get(ctx, n.DetailURL)
	if err != nil {
		n.Error = err.Error()
		w.logger.Warn().Err(err).Str("title", n.Title).Msg("webzine detail fetch failed")
		return
	}
	n.BookingCode = ExtractBookingCode(body)
}

func (w *WebzineSource) get(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			resp, err := w.http.R().SetContext(ctx).Get(target)
			if err != nil {
				return err
			}
			if resp.IsError() {
				httpErr := &HTTPError{URL: target, Status: resp.StatusCode()}
				if httpErr.permanent() {
					return retry.Unrecoverable(httpErr)
				}
				return httpErr
			}
			decoded, err := decodeHTML(resp.Bytes(), resp.Header().Get("Content-Type"))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			body = decoded
			return nil
		},
		retry.Attempts(w.attempts),
		retry.Delay(w.retryDelay),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return body, err
}

// decodeHTML converts legacy Korean encodings to UTF-8.
func decodeHTML(raw []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseNoticeList reads the board table. Rows without a title link or date are skipped.
func ParseNoticeList(body []byte, detailBase string) ([]models.WebzineNotice, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var notices []models.WebzineNotice
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("td.subject a").First()
		date := row.Find("td.date").First()
		if link.Length() == 0 || date.Length() == 0 {
			return
		}

		n := models.WebzineNotice{
			Title:    strings.TrimSpace(link.Text()),
			OpenDate: strings.TrimSpace(date.Text()),
			Type:     strings.TrimSpace(row.Find("td.type").First().Text()),
			Count:    strings.TrimSpace(row.Find("td.count").First().Text()),
		}
		if href, ok := link.Attr("href"); ok && href != "" {
			n.DetailURL = detailBase + href
		}
		notices = append(notices, n)
	})
	return notices, nil
}

// ExtractBookingCode finds the goods code on a notice detail page.
func ExtractBookingCode(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		href, ok := doc.Find("a.btn_book").First().Attr("href")
		if !ok {
			doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				h, _ := s.Attr("href")
				if strings.Contains(h, "tickets.interpark.com") || strings.Contains(h, "contents/bridge") {
					href, ok = h, true
					return false
				}
				return true
			})
		}
		if ok {
			if code := lastPathSegment(href); code != "" {
				return code
			}
		}
	}

	if m := goodsCodePattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

func lastPathSegment(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

func pageURL(base string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse webzine url: %w", err)
	}
	q := u.Query()
	q.Set("pageno", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NoticeDate extracts the yy.mm.dd date from a board date cell.
func NoticeDate(raw string, loc *time.Location) (time.Time, bool) {
	m := noticeDatePattern.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, loc), true
}

func containsDate(notices []models.WebzineNotice, day time.Time, loc *time.Location) bool {
	for _, n := range notices {
		d, ok := NoticeDate(n.OpenDate, loc)
		if ok && sameDay(d, day) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
