package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/database"
	"ddalti/internal/models"
	"ddalti/internal/ratelimit"
	"ddalti/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var kst = time.FixedZone("KST", 9*3600)

type fakePoster struct {
	calls int
	out   worker.Outcome
	err   error
}

func (p *fakePoster) TriggerNow(context.Context) (worker.Outcome, error) {
	p.calls++
	return p.out, p.err
}

func (p *fakePoster) State() worker.State { return worker.StateIdle }

func (p *fakePoster) Paused() bool { return false }

type fakeCrawler struct {
	summary models.IngestSummary
	err     error
}

func (c *fakeCrawler) Run(context.Context) (models.IngestSummary, error) {
	return c.summary, c.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), kst, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, kst)
	for _, it := range []*models.QueueItem{
		{ID: "a1", Title: "BTS", Code: "1", Status: models.StatusPending, Priority: 90, CreatedAt: created},
		{ID: "a2", Title: "IVE", Code: "2", Status: models.StatusScheduled, Priority: 70, CreatedAt: created},
		{ID: "a3", Title: "old", Code: "3", Status: models.StatusPosted, Priority: 50, CreatedAt: created},
		{ID: "a4", Title: "bad", Code: "4", Status: models.StatusFailed, Priority: 40, CreatedAt: created},
	} {
		require.NoError(t, db.Append(context.Background(), it))
	}
}

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "r-extra", Permissions: []string{PermReadQueue}},
				{Key: "admin", Extra: "a-extra"},
			},
		},
	}
}

func newTestServer(t *testing.T, cfg config.APIConfig, deps Deps) *httptest.Server {
	t.Helper()
	deps.Location = kst
	srv := NewHTTPServer(cfg, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, key, extra string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
		req.Header.Set("X-API-Extra", extra)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzIsOpen(t *testing.T) {
	ts := newTestServer(t, authConfig(), Deps{Store: newTestDB(t)})

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	limiter := ratelimit.New(ratelimit.Limits{MaxPer15Min: 50, MaxPerDay: 500}, kst)
	ts := newTestServer(t, authConfig(), Deps{Store: db, Limiter: limiter, Poster: &fakePoster{}})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/stats", "reader", "r-extra")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Queue     models.QueueStats  `json:"queue"`
		RateLimit ratelimit.Snapshot `json:"rate_limit"`
		Poller    struct {
			State  string `json:"state"`
			Paused bool   `json:"paused"`
		} `json:"poller"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.QueueStats{Total: 4, Pending: 2, Completed: 1, Failed: 1}, body.Queue)
	assert.True(t, body.RateLimit.Allowed)
	assert.Equal(t, 50, body.RateLimit.MaxPer15Min)
	assert.Equal(t, "idle", body.Poller.State)
}

func TestQueueFilterAndLimit(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	ts := newTestServer(t, authConfig(), Deps{Store: db})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/queue?status="+url.QueryEscape(models.LabelPending)+"&limit=1", "reader", "r-extra")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Items []models.QueueItem `json:"items"`
		Count int                `json:"count"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, "a1", body.Items[0].ID)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/queue?status=unknown", "reader", "r-extra")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/queue?limit=-1", "reader", "r-extra")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	poster := &fakePoster{out: worker.Outcome{Result: worker.ResultEmpty}}
	ts := newTestServer(t, authConfig(), Deps{Store: newTestDB(t), Poster: poster})

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		extra  string
		want   int
	}{
		{"missing headers", http.MethodGet, "/api/v1/stats", "", "", http.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/api/v1/stats", "nope", "x", http.StatusUnauthorized},
		{"wrong extra", http.MethodGet, "/api/v1/stats", "reader", "x", http.StatusUnauthorized},
		{"reader cannot post", http.MethodPost, "/api/v1/post", "reader", "r-extra", http.StatusForbidden},
		{"admin can post", http.MethodPost, "/api/v1/post", "admin", "a-extra", http.StatusOK},
		{"wrong method", http.MethodGet, "/api/v1/post", "admin", "a-extra", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.key, tt.extra)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 1, poster.calls)
}

func TestRateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newTestServer(t, cfg, Deps{Store: newTestDB(t)})

	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/stats", "reader", "r-extra")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := do(t, http.MethodGet, ts.URL+"/api/v1/stats", "reader", "r-extra")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// other keys have their own bucket
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/stats", "admin", "a-extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPost(t *testing.T) {
	item := &models.QueueItem{ID: "a1", Status: models.StatusPosted}
	poster := &fakePoster{out: worker.Outcome{
		Result: worker.ResultPosted,
		Item:   item,
		Post:   &models.PostResult{Success: true, URL: "https://t.me/c/1/2"},
	}}
	ts := newTestServer(t, config.APIConfig{}, Deps{Store: newTestDB(t), Poster: poster})

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/post", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out worker.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, worker.ResultPosted, out.Result)
	assert.Equal(t, "https://t.me/c/1/2", out.Post.URL)

	poster.err = errors.New("store down")
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/post", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCrawl(t *testing.T) {
	crawler := &fakeCrawler{summary: models.IngestSummary{RunID: "r1", Fetched: 10, Queued: 3}}
	ts := newTestServer(t, config.APIConfig{}, Deps{Store: newTestDB(t), Crawler: crawler})

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/crawl", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary models.IngestSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "r1", summary.RunID)
	assert.Equal(t, 3, summary.Queued)

	crawler.err = errors.New("fetch feed: HTTP 503")
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/crawl", "", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCrawlWithoutCrawler(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{}, Deps{Store: newTestDB(t)})
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/crawl", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestExport(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	ts := newTestServer(t, authConfig(), Deps{Store: db})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/export", "reader", "r-extra")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment; filename=\"queue_export_"))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("PostingQueue")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/stats", endpointLabel("/api/v1/stats"))
	assert.Equal(t, "other", endpointLabel("/wp-login.php"))
}
