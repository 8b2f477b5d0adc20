package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/export"
	"ddalti/internal/metrics"
	"ddalti/internal/models"
	"ddalti/internal/ratelimit"
	"ddalti/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 500
)

// Poster triggers and reports on the poll loop. *worker.PollLoop implements it.
type Poster interface {
	TriggerNow(ctx context.Context) (worker.Outcome, error)
	State() worker.State
	Paused() bool
}

// Crawler runs one ingest. *ingest.Pipeline implements it.
type Crawler interface {
	Run(ctx context.Context) (models.IngestSummary, error)
}

// LimitReporter exposes the posting limiter state.
type LimitReporter interface {
	Snapshot(now time.Time) ratelimit.Snapshot
}

// Deps are the services behind the endpoints.
type Deps struct {
	Store    domain.RecordStore
	Poster   Poster
	Crawler  Crawler
	Limiter  LimitReporter
	Location *time.Location
	Logger   *zerolog.Logger
}

// HTTPServer exposes queue status and manual triggers.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: logger}

	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/api/v1/stats", srv.handleStats)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/post", srv.handlePost)
	mux.HandleFunc("/api/v1/crawl", srv.handleCrawl)
	mux.HandleFunc("/api/v1/export", srv.handleExport)
	mux.Handle("/metrics", promhttp.Handler())

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// crawl runs the whole pipeline inside the request
		WriteTimeout: 5 * time.Minute,
	}

	return srv
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	metrics.SetQueueSize(stats)

	resp := map[string]any{"queue": stats}
	if s.deps.Limiter != nil {
		resp["rate_limit"] = s.deps.Limiter.Snapshot(time.Now())
	}
	if s.deps.Poster != nil {
		resp["poller"] = map[string]any{
			"state":  s.deps.Poster.State().String(),
			"paused": s.deps.Poster.Paused(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pred := func(*models.QueueItem) bool { return true }
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		label := status.Label()
		pred = func(it *models.QueueItem) bool { return it.Status.Label() == label }
	}

	limit := defaultQueueLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxQueueLimit)
	}

	items, err := s.deps.Store.Query(r.Context(), pred)
	if err != nil {
		s.logger.Error().Err(err).Msg("queue query failed")
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []*models.QueueItem{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items), "total": total})
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Poster == nil {
		writeError(w, http.StatusServiceUnavailable, "poster is not running")
		return
	}

	out, err := s.deps.Poster.TriggerNow(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual post failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler is not configured")
		return
	}

	summary, err := s.deps.Crawler.Run(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", summary.RunID).Msg("manual crawl failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "summary": summary})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	items, err := s.deps.Store.Query(r.Context(), func(*models.QueueItem) bool { return true })
	if err != nil {
		s.logger.Error().Err(err).Msg("export query failed")
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}

	name := fmt.Sprintf("queue_export_%s.xlsx", time.Now().In(s.deps.Location).Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.Write(w, items, s.deps.Location); err != nil {
		s.logger.Error().Err(err).Msg("export write failed")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
