package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddalti/internal/api"
	"ddalti/internal/bot"
	"ddalti/internal/config"
	"ddalti/internal/database"
	"ddalti/internal/domain"
	"ddalti/internal/enrich"
	"ddalti/internal/events"
	"ddalti/internal/feed"
	"ddalti/internal/google"
	"ddalti/internal/images"
	"ddalti/internal/ingest"
	"ddalti/internal/jobs"
	"ddalti/internal/logging"
	"ddalti/internal/metrics"
	"ddalti/internal/publisher"
	"ddalti/internal/ratelimit"
	"ddalti/internal/repository"
	"ddalti/internal/scheduler"
	"ddalti/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	menu := flag.Bool("menu", true, "read the interactive menu from stdin")
	flag.Parse()

	if err := run(*menu); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run(withMenu bool) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, loc, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	store, err := initStore(ctx, cfg, db, &logger)
	if err != nil {
		return err
	}

	cache := initCache(ctx, cfg, &logger)

	downloader, err := images.NewDownloader(ctx, cfg.Images, cache, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init image downloader")
		return err
	}
	defer downloader.Close()

	interpark := feed.NewInterparkClient(cfg.Feed, &logger)
	defer interpark.Close()

	var notices bot.NoticeSource
	if cfg.Webzine.Enabled {
		webzine := feed.NewWebzineSource(cfg.Webzine, loc, &logger)
		defer webzine.Close()
		notices = webzine
	}

	var enricher ingest.BatchEnricher
	if cfg.Enrich.Enabled {
		openai := enrich.NewOpenAIClient(cfg.Enrich, &logger)
		defer openai.Close()
		enricher = enrich.NewService(openai, cache, cfg.Enrich.Concurrency, &logger)
	}

	tg, err := initTelegram(cfg, &logger)
	if err != nil {
		return err
	}

	pub, err := publisher.New(cfg, tg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init publisher")
		return err
	}

	bus := events.NewEventBus()
	subscribeEvents(bus, tg, cfg.Telegram.AdminIDs, &logger)

	limiter := ratelimit.New(ratelimit.LimitsFromConfig(cfg.Posting), loc)
	poller := worker.NewPollLoop(store, pub, limiter,
		worker.PolicyFromConfig(cfg.Posting.Retry, cfg.Posting.MaxRetries), bus, &logger,
		worker.WithPeriod(cfg.Posting.PollPeriod), worker.WithTick(cfg.Posting.PollTick))

	pipeline := ingest.New(interpark, downloader, enricher, scheduler.New(cfg.Posting.PeakHours, loc), store, bus,
		ingest.Options{HotMode: cfg.Feed.HotMode, ViewThresholds: cfg.Feed.ViewThresholds, AutoQueue: cfg.Crawl.AutoQueue},
		&logger)

	var digest *bot.Digest
	if tg != nil {
		digest = bot.NewDigest(tg, db, interpark, notices, loc, &logger)
	}

	cron := jobs.New(loc, &logger)
	if err := registerJobs(cron, cfg, pipeline, digest, db, &logger); err != nil {
		logger.Error().Err(err).Msg("register jobs")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return cron.Start(gctx) })

	if cfg.Crawl.RunOnStart {
		g.Go(func() error {
			if _, err := pipeline.Run(gctx); err != nil {
				logger.Error().Err(err).Msg("startup crawl failed")
			}
			return nil
		})
	}

	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		srv := api.NewHTTPServer(cfg.API, api.Deps{
			Store:    store,
			Poster:   poller,
			Crawler:  pipeline,
			Limiter:  limiter,
			Location: loc,
			Logger:   &logger,
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Monitoring.PrometheusPort, &logger) })
	}

	if cfg.Telegram.BotEnabled && tg != nil {
		b := bot.NewBot(bot.Deps{
			Sender:      tg,
			Subscribers: db,
			Store:       store,
			Poster:      poller,
			Crawler:     pipeline,
			Limiter:     limiter,
			Digest:      digest,
			ExportDir:   cfg.Exports.Path,
			AdminIDs:    cfg.Telegram.AdminIDs,
			Location:    loc,
			Logger:      &logger,
		})
		g.Go(func() error {
			b.Start(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			b.Stop()
			return nil
		})
	}

	if withMenu {
		m := &menu{in: os.Stdin, out: os.Stdout, store: store, crawler: pipeline, poller: poller, loc: loc, logger: &logger}
		g.Go(func() error { return m.Run(gctx) })
	}

	logger.Info().
		Str("platform", pub.Platform()).
		Str("store", cfg.Store.Backend).
		Str("timezone", loc.String()).
		Msg("ddalti started")

	err = g.Wait()
	if errors.Is(err, errQuit) {
		err = nil
	}
	logger.Info().Msg("ddalti stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "poster-main").Logger()

	return cfg, logger, closer, nil
}

// initStore returns the queue backend. The SQLite database also holds the
// digest subscribers, so it is opened for either backend.
func initStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) (ingest.Store, error) {
	if cfg.Store.Backend != config.BackendSheets {
		logger.Info().Str("db_path", db.Path()).Msg("using sqlite queue")
		return db, nil
	}

	sheets, err := google.NewSheetsStore(ctx, cfg.Google, cfg.Location(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("init google sheets")
		return nil, err
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Error().Err(err).Msg("google sheets connection test failed")
		return nil, err
	}
	if err := sheets.EnsureHeaders(ctx); err != nil {
		logger.Error().Err(err).Msg("write sheet headers")
		return nil, err
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("row cache warm-up failed")
	}

	logger.Info().Str("spreadsheet_id", cfg.Google.SpreadsheetID).Msg("using google sheets queue")
	return sheets, nil
}

// initCache prefers Redis and falls back to memory while Redis is down.
func initCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.KVCache {
	memory := repository.NewMemoryCache(cfg.Enrich.CacheTTL)
	if cfg.Redis.Address == "" {
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, starting on memory cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return repository.NewFailoverCache(repository.NewRedisCache(client, cfg.Enrich.CacheTTL), memory, logger)
}

// initTelegram connects the bot when the publisher, the admin bot or the digest needs it.
func initTelegram(cfg *config.Config, logger *zerolog.Logger) (domain.TelegramSender, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, nil
	}

	w, err := bot.Connect(cfg.Telegram)
	if err != nil {
		logger.Error().Err(err).Msg("telegram connect")
		return nil, err
	}
	logger.Info().Str("username", w.GetSelf().UserName).Msg("telegram connected")
	return w, nil
}

func registerJobs(cron *jobs.Scheduler, cfg *config.Config, pipeline *ingest.Pipeline, digest *bot.Digest, db *database.DB, logger *zerolog.Logger) error {
	if err := cron.AddJob("crawl", cfg.Crawl.Schedule, func(ctx context.Context) error {
		_, err := pipeline.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	if digest != nil {
		if err := cron.AddJob("digest", cfg.Crawl.DigestSchedule, func(ctx context.Context) error {
			_, err := digest.Send(ctx, time.Now())
			return err
		}); err != nil {
			return err
		}
	}

	if cfg.Backup.Enabled && cfg.Store.Backend == config.BackendSQLite {
		backup := database.NewBackupService(db.Path(), cfg.Backup, logger)
		if err := cron.AddJob("backup", cfg.Backup.Schedule, func(context.Context) error {
			backup.Run()
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
