package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddalti/internal/bot"
	"ddalti/internal/config"
	"ddalti/internal/database"
	"ddalti/internal/feed"
	"ddalti/internal/logging"
)

const runTimeout = 5 * time.Minute

func main() {
	chatID := flag.Int64("chat", 0, "send only to this chat instead of every subscriber")
	preview := flag.Bool("preview", false, "print the digest instead of sending it")
	flag.Parse()

	if err := run(*chatID, *preview); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run(chatID int64, preview bool) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := baseLogger.With().Str("component", "digest-main").Logger()

	if cfg.Telegram.BotToken == "" && !preview {
		return errors.New("telegram bot_token is required to send the digest")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	loc := cfg.Location()

	db, err := database.NewDB(cfg.Database.Path, loc, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	interpark := feed.NewInterparkClient(cfg.Feed, &logger)
	defer interpark.Close()

	var notices bot.NoticeSource
	if cfg.Webzine.Enabled {
		webzine := feed.NewWebzineSource(cfg.Webzine, loc, &logger)
		defer webzine.Close()
		notices = webzine
	}

	if preview {
		digest := bot.NewDigest(nil, db, interpark, notices, loc, &logger)
		fmt.Println(digest.Compose(ctx, time.Now()))
		return nil
	}

	tg, err := bot.Connect(cfg.Telegram)
	if err != nil {
		logger.Error().Err(err).Msg("telegram connect")
		return err
	}
	digest := bot.NewDigest(tg, db, interpark, notices, loc, &logger)

	if chatID != 0 {
		return digest.SendTo(chatID, digest.Compose(ctx, time.Now()))
	}

	sent, err := digest.Send(ctx, time.Now())
	logger.Info().Int("sent", sent).Msg("digest run finished")
	return err
}
