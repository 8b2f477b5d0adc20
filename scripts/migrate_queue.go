package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/database"
	"ddalti/internal/domain"
	"ddalti/internal/google"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
)

// Copies the posting queue from the Google Sheet into the SQLite store, or back
// with -reverse. Existing rows are overwritten by ID.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		dbPath     = flag.String("db", "", "path to sqlite db (defaults to database.path)")
		reverse    = flag.Bool("reverse", false, "copy sqlite into the sheet instead")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.Database.Path
	}
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return errors.New("google credentials_file and spreadsheet_id are required")
	}
	loc := cfg.Location()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewDB(*dbPath, loc, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	sheets, err := google.NewSheetsStore(ctx, cfg.Google, loc, &logger)
	if err != nil {
		return fmt.Errorf("open sheets: %w", err)
	}
	if err := sheets.EnsureHeaders(ctx); err != nil {
		return fmt.Errorf("sheet headers: %w", err)
	}

	var src, dst domain.RecordStore = sheets, db
	if *reverse {
		src, dst = db, sheets
	}

	items, err := src.Query(ctx, func(*models.QueueItem) bool { return true })
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if len(items) == 0 {
		return fmt.Errorf("no queue rows in source")
	}

	created, updated, err := copyItems(ctx, dst, items)
	if err != nil {
		return err
	}

	logger.Info().Int("created", created).Int("updated", updated).Bool("reverse", *reverse).Msg("queue migration completed")
	return nil
}

func copyItems(ctx context.Context, dst domain.RecordStore, items []*models.QueueItem) (int, int, error) {
	created := 0
	updated := 0
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		err := dst.Append(ctx, it)
		if err == nil {
			created++
			continue
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return created, updated, fmt.Errorf("append %s: %w", it.ID, err)
		}
		if err = dst.Update(ctx, it); err != nil {
			return created, updated, fmt.Errorf("update %s: %w", it.ID, err)
		}
		updated++
	}
	return created, updated, nil
}
