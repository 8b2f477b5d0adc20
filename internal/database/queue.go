package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ddalti/internal/domain"
	"ddalti/internal/models"
)

var _ domain.RecordStore = (*DB)(nil)

const queueColumns = `id, title, code, open_time, genre, views, image_path, status, priority,
    scheduled_at, posted_at, last_error, retry_count, created_at, result_url, artist, hashtags`

// Append inserts a new queue item. Duplicate IDs yield domain.ErrAlreadyExists.
func (db *DB) Append(ctx context.Context, item *models.QueueItem) error {
	query := `INSERT OR IGNORE INTO queue_items (` + queueColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.ExecContext(ctx, query,
		item.ID,
		item.Title,
		item.Code,
		item.OpenTime,
		item.Genre,
		item.Views,
		item.ImagePath,
		string(item.Status),
		item.Priority,
		models.FormatTimeIn(item.ScheduledAt, db.loc),
		models.FormatTimeIn(item.PostedAt, db.loc),
		item.LastError,
		item.RetryCount,
		models.FormatTimeIn(&item.CreatedAt, db.loc),
		item.ResultURL,
		item.Artist,
		item.Hashtags,
	)
	if err != nil {
		return fmt.Errorf("insert queue item %s: %w", item.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert queue item %s: %w", item.ID, err)
	}
	if affected == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (db *DB) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM queue_items WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check queue item %s: %w", id, err)
	}
	return true, nil
}

// Query returns every item accepted by pred in insertion order. A nil pred matches all.
func (db *DB) Query(ctx context.Context, pred func(*models.QueueItem) bool) ([]*models.QueueItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+queueColumns+` FROM queue_items ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := db.scanItem(rows)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(item) {
			items = append(items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (db *DB) Update(ctx context.Context, item *models.QueueItem) error {
	query := `UPDATE queue_items SET
                title = ?, code = ?, open_time = ?, genre = ?, views = ?, image_path = ?,
                status = ?, priority = ?, scheduled_at = ?, posted_at = ?, last_error = ?,
                retry_count = ?, result_url = ?, artist = ?, hashtags = ?
              WHERE id = ?`

	result, err := db.ExecContext(ctx, query,
		item.Title,
		item.Code,
		item.OpenTime,
		item.Genre,
		item.Views,
		item.ImagePath,
		string(item.Status),
		item.Priority,
		models.FormatTimeIn(item.ScheduledAt, db.loc),
		models.FormatTimeIn(item.PostedAt, db.loc),
		item.LastError,
		item.RetryCount,
		item.ResultURL,
		item.Artist,
		item.Hashtags,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update queue item %s: %w", item.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("ticket %s: %w", item.ID, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return stats, err
		}
		status, err := models.ParseStatus(raw)
		if err != nil {
			db.logger.Warn().Err(err).Msg("unknown status in queue_items")
			continue
		}
		for i := 0; i < count; i++ {
			stats.Add(status)
		}
	}
	return stats, rows.Err()
}

// AppendHot logs hot tickets, ignoring ones already recorded.
func (db *DB) AppendHot(ctx context.Context, tickets []models.Ticket, crawledAt time.Time) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO hot_tickets
        (id, title, code, open_time, open_type, genre, region, venue, views, poster_url, crawled_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	crawled := crawledAt.In(db.loc).Format(models.TimeLayout)
	for _, t := range tickets {
		if _, err := stmt.ExecContext(ctx,
			t.ID(), t.Title, t.GoodsCode, t.OpenDateStr, t.OpenTypeStr, t.GoodsGenreStr,
			t.GoodsRegionStr, t.VenueName, t.ViewCount, t.PosterImageURL, crawled,
		); err != nil {
			return fmt.Errorf("insert hot ticket %s: %w", t.GoodsCode, err)
		}
	}
	return tx.Commit()
}

// HotCount returns the number of logged hot tickets.
func (db *DB) HotCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hot_tickets`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var status, scheduledAt, postedAt, createdAt string
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Code,
		&item.OpenTime,
		&item.Genre,
		&item.Views,
		&item.ImagePath,
		&status,
		&item.Priority,
		&scheduledAt,
		&postedAt,
		&item.LastError,
		&item.RetryCount,
		&createdAt,
		&item.ResultURL,
		&item.Artist,
		&item.Hashtags,
	)
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}

	item.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("queue item %s: %w", item.ID, err)
	}
	item.ScheduledAt = models.ParseTime(scheduledAt, db.loc)
	item.PostedAt = models.ParseTime(postedAt, db.loc)
	if t := models.ParseTime(createdAt, db.loc); t != nil {
		item.CreatedAt = *t
	}
	return &item, nil
}
