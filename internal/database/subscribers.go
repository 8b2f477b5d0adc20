package database

import (
	"context"
	"fmt"

	"ddalti/internal/domain"
)

var _ domain.SubscriberStore = (*DB)(nil)

// AddSubscriber registers a digest chat. It reports false when the chat was already subscribed.
func (db *DB) AddSubscriber(ctx context.Context, chatID int64) (bool, error) {
	result, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO subscribers (chat_id) VALUES (?)`, chatID)
	if err != nil {
		return false, fmt.Errorf("add subscriber %d: %w", chatID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveSubscriber reports false when the chat was not subscribed.
func (db *DB) RemoveSubscriber(ctx context.Context, chatID int64) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("remove subscriber %d: %w", chatID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *DB) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY created_at, chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
