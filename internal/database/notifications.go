package database

import (
	"context"
	"fmt"
	"time"

	"tablewatch/internal/models"
)

// LogNotification appends one send-attempt record. Suppressed attempts are
// never logged, so the log doubles as the dedup source of truth.
func (db *DB) LogNotification(ctx context.Context, rec *models.NotificationRecord) error {
	query := `INSERT INTO notification_log (watch_id, user_id, channel, recipient, subject, body, status, error_message, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.db.ExecContext(ctx, query,
		rec.WatchID,
		rec.UserID,
		rec.Channel,
		rec.Recipient,
		rec.Subject,
		rec.Body,
		rec.Status,
		rec.ErrorMessage,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = now
	return nil
}

// WasRecentlySent reports whether a successful send for this watch+channel
// exists inside the trailing window. Failed attempts do not suppress.
func (db *DB) WasRecentlySent(ctx context.Context, watchID int64, channel string, window time.Duration) (bool, error) {
	query := `SELECT COUNT(*) FROM notification_log
              WHERE watch_id = ? AND channel = ? AND status = ? AND created_at >= ?`
	cutoff := time.Now().Add(-window)
	var count int
	err := db.db.QueryRowContext(ctx, query, watchID, channel, models.NotifySent, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check notification log: %w", err)
	}
	return count > 0, nil
}

// ListNotifications returns a watch's log entries, newest first.
func (db *DB) ListNotifications(ctx context.Context, watchID int64, limit int) ([]models.NotificationRecord, error) {
	query := `SELECT id, watch_id, user_id, channel, recipient, subject, body, status, error_message, created_at
              FROM notification_log WHERE watch_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, watchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var recs []models.NotificationRecord
	for rows.Next() {
		var r models.NotificationRecord
		err := rows.Scan(&r.ID, &r.WatchID, &r.UserID, &r.Channel, &r.Recipient,
			&r.Subject, &r.Body, &r.Status, &r.ErrorMessage, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
