package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablewatch/internal/models"
)

func (db *DB) CreateOutboundTask(ctx context.Context, task *models.OutboundTask) error {
	query := `INSERT INTO outbound_queue (task_type, watch_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.db.ExecContext(ctx, query,
		task.TaskType,
		task.WatchID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbound task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingOutboundTasks returns tasks ready for delivery: pending, or retry
// whose backoff has elapsed.
func (db *DB) GetPendingOutboundTasks(ctx context.Context, limit int) ([]models.OutboundTask, error) {
	query := `SELECT id, task_type, watch_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM outbound_queue
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbound tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.OutboundTask
	for rows.Next() {
		var t models.OutboundTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.WatchID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbound task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetOutboundTaskStatus reads a task's current status. The same task can
// surface through both redis and the database poll; re-reading the row lets
// the worker drop the copy that lost the race.
func (db *DB) GetOutboundTaskStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := db.db.QueryRowContext(ctx, `SELECT status FROM outbound_queue WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get outbound task %d: %w", id, err)
	}
	return status, nil
}

func (db *DB) UpdateOutboundTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []any
	now := time.Now()

	switch status {
	case "retry":
		query = `UPDATE outbound_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	case "completed", "failed":
		query = `UPDATE outbound_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, now, id}
	default:
		query = `UPDATE outbound_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbound task %d: %w", id, err)
	}
	return nil
}

// PurgeOutbound deletes terminal queue rows older than the cutoff. Returns
// the number of rows removed.
func (db *DB) PurgeOutbound(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM outbound_queue WHERE status IN ('completed', 'failed') AND created_at < ?`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbound queue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}
