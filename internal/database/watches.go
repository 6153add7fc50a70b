package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablewatch/internal/models"
)

const dateLayout = "2006-01-02"

const watchColumns = `w.id, w.user_id, w.location_key, w.party_size, w.target_date,
	w.time_start, w.time_end, w.auto_book,
	w.book_first_name, w.book_last_name, w.book_email, w.book_phone,
	w.client_ref, w.status, w.created_at, w.last_scanned, w.notified_at, w.booked_at,
	u.email, u.name, u.phone, u.telegram_chat_id`

func scanWatch(row interface{ Scan(...any) error }) (*models.Watch, error) {
	var (
		w          models.Watch
		targetDate string
		firstName  sql.NullString
		lastName   sql.NullString
		bookEmail  sql.NullString
		bookPhone  sql.NullString
		userName   sql.NullString
		userPhone  sql.NullString
	)
	err := row.Scan(
		&w.ID, &w.UserID, &w.LocationKey, &w.PartySize, &targetDate,
		&w.TimeStart, &w.TimeEnd, &w.AutoBook,
		&firstName, &lastName, &bookEmail, &bookPhone,
		&w.ClientRef, &w.Status, &w.CreatedAt, &w.LastScanned, &w.NotifiedAt, &w.BookedAt,
		&w.UserEmail, &userName, &userPhone, &w.TelegramChatID,
	)
	if err != nil {
		return nil, err
	}
	w.TargetDate, err = time.Parse(dateLayout, targetDate)
	if err != nil {
		return nil, fmt.Errorf("bad target_date %q: %w", targetDate, err)
	}
	w.BookFirstName = firstName.String
	w.BookLastName = lastName.String
	w.BookEmail = bookEmail.String
	w.BookPhone = bookPhone.String
	w.UserName = userName.String
	w.UserPhone = userPhone.String
	return &w, nil
}

func (db *DB) CreateWatch(ctx context.Context, watch *models.Watch) error {
	query := `INSERT INTO watches (
				user_id, location_key, party_size, target_date, time_start, time_end,
				auto_book, book_first_name, book_last_name, book_email, book_phone,
				client_ref, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if watch.Status == "" {
		watch.Status = models.StatusActive
	}
	result, err := db.db.ExecContext(ctx, query,
		watch.UserID,
		watch.LocationKey,
		watch.PartySize,
		watch.TargetDate.Format(dateLayout),
		watch.TimeStart,
		watch.TimeEnd,
		watch.AutoBook,
		watch.BookFirstName,
		watch.BookLastName,
		watch.BookEmail,
		watch.BookPhone,
		watch.ClientRef,
		watch.Status,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create watch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	watch.ID = id
	watch.CreatedAt = now
	return nil
}

func (db *DB) GetWatch(ctx context.Context, id int64) (*models.Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM watches w JOIN users u ON u.id = w.user_id WHERE w.id = ?`
	w, err := scanWatch(db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watch: %w", err)
	}
	return w, nil
}

// ListActiveWatches returns every active watch with owner contact joined in,
// oldest first.
func (db *DB) ListActiveWatches(ctx context.Context) ([]*models.Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM watches w JOIN users u ON u.id = w.user_id
              WHERE w.status = ? ORDER BY w.created_at ASC, w.id ASC`
	rows, err := db.db.QueryContext(ctx, query, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active watches: %w", err)
	}
	defer rows.Close()

	var watches []*models.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// ListUserWatches returns one user's watches, optionally filtered by status.
func (db *DB) ListUserWatches(ctx context.Context, userID int64, status string) ([]*models.Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM watches w JOIN users u ON u.id = w.user_id WHERE w.user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND w.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY w.created_at DESC, w.id DESC`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user watches: %w", err)
	}
	defer rows.Close()

	var watches []*models.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// CancelWatch cancels an active watch. Scoped to the owner: a foreign or
// missing id yields ErrNotFound. Cancelling an already-cancelled watch is a
// no-op; cancelling a booked or expired watch is ErrInvalidTransition.
func (db *DB) CancelWatch(ctx context.Context, id, userID int64) error {
	var status string
	err := db.db.QueryRowContext(ctx,
		`SELECT status FROM watches WHERE id = ? AND user_id = ?`, id, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load watch for cancel: %w", err)
	}

	switch status {
	case models.StatusCancelled:
		return nil
	case models.StatusBooked, models.StatusExpired:
		return ErrInvalidTransition
	}

	_, err = db.db.ExecContext(ctx,
		`UPDATE watches SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		models.StatusCancelled, id, userID, models.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to cancel watch: %w", err)
	}
	return nil
}

// ExpireStale moves active watches whose target date is already past to
// expired. Idempotent; returns the number of rows moved.
func (db *DB) ExpireStale(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`UPDATE watches SET status = ? WHERE status = ? AND target_date < ?`,
		models.StatusExpired, models.StatusActive, asOf.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to expire watches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired watches: %w", err)
	}
	return n, nil
}

// CycleTx wraps the transaction that covers one scan cycle's state writes.
type CycleTx struct {
	tx *sql.Tx
}

func (db *DB) BeginCycle(ctx context.Context) (*CycleTx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cycle transaction: %w", err)
	}
	return &CycleTx{tx: tx}, nil
}

// MarkBooked transitions an active watch to booked. Losing the status guard
// (watch already terminal) is ErrInvalidTransition.
func (c *CycleTx) MarkBooked(ctx context.Context, watchID int64, at time.Time) error {
	result, err := c.tx.ExecContext(ctx,
		`UPDATE watches SET status = ?, booked_at = ? WHERE id = ? AND status = ?`,
		models.StatusBooked, at, watchID, models.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark watch booked: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count booked update: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkNotified stamps notified_at on a still-active watch.
func (c *CycleTx) MarkNotified(ctx context.Context, watchID int64, at time.Time) error {
	_, err := c.tx.ExecContext(ctx,
		`UPDATE watches SET notified_at = ? WHERE id = ? AND status = ?`,
		at, watchID, models.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark watch notified: %w", err)
	}
	return nil
}

// MarkScanned stamps last_scanned on every watch evaluated this cycle,
// matched or not.
func (c *CycleTx) MarkScanned(ctx context.Context, watchIDs []int64, at time.Time) error {
	if len(watchIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(watchIDs)), ",")
	args := make([]any, 0, len(watchIDs)+1)
	args = append(args, at)
	for _, id := range watchIDs {
		args = append(args, id)
	}
	_, err := c.tx.ExecContext(ctx,
		`UPDATE watches SET last_scanned = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark watches scanned: %w", err)
	}
	return nil
}

func (c *CycleTx) Commit() error {
	return c.tx.Commit()
}

func (c *CycleTx) Rollback() error {
	return c.tx.Rollback()
}
