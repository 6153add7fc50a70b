package models

import "time"

// NotificationRecord is an append-only log entry for every non-suppressed send
// attempt. Used for dedup lookups and audit.
type NotificationRecord struct {
	ID           int64      `json:"id"`
	WatchID      int64      `json:"watch_id"`
	UserID       int64      `json:"user_id"`
	Channel      string     `json:"channel"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject,omitempty"`
	Body         string     `json:"body"`
	Status       string     `json:"status"` // sent, failed
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// NotificationPayload is the unit handed to the outbound dispatch worker.
type NotificationPayload struct {
	WatchID   int64  `json:"watch_id"`
	UserID    int64  `json:"user_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	// ChatID carries the telegram destination for the telegram channel.
	ChatID int64 `json:"chat_id,omitempty"`
}

// OutboundTask is a persisted row in the outbound dispatch queue.
type OutboundTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	WatchID     int64      `json:"watch_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"` // pending, retry, completed, failed
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
