package models

import "time"

// Watch is a user's standing request to be alerted (and optionally auto-booked)
// when a reservation slot matching its criteria appears.
type Watch struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	LocationKey string    `json:"location_key"`
	PartySize   int       `json:"party_size"`
	TargetDate  time.Time `json:"target_date"` // calendar day, midnight local
	TimeStart   string    `json:"time_start"`  // "HH:MM"
	TimeEnd     string    `json:"time_end"`    // "HH:MM"
	AutoBook    bool      `json:"auto_book"`

	BookFirstName string `json:"book_first_name,omitempty"`
	BookLastName  string `json:"book_last_name,omitempty"`
	BookEmail     string `json:"book_email,omitempty"`
	BookPhone     string `json:"book_phone,omitempty"`

	// ClientRef is sent to the upstream with every booking attempt so a
	// reconciliation pass can correlate upstream reservations with watches.
	ClientRef string `json:"client_ref"`

	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	BookedAt    *time.Time `json:"booked_at,omitempty"`

	// Owner contact, populated by ListActiveWatches via join.
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserPhone string `json:"user_phone,omitempty"`

	// TelegramChatID enables the telegram channel when non-zero.
	TelegramChatID int64 `json:"telegram_chat_id,omitempty"`
}

// HoursUntil returns the hours from now until the target date's midnight.
// Negative for past dates.
func (w *Watch) HoursUntil(now time.Time) float64 {
	return w.TargetDate.Sub(now).Hours()
}

// ContactComplete reports whether the booking-contact fields required for an
// auto-book attempt are all present. A watch with auto_book set but incomplete
// contact degrades to notify-only and can never reach the booked status.
func (w *Watch) ContactComplete() bool {
	return w.BookFirstName != "" && w.BookLastName != "" && w.BookPhone != ""
}

// ContactEmail returns the booking email, falling back to the owner's email.
func (w *Watch) ContactEmail() string {
	if w.BookEmail != "" {
		return w.BookEmail
	}
	return w.UserEmail
}

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
