package domain

import (
	"context"
	"time"

	"tablewatch/internal/models"
)

// InventoryClient fetches current availability for one location/date/party
// combination from the upstream provider.
type InventoryClient interface {
	FetchSlots(ctx context.Context, loc models.Location, date time.Time, partySize int) ([]models.Slot, error)
}

// BookingClient places a reservation for a matched slot. The returned bool
// is true only when the upstream confirms a party was created.
type BookingClient interface {
	Book(ctx context.Context, loc models.Location, w *models.Watch, slot models.Slot) (bool, error)
}

// Dispatcher accepts notification payloads for asynchronous delivery.
type Dispatcher interface {
	EnqueueNotification(ctx context.Context, payload models.NotificationPayload) error
}

// Notifier fans one match out to the user's channels, applying dedup.
type Notifier interface {
	NotifyMatch(ctx context.Context, m models.Match, booked bool) (int, error)
}

// Cache stores serialized availability responses with a freshness timestamp.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, age time.Duration, ok bool)
	Put(ctx context.Context, key string, data []byte) error
}
