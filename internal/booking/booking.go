// Package booking turns a matched slot into a confirmed reservation when the
// watch opted in and carries a complete booking contact.
package booking

import (
	"context"
	"time"

	"tablewatch/internal/domain"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"

	"github.com/rs/zerolog"
)

// StatusWriter is the slice of the cycle transaction the orchestrator needs.
type StatusWriter interface {
	MarkBooked(ctx context.Context, watchID int64, at time.Time) error
}

type Orchestrator struct {
	client domain.BookingClient
	logger zerolog.Logger
}

func NewOrchestrator(client domain.BookingClient, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{client: client, logger: logger}
}

// Attempt tries to auto-book one match. Returns true when the reservation
// was confirmed and the watch transitioned to booked.
//
// Watches without auto_book, or with an incomplete contact, are skipped
// silently; the caller still notifies. An upstream refusal or error leaves
// the watch active so later cycles can retry. Only a failure to record the
// booked transition is returned as an error, because a confirmed upstream
// reservation with an active watch would double-book on the next cycle.
func (o *Orchestrator) Attempt(ctx context.Context, tx StatusWriter, m models.Match, now time.Time) (bool, error) {
	w := m.Watch
	if !w.AutoBook || !w.ContactComplete() {
		return false, nil
	}

	ok, err := o.client.Book(ctx, m.Location, w, m.Slot)
	if err != nil {
		metrics.IncBooking("failed")
		o.logger.Error().Err(err).
			Int64("watch_id", w.ID).
			Str("location", m.Location.Key).
			Str("slot", m.Slot.DisplayTime).
			Msg("auto-book failed")
		return false, nil
	}
	if !ok {
		metrics.IncBooking("refused")
		o.logger.Info().
			Int64("watch_id", w.ID).
			Str("slot", m.Slot.DisplayTime).
			Msg("auto-book refused by upstream")
		return false, nil
	}

	if err := tx.MarkBooked(ctx, w.ID, now); err != nil {
		metrics.IncBooking("failed")
		return false, err
	}

	metrics.IncBooking("booked")
	o.logger.Info().
		Int64("watch_id", w.ID).
		Str("location", m.Location.Key).
		Str("slot", m.Slot.DisplayTime).
		Msg("auto-booked")
	return true, nil
}
