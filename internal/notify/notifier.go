// Package notify decides who hears about a match and over which channels,
// then hands the actual delivery to the dispatch queue. Dedup happens here,
// before enqueue, so a suppressed channel never produces a queue row.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tablewatch/internal/database"
	"tablewatch/internal/domain"
	"tablewatch/internal/models"

	"github.com/rs/zerolog"
)

// testDomains are throwaway addresses used in manual testing; mail to them
// is never sent.
var testDomains = []string{"@test.com", "@example.com", "@fake.com"}

func isTestEmail(email string) bool {
	lower := strings.ToLower(email)
	for _, d := range testDomains {
		if strings.HasSuffix(lower, d) {
			return true
		}
	}
	return false
}

type Notifier struct {
	db          *database.DB
	dispatcher  domain.Dispatcher
	dedupWindow time.Duration
	bookingURL  string
	adminEmail  string
	logger      zerolog.Logger
}

func New(db *database.DB, dispatcher domain.Dispatcher, dedupWindow time.Duration, bookingURL, adminEmail string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		db:          db,
		dispatcher:  dispatcher,
		dedupWindow: dedupWindow,
		bookingURL:  bookingURL,
		adminEmail:  adminEmail,
		logger:      logger,
	}
}

// NotifyMatch fans one match out to every channel the watch owner can
// receive. Channels recently notified for this watch are suppressed without
// logging. Returns the number of payloads enqueued.
func (n *Notifier) NotifyMatch(ctx context.Context, m models.Match, booked bool) (int, error) {
	w := m.Watch
	subject, body := n.render(m, booked)

	type target struct {
		channel   string
		recipient string
		chatID    int64
	}
	var targets []target

	if email := w.ContactEmail(); email != "" && !isTestEmail(email) {
		targets = append(targets, target{channel: models.ChannelEmail, recipient: email})
	}
	if phone := w.BookPhone; phone != "" {
		targets = append(targets, target{channel: models.ChannelSMS, recipient: phone})
	} else if w.UserPhone != "" {
		targets = append(targets, target{channel: models.ChannelSMS, recipient: w.UserPhone})
	}
	if w.TelegramChatID != 0 {
		targets = append(targets, target{channel: models.ChannelTelegram, chatID: w.TelegramChatID})
	}

	enqueued := 0
	for _, t := range targets {
		recent, err := n.db.WasRecentlySent(ctx, w.ID, t.channel, n.dedupWindow)
		if err != nil {
			return enqueued, fmt.Errorf("dedup check: %w", err)
		}
		if recent {
			n.logger.Debug().
				Int64("watch_id", w.ID).
				Str("channel", t.channel).
				Msg("notification suppressed by dedup window")
			continue
		}

		payload := models.NotificationPayload{
			WatchID:   w.ID,
			UserID:    w.UserID,
			Channel:   t.channel,
			Recipient: t.recipient,
			Subject:   subject,
			Body:      body,
			ChatID:    t.chatID,
		}
		if err := n.dispatcher.EnqueueNotification(ctx, payload); err != nil {
			return enqueued, fmt.Errorf("enqueue %s notification: %w", t.channel, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// NotifyAdminNewWatch tells the operator a watch was created. Undedupped and
// not tied to the owner's channels; a no-op without a configured admin email.
func (n *Notifier) NotifyAdminNewWatch(ctx context.Context, w *models.Watch, loc models.Location) error {
	if n.adminEmail == "" {
		return nil
	}

	autoBook := "No"
	if w.AutoBook {
		autoBook = "Yes"
	}
	body := fmt.Sprintf(
		"New watch created:\n\nUser: %s (%s)\nLocation: %s\nParty: %d\nDate: %s\nTime: %s - %s\nAuto-book: %s",
		w.UserName, w.UserEmail, loc.Name, w.PartySize,
		w.TargetDate.Format("2006-01-02"), w.TimeStart, w.TimeEnd, autoBook)

	return n.dispatcher.EnqueueNotification(ctx, models.NotificationPayload{
		WatchID:   w.ID,
		Channel:   models.ChannelEmail,
		Recipient: n.adminEmail,
		Subject:   "New slot watch: " + loc.Name,
		Body:      body,
	})
}

// NotifyAdminFeedback forwards user feedback to the operator.
func (n *Notifier) NotifyAdminFeedback(ctx context.Context, message, contact, remoteAddr string) error {
	if n.adminEmail == "" {
		return nil
	}

	body := "New feedback:\n\n" + message
	if contact != "" {
		body += "\n\nContact: " + contact
	}
	if remoteAddr != "" {
		body += "\n\nIP: " + remoteAddr
	}

	return n.dispatcher.EnqueueNotification(ctx, models.NotificationPayload{
		Channel:   models.ChannelEmail,
		Recipient: n.adminEmail,
		Subject:   "New feedback",
		Body:      body,
	})
}

func (n *Notifier) render(m models.Match, booked bool) (subject, body string) {
	action := "Available"
	if booked {
		action = "Auto-booked"
	}
	locName := m.Location.Name
	if locName == "" {
		locName = m.Location.Key
	}

	subject = fmt.Sprintf("Table %s: %s", strings.ToLower(action), locName)
	body = fmt.Sprintf("%s! %s on %s at %s for party of %d.",
		action, locName,
		m.Watch.TargetDate.Format("2006-01-02"),
		m.Slot.DisplayTime,
		m.Watch.PartySize)
	if !booked && n.bookingURL != "" {
		body += "\n\nBook now at " + n.bookingURL
	}
	return subject, body
}
