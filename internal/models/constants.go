package models

const (
	StatusActive    = "active"
	StatusBooked    = "booked"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
)

const (
	NotifySent   = "sent"
	NotifyFailed = "failed"
)

const (
	// UrgentHorizonHours separates the urgent and normal scan tiers.
	UrgentHorizonHours = 24

	// DefaultUrgentIntervalMinutes is the urgent cycle cadence.
	DefaultUrgentIntervalMinutes = 10

	// DefaultNormalIntervalMinutes is the normal cycle cadence.
	DefaultNormalIntervalMinutes = 30

	// DefaultRescanBufferMinutes is the minimum gap before a watch is
	// re-scanned by the normal tier. Tuning value carried over from the
	// 30-minute cadence; configurable, not derived.
	DefaultRescanBufferMinutes = 25

	// DefaultFetchWorkers caps concurrent upstream inventory requests.
	DefaultFetchWorkers = 10

	// DefaultDedupWindowMinutes suppresses repeat notifications per
	// watch+channel inside this trailing window.
	DefaultDedupWindowMinutes = 60

	// DefaultExpireIntervalHours is the standalone expiry job cadence.
	DefaultExpireIntervalHours = 1

	// DefaultQueueCleanupHours is the outbound-queue purge cadence.
	DefaultQueueCleanupHours = 6

	// DefaultCacheTTLSeconds is the availability cache lifetime.
	DefaultCacheTTLSeconds = 120

	// WorkerQueueSize is the dispatch worker's in-memory queue size.
	WorkerQueueSize = 128
)

// TerminalStatus reports whether a watch status permits no further transitions.
func TerminalStatus(status string) bool {
	switch status {
	case StatusBooked, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}
