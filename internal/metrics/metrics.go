package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	scanCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "scan_cycles_total",
			Help:      "Scan cycles by tier and result.",
		},
		[]string{"tier", "result"},
	)

	watchesScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "watches_scanned_total",
			Help:      "Watches evaluated against fresh availability.",
		},
		[]string{"tier"},
	)

	watchesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "watches_skipped_total",
			Help:      "Watches left out of a cycle by tier rules.",
		},
		[]string{"tier"},
	)

	matches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "matches_total",
			Help:      "Watch/slot pairs that satisfied a time window.",
		},
		[]string{"tier"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "bookings_total",
			Help:      "Auto-booking attempts by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "notifications_total",
			Help:      "Delivered notification attempts by channel and status.",
		},
		[]string{"channel", "status"},
	)

	watchesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "watches_expired_total",
			Help:      "Watches moved to expired because their date passed.",
		},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "upstream_requests_total",
			Help:      "Requests to the reservations provider by kind and result.",
		},
		[]string{"kind", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablewatch",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			scanCycles,
			watchesScanned,
			watchesSkipped,
			matches,
			bookings,
			notifications,
			watchesExpired,
			upstreamRequests,
			httpRequests,
		)
	})
}

// IncCycle increments the cycle counter for a tier with result "ok" or "error".
func IncCycle(tier, result string) {
	scanCycles.WithLabelValues(tier, result).Inc()
}

func AddScanned(tier string, n int) {
	watchesScanned.WithLabelValues(tier).Add(float64(n))
}

func AddSkipped(tier string, n int) {
	watchesSkipped.WithLabelValues(tier).Add(float64(n))
}

func AddMatches(tier string, n int) {
	matches.WithLabelValues(tier).Add(float64(n))
}

// IncBooking records one auto-booking attempt; result is "booked" or "failed".
func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncNotification(channel, status string) {
	notifications.WithLabelValues(channel, status).Inc()
}

func AddExpired(n int) {
	watchesExpired.Add(float64(n))
}

// IncUpstream records one provider call; kind is "inventory" or "book".
func IncUpstream(kind, result string) {
	upstreamRequests.WithLabelValues(kind, result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
