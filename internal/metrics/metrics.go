// Package metrics exposes prometheus counters for the delivery core
// and the scrape handler the bridge mounts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_sent_total",
		Help: "Messages submitted through the delivery dispatcher.",
	})
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_broadcast_failures_total",
		Help: "Ephemeral path publish failures (non-fatal).",
	})
	DurableFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_durable_failures_total",
		Help: "Durable path insert failures (message marked failed).",
	})
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_retries_total",
		Help: "User-initiated retries of failed messages.",
	})
	TypingAnnouncements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_typing_announcements_total",
		Help: "Typing start/stop announcements published.",
	})
)

// Handler returns the http.Handler for prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
