package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_appended_total",
		Help: "Messages newly persisted to the log.",
	})
	DuplicateSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_duplicate_sends_total",
		Help: "Sends resolved to an existing row via idempotency key.",
	})
	ReadTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_read_transitions_total",
		Help: "Messages transitioned to read.",
	})
	UnreadQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_unread_queries_total",
		Help: "Authoritative unread-count queries executed against the store.",
	})
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_cache_hits_total",
		Help: "Cache hits by key class.",
	}, []string{"class"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_cache_misses_total",
		Help: "Cache misses by key class.",
	}, []string{"class"})
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_ws_connections",
		Help: "Currently attached websocket connections.",
	})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_events_published_total",
		Help: "Realtime events published by type.",
	}, []string{"type"})
)

// Handler returns an http.Handler for Prometheus scraping. It is served on a
// dedicated listener, separate from the API port.
func Handler() http.Handler {
	return promhttp.Handler()
}
