package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every streaks collector. It is separate from the default
// registry so tests can build many servers without duplicate registration.
var Registry = prometheus.NewRegistry()

var (
	EventsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_events_recorded_total",
		Help: "Qualifying events that counted a new day",
	})
	EventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_events_duplicate_total",
		Help: "Qualifying events ignored because their day was already counted",
	})
	EventsOutOfOrder = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_events_out_of_order_total",
		Help: "Live events rejected for preceding the last qualifying day",
	})
	StreaksExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_expired_total",
		Help: "Current streaks zeroed after a missed day",
	}, []string{"trigger"})
	Rebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_rebuilds_total",
		Help: "Streak records rebuilt from history",
	}, []string{"result"})
	StoreConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_store_conflicts_total",
		Help: "Optimistic version conflicts retried by the engine",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EventsRecorded,
		EventsDuplicate,
		EventsOutOfOrder,
		StreaksExpired,
		Rebuilds,
		StoreConflicts,
		HTTPRequests,
		HTTPDuration,
		RateLimited,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
