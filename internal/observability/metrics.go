// Package observability provides Prometheus metrics, health checks, and logging.
//
// Uses github.com/prometheus/client_golang - the official Prometheus client.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deKupini/the-library/internal/resilience"
)

// Metrics holds all Prometheus metrics for the library service.
//
// Key metrics for monitoring:
//   - books_borrowed_total / books_returned_total: lending throughput
//   - lending_rejections_total: rejected transitions by kind
//   - events_publish_failures_total: lending events lost to the broker (alerts)
//   - circuit_breaker_state: publisher health (0=ok, 2=failing)
type Metrics struct {
	BooksCreated  prometheus.Counter
	BooksDeleted  prometheus.Counter
	BooksBorrowed prometheus.Counter
	BooksReturned prometheus.Counter

	LendingRejections *prometheus.CounterVec

	EventsPublished     prometheus.Counter
	EventsPublishFailed prometheus.Counter
	EventsRecorded      prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec
	RateLimiterRejections prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
// The namespace prefixes all metric names (e.g., "library_books_borrowed_total").
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BooksCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_created_total",
			Help:      "Total number of books added to the catalog",
		}),
		BooksDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_deleted_total",
			Help:      "Total number of books removed from the catalog",
		}),
		BooksBorrowed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_borrowed_total",
			Help:      "Total number of successful borrows",
		}),
		BooksReturned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_returned_total",
			Help:      "Total number of successful returns",
		}),
		LendingRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lending_rejections_total",
			Help:      "Total number of rejected operations by error kind",
		}, []string{"kind"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of lending events written to Kafka",
		}),
		EventsPublishFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failures_total",
			Help:      "Total number of lending events that could not be published",
		}),
		EventsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Total number of lending events stored in the history ledger",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		CircuitBreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times circuit breaker tripped to open state",
		}, []string{"name"}),
		RateLimiterRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_rejections_total",
			Help:      "Total number of requests rejected by rate limiter",
		}),
	}
}

// RecordBreakerTransition is registered with the circuit breaker manager's
// OnStateChange.
func (m *Metrics) RecordBreakerTransition(name string, from, to resilience.CircuitBreakerState) {
	m.CircuitBreakerState.WithLabelValues(name).Set(to.Gauge())
	if to == resilience.CircuitBreakerStateOpen {
		m.CircuitBreakerTrips.WithLabelValues(name).Inc()
	}
}
