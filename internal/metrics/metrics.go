// Package metrics holds the Prometheus collectors shared by the store,
// the scheduler and the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playtrack_store_writes_total",
		Help: "Durable envelope writes by outcome.",
	}, []string{"outcome"})

	StoreLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playtrack_store_loads_total",
		Help: "Envelope loads from the durable medium by result.",
	}, []string{"result"})

	ValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playtrack_validation_failures_total",
		Help: "Envelopes rejected by the validator.",
	})

	MigrationsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playtrack_migrations_exhausted_total",
		Help: "Migrated documents discarded because they still failed validation.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playtrack_notifications_total",
		Help: "Change notifications by direction (published, received, dropped).",
	}, []string{"direction"})

	SchedulerCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playtrack_scheduler_calls_total",
		Help: "Calls to the coalescing writer.",
	})

	SchedulerFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playtrack_scheduler_flushes_total",
		Help: "Flushes executed by the coalescing writer by outcome.",
	}, []string{"outcome"})

	CompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playtrack_completions_total",
		Help: "Videos that crossed the completion threshold.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playtrack_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// IncStoreWrite records a durable write outcome ("ok" or "error").
func IncStoreWrite(outcome string) {
	StoreWritesTotal.WithLabelValues(outcome).Inc()
}

// IncStoreLoad records a load result ("fresh", "current", "migrated", "recovered").
func IncStoreLoad(result string) {
	StoreLoadsTotal.WithLabelValues(result).Inc()
}

// IncNotification records a notification event.
func IncNotification(direction string) {
	NotificationsTotal.WithLabelValues(direction).Inc()
}

// IncSchedulerFlush records a coalesced flush outcome.
func IncSchedulerFlush(outcome string) {
	SchedulerFlushesTotal.WithLabelValues(outcome).Inc()
}
