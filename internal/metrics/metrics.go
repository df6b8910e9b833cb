// Package metrics defines the Prometheus instrumentation exposed by the
// core: counters and histograms for session lifecycle, pool health, and
// ring overflow, scraped by the embedding host's own HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "sessions_started_total",
		Help:      "Sessions started via Context.StartSession.",
	})

	SessionsStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "sessions_stopped_total",
		Help:      "Sessions stopped gracefully via Context.StopSession.",
	})

	SessionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "sessions_cancelled_total",
		Help:      "Active sessions aborted via Context.Cancel or replaced by a new Context.StartSession.",
	})

	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "anytalk",
		Name:      "session_duration_seconds",
		Help:      "Wall-clock duration from session Start to its terminal idle event.",
		Buckets:   prometheus.DefBuckets,
	})

	RingChunksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "ring_chunks_dropped_total",
		Help:      "Audio chunks dropped because the SPSC ring was full.",
	})

	PoolDialFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "pool_dial_failures_total",
		Help:      "Failed on-demand dials by start_session when the pool had no spare.",
	})

	PoolOnDemandDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anytalk",
		Name:      "pool_on_demand_dials_total",
		Help:      "Dials performed by start_session when the pool had no spare.",
	})
)

// Register adds every collector in this package to reg. Call once at
// startup; registering twice against the same registry panics, matching
// prometheus/client_golang's own contract.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SessionsStarted,
		SessionsStopped,
		SessionsCancelled,
		SessionDuration,
		RingChunksDropped,
		PoolDialFailures,
		PoolOnDemandDials,
	)
}
