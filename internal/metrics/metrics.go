// Package metrics exposes Prometheus collectors for the concurrency guard,
// the live status pipeline and the push hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the custom prometheus registry for the guard API.
var Registry = prometheus.NewRegistry()

// factory registers metrics on Registry directly.
var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// =============================================================================
// GUARD
// =============================================================================

// GuardDecisions counts can-call answers by result (allowed, in_progress, called_recently).
var GuardDecisions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "decisions_total",
	Help:      "Advisory can-call decisions by result",
}, []string{"result"})

// LocksAcquired counts successful start-call lock inserts.
var LocksAcquired = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "locks_acquired_total",
	Help:      "Active call locks acquired",
})

// LockRejections counts start-call rejections by reason (duplicate, cooldown).
var LockRejections = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "lock_rejections_total",
	Help:      "Start-call requests rejected by the guard, by reason",
}, []string{"reason"})

// LocksReleased counts lock deletions by path (end_call, reclaimed, forced).
var LocksReleased = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "locks_released_total",
	Help:      "Active call locks released, by path",
}, []string{"path"})

// AttemptsSealed counts sealed attempts by canonical end reason.
var AttemptsSealed = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "attempts_sealed_total",
	Help:      "Call attempts sealed, by end reason",
}, []string{"end_reason"})

// ReleaseFailures counts end-call paths where the lock delete itself failed.
var ReleaseFailures = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "guard",
	Name:      "release_failures_total",
	Help:      "Lock deletes that returned an error",
})

// ReclaimDurationSeconds tracks one stale-lock reclamation pass.
var ReclaimDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "guard",
	Name:      "reclaim_duration_seconds",
	Help:      "Time taken by one stale-lock reclamation pass",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// =============================================================================
// LIVE STATUS / PUSH
// =============================================================================

// ProviderCallbacks counts provider status callbacks by provider and canonical state.
var ProviderCallbacks = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livestatus",
	Name:      "provider_callbacks_total",
	Help:      "Provider status callbacks received, by provider and canonical state",
}, []string{"provider", "state"})

// HubClients is the number of connected push subscribers.
var HubClients = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "events",
	Name:      "hub_clients",
	Help:      "Connected websocket subscribers",
})

// HubDropped counts messages dropped for slow subscribers.
var HubDropped = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "events",
	Name:      "hub_dropped_total",
	Help:      "Push messages dropped because a subscriber buffer was full",
})

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
