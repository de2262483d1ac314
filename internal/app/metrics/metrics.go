// Package metrics exposes the engine's Prometheus collectors on a
// dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	tickRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "scheduler",
			Name:      "tick_runs_total",
			Help:      "Total number of scheduler tick executions.",
		},
		[]string{"status"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reminder_engine",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	schedulerFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "scheduler",
			Name:      "evaluation_faults_total",
			Help:      "Per-reminder evaluation failures isolated by the tick.",
		},
	)

	occurrencesEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "scheduler",
			Name:      "occurrences_total",
			Help:      "Occurrences computed as due by the evaluator.",
		},
	)

	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by channel and terminal status.",
		},
		[]string{"channel", "status"},
	)

	deliveryDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "delivery",
			Name:      "deduplicated_total",
			Help:      "Deliveries skipped by the idempotency gate.",
		},
		[]string{"channel"},
	)

	occurrencesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "delivery",
			Name:      "occurrences_delivered_total",
			Help:      "Occurrences with at least one successful channel.",
		},
	)

	occurrencesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "delivery",
			Name:      "occurrences_failed_total",
			Help:      "Occurrences where every channel failed.",
		},
	)

	subscriptionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reminder_engine",
			Subsystem: "subscriptions",
			Name:      "pruned_total",
			Help:      "Push subscriptions deleted after permanent failures.",
		},
	)
)

func init() {
	Registry.MustRegister(
		tickRuns,
		tickDuration,
		schedulerFaults,
		occurrencesEvaluated,
		deliveryAttempts,
		deliveryDeduped,
		occurrencesDelivered,
		occurrencesFailed,
		subscriptionsPruned,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTick records one tick execution.
func RecordTick(duration time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	tickRuns.WithLabelValues(status).Inc()
	tickDuration.Observe(duration.Seconds())
}

// RecordSchedulerFault counts one isolated per-reminder evaluation failure.
func RecordSchedulerFault() { schedulerFaults.Inc() }

// RecordOccurrencesEvaluated counts occurrences handed to the dispatcher.
func RecordOccurrencesEvaluated(n int) { occurrencesEvaluated.Add(float64(n)) }

// RecordDeliveryAttempt counts one terminal ledger row.
func RecordDeliveryAttempt(channel, status string) {
	deliveryAttempts.WithLabelValues(channel, status).Inc()
}

// RecordDeliveryDeduped counts one idempotency-gate hit.
func RecordDeliveryDeduped(channel string) { deliveryDeduped.WithLabelValues(channel).Inc() }

// RecordOccurrenceDelivered counts an occurrence with a successful channel.
func RecordOccurrenceDelivered() { occurrencesDelivered.Inc() }

// RecordOccurrenceFailed counts an occurrence where every channel failed.
func RecordOccurrenceFailed() { occurrencesFailed.Inc() }

// RecordSubscriptionPruned counts one permanent-failure cleanup.
func RecordSubscriptionPruned() { subscriptionsPruned.Inc() }
