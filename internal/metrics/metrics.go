// Package metrics exposes Prometheus counters for the verification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsTotal counts applied status transitions.
	// Labels:
	// - record: sender | domain
	// - to:     verified | failed | timed_out
	// - source: poll | event | confirm | expiry
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender_identity",
			Subsystem: "verification",
			Name:      "transitions_total",
			Help:      "Status transitions applied to pending records.",
		},
		[]string{"record", "to", "source"},
	)

	// pollChecksTotal counts reconciliation wake-ups by outcome.
	// Labels:
	// - outcome: changed | unchanged | transient | expired | skipped
	pollChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender_identity",
			Subsystem: "poller",
			Name:      "checks_total",
			Help:      "Reconciliation poll wake-ups by outcome.",
		},
		[]string{"outcome"},
	)

	// providerEventsTotal counts pushed provider events by outcome.
	// Labels:
	// - outcome: applied | ignored | rejected
	providerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender_identity",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Provider verification events by outcome.",
		},
		[]string{"outcome"},
	)

	// cleanupFailuresTotal counts identity cleanup stages that failed.
	// Labels:
	// - stage: association | identity
	cleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender_identity",
			Subsystem: "cleanup",
			Name:      "failures_total",
			Help:      "External identity cleanup failures by stage.",
		},
		[]string{"stage"},
	)

	schedulerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender_identity",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Scheduled wake-ups by action (scheduled, dispatched, requeued, failed).",
		},
		[]string{"action"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sender_identity",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Latency of identity provider calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
)

func IncTransition(record, to, source string) {
	transitionsTotal.WithLabelValues(record, to, source).Inc()
}

func IncPollCheck(outcome string) {
	pollChecksTotal.WithLabelValues(outcome).Inc()
}

func IncProviderEvent(outcome string) {
	providerEventsTotal.WithLabelValues(outcome).Inc()
}

func IncCleanupFailure(stage string) {
	cleanupFailuresTotal.WithLabelValues(stage).Inc()
}

func AddSchedulerTasks(action string, n int) {
	if n <= 0 {
		return
	}
	schedulerTasksTotal.WithLabelValues(action).Add(float64(n))
}

// ObserveProviderCall records the latency of one provider call.
// Call with time.Now() taken before the call.
func ObserveProviderCall(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCallDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
