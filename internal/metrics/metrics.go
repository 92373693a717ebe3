// Package metrics holds the prometheus collectors of the ingestion pipeline, the lifecycle
// scheduler and the notification producer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auction"

// Metrics groups every collector of the service. A nil *Metrics records nothing.
type Metrics struct {
	IngestionMessages *prometheus.CounterVec
	IngestionDuration prometheus.Histogram

	SchedulerTransitions *prometheus.CounterVec
	SchedulerScan        prometheus.Histogram
	SchedulerFailures    *prometheus.CounterVec

	NotificationsPublished *prometheus.CounterVec
	NotificationAttempts   prometheus.Counter
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestionMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "messages_total",
				Help:      "Bid messages handled, by outcome",
			},
			[]string{"outcome"},
		),
		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingestion",
				Name:      "handle_seconds",
				Help:      "Time spent handling one bid message",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
		),
		SchedulerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "transitions_total",
				Help:      "Auction status transitions applied, by target status",
			},
			[]string{"to"},
		),
		SchedulerScan: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "scan_seconds",
				Help:      "Duration of one lifecycle scan",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SchedulerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "failures_total",
				Help:      "Scheduler failures, by stage",
			},
			[]string{"stage"},
		),
		NotificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notification",
				Name:      "published_total",
				Help:      "Settlement notifications, by final result",
			},
			[]string{"result"},
		),
		NotificationAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notification",
				Name:      "attempts_total",
				Help:      "Publish attempts including retries",
			},
		),
	}
}

func (m *Metrics) ObserveIngestion(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestionMessages.WithLabelValues(outcome).Inc()
	m.IngestionDuration.Observe(seconds)
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.SchedulerTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveScan(seconds float64) {
	if m == nil {
		return
	}
	m.SchedulerScan.Observe(seconds)
}

// SchedulerFailure counts a failure at stage: "list", "auction", "notify" or "lease"
func (m *Metrics) SchedulerFailure(stage string) {
	if m == nil {
		return
	}
	m.SchedulerFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) NotificationAttempt() {
	if m == nil {
		return
	}
	m.NotificationAttempts.Inc()
}

func (m *Metrics) NotificationResult(result string) {
	if m == nil {
		return
	}
	m.NotificationsPublished.WithLabelValues(result).Inc()
}
