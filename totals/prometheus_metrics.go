package totals

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event consumption metrics
	eventsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_events_processed_total",
		Help: "Total number of settlement events fully processed",
	})

	eventsDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_events_discarded_total",
		Help: "Total number of events discarded because the group watermark had already passed them",
	})

	eventRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_event_retries_total",
		Help: "Total number of event processing retries scheduled",
	})

	eventsDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_events_dead_lettered_total",
		Help: "Total number of events moved to the dead-letter table after exhausting retries",
	})

	recalculationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_recalculations_total",
		Help: "Total number of admin recalculation requests",
	})

	recomputeDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "limit_monitor_recompute_duration_seconds",
		Help:    "Time taken to recompute one group running total",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
)
