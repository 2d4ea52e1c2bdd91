package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Notification delivery metrics
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_notifications_delivered_total",
		Help: "Total number of notifications delivered downstream",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_notification_retries_total",
		Help: "Total number of notification delivery retries scheduled",
	})

	deadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_notifications_dead_lettered_total",
		Help: "Total number of notifications moved to the failure table after exhausting retries",
	})

	deliveryDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "limit_monitor_notification_delivery_duration_seconds",
		Help:    "Time taken to deliver one notification",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
)
