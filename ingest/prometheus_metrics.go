package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion pipeline metrics
	ingestAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_ingest_accepted_total",
		Help: "Total number of settlements persisted",
	})

	ingestDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_ingest_duplicates_total",
		Help: "Total number of idempotent replays of an already-ingested settlement",
	})

	ingestRegroupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_ingest_regroups_total",
		Help: "Total number of ingestions that moved a settlement between groups",
	})

	ingestRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_monitor_ingest_rejected_total",
		Help: "Total number of requests rejected before persistence",
	}, []string{"reason"})

	ingestErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_ingest_errors_total",
		Help: "Total number of ingestion transactions that failed",
	})

	ingestDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "limit_monitor_ingest_duration_seconds",
		Help:    "Time taken to ingest one settlement",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
)
