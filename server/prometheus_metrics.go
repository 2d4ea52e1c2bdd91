package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_monitor_http_requests_total",
		Help: "Total number of HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	httpRequestDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "limit_monitor_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"method", "route"})
)
