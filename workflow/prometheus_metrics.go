package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Approval workflow metrics
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_monitor_workflow_transitions_total",
		Help: "Total number of completed workflow transitions by action",
	}, []string{"action"})

	segregationRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_monitor_workflow_segregation_rejections_total",
		Help: "Total number of transitions rejected because requester and authorizer matched",
	})
)
