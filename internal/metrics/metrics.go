// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PortalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodbot_portal_requests_total",
		Help: "Portal operations by operation and result.",
	}, []string{"op", "result"})

	WorkflowEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodbot_workflow_events_total",
		Help: "Inbound user events by planned action and outcome.",
	}, []string{"action", "outcome"})

	Recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodbot_recommendations_total",
		Help: "Recommendation requests by result (ok or fallback).",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodbot_active_sessions",
		Help: "Sessions currently held in memory.",
	})
)

// Result labels an error for the counters above.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
