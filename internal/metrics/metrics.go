// Package metrics holds the Prometheus collectors of the client core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kina",
		Name:      "api_requests_total",
		Help:      "Backend API calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"}) // outcome=ok|<error kind>

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kina",
		Name:      "api_request_duration_seconds",
		Help:      "Backend API call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	identityRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kina",
		Name:      "identity_refresh_total",
		Help:      "Host identity refreshes by resulting provenance",
	}, []string{"provenance"})

	identityAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kina",
		Name:      "identity_refresh_attempts",
		Help:      "Read attempts used per host identity refresh",
		Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
	})

	authGateMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kina",
		Name:      "auth_gate_marks_total",
		Help:      "Terminal auth gate marks by state",
	}, []string{"state"})

	watchTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kina",
		Name:      "watch_flow_transitions_total",
		Help:      "Watch flow state transitions by target status",
	}, []string{"from", "to"})

	adCooldowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kina",
		Name:      "ad_cooldowns_total",
		Help:      "Ad starts rejected by the server cooldown",
	})
)

// ObserveAPIRequest records one backend call.
func ObserveAPIRequest(endpoint, outcome string, elapsed time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	apiRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordIdentityRefresh records the outcome of one resolver refresh.
func RecordIdentityRefresh(provenance string, attempts int) {
	identityRefreshTotal.WithLabelValues(provenance).Inc()
	identityAttempts.Observe(float64(attempts))
}

// RecordAuthGateMark counts a terminal gate mark.
func RecordAuthGateMark(state string) {
	authGateMarks.WithLabelValues(state).Inc()
}

// RecordWatchTransition counts a watch flow state change.
func RecordWatchTransition(from, to string) {
	watchTransitions.WithLabelValues(from, to).Inc()
	if to == "ads_cooldown" {
		adCooldowns.Inc()
	}
}
