package refreshjob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudconnect_refresh_attempts_total",
		Help: "Token refresh attempts made by the scheduled sweep.",
	}, []string{"provider"})

	refreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudconnect_refresh_failures_total",
		Help: "Token refresh failures by classification.",
	}, []string{"provider", "class"})

	refreshSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudconnect_refresh_skipped_total",
		Help: "Connections skipped by the sweep, by reason.",
	}, []string{"provider", "reason"})

	statesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloudconnect_oauth_states_swept_total",
		Help: "Expired OAuth state records deleted by the cleanup job.",
	})
)
