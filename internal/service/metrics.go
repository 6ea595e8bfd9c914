package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess            = "success"
	outcomeInvalid            = "invalid"
	outcomeNotFound           = "not_found"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeConflict           = "conflict"
	outcomeReuse              = "reuse"
	outcomeError              = "error"
)

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued, by kind",
		},
		[]string{"kind"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts, by outcome",
		},
		[]string{"outcome"},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Total number of token refresh attempts, by outcome",
		},
		[]string{"outcome"},
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts, by outcome",
		},
		[]string{"outcome"},
	)

	logoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Total number of logouts",
		},
	)
)

func recordPairIssued() {
	tokensIssued.WithLabelValues("access").Inc()
	tokensIssued.WithLabelValues("refresh").Inc()
}
