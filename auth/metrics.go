package auth

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "auth"
)

var (
	verificationsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "verifications_total",
			Help:      "Token verifications by outcome (valid, invalid, expired, timeout)",
		},
		[]string{"outcome"},
	)

	verifyDuration = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying a token",
			Buckets:   observability.MicroLatencyBuckets,
		},
	)

	secretReloadsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "secret_reloads_total",
			Help:      "Signing secret reloads from disk by result",
		},
		[]string{"result"},
	)
)
