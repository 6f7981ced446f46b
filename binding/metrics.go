package binding

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "binding"

	outcomeHit  = "hit"
	outcomeMiss = "miss"
	outcomeWait = "wait"
)

var (
	lookupsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "lookups_total",
			Help:      "Type binding lookups by outcome (hit, miss, wait on an in-flight creation)",
		},
		[]string{"outcome"},
	)

	creationsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "creations_total",
			Help:      "Backing collection creations by result",
		},
		[]string{"result"},
	)
)
