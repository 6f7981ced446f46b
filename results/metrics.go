package results

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "results"
)

var sideRecordsResolved = observability.RelayFactory.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "side_records_total",
		Help:      "Side-record lookups during detail population by slot and outcome",
	},
	[]string{"slot", "outcome"},
)
