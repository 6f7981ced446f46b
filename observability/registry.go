package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRegistry holds every metric owned by the relay components.
	// Kept apart from the default registry so tests can gather it in isolation.
	RelayRegistry = prometheus.NewRegistry()

	// RelayFactory registers metrics on RelayRegistry.
	RelayFactory = promauto.With(RelayRegistry)
)

func init() {
	RelayRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metricsNamespace}),
	)
}

// DefaultGatherer serves the relay registry together with the default registry,
// which carries metrics declared with package-level promauto (panic recoveries).
func DefaultGatherer() prometheus.Gatherer {
	return prometheus.Gatherers{RelayRegistry, prometheus.DefaultGatherer}
}
