package presence

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "presence"
)

var (
	presenceWrites = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "writes_total",
			Help:      "Presence pipeline writes by operation (refresh, flush) and result",
		},
		[]string{"operation", "result"},
	)

	presenceKeys = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "keys",
			Help:      "Presence keys written by the last refresh (instance plus connections)",
		},
	)

	redisUsedMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "redis_used_memory_bytes",
			Help:      "Redis used_memory from INFO MEMORY",
		},
	)

	redisMaxMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "redis_max_memory_bytes",
			Help:      "Redis maxmemory (0 means no limit)",
		},
	)

	redisMemoryUsageRatio = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "redis_memory_usage_ratio",
			Help:      "used_memory / maxmemory, -1 when maxmemory is unset",
		},
	)
)
