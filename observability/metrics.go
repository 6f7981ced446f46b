package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "observability"
)

var (
	// FineGrainedLatencyBuckets covers store queries and websocket writes.
	// Buckets: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// MicroLatencyBuckets covers in-memory work such as envelope decoding and fan-out.
	// Buckets: 10µs, 50µs, 100µs, 500µs, 1ms, 5ms, 10ms, 50ms, 100ms
	MicroLatencyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
)

var (
	// OperationDurationSeconds tracks the duration of high-level operations.
	OperationDurationSeconds = RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of high-level operations (requests, ingest, detail resolution)",
			Buckets:   FineGrainedLatencyBuckets,
		},
		[]string{"component", "operation", "status"},
	)

	// RedisOperationsTotal counts Redis operations.
	RedisOperationsTotal = RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	// ErrorsTotal counts errors by type and component.
	ErrorsTotal = RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// ProcessInfo provides static information about the process.
	ProcessInfo = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_info",
			Help:      "Information about the running process",
		},
		[]string{"version", "instance"},
	)

	// StartupDurationSeconds tracks startup time of components.
	StartupDurationSeconds = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "startup_duration_seconds",
			Help:      "Time taken to start components",
		},
		[]string{"component"},
	)
)
