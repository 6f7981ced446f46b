package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "relay"
)

var (
	connectionsActive = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Number of registered websocket connections",
		},
	)

	connectionsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Total websocket connections by close reason",
		},
		[]string{"close_code"},
	)

	framesReceived = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_received_total",
			Help:      "Client frames received by request_type (\"invalid\" for undecodable frames)",
		},
		[]string{"request_type"},
	)

	framesPushed = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_pushed_total",
			Help:      "Fan-out frames queued to connections by msg_type",
		},
		[]string{"msg_type"},
	)

	pushesDropped = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pushes_dropped_total",
			Help:      "Frames discarded because a connection's outbound queue was full",
		},
	)

	writeErrors = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "write_errors_total",
			Help:      "Websocket write failures",
		},
	)

	authOutcomes = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "auth_outcomes_total",
			Help:      "initialize outcomes (accepted, rejected, expired, timeout, grace_expired)",
		},
		[]string{"outcome"},
	)

	unauthenticatedDropped = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "unauthenticated_dropped_total",
			Help:      "Requests silently dropped from unauthenticated connections",
		},
	)

	requestDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling one client request",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"request_type", "status"},
	)

	gatewayDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "gateway_duration_seconds",
			Help:      "Historical query gateway latency by operation",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"operation", "status"},
	)

	fanoutDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "fanout_duration_seconds",
			Help:      "Time to queue one projection to every matching connection",
			Buckets:   observability.MicroLatencyBuckets,
		},
		[]string{"msg_type"},
	)

	activitiesRecorded = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "activities_recorded_total",
			Help:      "Activity records written by result",
		},
		[]string{"result"},
	)
)
