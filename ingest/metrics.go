package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "ingest"
)

var (
	messagesTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_total",
			Help:      "Broker messages handled by outcome (routed, echo, decode_error, decompress_error, panic)",
		},
		[]string{"outcome"},
	)

	handleDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handle_duration_seconds",
			Help:      "Time from message receipt to all projections queued",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"outcome"},
	)

	recipients = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "recipients_total",
			Help:      "Frames queued for ingested projections by projection kind",
		},
		[]string{"projection"},
	)

	parentPushes = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "parent_pushes_total",
			Help:      "Parent detail re-pushes by result",
		},
		[]string{"result"},
	)
)
