package redis

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/observability"
)

const (
	metricsNamespace = "rapd"
	metricsSubsystem = "transport_redis"
)

var (
	receivedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "received_total",
			Help:      "Total number of envelopes received from the broker channel",
		},
		[]string{"channel"},
	)

	receivedBytes = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "received_bytes_total",
			Help:      "Total payload bytes received from the broker channel",
		},
		[]string{"channel"},
	)

	publishedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "published_total",
			Help:      "Total number of envelopes published by debug tooling",
		},
		[]string{"channel"},
	)

	publishErrorsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_errors_total",
			Help:      "Total number of publish errors",
		},
		[]string{"channel"},
	)

	subscriptionUp = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscription_up",
			Help:      "1 while the broker subscription is established",
		},
		[]string{"channel"},
	)
)
