package config

import "time"

const (
	// BrokerKindRedis subscribes to a Redis pub/sub channel.
	BrokerKindRedis = "redis"
	// BrokerKindNATS subscribes to a NATS subject.
	BrokerKindNATS = "nats"

	// DefaultResultsChannel is the channel the processing pipeline publishes result envelopes on.
	DefaultResultsChannel = "RAPD_RESULTS"
)

// BrokerConfig selects where result envelopes are consumed from.
type BrokerConfig struct {
	// Kind is "redis" (default) or "nats".
	Kind string `yaml:"kind"`

	// Channel is the Redis channel or NATS subject name.
	// Default: "RAPD_RESULTS"
	Channel string `yaml:"channel"`

	// NATSURL is the NATS server URL, required when Kind is "nats".
	NATSURL string `yaml:"nats_url,omitempty"`

	// ReconnectBaseMs and ReconnectMaxMs bound the broker resubscribe backoff.
	// Zero keeps the subscriber defaults (1s doubling to 30s).
	ReconnectBaseMs int `yaml:"reconnect_base_ms,omitempty"`
	ReconnectMaxMs  int `yaml:"reconnect_max_ms,omitempty"`
}

// ReconnectBackoff returns the configured backoff bounds, or zeros when unset.
func (c BrokerConfig) ReconnectBackoff() (base, max time.Duration) {
	if c.ReconnectBaseMs <= 0 {
		return 0, 0
	}
	base = time.Duration(c.ReconnectBaseMs) * time.Millisecond
	max = time.Duration(c.ReconnectMaxMs) * time.Millisecond
	if max < base {
		max = base
	}
	return base, max
}

// StoreConfig selects the historical query gateway backend.
type StoreConfig struct {
	// Kind is "postgres" (default) or "memory".
	// The memory store keeps nothing across restarts and is meant for local runs.
	Kind string `yaml:"kind"`

	// PostgresURL is the pgx connection string.
	PostgresURL string `yaml:"postgres_url,omitempty"`

	// MaxConns caps the pgx pool size.
	// Default: 10
	MaxConns int32 `yaml:"max_conns,omitempty"`
}

const (
	StoreKindPostgres = "postgres"
	StoreKindMemory   = "memory"
)
