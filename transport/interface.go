package transport

import (
	"context"
)

// MessageHandler receives one raw broker payload. The payload may be
// zstd-compressed; handlers pass it through MaybeDecompress.
type MessageHandler func(ctx context.Context, payload []byte)

// Subscriber consumes result envelopes from a broker channel.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Subscriber interface {
	// Run subscribes and invokes handler for every message in arrival order.
	// It reconnects on broker failure and blocks until ctx is cancelled.
	// Messages published while disconnected are lost.
	Run(ctx context.Context, handler MessageHandler)

	// Healthy reports whether the subscription is currently established.
	Healthy() bool

	// Close releases the subscription.
	Close() error
}

// Publisher publishes raw envelopes. The relay itself never publishes; the
// debug tooling uses it to inject envelopes into a running deployment.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// SubscriberConfig contains configuration shared by Subscriber implementations.
type SubscriberConfig struct {
	// Channel is the Redis channel or NATS subject.
	Channel string

	// HealthCheckInterval is how often an idle subscription is probed.
	// Zero disables probing.
	HealthCheckInterval int64
}
