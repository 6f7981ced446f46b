package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/RAPD/rapd-relay/transport"
)

var _ transport.Publisher = (*Publisher)(nil)

// Publisher publishes raw envelopes on a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to url and returns a publisher for subject.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("rapd-relay-debug"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// Publish sends payload and flushes so the message is on the wire before returning.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if err := p.nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
