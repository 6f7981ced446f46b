package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/transport"
)

var _ transport.Publisher = (*ChannelPublisher)(nil)

// ChannelPublisher publishes raw envelopes on a Redis channel.
type ChannelPublisher struct {
	logger  logging.Logger
	client  *Client
	channel string

	mu     sync.RWMutex
	closed bool
}

// NewChannelPublisher creates a publisher for channel.
func NewChannelPublisher(logger logging.Logger, client *Client, channel string) *ChannelPublisher {
	return &ChannelPublisher{
		logger:  logging.ForComponent(logger, logging.ComponentRedisClient),
		client:  client,
		channel: channel,
	}
}

// Publish sends payload to the channel.
func (p *ChannelPublisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		publishErrorsTotal.WithLabelValues(p.channel).Inc()
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	publishedTotal.WithLabelValues(p.channel).Inc()

	p.logger.Debug().
		Str(logging.FieldChannel, p.channel).
		Int(logging.FieldSize, len(payload)).
		Msg("published envelope")
	return nil
}

// Close marks the publisher closed. The underlying client is owned by the caller.
func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
