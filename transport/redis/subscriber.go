package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/transport"
)

var _ transport.Subscriber = (*ChannelSubscriber)(nil)

// ChannelSubscriber implements transport.Subscriber over Redis pub/sub.
// Pub/sub is at-most-once: envelopes published while the subscription is down
// are not replayed.
type ChannelSubscriber struct {
	logger  logging.Logger
	client  *Client
	channel string

	loop *transport.ReconnectionLoop

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc

	// backoff overrides, zero means the ReconnectionLoop defaults
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewChannelSubscriber creates a subscriber for a single Redis channel.
func NewChannelSubscriber(logger logging.Logger, client *Client, cfg transport.SubscriberConfig) *ChannelSubscriber {
	return &ChannelSubscriber{
		logger:  logging.ForComponent(logger, logging.ComponentRedisSubscribe).With().Str(logging.FieldChannel, cfg.Channel).Logger(),
		client:  client,
		channel: cfg.Channel,
	}
}

// WithBackoff shortens the reconnect backoff.
func (s *ChannelSubscriber) WithBackoff(base, max time.Duration) *ChannelSubscriber {
	s.baseDelay = base
	s.maxDelay = max
	return s
}

// Run subscribes and blocks until ctx is cancelled or Close is called.
func (s *ChannelSubscriber) Run(ctx context.Context, handler transport.MessageHandler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	loop := transport.NewReconnectionLoop(
		s.logger,
		logging.ComponentRedisSubscribe,
		func(ctx context.Context) error {
			return s.client.Ping(ctx).Err()
		},
		func(ctx context.Context) error {
			return s.listen(ctx, handler)
		},
	)
	if s.baseDelay > 0 {
		loop.WithBackoff(s.baseDelay, s.maxDelay)
	}
	s.loop = loop
	s.mu.Unlock()

	defer cancel()
	loop.Run(ctx)
}

// listen runs one subscription until disconnect or error.
func (s *ChannelSubscriber) listen(ctx context.Context, handler transport.MessageHandler) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	subscriptionUp.WithLabelValues(s.channel).Set(1)
	defer subscriptionUp.WithLabelValues(s.channel).Set(0)

	s.logger.Info().Msg("broker subscription active")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok || msg == nil {
				return fmt.Errorf("pub/sub channel closed")
			}

			receivedTotal.WithLabelValues(s.channel).Inc()
			receivedBytes.WithLabelValues(s.channel).Add(float64(len(msg.Payload)))

			handler(ctx, []byte(msg.Payload))
		}
	}
}

// Healthy reports whether the subscription is established.
func (s *ChannelSubscriber) Healthy() bool {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	return loop != nil && loop.Connected()
}

// Close stops Run.
func (s *ChannelSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
