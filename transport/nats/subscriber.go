// Package nats consumes result envelopes from a NATS subject, for deployments
// where the processing pipeline publishes to NATS instead of Redis.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/observability"
	"github.com/RAPD/rapd-relay/transport"
)

var _ transport.Subscriber = (*Subscriber)(nil)

var receivedTotal = observability.RelayFactory.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rapd",
		Subsystem: "transport_nats",
		Name:      "received_total",
		Help:      "Total number of envelopes received from the NATS subject",
	},
	[]string{"subject"},
)

const (
	reconnectWait = time.Second
	pendingBuffer = 4096
)

// Subscriber implements transport.Subscriber on a core NATS subject.
// Core NATS is at-most-once, matching Redis pub/sub semantics.
//
// The NATS client rides out short disconnects itself. When the connection
// cannot be established or is closed for good, Run reconnects with backoff.
type Subscriber struct {
	logger  logging.Logger
	url     string
	subject string

	mu     sync.Mutex
	nc     *nats.Conn
	loop   *transport.ReconnectionLoop
	closed bool
	cancel context.CancelFunc

	// backoff overrides, zero means the ReconnectionLoop defaults
	baseDelay time.Duration
	maxDelay  time.Duration
}

// session is one connection and its subscription.
type session struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	closed chan struct{}
}

// NewSubscriber creates a subscriber for cfg.Channel on the NATS server at url.
func NewSubscriber(logger logging.Logger, url string, cfg transport.SubscriberConfig) (*Subscriber, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	return &Subscriber{
		logger:  logging.ForComponent(logger, logging.ComponentNATSSubscribe).With().Str(logging.FieldChannel, cfg.Channel).Logger(),
		url:     url,
		subject: cfg.Channel,
	}, nil
}

// WithBackoff overrides the reconnect backoff.
func (s *Subscriber) WithBackoff(base, max time.Duration) *Subscriber {
	s.baseDelay = base
	s.maxDelay = max
	return s
}

// Run subscribes and blocks until ctx is cancelled or Close is called.
func (s *Subscriber) Run(ctx context.Context, handler transport.MessageHandler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// connectFn and runFn run on the loop goroutine, one after the other.
	var sess *session
	loop := transport.NewReconnectionLoop(
		s.logger,
		logging.ComponentNATSSubscribe,
		func(context.Context) error {
			var err error
			sess, err = s.open()
			return err
		},
		func(ctx context.Context) error {
			return s.listen(ctx, sess, handler)
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

// open connects and subscribes.
func (s *Subscriber) open() (*session, error) {
	sess := &session{
		msgs:   make(chan *nats.Msg, pendingBuffer),
		closed: make(chan struct{}),
	}
	var closeOnce sync.Once

	nc, err := nats.Connect(s.url,
		nats.Name("rapd-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn().Err(err).Msg("nats disconnected, reconnecting...")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.logger.Info().Msg("nats connection re-established")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			closeOnce.Do(func() { close(sess.closed) })
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", s.url, err)
	}

	sub, err := nc.ChanSubscribe(s.subject, sess.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	sess.nc = nc
	sess.sub = sub

	s.mu.Lock()
	s.nc = nc
	s.mu.Unlock()
	return sess, nil
}

// listen dispatches messages until ctx is done or the connection closes.
func (s *Subscriber) listen(ctx context.Context, sess *session, handler transport.MessageHandler) error {
	defer func() {
		_ = sess.sub.Unsubscribe()
		sess.nc.Close()
		s.mu.Lock()
		if s.nc == sess.nc {
			s.nc = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("broker subscription active")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.closed:
			return errors.New("nats connection closed")
		case msg := <-sess.msgs:
			receivedTotal.WithLabelValues(s.subject).Inc()
			handler(ctx, msg.Data)
		}
	}
}

// Healthy reports whether the subscription is established and connected.
func (s *Subscriber) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil && s.loop.Connected() && s.nc != nil && s.nc.IsConnected()
}

// Close stops Run.
func (s *Subscriber) Close() error {
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
