package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/RAPD/rapd-relay/logging"
)

const (
	reconnectBaseDelay     = 1 * time.Second
	reconnectMaxDelay      = 30 * time.Second
	reconnectBackoffFactor = 2
)

// ReconnectionLoop runs a connect-then-serve cycle forever, backing off
// exponentially between failed connection attempts.
//
//	loop := transport.NewReconnectionLoop(logger, "redis_subscriber",
//	    func(ctx context.Context) error { return client.Ping(ctx).Err() },
//	    func(ctx context.Context) error { return s.listen(ctx, handler) },
//	)
//	loop.Run(ctx)
type ReconnectionLoop struct {
	logger        logging.Logger
	componentName string
	connectFn     func(context.Context) error
	runFn         func(context.Context) error

	baseDelay time.Duration
	maxDelay  time.Duration

	// connected is true while runFn is executing after a successful connectFn.
	connected atomic.Bool
}

// NewReconnectionLoop creates a new reconnection loop.
//
// Parameters:
//   - component: name used in logs and the reconnection metrics
//   - connectFn: checks the connection before runFn starts
//   - runFn: serves until error or context cancellation
func NewReconnectionLoop(
	logger logging.Logger,
	component string,
	connectFn func(context.Context) error,
	runFn func(context.Context) error,
) *ReconnectionLoop {
	return &ReconnectionLoop{
		logger:        logger,
		componentName: component,
		connectFn:     connectFn,
		runFn:         runFn,
		baseDelay:     reconnectBaseDelay,
		maxDelay:      reconnectMaxDelay,
	}
}

// WithBackoff overrides the backoff bounds. Tests use short delays.
func (r *ReconnectionLoop) WithBackoff(base, max time.Duration) *ReconnectionLoop {
	r.baseDelay = base
	r.maxDelay = max
	return r
}

// Connected reports whether the loop is currently serving.
func (r *ReconnectionLoop) Connected() bool {
	return r.connected.Load()
}

// Run executes the reconnection loop: connect, on failure back off
// (1s, 2s, 4s ... 30s), on success reset the backoff and serve, and on
// disconnect reconnect immediately. Blocks until ctx is cancelled.
func (r *ReconnectionLoop) Run(ctx context.Context) {
	reconnectDelay := r.baseDelay

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().
				Str(logging.FieldComponent, r.componentName).
				Msg("reconnection loop shutting down")
			return
		default:
		}

		reconnectionAttempts.WithLabelValues(r.componentName).Inc()

		if err := r.connectFn(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Str(logging.FieldComponent, r.componentName).
				Dur("retry_in", reconnectDelay).
				Msgf("%s: connection failed, will retry", r.componentName)

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				reconnectDelay = r.increaseBackoff(reconnectDelay)
				continue
			}
		}

		reconnectDelay = r.baseDelay
		reconnectionSuccess.WithLabelValues(r.componentName).Inc()

		r.logger.Info().
			Str(logging.FieldComponent, r.componentName).
			Msgf("%s: connection established", r.componentName)

		r.connected.Store(true)
		err := r.runFn(ctx)
		r.connected.Store(false)

		select {
		case <-ctx.Done():
			r.logger.Debug().
				Str(logging.FieldComponent, r.componentName).
				Msg("shutting down gracefully")
			return
		default:
			if err != nil {
				r.logger.Warn().
					Err(err).
					Str(logging.FieldComponent, r.componentName).
					Msgf("%s: disconnected, reconnecting...", r.componentName)
			} else {
				r.logger.Warn().
					Str(logging.FieldComponent, r.componentName).
					Msgf("%s: connection closed, reconnecting...", r.componentName)
			}
		}
	}
}

func (r *ReconnectionLoop) increaseBackoff(current time.Duration) time.Duration {
	next := current * reconnectBackoffFactor
	if next > r.maxDelay {
		return r.maxDelay
	}
	return next
}
