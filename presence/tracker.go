// Package presence advertises the relay instance and its open connections
// in Redis so operators can see who is connected to which session.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/RAPD/rapd-relay/config"
	"github.com/RAPD/rapd-relay/logging"
	redisutil "github.com/RAPD/rapd-relay/transport/redis"
)

// SessionSource lists open connections and their active session ids.
type SessionSource interface {
	Sessions() map[string]string
}

// Tracker refreshes the instance key and one key per open connection on a
// single ticker. It also implements relay.ConnectionObserver so opens and
// closes are written without waiting for the next tick.
//
// Presence is advisory: Redis failures are logged and counted only.
type Tracker struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	instanceID  string
	hostname    string
	sessions    SessionSource
	cfg         config.PresenceConfig

	// pending holds connection ids to write (true) or delete (false) on the
	// next flush.
	pendingMu sync.Mutex
	pending   map[string]bool
	nudge     chan struct{}

	consecutiveFailures int

	// Lifecycle
	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewTracker creates a Tracker for this relay instance.
func NewTracker(
	logger logging.Logger,
	redisClient *redisutil.Client,
	instanceID string,
	hostname string,
	sessions SessionSource,
	cfg config.PresenceConfig,
) *Tracker {
	return &Tracker{
		logger:      logging.ForComponent(logger, logging.ComponentPresence).With().Str(logging.FieldInstance, instanceID).Logger(),
		redisClient: redisClient,
		instanceID:  instanceID,
		hostname:    hostname,
		sessions:    sessions,
		cfg:         cfg,
		pending:     make(map[string]bool),
		nudge:       make(chan struct{}, 1),
	}
}

// Start writes the keys once and then refreshes them every RefreshInterval.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("presence tracker is closed")
	}
	ctx, t.cancelFn = context.WithCancel(ctx)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		logging.RecoverGoRoutine(t.logger, "presence_loop", t.loop)(ctx)
	}()

	t.logger.Info().
		Dur("ttl", t.cfg.TTL()).
		Dur("refresh_interval", t.cfg.RefreshInterval()).
		Msg("presence tracker started")
	return nil
}

func (t *Tracker) loop(ctx context.Context) {
	t.refresh(ctx)

	ticker := time.NewTicker(t.cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh(ctx)
		case <-t.nudge:
			t.flush(ctx)
		}
	}
}

// ConnectionOpened queues the connection's key for writing.
func (t *Tracker) ConnectionOpened(id string) {
	t.mark(id, true)
}

// ConnectionClosed queues the connection's key for deletion.
func (t *Tracker) ConnectionClosed(id string) {
	t.mark(id, false)
}

func (t *Tracker) mark(id string, open bool) {
	t.pendingMu.Lock()
	t.pending[id] = open
	t.pendingMu.Unlock()

	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

func (t *Tracker) takePending() map[string]bool {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	out := t.pending
	t.pending = make(map[string]bool)
	return out
}

// refresh rewrites every key in one pipeline.
func (t *Tracker) refresh(ctx context.Context) {
	kb := t.redisClient.KB()
	ttl := t.cfg.TTL()
	sessions := t.sessions.Sessions()
	pending := t.takePending()

	_, err := t.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, kb.ServerKey(t.instanceID), t.hostname, ttl)
		for connID, sessionID := range sessions {
			pipe.Set(ctx, kb.ConnectionKey(connID), sessionID, ttl)
		}
		for connID, open := range pending {
			if _, live := sessions[connID]; !open && !live {
				pipe.Del(ctx, kb.ConnectionKey(connID))
			}
		}
		return nil
	})
	t.observe("refresh", err)
	if err == nil {
		presenceKeys.Set(float64(len(sessions) + 1))
		t.logger.Debug().Int(logging.FieldCount, len(sessions)).Msg("presence refreshed")
	}
}

// flush writes only the connections that opened or closed since the last write.
func (t *Tracker) flush(ctx context.Context) {
	pending := t.takePending()
	if len(pending) == 0 {
		return
	}
	kb := t.redisClient.KB()
	sessions := t.sessions.Sessions()

	_, err := t.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for connID, open := range pending {
			if open {
				pipe.Set(ctx, kb.ConnectionKey(connID), sessions[connID], t.cfg.TTL())
			} else {
				pipe.Del(ctx, kb.ConnectionKey(connID))
			}
		}
		return nil
	})
	t.observe("flush", err)
}

func (t *Tracker) observe(operation string, err error) {
	if err == nil {
		if t.consecutiveFailures > 0 {
			t.logger.Info().
				Int("recovered_after_failures", t.consecutiveFailures).
				Msg("presence writes recovered")
		}
		t.consecutiveFailures = 0
		presenceWrites.WithLabelValues(operation, logging.ResultSuccess).Inc()
		return
	}

	t.consecutiveFailures++
	if redisutil.IsOOMError(err) {
		presenceWrites.WithLabelValues(operation, "redis_oom").Inc()
		t.logger.Error().
			Err(err).
			Str(logging.FieldOperation, operation).
			Int("consecutive_failures", t.consecutiveFailures).
			Msg("REDIS OOM - presence keys not written until memory is freed")
		return
	}
	presenceWrites.WithLabelValues(operation, logging.ResultFailure).Inc()
	level := zerolog.ErrorLevel
	if redisutil.IsTransient(err) {
		level = zerolog.WarnLevel
	}
	t.logger.WithLevel(level).
		Err(err).
		Str(logging.FieldOperation, operation).
		Int("consecutive_failures", t.consecutiveFailures).
		Msg("failed to write presence keys")
}

// Close stops the loop, deletes keys of connections closed since the last
// write and removes the instance key.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancelFn != nil {
		t.cancelFn()
	}
	t.mu.Unlock()

	t.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.flush(ctx)
	err := t.redisClient.Del(ctx, t.redisClient.KB().ServerKey(t.instanceID)).Err()
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to remove instance presence key")
	}
	presenceKeys.Set(0)

	t.logger.Info().Msg("presence tracker stopped")
	return err
}
