package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RAPD/rapd-relay/auth"
	"github.com/RAPD/rapd-relay/logging"
)

// DetailKey identifies one result-detail subscription.
type DetailKey struct {
	Domain         string
	PluginKind     string
	ResultID       string
	SubscriptionID string
}

// Conn is one client connection and its subscription state.
//
// State is written only by the connection's own handler and read by the
// router, so every accessor takes the state lock.
type Conn struct {
	id         string
	remoteAddr string
	logger     logging.Logger
	ws         *websocket.Conn
	outbox     *Outbox
	opened     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu        sync.RWMutex
	claims    *auth.Claims
	sessionID string
	details   map[DetailKey]struct{}
}

func newConn(
	parent context.Context,
	logger logging.Logger,
	id string,
	remoteAddr string,
	ws *websocket.Conn,
	queueSize int,
) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:         id,
		remoteAddr: remoteAddr,
		logger:     logging.WithConnection(logger, id, remoteAddr),
		ws:         ws,
		outbox:     NewOutbox(queueSize),
		opened:     time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		details:    make(map[DetailKey]struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context { return c.ctx }

// Closed reports whether the connection is closing or closed.
func (c *Conn) Closed() bool {
	return c.closed.Load() || c.outbox.Closed()
}

// Send queues an encoded frame. It reports false if the connection no
// longer accepts frames.
func (c *Conn) Send(frame []byte) bool {
	accepted, dropped := c.outbox.Push(frame)
	if dropped {
		pushesDropped.Inc()
		c.logger.Debug().Msg("outbound queue full, dropped oldest frame")
	}
	return accepted
}

// Claims returns the authenticated claims, or nil.
func (c *Conn) Claims() *auth.Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims
}

// Authenticated reports whether the connection holds claims valid at now.
func (c *Conn) Authenticated(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims != nil && c.claims.Valid(now)
}

func (c *Conn) authenticate(claims auth.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = &claims
}

func (c *Conn) deauthenticate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = nil
}

// SessionID returns the active session id, or "".
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Conn) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// addDetail registers key and reports whether it was new.
func (c *Conn) addDetail(key DetailKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.details[key]; ok {
		return false
	}
	c.details[key] = struct{}{}
	return true
}

func (c *Conn) clearDetails() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = make(map[DetailKey]struct{})
}

// DetailSubscriptions returns the distinct subscription ids subscribed to
// resultID. Keys differing only by domain or kind share one id.
func (c *Conn) DetailSubscriptions(resultID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	seen := make(map[string]struct{})
	for key := range c.details {
		if key.ResultID != resultID {
			continue
		}
		if _, ok := seen[key.SubscriptionID]; ok {
			continue
		}
		seen[key.SubscriptionID] = struct{}{}
		ids = append(ids, key.SubscriptionID)
	}
	return ids
}

// DetailCount returns the number of detail subscriptions.
func (c *Conn) DetailCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.details)
}

// writeLoop drains the outbox to the socket and sends pings until the
// connection closes. A write failure closes the connection.
func (c *Conn) writeLoop(cfg ConnectionConfig) {
	pings := time.NewTicker(cfg.PingInterval())
	defer pings.Stop()

	var keepalive <-chan time.Time
	if cfg.KeepaliveInterval() > 0 {
		t := time.NewTicker(cfg.KeepaliveInterval())
		defer t.Stop()
		keepalive = t.C
	}

	write := func(frame []byte) bool {
		_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout()))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Debug().Err(err).Msg("write failed, closing connection")
			writeErrors.Inc()
			c.close(CloseGoingAway, "write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.outbox.Ready():
			for _, frame := range c.outbox.Drain() {
				if !write(frame) {
					return
				}
			}
		case <-keepalive:
			if !write(KeepaliveFrame) {
				return
			}
		case <-pings.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout())); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed - connection may be dead")
				c.close(CloseGoingAway, "ping timeout")
				return
			}
		}
	}
}

// close sends a close frame and tears down the socket. Safe to call more
// than once and from any goroutine.
func (c *Conn) close(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()

	c.logger.Debug().
		Int(logging.FieldCloseCode, code).
		Str("close_code_name", closeCodeName(code)).
		Str(logging.FieldReason, reason).
		Msg("closing connection")

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = c.ws.Close()
}
