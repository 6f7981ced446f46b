package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/RAPD/rapd-relay/logging"
)

// ConnectionObserver is told when connections open and close.
type ConnectionObserver interface {
	ConnectionOpened(id string)
	ConnectionClosed(id string)
}

// Server accepts websocket clients and runs one read loop and one write loop
// per connection.
type Server struct {
	logger    logging.Logger
	cfg       Config
	registry  *Registry
	handler   *Handler
	upgrader  websocket.Upgrader
	observers []ConnectionObserver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server. cfg supplies ListenAddr, WSPath, Auth and Connection.
func NewServer(logger logging.Logger, cfg Config, registry *Registry, handler *Handler, observers ...ConnectionObserver) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:   logging.ForComponent(logger, logging.ComponentWebsocket),
		cfg:      cfg,
		registry: registry,
		handler:  handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI is served from a different origin than the relay.
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		observers: observers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler returns the HTTP handler serving websocket upgrades on WSPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.serveWS)
	return mux
}

// Start listens on ListenAddr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("websocket server error")
		}
	}()

	s.logger.Info().
		Str(logging.FieldListenAddr, ln.Addr().String()).
		Str("ws_path", s.cfg.WSPath).
		Msg("websocket server started")
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections, closes every open connection with
// GoingAway and waits for their loops to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	s.cancel()
	s.registry.CloseAll(CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().Msg("websocket server stopped")
	return err
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("failed to upgrade to websocket")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newConn(s.ctx, s.logger, ulid.Make().String(), r.RemoteAddr, ws, s.cfg.Connection.OutboundQueueSize)
	s.registry.Register(c)
	for _, o := range s.observers {
		o.ConnectionOpened(c.ID())
	}
	c.logger.Debug().Msg("connection opened")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logging.RecoverGoRoutine(c.logger, "conn_write_loop", func(context.Context) {
			c.writeLoop(s.cfg.Connection)
		})(c.Context())
	}()

	grace := time.AfterFunc(s.cfg.Auth.GracePeriod(), func() {
		if c.Claims() == nil {
			authOutcomes.WithLabelValues("grace_expired").Inc()
			c.logger.Info().Msg("connection did not authenticate in time")
			c.close(ClosePolicyViolation, "authentication required")
		}
	})

	code := s.readLoop(c)

	grace.Stop()
	s.registry.Unregister(c.ID())
	c.clearDetails()
	c.setSession("")
	c.close(CloseNormalClosure, "")
	for _, o := range s.observers {
		o.ConnectionClosed(c.ID())
	}
	connectionsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	c.logger.Debug().
		Int(logging.FieldCloseCode, code).
		Dur(logging.FieldDuration, time.Since(c.opened)).
		Msg("connection closed")
}

// readLoop handles frames in arrival order until the socket fails. It
// returns the peer's close code, or CloseGoingAway for other read errors.
func (s *Server) readLoop(c *Conn) int {
	cfg := s.cfg.Connection
	pongWait := 2 * cfg.PingInterval()

	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Debug().
					Int(logging.FieldCloseCode, closeErr.Code).
					Str("close_text", closeErr.Text).
					Msg("connection closed by peer")
				return closeErr.Code
			}
			if !c.closed.Load() {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			return CloseGoingAway
		}

		s.handleFrame(c, data)

		// Handling may have waited on the gateway; restart the read window.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *Server) handleFrame(c *Conn, data []byte) {
	_ = logging.RecoverWithLogger(c.logger, logging.ComponentHandler, "handle_frame", func() error {
		s.handler.Handle(c.Context(), c, data)
		return nil
	})
}
