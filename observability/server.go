package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RAPD/rapd-relay/logging"
)

// ServerConfig contains configuration for the observability server.
type ServerConfig struct {
	// MetricsEnabled enables the metrics server.
	MetricsEnabled bool `yaml:"enabled"`

	// MetricsAddr is the address for the metrics server (e.g., ":9090").
	MetricsAddr string `yaml:"addr"`

	// PprofEnabled enables the pprof server.
	PprofEnabled bool `yaml:"pprof_enabled"`

	// PprofAddr is the address for the pprof server (e.g., ":6060").
	PprofAddr string `yaml:"pprof_addr"`

	// Registry is the Prometheus gatherer to serve metrics from.
	// If nil, DefaultGatherer() is used.
	Registry prometheus.Gatherer `yaml:"-"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    ":9090",
		PprofEnabled:   false,
		PprofAddr:      ":6060",
	}
}

// ReadinessCheck is a function that returns nil if the service is ready,
// or an error describing why it is not ready.
type ReadinessCheck func(ctx context.Context) error

// Server provides observability endpoints (metrics, health, readiness and pprof).
type Server struct {
	logger         logging.Logger
	config         ServerConfig
	metricsServer  *http.Server
	metricsAddr    net.Addr
	pprofServer    *http.Server
	mu             sync.Mutex
	running        bool
	readinessCheck ReadinessCheck
}

// NewServer creates a new observability server.
func NewServer(logger logging.Logger, config ServerConfig) *Server {
	if config.PprofAddr == "" {
		config.PprofAddr = ":6060"
	}

	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		config: config,
	}
}

// Start begins serving metrics and pprof endpoints.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	startTime := time.Now()

	if s.config.MetricsEnabled {
		if err := s.startMetricsServer(ctx); err != nil {
			return err
		}
	}

	if s.config.PprofEnabled {
		s.startPprofServer(ctx)
	}

	s.running = true
	StartupDurationSeconds.WithLabelValues(logging.ComponentObservability).Set(time.Since(startTime).Seconds())

	return nil
}

// Handler returns the mux serving /metrics, /health and /ready.
func (s *Server) Handler() http.Handler {
	gatherer := s.config.Registry
	if gatherer == nil {
		gatherer = DefaultGatherer()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		check := s.readinessCheck
		s.mu.Unlock()

		if check != nil {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "Not Ready: %s", err.Error())
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})
	return mux
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.FieldAddr, s.config.MetricsAddr).Msg("failed to listen for metrics server")
		return err
	}

	s.metricsAddr = ln.Addr()
	s.metricsServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.metricsServer

	go func() {
		s.logger.Info().Str(logging.FieldAddr, ln.Addr().String()).Msg("serving metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return nil
}

func (s *Server) startPprofServer(ctx context.Context) {
	pprofMux := http.NewServeMux()
	pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
	pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.pprofServer = &http.Server{
		Addr:              s.config.PprofAddr,
		Handler:           pprofMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.pprofServer

	go func() {
		s.logger.Info().Str(logging.FieldAddr, s.config.PprofAddr).Msg("serving pprof")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("pprof server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Stop gracefully shuts down the observability servers.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastErr error
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shutdown metrics server")
			lastErr = err
		}
	}
	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shutdown pprof server")
			lastErr = err
		}
	}

	s.running = false
	s.logger.Info().Msg("observability servers stopped")

	return lastErr
}

// SetReadinessCheck sets the function /ready calls. It may be called after
// Start, once the broker subscription and Redis client exist.
func (s *Server) SetReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readinessCheck = check
}

// MetricsAddr returns the bound metrics address, or nil before Start.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
