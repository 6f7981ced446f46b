package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/RAPD/rapd-relay/auth"
	"github.com/RAPD/rapd-relay/binding"
	"github.com/RAPD/rapd-relay/config"
	"github.com/RAPD/rapd-relay/ingest"
	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/observability"
	"github.com/RAPD/rapd-relay/presence"
	"github.com/RAPD/rapd-relay/relay"
	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/store"
	"github.com/RAPD/rapd-relay/store/memory"
	"github.com/RAPD/rapd-relay/store/postgres"
	"github.com/RAPD/rapd-relay/transport"
	natstransport "github.com/RAPD/rapd-relay/transport/nats"
	redistransport "github.com/RAPD/rapd-relay/transport/redis"
)

const (
	flagConfig     = "config"
	flagRedisURL   = "redis-url"
	flagListenAddr = "listen-addr"

	shutdownTimeout = 30 * time.Second
)

// ServeCmd returns the command that runs the relay.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket result relay",
		Long: `Run the real-time result relay.

The relay subscribes to the result channel of the processing pipeline and
pushes new results to every websocket client watching the matching session,
and detail records to clients subscribed to a result.

Example:
  rapd-relay serve --config /etc/rapd/relay.yaml --redis-url redis://localhost:6379
`,
		RunE: runServe,
	}

	cmd.Flags().String(flagConfig, "", "Path to relay config file (required)")
	cmd.Flags().String(flagRedisURL, "", "Redis connection URL (overrides redis.url)")
	cmd.Flags().String(flagListenAddr, "", "Websocket listen address (overrides listen_addr)")
	_ = cmd.MarkFlagRequired(flagConfig)

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	configPath, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := relay.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed(flagRedisURL) {
		cfg.Redis.URL, _ = cmd.Flags().GetString(flagRedisURL)
	}
	if cmd.Flags().Changed(flagListenAddr) {
		cfg.ListenAddr, _ = cmd.Flags().GetString(flagListenAddr)
	}

	logger := logging.NewLoggerFromConfig(cfg.Logging)
	instanceID := ulid.Make().String()
	logger = logging.WithRelayInstance(logger, instanceID)

	obsServer := observability.NewServer(logger, observability.ServerConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddr:    cfg.Metrics.Addr,
		PprofEnabled:   cfg.Pprof.Enabled,
		PprofAddr:      cfg.Pprof.Addr,
		Registry:       observability.RelayRegistry,
	})
	if err := obsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	defer func() { _ = obsServer.Stop() }()

	// Redis carries the default broker and the presence keys.
	var redisClient *redistransport.Client
	if cfg.Broker.Kind == config.BrokerKindRedis || cfg.Presence.Enabled {
		redisClient, err = redistransport.NewClient(ctx, redistransport.ClientConfigFrom(cfg.Redis))
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		logger.Info().Str(logging.FieldAddr, cfg.Redis.URL).Msg("connected to Redis")
	}

	backend, err := openStore(ctx, logger, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	verifier, closeSecret, err := buildVerifier(ctx, logger, cfg.Auth)
	if err != nil {
		return err
	}
	defer closeSecret()

	resolvePool := pond.NewPool(cfg.Ingest.ResolveConcurrency)
	defer resolvePool.StopAndWait()
	activityPool := pond.NewPool(cfg.Ingest.ActivityWorkers)
	defer activityPool.StopAndWait()

	bindings := binding.NewCache(logger, backend)
	populator := results.NewPopulator(logger, backend, bindings, resolvePool, cfg.Ingest.PopulateTimeout())

	registry := relay.NewRegistry(logger)
	router := relay.NewRouter(logger, registry)
	handler := relay.NewHandler(logger, relay.HandlerDeps{
		Verifier:       verifier,
		Gateway:        backend,
		Bindings:       bindings,
		Populator:      populator,
		Classes:        cfg.Classes(),
		Activities:     relay.NewActivityRecorder(logger, backend, activityPool),
		RequestTimeout: cfg.Connection.RequestTimeout(),
	})

	var observers []relay.ConnectionObserver
	if cfg.Presence.Enabled {
		hostname, _ := os.Hostname()
		tracker := presence.NewTracker(logger, redisClient, instanceID, hostname, registry, cfg.Presence)
		if err := tracker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start presence tracker: %w", err)
		}
		defer func() { _ = tracker.Close() }()
		observers = append(observers, tracker)

		memoryMonitor := presence.NewMemoryMonitor(logger, redisClient, presence.DefaultMemoryCheckInterval)
		if err := memoryMonitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis memory monitor: %w", err)
		}
		defer func() { _ = memoryMonitor.Close() }()
	}

	subscriber, err := buildSubscriber(logger, cfg.Broker, redisClient)
	if err != nil {
		return err
	}
	ingester := ingest.NewIngester(logger, subscriber, router, populator, bindings)
	if err := ingester.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event ingest: %w", err)
	}

	server := relay.NewServer(logger, *cfg, registry, handler, observers...)
	if err := server.Start(); err != nil {
		_ = ingester.Close()
		return err
	}

	obsServer.SetReadinessCheck(func(ctx context.Context) error {
		if !ingester.Healthy() {
			return errors.New("broker subscription is down")
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
		}
		return backend.Ping(ctx)
	})

	logger.Info().
		Str(logging.FieldListenAddr, server.Addr().String()).
		Str(logging.FieldBroker, cfg.Broker.Kind).
		Str(logging.FieldChannel, cfg.Broker.Channel).
		Str(logging.FieldStore, cfg.Store.Kind).
		Bool("presence", cfg.Presence.Enabled).
		Msg("rapd relay started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received, stopping relay...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop ingest first so nothing is routed to connections being closed.
	_ = ingester.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("websocket server did not stop cleanly")
	}

	logger.Info().Msg("rapd relay stopped")
	return nil
}

func openStore(ctx context.Context, logger logging.Logger, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Kind {
	case config.StoreKindMemory:
		logger.Warn().Msg("using in-memory store; results are not persisted")
		return memory.New(), nil
	case config.StoreKindPostgres:
		return postgres.Connect(ctx, logger, cfg.PostgresURL, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// buildVerifier returns the token verifier and a func releasing the secret
// file watcher, if any.
func buildVerifier(ctx context.Context, logger logging.Logger, cfg relay.AuthConfig) (auth.Verifier, func(), error) {
	opts := []auth.JWTVerifierOption{auth.WithTimeout(cfg.VerifyTimeout())}

	if cfg.SecretFile == "" {
		return auth.NewJWTVerifier(logger, auth.StaticSecret(cfg.Secret), opts...), func() {}, nil
	}

	secret, err := auth.NewSecretFile(logger, cfg.SecretFile)
	if err != nil {
		return nil, nil, err
	}
	go logging.RecoverGoRoutine(logger, "secret_file_watch", secret.Watch)(ctx)
	return auth.NewJWTVerifier(logger, secret, opts...), func() { _ = secret.Close() }, nil
}

func buildSubscriber(logger logging.Logger, cfg config.BrokerConfig, redisClient *redistransport.Client) (transport.Subscriber, error) {
	subCfg := transport.SubscriberConfig{Channel: cfg.Channel}
	switch cfg.Kind {
	case config.BrokerKindRedis:
		sub := redistransport.NewChannelSubscriber(logger, redisClient, subCfg)
		if base, max := cfg.ReconnectBackoff(); base > 0 {
			sub.WithBackoff(base, max)
		}
		return sub, nil
	case config.BrokerKindNATS:
		sub, err := natstransport.NewSubscriber(logger, cfg.NATSURL, subCfg)
		if err != nil {
			return nil, err
		}
		if base, max := cfg.ReconnectBackoff(); base > 0 {
			sub.WithBackoff(base, max)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}
