package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RAPD/rapd-relay/config"
	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/relay"
	"github.com/RAPD/rapd-relay/transport"
	natstransport "github.com/RAPD/rapd-relay/transport/nats"
	redistransport "github.com/RAPD/rapd-relay/transport/redis"
)

// Global flags for debug subcommands
var (
	debugConfigPath string
	debugRedisURL   string
	debugNATSURL    string
	debugChannel    string
)

// DebugCmd returns the debug command for inspecting a running deployment.
func DebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect and exercise a running relay deployment",
		Long: `Debug tooling for operators.

  publish  - publish a result envelope onto the result channel
  watch    - print envelopes arriving on the result channel
  presence - list live relay instances and client connections

Broker and namespace settings are read from --config when given; the
--redis, --nats and --channel flags override them.`,
	}

	cmd.PersistentFlags().StringVar(&debugConfigPath, "config", "", "Relay config file to read broker and Redis settings from")
	cmd.PersistentFlags().StringVar(&debugRedisURL, "redis", "", "Redis connection URL")
	cmd.PersistentFlags().StringVar(&debugNATSURL, "nats", "", "NATS server URL (selects the NATS broker)")
	cmd.PersistentFlags().StringVar(&debugChannel, "channel", "", "Result channel or subject name")

	cmd.AddCommand(debugPublishCmd())
	cmd.AddCommand(debugWatchCmd())
	cmd.AddCommand(debugPresenceCmd())

	return cmd
}

// debugSettings resolves broker and Redis settings from the optional config
// file and the override flags.
func debugSettings() (config.BrokerConfig, config.RedisConfig, error) {
	cfg := relay.DefaultConfig()
	if debugConfigPath != "" {
		loaded, err := relay.LoadConfig(debugConfigPath)
		if err != nil {
			return config.BrokerConfig{}, config.RedisConfig{}, err
		}
		cfg = *loaded
	}

	if debugRedisURL != "" {
		cfg.Redis.URL = debugRedisURL
	}
	if debugNATSURL != "" {
		cfg.Broker.Kind = config.BrokerKindNATS
		cfg.Broker.NATSURL = debugNATSURL
	}
	if debugChannel != "" {
		cfg.Broker.Channel = debugChannel
	}
	return cfg.Broker, cfg.Redis, nil
}

func debugLogger() logging.Logger {
	return logging.NewLoggerFromConfig(logging.Config{
		Level:  "info",
		Format: "text",
		Async:  false,
	})
}

func debugRedisClient(ctx context.Context, cfg config.RedisConfig) (*redistransport.Client, error) {
	client, err := redistransport.NewClient(ctx, redistransport.ClientConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.URL, err)
	}
	return client, nil
}

// debugPublisher opens a publisher on the configured broker.
func debugPublisher(ctx context.Context, logger logging.Logger) (transport.Publisher, error) {
	broker, redisCfg, err := debugSettings()
	if err != nil {
		return nil, err
	}
	if broker.Kind == config.BrokerKindNATS {
		return natstransport.NewPublisher(broker.NATSURL, broker.Channel)
	}
	client, err := debugRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	return &ownedPublisher{
		Publisher: redistransport.NewChannelPublisher(logger, client, broker.Channel),
		client:    client,
	}, nil
}

// debugSubscriber opens a subscriber on the configured broker.
func debugSubscriber(ctx context.Context, logger logging.Logger) (transport.Subscriber, func(), error) {
	broker, redisCfg, err := debugSettings()
	if err != nil {
		return nil, nil, err
	}
	subCfg := transport.SubscriberConfig{Channel: broker.Channel}
	if broker.Kind == config.BrokerKindNATS {
		sub, err := natstransport.NewSubscriber(logger, broker.NATSURL, subCfg)
		return sub, func() {}, err
	}
	client, err := debugRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, nil, err
	}
	return redistransport.NewChannelSubscriber(logger, client, subCfg), func() { _ = client.Close() }, nil
}

// ownedPublisher closes the Redis client it was created with.
type ownedPublisher struct {
	transport.Publisher
	client *redistransport.Client
}

func (p *ownedPublisher) Close() error {
	err := p.Publisher.Close()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}
