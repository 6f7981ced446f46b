package relay

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RAPD/rapd-relay/config"
	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/results"
)

// Config is the configuration for the relay service.
type Config struct {
	// ListenAddr is the address the websocket server listens on.
	// Format: "host:port" (e.g., "0.0.0.0:3005")
	ListenAddr string `yaml:"listen_addr"`

	// WSPath is the HTTP path websocket clients connect to.
	// Default: "/"
	WSPath string `yaml:"ws_path"`

	// Redis configuration, used by the redis broker and presence keys.
	Redis config.RedisConfig `yaml:"redis"`

	// Broker selects where result envelopes are consumed from.
	Broker config.BrokerConfig `yaml:"broker"`

	// Store selects the historical query gateway backend.
	Store config.StoreConfig `yaml:"store"`

	// Auth configures token verification.
	Auth AuthConfig `yaml:"auth"`

	// Connection tunes per-connection behaviour.
	Connection ConnectionConfig `yaml:"connection"`

	// Ingest tunes the event ingest pipeline.
	Ingest config.IngestConfig `yaml:"ingest"`

	// Presence controls the Redis presence heartbeat.
	Presence config.PresenceConfig `yaml:"presence"`

	// ClassFilters extends the built-in get_results class taxonomy:
	// domain -> class -> result types.
	ClassFilters results.ClassTable `yaml:"class_filters,omitempty"`

	// Metrics configuration
	Metrics config.MetricsConfig `yaml:"metrics"`

	// Pprof configuration
	Pprof config.PprofConfig `yaml:"pprof,omitempty"`

	// Logging configuration
	Logging logging.Config `yaml:"logging,omitempty"`
}

// AuthConfig configures token verification. Exactly one of Secret and
// SecretFile must be set.
type AuthConfig struct {
	// Secret is the HS256 signing secret shared with the portal login flow.
	Secret string `yaml:"secret,omitempty"`

	// SecretFile is a path to a file holding the secret; reloaded on change.
	SecretFile string `yaml:"secret_file,omitempty"`

	// VerifyTimeoutSeconds bounds a single token verification.
	// Default: 5
	VerifyTimeoutSeconds int `yaml:"verify_timeout_seconds,omitempty"`

	// GracePeriodSeconds is how long a connection may stay unauthenticated
	// before it is closed.
	// Default: 30
	GracePeriodSeconds int `yaml:"grace_period_seconds,omitempty"`
}

// VerifyTimeout returns VerifyTimeoutSeconds as a duration.
func (c AuthConfig) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}

// GracePeriod returns GracePeriodSeconds as a duration.
func (c AuthConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// ConnectionConfig tunes per-connection behaviour.
type ConnectionConfig struct {
	// OutboundQueueSize caps queued frames per connection; the oldest frame
	// is dropped on overflow.
	// Default: 256
	OutboundQueueSize int `yaml:"outbound_queue_size,omitempty"`

	// PingIntervalSeconds is the websocket ping control frame period.
	// The read deadline is twice this value.
	// Default: 25
	PingIntervalSeconds int `yaml:"ping_interval_seconds,omitempty"`

	// KeepaliveIntervalSeconds is the period of the literal "ping" text frame.
	// 0 disables it.
	// Default: 45
	KeepaliveIntervalSeconds int `yaml:"keepalive_interval_seconds,omitempty"`

	// WriteTimeoutSeconds bounds a single frame write.
	// Default: 10
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds,omitempty"`

	// MaxMessageBytes caps the size of a client frame.
	// Default: 1048576
	MaxMessageBytes int64 `yaml:"max_message_bytes,omitempty"`

	// RequestTimeoutSeconds bounds gateway calls made for one client request.
	// Default: 15
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`
}

// PingInterval returns PingIntervalSeconds as a duration.
func (c ConnectionConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// KeepaliveInterval returns KeepaliveIntervalSeconds as a duration.
func (c ConnectionConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalSeconds) * time.Second
}

// WriteTimeout returns WriteTimeoutSeconds as a duration.
func (c ConnectionConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c ConnectionConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DefaultConnectionConfig returns production connection defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		OutboundQueueSize:        256,
		PingIntervalSeconds:      25,
		KeepaliveIntervalSeconds: 45,
		WriteTimeoutSeconds:      10,
		MaxMessageBytes:          1 << 20,
		RequestTimeoutSeconds:    15,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	ns := config.DefaultRedisNamespaceConfig()
	return Config{
		ListenAddr: "0.0.0.0:3005",
		WSPath:     "/",
		Redis: config.RedisConfig{
			URL:       "redis://localhost:6379",
			Namespace: ns,
		},
		Broker: config.BrokerConfig{
			Kind:    config.BrokerKindRedis,
			Channel: config.DefaultResultsChannel,
		},
		Store: config.StoreConfig{
			Kind:     config.StoreKindPostgres,
			MaxConns: 10,
		},
		Auth: AuthConfig{
			VerifyTimeoutSeconds: 5,
			GracePeriodSeconds:   30,
		},
		Connection: DefaultConnectionConfig(),
		Ingest:     config.DefaultIngestConfig(),
		Presence:   config.DefaultPresenceConfig(),
		Metrics: config.MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:9090",
		},
		Pprof: config.PprofConfig{
			Addr: "localhost:6060",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws_path must start with '/': %q", c.WSPath)
	}

	needsRedis := c.Broker.Kind == config.BrokerKindRedis || c.Presence.Enabled
	if needsRedis {
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required")
		}
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis.url: %w", err)
		}
	}

	switch c.Broker.Kind {
	case config.BrokerKindRedis:
	case config.BrokerKindNATS:
		if c.Broker.NATSURL == "" {
			return fmt.Errorf("broker.nats_url is required when broker.kind is %q", config.BrokerKindNATS)
		}
	default:
		return fmt.Errorf("invalid broker.kind: %q", c.Broker.Kind)
	}
	if c.Broker.Channel == "" {
		return fmt.Errorf("broker.channel is required")
	}

	switch c.Store.Kind {
	case config.StoreKindMemory:
	case config.StoreKindPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required when store.kind is %q", config.StoreKindPostgres)
		}
	default:
		return fmt.Errorf("invalid store.kind: %q", c.Store.Kind)
	}

	if (c.Auth.Secret == "") == (c.Auth.SecretFile == "") {
		return fmt.Errorf("exactly one of auth.secret and auth.secret_file must be set")
	}
	if c.Auth.VerifyTimeoutSeconds <= 0 {
		return fmt.Errorf("auth.verify_timeout_seconds must be positive")
	}
	if c.Auth.GracePeriodSeconds <= 0 {
		return fmt.Errorf("auth.grace_period_seconds must be positive")
	}

	if c.Connection.OutboundQueueSize <= 0 {
		return fmt.Errorf("connection.outbound_queue_size must be positive")
	}
	if c.Connection.PingIntervalSeconds <= 0 {
		return fmt.Errorf("connection.ping_interval_seconds must be positive")
	}
	if c.Connection.KeepaliveIntervalSeconds < 0 {
		return fmt.Errorf("connection.keepalive_interval_seconds must not be negative")
	}
	if c.Connection.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.write_timeout_seconds must be positive")
	}
	if c.Connection.MaxMessageBytes <= 0 {
		return fmt.Errorf("connection.max_message_bytes must be positive")
	}
	if c.Connection.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.request_timeout_seconds must be positive")
	}

	if c.Ingest.ResolveConcurrency <= 0 || c.Ingest.ActivityWorkers <= 0 {
		return fmt.Errorf("ingest.resolve_concurrency and ingest.activity_workers must be positive")
	}

	if c.Presence.Enabled && c.Presence.RefreshIntervalSeconds >= c.Presence.TTLSeconds {
		return fmt.Errorf("presence.refresh_interval_seconds (%d) must be shorter than presence.ttl_seconds (%d)",
			c.Presence.RefreshIntervalSeconds, c.Presence.TTLSeconds)
	}

	return nil
}

// Classes returns the built-in class taxonomy extended with ClassFilters.
func (c *Config) Classes() results.ClassTable {
	return results.DefaultClassTable().Merge(c.ClassFilters)
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
