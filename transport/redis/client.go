package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RAPD/rapd-relay/config"
)

// Client wraps a Redis client with a KeyBuilder for namespace-aware key construction.
type Client struct {
	redis.UniversalClient
	keyBuilder *KeyBuilder
}

// KB returns the KeyBuilder for constructing Redis keys with configured namespaces.
//
//	key := client.KB().ConnectionKey(connID)
//	// "R2:WSC:01HV..."
func (c *Client) KB() *KeyBuilder {
	return c.keyBuilder
}

// ClientConfig contains configuration for creating a Redis client.
type ClientConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss:// (TLS), redis-sentinel://, redis-cluster://
	URL string

	// MaxRetries is the maximum number of retries before giving up.
	// Default: 3
	MaxRetries int

	// PoolSize is the maximum number of socket connections.
	// One connection is held by the broker subscription; the rest serve
	// presence refreshes and debug commands.
	// Default: 20
	PoolSize int

	MinIdleConns           int
	PoolTimeoutSeconds     int
	ConnMaxIdleTimeSeconds int

	// Namespace configures Redis key prefixes.
	// If not provided, the R2 defaults are used.
	Namespace config.RedisNamespaceConfig
}

// ClientConfigFrom maps the YAML Redis block onto a ClientConfig.
func ClientConfigFrom(cfg config.RedisConfig) ClientConfig {
	return ClientConfig{
		URL:                    cfg.URL,
		PoolSize:               cfg.PoolSize,
		MinIdleConns:           cfg.MinIdleConns,
		PoolTimeoutSeconds:     cfg.PoolTimeoutSeconds,
		ConnMaxIdleTimeSeconds: cfg.ConnMaxIdleTimeSeconds,
		Namespace:              cfg.Namespace,
	}
}

// poolOptions are the knobs shared by standalone, sentinel and cluster clients.
type poolOptions struct {
	maxRetries      int
	poolSize        int
	minIdleConns    int
	poolTimeout     time.Duration
	connMaxIdleTime time.Duration
}

func (cfg ClientConfig) poolOptions() poolOptions {
	opts := poolOptions{
		maxRetries:   cfg.MaxRetries,
		poolSize:     cfg.PoolSize,
		minIdleConns: cfg.MinIdleConns,
	}
	if opts.maxRetries <= 0 {
		opts.maxRetries = 3
	}
	if opts.poolSize <= 0 {
		opts.poolSize = 20
	}
	if cfg.PoolTimeoutSeconds > 0 {
		opts.poolTimeout = time.Duration(cfg.PoolTimeoutSeconds) * time.Second
	}
	if cfg.ConnMaxIdleTimeSeconds > 0 {
		opts.connMaxIdleTime = time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second
	}
	return opts
}

// NewClient creates a new Redis client with KeyBuilder from the configuration.
// Supports standalone, sentinel, and cluster modes based on URL scheme.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	pool := cfg.poolOptions()

	var client redis.UniversalClient
	switch u.Scheme {
	case "redis", "rediss":
		opts, parseErr := redis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", parseErr)
		}
		opts.MaxRetries = pool.maxRetries
		opts.PoolSize = pool.poolSize
		opts.MinIdleConns = pool.minIdleConns
		if pool.poolTimeout > 0 {
			opts.PoolTimeout = pool.poolTimeout
		}
		if pool.connMaxIdleTime > 0 {
			opts.ConnMaxIdleTime = pool.connMaxIdleTime
		}
		client = redis.NewClient(opts)

	case "redis-sentinel":
		client, err = newSentinelClient(u, pool)
		if err != nil {
			return nil, err
		}

	case "redis-cluster":
		client, err = newClusterClient(u, pool)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported redis URL scheme: %s", u.Scheme)
	}

	if err = client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return Wrap(client, cfg.Namespace), nil
}

// Wrap attaches a KeyBuilder to an existing client. Tests use it to wrap a
// client pointed at miniredis.
func Wrap(client redis.UniversalClient, namespace config.RedisNamespaceConfig) *Client {
	if namespace.BasePrefix == "" {
		namespace = config.DefaultRedisNamespaceConfig()
	}
	return &Client{
		UniversalClient: client,
		keyBuilder:      NewKeyBuilder(namespace),
	}
}

// newSentinelClient creates a Redis Sentinel client.
// URL format: redis-sentinel://[:password@]host1:port1,host2:port2/master_name[?db=N]
func newSentinelClient(u *url.URL, pool poolOptions) (redis.UniversalClient, error) {
	masterName := strings.TrimPrefix(u.Path, "/")
	if masterName == "" {
		return nil, fmt.Errorf("sentinel URL must include master name in path")
	}

	db := 0
	if dbStr := u.Query().Get("db"); dbStr != "" {
		var err error
		db, err = strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid db number: %w", err)
		}
	}

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:      masterName,
		SentinelAddrs:   strings.Split(u.Host, ","),
		Password:        urlPassword(u),
		DB:              db,
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}), nil
}

// newClusterClient creates a Redis Cluster client.
// URL format: redis-cluster://[:password@]host1:port1,host2:port2
func newClusterClient(u *url.URL, pool poolOptions) (redis.UniversalClient, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("cluster URL must include at least one node address")
	}

	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:           strings.Split(u.Host, ","),
		Password:        urlPassword(u),
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}), nil
}

func urlPassword(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	return password
}
