package config

// RedisConfig contains Redis connection configuration. The same client serves
// the broker subscription (when broker.kind is "redis") and the presence keys.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://, redis-sentinel://, redis-cluster://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections to maintain.
	// Default: 0 (connections created on demand)
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// PoolTimeoutSeconds is how long to wait for a connection from the pool.
	// Default: 4 seconds
	PoolTimeoutSeconds int `yaml:"pool_timeout_seconds,omitempty"`

	// ConnMaxIdleTimeSeconds closes connections idle for longer than this.
	// Default: 5 minutes
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds,omitempty"`

	// Namespace configures Redis key prefixes.
	Namespace RedisNamespaceConfig `yaml:"namespace,omitempty"`
}

// RedisNamespaceConfig contains Redis key namespace/prefix configuration.
// Components use transport/redis.KeyBuilder to construct keys from this config.
type RedisNamespaceConfig struct {
	// BasePrefix is the root prefix for all Redis keys (default: "R2").
	BasePrefix string `yaml:"base_prefix,omitempty"`

	// ServerPrefix is the prefix for relay-instance presence keys (default: "WSS").
	// Full key: {BasePrefix}:{ServerPrefix}:{instanceID}
	ServerPrefix string `yaml:"server_prefix,omitempty"`

	// ConnectionPrefix is the prefix for per-connection presence keys (default: "WSC").
	// Full key: {BasePrefix}:{ConnectionPrefix}:{connID}
	ConnectionPrefix string `yaml:"connection_prefix,omitempty"`
}

// DefaultRedisNamespaceConfig returns the default namespace configuration.
// The R2:WSS / R2:WSC layout is what existing monitoring scripts scan for.
func DefaultRedisNamespaceConfig() RedisNamespaceConfig {
	return RedisNamespaceConfig{
		BasePrefix:       "R2",
		ServerPrefix:     "WSS",
		ConnectionPrefix: "WSC",
	}
}
