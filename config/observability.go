package config

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables the metrics server.
	Enabled bool `yaml:"enabled"`

	// Addr is the address to expose /metrics, /health and /ready on.
	// Default: ":9090"
	Addr string `yaml:"addr"`
}

// PprofConfig contains pprof profiling configuration.
type PprofConfig struct {
	// Enabled enables pprof profiling server.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Addr is the address for pprof server.
	// Default: "localhost:6060"
	Addr string `yaml:"addr,omitempty"`
}
