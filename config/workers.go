package config

import "time"

// IngestConfig tunes the event ingest pipeline.
type IngestConfig struct {
	// ResolveConcurrency bounds concurrent side-record lookups across all
	// detail populations (ingest and get_result_details).
	// Default: 16
	ResolveConcurrency int `yaml:"resolve_concurrency,omitempty"`

	// ActivityWorkers bounds concurrent activity record writes.
	// Default: 4
	ActivityWorkers int `yaml:"activity_workers,omitempty"`

	// PopulateTimeoutSeconds bounds one detail population.
	// Default: 10
	PopulateTimeoutSeconds int `yaml:"populate_timeout_seconds,omitempty"`
}

// PopulateTimeout returns PopulateTimeoutSeconds as a duration.
func (c IngestConfig) PopulateTimeout() time.Duration {
	return time.Duration(c.PopulateTimeoutSeconds) * time.Second
}

// DefaultIngestConfig returns the default ingest tuning.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ResolveConcurrency:     16,
		ActivityWorkers:        4,
		PopulateTimeoutSeconds: 10,
	}
}

// PresenceConfig controls the Redis presence heartbeat.
type PresenceConfig struct {
	// Enabled writes relay-instance and connection presence keys.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// TTLSeconds is the expiry set on every presence key.
	// Default: 31
	TTLSeconds int `yaml:"ttl_seconds,omitempty"`

	// RefreshIntervalSeconds is how often presence keys are rewritten.
	// Must be shorter than TTLSeconds.
	// Default: 30
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds,omitempty"`
}

// TTL returns TTLSeconds as a duration.
func (c PresenceConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RefreshInterval returns RefreshIntervalSeconds as a duration.
func (c PresenceConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// DefaultPresenceConfig returns the default presence settings.
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		Enabled:                true,
		TTLSeconds:             31,
		RefreshIntervalSeconds: 30,
	}
}
