package presence

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RAPD/rapd-relay/logging"
	redisutil "github.com/RAPD/rapd-relay/transport/redis"
)

const (
	// DefaultMemoryCheckInterval is how often INFO MEMORY is polled.
	DefaultMemoryCheckInterval = 30 * time.Second

	// memoryWarningRatio triggers a warning; presence writes start failing
	// with OOM shortly after.
	memoryWarningRatio = 0.9
)

// MemoryMonitor polls Redis INFO MEMORY and exports usage gauges. Presence
// keys and the broker subscription share the Redis instance, so memory
// pressure shows up here before it shows up as OOM write failures.
type MemoryMonitor struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	interval    time.Duration

	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewMemoryMonitor creates a MemoryMonitor. A zero interval uses
// DefaultMemoryCheckInterval.
func NewMemoryMonitor(logger logging.Logger, redisClient *redisutil.Client, interval time.Duration) *MemoryMonitor {
	if interval <= 0 {
		interval = DefaultMemoryCheckInterval
	}
	return &MemoryMonitor{
		logger:      logging.ForComponent(logger, logging.ComponentRedisHealth),
		redisClient: redisClient,
		interval:    interval,
	}
}

// Start polls immediately and then every interval.
func (m *MemoryMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	ctx, m.cancelFn = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		logging.RecoverGoRoutine(m.logger, "redis_memory_loop", m.loop)(ctx)
	}()

	m.logger.Info().Dur("interval", m.interval).Msg("redis memory monitor started")
	return nil
}

func (m *MemoryMonitor) loop(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one INFO MEMORY poll.
func (m *MemoryMonitor) Check(ctx context.Context) {
	info, err := m.redisClient.Info(ctx, "memory").Result()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to query redis INFO MEMORY")
		return
	}

	used, max, err := parseMemoryInfo(info)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to parse redis INFO MEMORY")
		return
	}

	redisUsedMemoryBytes.Set(float64(used))
	redisMaxMemoryBytes.Set(float64(max))

	if max <= 0 {
		redisMemoryUsageRatio.Set(-1)
		return
	}
	ratio := float64(used) / float64(max)
	redisMemoryUsageRatio.Set(ratio)
	if ratio > memoryWarningRatio {
		m.logger.Warn().
			Int64("used_memory_bytes", used).
			Int64("max_memory_bytes", max).
			Float64("usage_ratio", ratio).
			Msg("REDIS MEMORY HIGH - presence writes will fail with OOM soon")
	}
}

// parseMemoryInfo reads used_memory and maxmemory from INFO MEMORY output.
func parseMemoryInfo(info string) (used, max int64, err error) {
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "used_memory":
			if used, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, err
			}
		case "maxmemory":
			if max, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, err
			}
		}
	}
	return used, max, nil
}

// Close stops polling.
func (m *MemoryMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("redis memory monitor stopped")
	return nil
}
