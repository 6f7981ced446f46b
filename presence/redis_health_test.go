package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/config"
	redisutil "github.com/RAPD/rapd-relay/transport/redis"
)

func TestParseMemoryInfo(t *testing.T) {
	tests := []struct {
		name     string
		info     string
		wantUsed int64
		wantMax  int64
		wantErr  bool
	}{
		{
			name: "limit configured",
			info: "# Memory\r\n" +
				"used_memory:1073741824\r\n" +
				"used_memory_human:1.00G\r\n" +
				"maxmemory:2147483648\r\n" +
				"maxmemory_policy:noeviction\r\n",
			wantUsed: 1073741824,
			wantMax:  2147483648,
		},
		{
			name:     "no limit",
			info:     "# Memory\r\nused_memory:524288000\r\nmaxmemory:0\r\n",
			wantUsed: 524288000,
		},
		{name: "empty", info: ""},
		{name: "garbage used_memory", info: "used_memory:lots\r\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, max, err := parseMemoryInfo(tt.info)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUsed, used)
			require.Equal(t, tt.wantMax, max)
		})
	}
}

func TestMemoryMonitorLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := redisutil.NewClient(ctx, redisutil.ClientConfig{
		URL:       "redis://" + mr.Addr(),
		Namespace: config.DefaultRedisNamespaceConfig(),
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	monitor := NewMemoryMonitor(zerolog.Nop(), client, 10*time.Millisecond)
	require.NoError(t, monitor.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, monitor.Close())
	require.NoError(t, monitor.Close())
}
