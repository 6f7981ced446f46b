//go:build test

package binding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/store"
	"github.com/RAPD/rapd-relay/store/memory"
	"github.com/RAPD/rapd-relay/testutil"
)

// countingBackend counts EnsureCollection calls and can delay or fail them.
type countingBackend struct {
	inner *memory.Store
	calls atomic.Int64
	delay time.Duration

	mu   sync.Mutex
	fail error
}

func (b *countingBackend) EnsureCollection(ctx context.Context, name string) (store.Collection, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	err := b.fail
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.inner.EnsureCollection(ctx, name)
}

func TestCollectionName(t *testing.T) {
	name, err := CollectionName("MX", "INTEGRATE")
	require.NoError(t, err)
	require.Equal(t, "mx_integrate_results", name)

	name, err = CollectionName("mx", "index+strategy")
	require.NoError(t, err)
	require.Equal(t, "mx_index+strategy_results", name)

	for _, bad := range [][2]string{{"", "integrate"}, {"mx", ""}, {"mx", "a;drop table"}, {"mx", `x"y`}, {"m x", "index"}} {
		_, err := CollectionName(bad[0], bad[1])
		require.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestCollectionName_LengthLimit(t *testing.T) {
	// "mx_" + kind + "_results" is exactly 63 bytes.
	fits := strings.Repeat("k", MaxCollectionNameLen-len("mx_")-len(CollectionSuffix))
	name, err := CollectionName("mx", fits)
	require.NoError(t, err)
	require.Len(t, name, MaxCollectionNameLen)

	// Two kinds sharing a long prefix must not map onto one truncated table.
	_, err = CollectionName("mx", fits+"a")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = CollectionName(strings.Repeat("d", 48), strings.Repeat("k", 48))
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestResolve_Memoizes(t *testing.T) {
	backend := &countingBackend{inner: memory.New()}
	c := NewCache(zerolog.Nop(), backend)
	ctx := context.Background()

	first, err := c.Resolve(ctx, "mx", "integrate")
	require.NoError(t, err)
	second, err := c.Resolve(ctx, "MX", "Integrate")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int64(1), backend.calls.Load())
	require.Equal(t, 1, c.Size())
	require.True(t, backend.inner.HasCollection("mx_integrate_results"))
}

func TestResolve_ConcurrentFirstCallsShareCreation(t *testing.T) {
	for iter := 0; iter < testutil.GetTestIterations(); iter++ {
		backend := &countingBackend{inner: memory.New(), delay: 10 * time.Millisecond}
		c := NewCache(zerolog.Nop(), backend)

		n := testutil.GetTestConcurrency()
		got := make([]store.Collection, n)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				coll, err := c.Resolve(context.Background(), "mx", "integrate")
				require.NoError(t, err)
				got[i] = coll
			}(i)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int64(1), backend.calls.Load())
		for i := 1; i < n; i++ {
			require.Same(t, got[0], got[i])
		}
	}
}

func TestResolve_FailureIsRetried(t *testing.T) {
	backend := &countingBackend{inner: memory.New(), fail: errors.New("store unavailable")}
	c := NewCache(zerolog.Nop(), backend)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "mx", "analysis")
	require.Error(t, err)
	require.Equal(t, 0, c.Size())

	backend.mu.Lock()
	backend.fail = nil
	backend.mu.Unlock()

	coll, err := c.Resolve(ctx, "mx", "analysis")
	require.NoError(t, err)
	require.Equal(t, "mx_analysis_results", coll.Name())
	require.Equal(t, int64(2), backend.calls.Load())
}

func TestResolve_WaiterHonoursContext(t *testing.T) {
	backend := &countingBackend{inner: memory.New(), delay: 200 * time.Millisecond}
	c := NewCache(zerolog.Nop(), backend)

	go func() { _, _ = c.Resolve(context.Background(), "mx", "pdbquery") }()
	require.Eventually(t, func() bool { return c.Size() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Resolve(ctx, "mx", "pdbquery")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolve_InvalidName(t *testing.T) {
	backend := &countingBackend{inner: memory.New()}
	c := NewCache(zerolog.Nop(), backend)

	_, err := c.Resolve(context.Background(), "mx", "../etc")
	require.ErrorIs(t, err, ErrInvalidName)
	require.Equal(t, int64(0), backend.calls.Load())
}
