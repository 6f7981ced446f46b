//go:build test

package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/logging"
)

func testLogger() logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Async = false
	return logging.NewLoggerFromConfig(cfg)
}

func TestDefaultServerConfig(t *testing.T) {
	config := DefaultServerConfig()
	require.True(t, config.MetricsEnabled)
	require.Equal(t, ":9090", config.MetricsAddr)
	require.False(t, config.PprofEnabled)
	require.Equal(t, ":6060", config.PprofAddr)
}

func TestServer_Start_Stop(t *testing.T) {
	server := NewServer(testLogger(), ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    "127.0.0.1:0",
		Registry:       prometheus.NewRegistry(),
	})
	require.False(t, server.IsRunning())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, server.Start(ctx))
	require.True(t, server.IsRunning())
	require.NotNil(t, server.MetricsAddr())

	// Starting twice is a no-op.
	require.NoError(t, server.Start(ctx))

	require.NoError(t, server.Stop())
	require.False(t, server.IsRunning())
}

func TestServer_Stop_NotRunning(t *testing.T) {
	server := NewServer(testLogger(), DefaultServerConfig())
	require.NoError(t, server.Stop())
}

func TestServer_MetricsDisabled(t *testing.T) {
	server := NewServer(testLogger(), ServerConfig{Registry: prometheus.NewRegistry()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, server.Start(ctx))
	defer func() { _ = server.Stop() }()
	require.True(t, server.IsRunning())
	require.Nil(t, server.MetricsAddr())
}

func TestServer_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	registry.MustRegister(counter)
	counter.Inc()

	server := NewServer(testLogger(), ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    "127.0.0.1:0",
		Registry:       registry,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	defer func() { _ = server.Stop() }()

	base := fmt.Sprintf("http://%s", server.MetricsAddr().String())

	resp, err := makeHTTPRequest(t, base+"/health", 10)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", readResponseBody(t, resp))

	resp, err = makeHTTPRequest(t, base+"/metrics", 10)
	require.NoError(t, err)
	require.Contains(t, readResponseBody(t, resp), "test_counter 1")

	resp, err = makeHTTPRequest(t, base+"/ready", 10)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = readResponseBody(t, resp)
}

func TestServer_ReadinessCheck(t *testing.T) {
	server := NewServer(testLogger(), ServerConfig{Registry: prometheus.NewRegistry()})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	server.SetReadinessCheck(func(ctx context.Context) error {
		return errors.New("broker subscription down")
	})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "broker subscription down")
}

func TestRelayRegistry_GathersFactoryMetrics(t *testing.T) {
	ErrorsTotal.WithLabelValues("test", "probe").Inc()

	families, err := RelayRegistry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "rapd_observability_errors_total" {
			found = true
		}
	}
	require.True(t, found, "errors_total should be registered on RelayRegistry")
}

func makeHTTPRequest(t *testing.T, url string, maxRetries int) (*http.Response, error) {
	t.Helper()
	var resp *http.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		resp, err = http.Get(url)
		if err == nil {
			return resp, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

func readResponseBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
