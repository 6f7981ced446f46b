//go:build test

package nats

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/transport"
)

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(zerolog.Nop(), "", transport.SubscriberConfig{Channel: "RAPD_RESULTS"})
	require.Error(t, err)

	_, err = NewSubscriber(zerolog.Nop(), "nats://127.0.0.1:4222", transport.SubscriberConfig{})
	require.Error(t, err)
}

func TestSubscriber_UnreachableServerStaysUnhealthy(t *testing.T) {
	// Port 1 is never a NATS server; Run keeps retrying with backoff.
	sub, err := NewSubscriber(zerolog.Nop(), "nats://127.0.0.1:1", transport.SubscriberConfig{Channel: "RAPD_RESULTS"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(ctx, func(context.Context, []byte) {})
	}()

	require.Never(t, sub.Healthy, 200*time.Millisecond, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscriber_CloseBeforeRun(t *testing.T) {
	sub, err := NewSubscriber(zerolog.Nop(), "nats://127.0.0.1:1", transport.SubscriberConfig{Channel: "RAPD_RESULTS"})
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(context.Background(), func(context.Context, []byte) {})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return on a closed subscriber")
	}
}

func TestSubscriber_RetriesFailedConnectWithBackoff(t *testing.T) {
	// A listener that hangs up on every connection fails each NATS handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var attempts atomic.Int64
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			attempts.Add(1)
			_ = conn.Close()
		}
	}()

	sub, err := NewSubscriber(zerolog.Nop(), "nats://"+ln.Addr().String(), transport.SubscriberConfig{Channel: "RAPD_RESULTS"})
	require.NoError(t, err)
	sub.WithBackoff(10*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(ctx, func(context.Context, []byte) {})
	}()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	require.False(t, sub.Healthy())

	require.NoError(t, sub.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	cancel()
}
