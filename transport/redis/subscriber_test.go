//go:build test

package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/RAPD/rapd-relay/config"
	"github.com/RAPD/rapd-relay/testutil"
	"github.com/RAPD/rapd-relay/transport"
	redisutil "github.com/RAPD/rapd-relay/transport/redis"
)

type SubscriberSuite struct {
	testutil.RedisTestSuite
}

func TestSubscriberSuite(t *testing.T) {
	suite.Run(t, new(SubscriberSuite))
}

// channel is unique per test so a subscription still closing from an earlier
// test never counts towards this one.
func (s *SubscriberSuite) channel() string {
	return "RAPD_RESULTS:" + s.T().Name()
}

type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(_ context.Context, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func (s *SubscriberSuite) TestDeliversInArrivalOrder() {
	sub := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()})
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(ctx, c.handle)
	}()

	s.WaitForSubscribers(s.channel(), 1)
	s.Require().Eventually(sub.Healthy, time.Second, 10*time.Millisecond)

	s.Publish(s.channel(), []byte("one"))
	s.Publish(s.channel(), []byte("two"))
	s.Publish(s.channel(), []byte("three"))
	s.Publish("OTHER", []byte("ignored"))

	s.Require().Eventually(func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	s.Require().Equal([]string{"one", "two", "three"}, c.snapshot())

	s.Require().NoError(sub.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("Run did not return after Close")
	}
	s.Require().False(sub.Healthy())
}

func (s *SubscriberSuite) TestPublisherRoundTrip() {
	sub := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()})
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	c := &collector{}
	go sub.Run(ctx, c.handle)
	s.WaitForSubscribers(s.channel(), 1)

	pub := redisutil.NewChannelPublisher(zerolog.Nop(), s.RedisClient, s.channel())
	s.Require().NoError(pub.Publish(s.Ctx, []byte(`{"command":"ECHO"}`)))

	s.Require().Eventually(func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(pub.Close())
	s.Require().Error(pub.Publish(s.Ctx, []byte("late")))
}

func (s *SubscriberSuite) TestResubscribesAfterRedisRestart() {
	sub := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()}).
		WithBackoff(10*time.Millisecond, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	c := &collector{}
	go sub.Run(ctx, c.handle)
	s.WaitForSubscribers(s.channel(), 1)

	s.MiniRedis.Close()
	s.Require().NoError(s.MiniRedis.Restart())

	s.WaitForSubscribers(s.channel(), 1)
	s.Publish(s.channel(), []byte("after-restart"))
	s.Require().Eventually(func() bool {
		got := c.snapshot()
		return len(got) == 1 && got[0] == "after-restart"
	}, 3*time.Second, 10*time.Millisecond)
	s.Require().NoError(sub.Close())
}

func (s *SubscriberSuite) TestReplacementSubscriberReceives() {
	first := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()})
	done := make(chan struct{})
	go func() {
		defer close(done)
		first.Run(s.Ctx, func(context.Context, []byte) {})
	}()
	s.WaitForSubscribers(s.channel(), 1)
	s.Require().NoError(first.Close())
	<-done
	s.WaitForNoSubscribers()

	second := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()})
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	c := &collector{}
	go second.Run(ctx, c.handle)
	s.WaitForSubscribers(s.channel(), 1)

	s.Publish(s.channel(), []byte("for-second"))
	s.Require().Eventually(func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Require().NoError(second.Close())
}

func (s *SubscriberSuite) TestRunAfterCloseReturns() {
	sub := redisutil.NewChannelSubscriber(zerolog.Nop(), s.RedisClient, transport.SubscriberConfig{Channel: s.channel()})
	s.Require().NoError(sub.Close())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(s.Ctx, func(context.Context, []byte) {})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Run should return immediately on a closed subscriber")
	}
}

func TestKeyBuilder_PresenceKeys(t *testing.T) {
	kb := redisutil.NewKeyBuilder(config.DefaultRedisNamespaceConfig())
	if got := kb.ServerKey("relay-1"); got != "R2:WSS:relay-1" {
		t.Fatalf("ServerKey = %q", got)
	}
	if got := kb.ConnectionKey("c1"); got != "R2:WSC:c1" {
		t.Fatalf("ConnectionKey = %q", got)
	}
	if got := kb.ConnectionKeyPattern(); got != "R2:WSC:*" {
		t.Fatalf("ConnectionKeyPattern = %q", got)
	}
}
