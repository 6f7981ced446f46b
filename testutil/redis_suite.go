//go:build test

package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	redisutil "github.com/RAPD/rapd-relay/transport/redis"
)

// RedisTestSuite provides a shared miniredis instance for tests.
// Embed it in a suite to get Redis setup and teardown; every test starts
// from an empty keyspace.
//
//	type PresenceSuite struct {
//	    testutil.RedisTestSuite
//	}
//
//	func TestPresenceSuite(t *testing.T) {
//	    suite.Run(t, new(PresenceSuite))
//	}
type RedisTestSuite struct {
	suite.Suite

	// MiniRedis is the embedded miniredis instance.
	// Use it to inspect TTLs or fast-forward time.
	MiniRedis *miniredis.Miniredis

	// RedisClient is the namespaced client connected to miniredis.
	RedisClient *redisutil.Client

	Ctx context.Context
}

// SetupSuite creates a single shared miniredis instance.
func (s *RedisTestSuite) SetupSuite() {
	mr, err := miniredis.Run()
	s.Require().NoError(err, "failed to create miniredis")
	s.MiniRedis = mr

	s.Ctx = context.Background()

	client, err := redisutil.NewClient(s.Ctx, redisutil.ClientConfig{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
	})
	s.Require().NoError(err, "failed to create Redis client")
	s.RedisClient = client
}

// SetupTest flushes miniredis before each test and waits for subscriptions
// left by the previous test to go away, so subscriber counts start at zero.
func (s *RedisTestSuite) SetupTest() {
	s.MiniRedis.FlushAll()
	s.WaitForNoSubscribers()
}

// WaitForNoSubscribers blocks until no pub/sub channel has a subscriber.
func (s *RedisTestSuite) WaitForNoSubscribers() {
	s.Require().Eventually(func() bool {
		channels, err := s.RedisClient.PubSubChannels(s.Ctx, "*").Result()
		return err == nil && len(channels) == 0
	}, 2*time.Second, 10*time.Millisecond, "subscriptions from a previous test are still open")
}

// TearDownSuite closes the shared miniredis instance.
func (s *RedisTestSuite) TearDownSuite() {
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}
	if s.MiniRedis != nil {
		s.MiniRedis.Close()
	}
}

// RequireKeyExists asserts that a key exists in Redis.
func (s *RedisTestSuite) RequireKeyExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(1), exists, "key %q should exist", key)
}

// RequireKeyNotExists asserts that a key does NOT exist in Redis.
func (s *RedisTestSuite) RequireKeyNotExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(0), exists, "key %q should not exist", key)
}

// GetKey returns the string value of key, or "" if it does not exist.
func (s *RedisTestSuite) GetKey(key string) string {
	val, err := s.RedisClient.Get(s.Ctx, key).Result()
	if err == redis.Nil {
		return ""
	}
	s.Require().NoError(err, "failed to get key %q", key)
	return val
}

// Keys returns all keys matching pattern.
func (s *RedisTestSuite) Keys(pattern string) []string {
	keys, err := s.RedisClient.Keys(s.Ctx, pattern).Result()
	s.Require().NoError(err, "failed to list keys")
	return keys
}

// RequireTTL asserts that key has a TTL of exactly want.
func (s *RedisTestSuite) RequireTTL(key string, want time.Duration) {
	s.Require().Equal(want, s.MiniRedis.TTL(key), "unexpected TTL for %q", key)
}

// FastForward advances miniredis time so TTLs expire.
func (s *RedisTestSuite) FastForward(d time.Duration) {
	s.MiniRedis.FastForward(d)
}

// Publish publishes payload on channel and returns the receiver count.
func (s *RedisTestSuite) Publish(channel string, payload []byte) int64 {
	n, err := s.RedisClient.Publish(s.Ctx, channel, payload).Result()
	s.Require().NoError(err, "failed to publish on %q", channel)
	return n
}

// WaitForSubscribers blocks until channel has at least n subscribers.
func (s *RedisTestSuite) WaitForSubscribers(channel string, n int) {
	s.Require().Eventually(func() bool {
		counts, err := s.RedisClient.PubSubNumSub(s.Ctx, channel).Result()
		return err == nil && counts[channel] >= int64(n)
	}, 2*time.Second, 10*time.Millisecond, "no subscriber on %q", channel)
}
