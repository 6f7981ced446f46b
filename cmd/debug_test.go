//go:build test

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/RAPD/rapd-relay/testutil"
	"github.com/RAPD/rapd-relay/transport"
)

type DebugSuite struct {
	testutil.RedisTestSuite
}

func TestDebugSuite(t *testing.T) {
	suite.Run(t, new(DebugSuite))
}

func (s *DebugSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()
	debugConfigPath = ""
	debugNATSURL = ""
	debugRedisURL = "redis://" + s.MiniRedis.Addr()
	debugChannel = "RAPD_TEST"
}

func (s *DebugSuite) envelopeFile(data []byte) string {
	path := filepath.Join(s.T().TempDir(), "envelope.json")
	s.Require().NoError(os.WriteFile(path, data, 0o600))
	return path
}

func (s *DebugSuite) subscribe() <-chan []byte {
	got := make(chan []byte, 1)
	pubsub := s.RedisClient.Subscribe(s.Ctx, "RAPD_TEST")
	s.T().Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(s.Ctx)
	s.Require().NoError(err)
	go func() {
		msg, ok := <-pubsub.Channel()
		if ok {
			got <- []byte(msg.Payload)
		}
	}()
	return got
}

func (s *DebugSuite) TestPublishCompressed() {
	got := s.subscribe()
	envelope := testutil.NewEnvelopeBuilder(1).Bytes()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(publishEnvelope(ctx, s.envelopeFile(envelope), true, false))

	select {
	case payload := <-got:
		s.Require().True(transport.IsCompressed(payload))
		plain, err := transport.MaybeDecompress(payload)
		s.Require().NoError(err)
		s.Require().JSONEq(string(envelope), string(plain))
	case <-time.After(2 * time.Second):
		s.Fail("envelope not published")
	}
}

func (s *DebugSuite) TestPublishRejectsMalformedUnlessForced() {
	path := s.envelopeFile([]byte(`{"_id":"x","command":"INTEGRATE"}`))
	ctx := context.Background()

	s.Require().ErrorContains(publishEnvelope(ctx, path, false, false), "does not decode")
	s.Require().NoError(publishEnvelope(ctx, path, false, true))
}

func (s *DebugSuite) TestListPresence() {
	kb := s.RedisClient.KB()
	s.Require().NoError(s.RedisClient.Set(s.Ctx, kb.ServerKey("relay-1"), "host-a", 31*time.Second).Err())
	s.Require().NoError(s.RedisClient.Set(s.Ctx, kb.ConnectionKey("c-1"), "sess-1", 31*time.Second).Err())

	s.Require().NoError(listPresence(s.Ctx, s.RedisClient))
}
