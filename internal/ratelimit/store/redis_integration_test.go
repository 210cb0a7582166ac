//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/internal/ratelimit/models"
	"custody/internal/ratelimit/store"
	"custody/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestSlidingWindow() {
	ctx := context.Background()
	limit := models.Limit{Requests: 2, Window: time.Minute}
	key := models.Key(models.ClassWrite, "caller:0x01")

	first, err := s.store.Allow(ctx, key, limit)
	s.Require().NoError(err)
	s.True(first.Allowed)
	s.Equal(1, first.Remaining)

	second, err := s.store.Allow(ctx, key, limit)
	s.Require().NoError(err)
	s.True(second.Allowed)
	s.Zero(second.Remaining)

	denied, err := s.store.Allow(ctx, key, limit)
	s.Require().NoError(err)
	s.False(denied.Allowed)
	s.Positive(denied.RetryAfter)
	s.LessOrEqual(denied.RetryAfter, time.Minute)

	ttl, err := s.redis.Client.PTTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Positive(ttl, "window key expires")

	s.Require().NoError(s.store.Reset(ctx, key))
	again, err := s.store.Allow(ctx, key, limit)
	s.Require().NoError(err)
	s.True(again.Allowed)
}

func (s *RedisStoreSuite) TestWindowExpires() {
	ctx := context.Background()
	limit := models.Limit{Requests: 1, Window: 200 * time.Millisecond}
	key := models.Key(models.ClassRead, "ip:10.0.0.1")

	result, err := s.store.Allow(ctx, key, limit)
	s.Require().NoError(err)
	s.True(result.Allowed)

	s.Eventually(func() bool {
		result, err := s.store.Allow(ctx, key, limit)
		return err == nil && result.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}
