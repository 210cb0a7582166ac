package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/internal/ratelimit/models"
)

var budget = models.Limit{Requests: 3, Window: time.Minute}

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	clock time.Time
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemory()
	s.store.now = func() time.Time { return s.clock }
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestAllowUpToLimit() {
	for i := range budget.Requests {
		result, err := s.store.Allow(s.ctx, "k", budget)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(budget.Requests-i-1, result.Remaining)
		s.Equal(budget.Requests, result.Limit)
	}

	result, err := s.store.Allow(s.ctx, "k", budget)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Zero(result.Remaining)
	s.Equal(time.Minute, result.RetryAfter)
}

func (s *InMemoryStoreSuite) TestWindowSlides() {
	for range budget.Requests {
		_, err := s.store.Allow(s.ctx, "k", budget)
		s.Require().NoError(err)
		s.clock = s.clock.Add(20 * time.Second)
	}
	// the first hit is exactly one window old now and no longer counts
	result, err := s.store.Allow(s.ctx, "k", budget)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.store.Allow(s.ctx, "k", budget)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(20*time.Second, result.RetryAfter)
}

func (s *InMemoryStoreSuite) TestKeysAreIndependent() {
	for range budget.Requests {
		_, err := s.store.Allow(s.ctx, "a", budget)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "b", budget)
	s.Require().NoError(err)
	s.True(result.Allowed)

	s.Require().NoError(s.store.Reset(s.ctx, "a"))
	result, err = s.store.Allow(s.ctx, "a", budget)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryStoreSuite) TestConcurrentHitsNeverExceedLimit() {
	limit := models.Limit{Requests: 50, Window: time.Minute}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "k", limit)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(limit.Requests, allowed)
}
