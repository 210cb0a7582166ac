package store

import (
	"context"
	"sync"
	"time"

	"custody/internal/ratelimit/models"
)

// InMemoryStore keeps one sliding window per key in process memory. It is
// the fallback when Redis is not configured or unreachable.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string][]time.Time), now: time.Now}
}

func (s *InMemoryStore) Allow(_ context.Context, key string, limit models.Limit) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	hits := prune(s.windows[key], now.Add(-limit.Window))

	if len(hits) >= limit.Requests {
		s.windows[key] = hits
		var resetAt time.Time
		if len(hits) > 0 {
			resetAt = hits[0].Add(limit.Window)
		} else {
			resetAt = now.Add(limit.Window)
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit.Requests,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	hits = append(hits, now)
	s.windows[key] = hits
	return &models.Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - len(hits),
		ResetAt:   hits[0].Add(limit.Window),
	}, nil
}

// Reset forgets the window for key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
