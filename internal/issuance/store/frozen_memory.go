package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/pkg/platform/sentinel"
)

// InMemoryFrozenSet has its own lock so the transfer hook can read it while
// the request store is locked.
type InMemoryFrozenSet struct {
	mu       sync.RWMutex
	accounts map[common.Address]struct{}
}

func NewInMemoryFrozen() *InMemoryFrozenSet {
	return &InMemoryFrozenSet{accounts: make(map[common.Address]struct{})}
}

func (s *InMemoryFrozenSet) IsFrozen(_ context.Context, account common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[account]
	return ok, nil
}

func (s *InMemoryFrozenSet) Freeze(_ context.Context, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.accounts[account] = struct{}{}
	return nil
}

func (s *InMemoryFrozenSet) Unfreeze(_ context.Context, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.accounts, account)
	return nil
}

func (s *InMemoryFrozenSet) List(context.Context) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.accounts))
	for a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}
