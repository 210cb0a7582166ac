// Package store persists identities and the country list, in memory and in Redis.
package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

// InMemoryStore keeps identities and the wallet index under one lock so a
// binding change is never observed half-applied.
type InMemoryStore struct {
	mu         sync.RWMutex
	identities map[domain.IdentityHash]*models.Identity
	wallets    map[common.Address]domain.IdentityHash
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		identities: make(map[domain.IdentityHash]*models.Identity),
		wallets:    make(map[common.Address]domain.IdentityHash),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, identity *models.Identity) error {
	return s.CreateBatch(ctx, []*models.Identity{identity})
}

func (s *InMemoryStore) CreateBatch(_ context.Context, identities []*models.Identity) error {
	if err := checkBatch(identities); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range identities {
		if _, ok := s.identities[identity.Hash]; ok {
			return sentinel.ErrAlreadyExists
		}
		for _, w := range identity.Wallets {
			if _, ok := s.wallets[w]; ok {
				return sentinel.ErrConflict
			}
		}
	}
	for _, identity := range identities {
		s.identities[identity.Hash] = identity.Clone()
		for _, w := range identity.Wallets {
			s.wallets[w] = identity.Hash
		}
	}
	return nil
}

func (s *InMemoryStore) FindByHash(_ context.Context, hash domain.IdentityHash) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return identity.Clone(), nil
}

func (s *InMemoryStore) FindByWallet(_ context.Context, wallet common.Address) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.wallets[wallet]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.identities[hash].Clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, hash domain.IdentityHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[hash]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, w := range identity.Wallets {
		delete(s.wallets, w)
	}
	delete(s.identities, hash)
	return nil
}

// Update applies fn to a copy of the identity and commits it when fn succeeds.
// Wallets added by fn must be unbound; wallets it drops are unbound.
func (s *InMemoryStore) Update(_ context.Context, hash domain.IdentityHash, fn func(*models.Identity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.identities[hash]
	if !ok {
		return sentinel.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Hash = hash

	added, removed := diffWallets(current.Wallets, next.Wallets)
	for _, w := range added {
		if owner, ok := s.wallets[w]; ok && owner != hash {
			return sentinel.ErrConflict
		}
	}
	for _, w := range removed {
		delete(s.wallets, w)
	}
	for _, w := range added {
		s.wallets[w] = hash
	}
	s.identities[hash] = next
	return nil
}

// checkBatch rejects hashes or wallets repeated inside one batch.
func checkBatch(identities []*models.Identity) error {
	hashes := make(map[domain.IdentityHash]struct{}, len(identities))
	wallets := make(map[common.Address]struct{})
	for _, identity := range identities {
		if _, dup := hashes[identity.Hash]; dup {
			return sentinel.ErrAlreadyExists
		}
		hashes[identity.Hash] = struct{}{}
		for _, w := range identity.Wallets {
			if _, dup := wallets[w]; dup {
				return sentinel.ErrConflict
			}
			wallets[w] = struct{}{}
		}
	}
	return nil
}

func diffWallets(before, after []common.Address) (added, removed []common.Address) {
	old := make(map[common.Address]struct{}, len(before))
	for _, w := range before {
		old[w] = struct{}{}
	}
	now := make(map[common.Address]struct{}, len(after))
	for _, w := range after {
		now[w] = struct{}{}
		if _, ok := old[w]; !ok {
			added = append(added, w)
		}
	}
	for _, w := range before {
		if _, ok := now[w]; !ok {
			removed = append(removed, w)
		}
	}
	return added, removed
}
