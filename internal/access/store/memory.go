package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/access/models"
	"custody/pkg/platform/sentinel"
)

// InMemoryStore keeps memberships per role.
type InMemoryStore struct {
	mu      sync.RWMutex
	members map[models.Role]map[common.Address]models.Membership
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{members: make(map[models.Role]map[common.Address]models.Membership)}
}

func (s *InMemoryStore) Has(_ context.Context, role models.Role, principal common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[role][principal]
	return ok, nil
}

func (s *InMemoryStore) RolesOf(_ context.Context, principal common.Address) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []models.Role
	for _, role := range models.Roles() {
		if _, ok := s.members[role][principal]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// Members returns memberships of role ordered by grant time.
func (s *InMemoryStore) Members(_ context.Context, role models.Role) ([]models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Membership, 0, len(s.members[role]))
	for _, m := range s.members[role] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].Principal.Cmp(out[j].Principal) < 0
	})
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[role]), nil
}

// Add returns sentinel.ErrAlreadyExists when the principal already holds the role.
func (s *InMemoryStore) Add(_ context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[m.Role]
	if !ok {
		set = make(map[common.Address]models.Membership)
		s.members[m.Role] = set
	}
	if _, exists := set[m.Principal]; exists {
		return sentinel.ErrAlreadyExists
	}
	set[m.Principal] = m
	return nil
}

// Remove returns sentinel.ErrNotFound when the principal does not hold the role.
func (s *InMemoryStore) Remove(_ context.Context, role models.Role, principal common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[role][principal]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.members[role], principal)
	return nil
}
