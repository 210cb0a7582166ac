// Package store implements custody persistence in memory and on PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/custody/models"
	"custody/internal/custody/ports"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

// InMemoryStore serializes transactions behind one lock. Writes inside a
// transaction are staged in an overlay and merged only on success.
type InMemoryStore struct {
	mu       sync.RWMutex
	balances map[models.Key]models.Balance
	unstakes map[domain.RequestID]*models.Unstake
	order    []domain.RequestID
	tokens   map[common.Address]bool
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		balances: make(map[models.Key]models.Balance),
		unstakes: make(map[domain.RequestID]*models.Unstake),
		tokens:   make(map[common.Address]bool),
	}
}

func (s *InMemoryStore) Balance(_ context.Context, lender, borrower, asset common.Address) (models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance(lender, borrower, asset), nil
}

func (s *InMemoryStore) Unstake(_ context.Context, id domain.RequestID) (*models.Unstake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.unstakes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *InMemoryStore) IsTokenRegistered(_ context.Context, asset common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[asset], nil
}

// ListUnstakes returns matching requests in creation order.
func (s *InMemoryStore) ListUnstakes(_ context.Context, filter models.UnstakeFilter) ([]*models.Unstake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Unstake
	for _, id := range s.order {
		if u := s.unstakes[id]; filter.Matches(u) {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) Tokens(context.Context) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.tokens))
	for asset := range s.tokens {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &overlay{
		base:     s,
		balances: make(map[models.Key]models.Balance),
		unstakes: make(map[domain.RequestID]*models.Unstake),
		tokens:   make(map[common.Address]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k, b := range tx.balances {
		s.balances[k] = b
	}
	for _, id := range tx.created {
		s.order = append(s.order, id)
	}
	for id, u := range tx.unstakes {
		s.unstakes[id] = u
	}
	for asset, registered := range tx.tokens {
		if registered {
			s.tokens[asset] = true
		} else {
			delete(s.tokens, asset)
		}
	}
	return nil
}

func (s *InMemoryStore) balance(lender, borrower, asset common.Address) models.Balance {
	if b, ok := s.balances[models.KeyFor(lender, borrower, asset)]; ok {
		return b.Clone()
	}
	return models.NewBalance(lender, borrower, asset)
}

// overlay stages writes for one transaction. The store lock is held for its
// whole lifetime, so reads fall through to the base maps directly.
type overlay struct {
	base     *InMemoryStore
	balances map[models.Key]models.Balance
	unstakes map[domain.RequestID]*models.Unstake
	created  []domain.RequestID
	tokens   map[common.Address]bool
}

func (o *overlay) Balance(_ context.Context, lender, borrower, asset common.Address) (models.Balance, error) {
	if b, ok := o.balances[models.KeyFor(lender, borrower, asset)]; ok {
		return b.Clone(), nil
	}
	return o.base.balance(lender, borrower, asset), nil
}

func (o *overlay) Unstake(_ context.Context, id domain.RequestID) (*models.Unstake, error) {
	if u, ok := o.unstakes[id]; ok {
		return u.Clone(), nil
	}
	if u, ok := o.base.unstakes[id]; ok {
		return u.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (o *overlay) IsTokenRegistered(_ context.Context, asset common.Address) (bool, error) {
	if registered, ok := o.tokens[asset]; ok {
		return registered, nil
	}
	return o.base.tokens[asset], nil
}

func (o *overlay) PutBalance(_ context.Context, b models.Balance) error {
	if b.Available.Sign() < 0 || b.Frozen.Sign() < 0 {
		return sentinel.ErrInvalidState
	}
	o.balances[b.Key()] = b.Clone()
	return nil
}

func (o *overlay) PutUnstake(_ context.Context, u *models.Unstake) error {
	_, staged := o.unstakes[u.ID]
	_, stored := o.base.unstakes[u.ID]
	if !staged && !stored {
		o.created = append(o.created, u.ID)
	}
	o.unstakes[u.ID] = u.Clone()
	return nil
}

func (o *overlay) SetTokenRegistered(_ context.Context, asset common.Address, registered bool) error {
	o.tokens[asset] = registered
	return nil
}
