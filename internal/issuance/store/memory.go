// Package store implements issuance persistence in memory, on PostgreSQL,
// and the frozen-account set in memory and on Redis.
package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/issuance/models"
	"custody/internal/issuance/ports"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

// InMemoryStore serializes transactions behind one lock and stages their
// writes until fn succeeds.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.TokenRequest
	order    []domain.RequestID
	escrow   map[common.Address]*big.Int
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[domain.RequestID]*models.TokenRequest),
		escrow:   make(map[common.Address]*big.Int),
	}
}

func (s *InMemoryStore) Request(_ context.Context, id domain.RequestID) (*models.TokenRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) TemporaryBalance(_ context.Context, account common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Copy(s.escrow[account]), nil
}

func (s *InMemoryStore) ListRequests(_ context.Context, filter models.RequestFilter) ([]*models.TokenRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TokenRequest
	for _, id := range s.order {
		if r := s.requests[id]; filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &staged{
		base:     s,
		requests: make(map[domain.RequestID]*models.TokenRequest),
		escrow:   make(map[common.Address]*big.Int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for _, id := range tx.created {
		s.order = append(s.order, id)
	}
	for id, r := range tx.requests {
		s.requests[id] = r
	}
	for account, amount := range tx.escrow {
		if amount.Sign() == 0 {
			delete(s.escrow, account)
			continue
		}
		s.escrow[account] = amount
	}
	return nil
}

type staged struct {
	base     *InMemoryStore
	requests map[domain.RequestID]*models.TokenRequest
	created  []domain.RequestID
	escrow   map[common.Address]*big.Int
}

func (t *staged) Request(_ context.Context, id domain.RequestID) (*models.TokenRequest, error) {
	if r, ok := t.requests[id]; ok {
		return r.Clone(), nil
	}
	if r, ok := t.base.requests[id]; ok {
		return r.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *staged) TemporaryBalance(_ context.Context, account common.Address) (*big.Int, error) {
	if v, ok := t.escrow[account]; ok {
		return domain.Copy(v), nil
	}
	return domain.Copy(t.base.escrow[account]), nil
}

func (t *staged) PutRequest(_ context.Context, r *models.TokenRequest) error {
	_, staged := t.requests[r.ID]
	_, stored := t.base.requests[r.ID]
	if !staged && !stored {
		t.created = append(t.created, r.ID)
	}
	t.requests[r.ID] = r.Clone()
	return nil
}

func (t *staged) SetTemporaryBalance(_ context.Context, account common.Address, amount *big.Int) error {
	if !domain.IsUint256(amount) {
		return sentinel.ErrInvalidState
	}
	t.escrow[account] = domain.Copy(amount)
	return nil
}
