//go:build integration

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	"custody/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis     *containers.RedisContainer
	store     *RedisStore
	countries *RedisCountryStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedis(s.redis.Client)
	s.countries = NewRedisCountries(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	first := identity(1, w1, w2)
	first.Data = "kyc-ref"
	s.Require().NoError(s.store.Create(ctx, first))

	byWallet, err := s.store.FindByWallet(ctx, w2)
	s.Require().NoError(err)
	s.Equal(first.Hash, byWallet.Hash)
	s.Equal(domain.Country(840), byWallet.Country)
	s.Equal("kyc-ref", byWallet.Data)
	s.True(first.ExpiresAt.Equal(byWallet.ExpiresAt))

	s.ErrorIs(s.store.Create(ctx, identity(1, w3)), sentinel.ErrAlreadyExists)
	s.ErrorIs(s.store.Create(ctx, identity(2, w1)), sentinel.ErrConflict, "wallet already bound")

	_, err = s.store.FindByWallet(ctx, w3)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestBatchIsAtomic() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, identity(1, w1)))

	err := s.store.CreateBatch(ctx, []*models.Identity{identity(2, w2), identity(3, w1)})
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.FindByHash(ctx, identity(2).Hash)
	s.ErrorIs(err, sentinel.ErrNotFound, "no identity from a failed batch is stored")
	_, err = s.store.FindByWallet(ctx, w2)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestUpdateRebindsAndDelete() {
	ctx := context.Background()
	first := identity(1, w1, w2)
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, identity(2, w3)))

	err := s.store.Update(ctx, first.Hash, func(i *models.Identity) error {
		i.Wallets = []common.Address{w2, w3}
		return nil
	})
	s.ErrorIs(err, sentinel.ErrConflict, "w3 belongs to another identity")

	err = s.store.Update(ctx, first.Hash, func(i *models.Identity) error {
		i.Wallets = []common.Address{w2}
		i.Country = 250
		return nil
	})
	s.Require().NoError(err)
	_, err = s.store.FindByWallet(ctx, w1)
	s.ErrorIs(err, sentinel.ErrNotFound)
	got, err := s.store.FindByWallet(ctx, w2)
	s.Require().NoError(err)
	s.Equal(domain.Country(250), got.Country)

	s.Require().NoError(s.store.Delete(ctx, first.Hash))
	_, err = s.store.FindByWallet(ctx, w2)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, first.Hash), sentinel.ErrNotFound)
}

// TestConcurrentBinding races identities for the same wallet; exactly one
// may own it.
func (s *RedisStoreSuite) TestConcurrentBinding() {
	ctx := context.Background()
	const contenders = 10

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Create(ctx, identity(byte(i+1), w1))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)

	owner, err := s.store.FindByWallet(ctx, w1)
	s.Require().NoError(err)
	s.Equal([]common.Address{w1}, owner.Wallets)
}

func (s *RedisStoreSuite) TestCountryList() {
	ctx := context.Background()

	mode, err := s.countries.Mode(ctx)
	s.Require().NoError(err)
	s.Equal(models.DefaultListMode, mode)

	s.Require().NoError(s.countries.Add(ctx, 840, 250))
	s.ErrorIs(s.countries.Add(ctx, 36, 840), sentinel.ErrAlreadyExists)

	listed, err := s.countries.Contains(ctx, 36)
	s.Require().NoError(err)
	s.False(listed, "failed batch adds nothing")

	list, err := s.countries.List(ctx)
	s.Require().NoError(err)
	s.Equal([]domain.Country{250, 840}, list)

	s.ErrorIs(s.countries.Remove(ctx, 250, 36), sentinel.ErrNotFound)
	s.Require().NoError(s.countries.Remove(ctx, 250))

	s.Require().NoError(s.countries.SetMode(ctx, models.ListModeWhitelist))
	mode, err = s.countries.Mode(ctx)
	s.Require().NoError(err)
	s.Equal(models.ListModeWhitelist, mode)
}
