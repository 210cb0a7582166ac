//go:build integration

package store_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"custody/internal/issuance/models"
	"custody/internal/issuance/ports"
	"custody/internal/issuance/store"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	"custody/pkg/testutil/containers"
)

var (
	alice   = common.HexToAddress("0x0000000000000000000000000000000000001001")
	manager = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "issuance_requests", "issuance_escrow")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) burnRequest(id byte) *models.TokenRequest {
	return &models.TokenRequest{
		ID:          domain.RequestID(common.BytesToHash([]byte{id})),
		Type:        models.RequestBurn,
		Requester:   alice,
		Account:     alice,
		Amount:      big.NewInt(200),
		Status:      models.StatusPending,
		RequestedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (s *PostgresStoreSuite) TestRequestLifecycle() {
	ctx := context.Background()
	req := s.burnRequest(1)

	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		if err := tx.PutRequest(ctx, req); err != nil {
			return err
		}
		return tx.SetTemporaryBalance(ctx, alice, req.Amount)
	}))

	got, err := s.store.Request(ctx, req.ID)
	s.Require().NoError(err)
	s.True(got.IsPending())
	s.Equal("200", got.Amount.String())
	s.True(got.FinalizedAt.IsZero())

	temp, err := s.store.TemporaryBalance(ctx, alice)
	s.Require().NoError(err)
	s.Equal("200", temp.String())

	finalized := req.Clone()
	finalized.Status = models.StatusApproved
	finalized.FinalizedBy = manager
	finalized.FinalizedAt = req.RequestedAt.Add(time.Hour)
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		if err := tx.PutRequest(ctx, finalized); err != nil {
			return err
		}
		return tx.SetTemporaryBalance(ctx, alice, domain.Zero())
	}))

	got, err = s.store.Request(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal(manager, got.FinalizedBy)
	s.True(finalized.FinalizedAt.Equal(got.FinalizedAt))

	temp, err = s.store.TemporaryBalance(ctx, alice)
	s.Require().NoError(err)
	s.Equal(0, temp.Sign())
}

func (s *PostgresStoreSuite) TestListRequestsFilters() {
	ctx := context.Background()
	mint := s.burnRequest(2)
	mint.Type = models.RequestMint
	mint.Requester = manager
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		if err := tx.PutRequest(ctx, s.burnRequest(1)); err != nil {
			return err
		}
		return tx.PutRequest(ctx, mint)
	}))

	all, err := s.store.ListRequests(ctx, models.RequestFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(models.RequestBurn, all[0].Type, "insertion order is kept")

	mints, err := s.store.ListRequests(ctx, models.RequestFilter{Type: models.RequestMint})
	s.Require().NoError(err)
	s.Require().Len(mints, 1)
	s.Equal(manager, mints[0].Requester)

	none, err := s.store.ListRequests(ctx, models.RequestFilter{Requester: alice, Status: models.StatusRejected})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *PostgresStoreSuite) TestRollbackAndMissing() {
	ctx := context.Background()
	boom := errors.New("boom")
	req := s.burnRequest(3)

	err := s.store.RunInTx(ctx, func(tx ports.Tx) error {
		if err := tx.PutRequest(ctx, req); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Request(ctx, req.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTemporaryBalanceRejectsOutOfRange() {
	ctx := context.Background()
	err := s.store.RunInTx(ctx, func(tx ports.Tx) error {
		return tx.SetTemporaryBalance(ctx, alice, big.NewInt(-1))
	})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

type RedisFrozenSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	frozen *store.RedisFrozenSet
}

func TestRedisFrozenSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisFrozenSuite))
}

func (s *RedisFrozenSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.frozen = store.NewRedisFrozen(s.redis.Client)
}

func (s *RedisFrozenSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisFrozenSuite) TestFreezeUnfreeze() {
	ctx := context.Background()
	bob := common.HexToAddress("0x0000000000000000000000000000000000001002")

	s.Require().NoError(s.frozen.Freeze(ctx, bob))
	s.Require().NoError(s.frozen.Freeze(ctx, alice))
	s.ErrorIs(s.frozen.Freeze(ctx, alice), sentinel.ErrAlreadyExists)

	frozen, err := s.frozen.IsFrozen(ctx, alice)
	s.Require().NoError(err)
	s.True(frozen)

	list, err := s.frozen.List(ctx)
	s.Require().NoError(err)
	s.Equal([]common.Address{alice, bob}, list)

	s.Require().NoError(s.frozen.Unfreeze(ctx, alice))
	s.ErrorIs(s.frozen.Unfreeze(ctx, alice), sentinel.ErrNotFound)

	frozen, err = s.frozen.IsFrozen(ctx, alice)
	s.Require().NoError(err)
	s.False(frozen)
}
