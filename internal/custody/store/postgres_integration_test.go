//go:build integration

package store_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"custody/internal/custody/models"
	"custody/internal/custody/ports"
	"custody/internal/custody/store"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	"custody/pkg/testutil/containers"
)

var (
	lender   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	asset    = common.HexToAddress("0x0000000000000000000000000000000000005001")
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
	s.store = store.NewPostgres(s.postgres.Pool)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "custody_balances", "custody_unstakes", "custody_tokens")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestBalanceRoundTrip() {
	ctx := context.Background()

	empty, err := s.store.Balance(ctx, lender, borrower, asset)
	s.Require().NoError(err)
	s.Equal(0, empty.Total().Sign())

	huge := domain.Copy(domain.MaxUint256)
	err = s.store.RunInTx(ctx, func(tx ports.Tx) error {
		b := models.NewBalance(lender, borrower, asset)
		b.Available = huge
		b.Frozen = big.NewInt(0)
		return tx.PutBalance(ctx, b)
	})
	s.Require().NoError(err)

	got, err := s.store.Balance(ctx, lender, borrower, asset)
	s.Require().NoError(err)
	s.Equal(huge.String(), got.Available.String(), "256-bit amounts survive the numeric column")
	s.Equal("0", got.Frozen.String())
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrites() {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(tx ports.Tx) error {
		b := models.NewBalance(lender, borrower, asset)
		b.Available = big.NewInt(10)
		if err := tx.PutBalance(ctx, b); err != nil {
			return err
		}
		if err := tx.SetTokenRegistered(ctx, asset, true); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Balance(ctx, lender, borrower, asset)
	s.Require().NoError(err)
	s.Equal(0, got.Total().Sign())
	registered, err := s.store.IsTokenRegistered(ctx, asset)
	s.Require().NoError(err)
	s.False(registered)
}

func (s *PostgresStoreSuite) TestUnstakeLifecycle() {
	ctx := context.Background()
	id := domain.RequestID(common.HexToHash("0x01"))
	initiated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := &models.Unstake{
		ID:             id,
		Initiator:      lender,
		Lender:         lender,
		Borrower:       borrower,
		Asset:          asset,
		InitiatedAt:    initiated,
		BorrowerAmount: big.NewInt(60),
		LenderAmount:   big.NewInt(0),
		Status:         models.StatusPending,
	}
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error { return tx.PutUnstake(ctx, u) }))

	got, err := s.store.Unstake(ctx, id)
	s.Require().NoError(err)
	s.True(got.IsPending())
	s.Equal("60", got.BorrowerAmount.String())
	s.True(initiated.Equal(got.InitiatedAt))

	u.Status = models.StatusApproved
	u.Approver = borrower
	u.ApprovedAt = initiated.Add(time.Hour)
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error { return tx.PutUnstake(ctx, u) }))

	list, err := s.store.ListUnstakes(ctx, models.UnstakeFilter{Borrower: borrower, Status: models.StatusApproved})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(borrower, list[0].Approver)

	_, err = s.store.Unstake(ctx, domain.RequestID(common.HexToHash("0x02")))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTokenRegistry() {
	ctx := context.Background()
	other := common.HexToAddress("0x0000000000000000000000000000000000005002")
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		if err := tx.SetTokenRegistered(ctx, asset, true); err != nil {
			return err
		}
		return tx.SetTokenRegistered(ctx, other, true)
	}))
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		return tx.SetTokenRegistered(ctx, other, false)
	}))

	tokens, err := s.store.Tokens(ctx)
	s.Require().NoError(err)
	s.Equal([]common.Address{asset}, tokens)
}

// TestConcurrentIncrements checks that serializable transactions never lose
// an update: every attempt either commits or reports a conflict.
func (s *PostgresStoreSuite) TestConcurrentIncrements() {
	ctx := context.Background()
	const workers = 20
	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Tx) error {
		return tx.PutBalance(ctx, models.NewBalance(lender, borrower, asset))
	}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
		other     []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(ctx, func(tx ports.Tx) error {
				b, err := tx.Balance(ctx, lender, borrower, asset)
				if err != nil {
					return err
				}
				b.Available = new(big.Int).Add(b.Available, big.NewInt(1))
				return tx.PutBalance(ctx, b)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, sentinel.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	s.Empty(other)
	s.Equal(workers, committed+conflicts)
	got, err := s.store.Balance(ctx, lender, borrower, asset)
	s.Require().NoError(err)
	s.Equal(big.NewInt(int64(committed)).String(), got.Available.String())
}
