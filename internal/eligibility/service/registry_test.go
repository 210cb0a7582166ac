package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	accessstore "custody/internal/access/store"
	"custody/internal/eligibility/metrics"
	"custody/internal/eligibility/models"
	"custody/internal/eligibility/store"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/audit/publisher"
	auditmemory "custody/pkg/platform/audit/store/memory"
	"custody/pkg/platform/sentinel"
	"custody/pkg/requestcontext"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	clerk    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	walletA  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	walletB  = common.HexToAddress("0x0000000000000000000000000000000000001002")
	walletC  = common.HexToAddress("0x0000000000000000000000000000000000001003")
	walletD  = common.HexToAddress("0x0000000000000000000000000000000000001004")

	hashOne = domain.IdentityHash(common.HexToHash("0x01"))
	hashTwo = domain.IdentityHash(common.HexToHash("0x02"))

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

const countryUS domain.Country = 840

type RegistrySuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	dir      *access.Directory
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	dir := access.New(accessstore.NewInMemory())
	_, err := dir.Bootstrap(s.ctx, admin)
	s.Require().NoError(err)
	s.Require().NoError(dir.Grant(s.ctx, admin, accessmodels.RoleRegistrar, clerk))
	s.dir = dir

	s.store = store.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.registry = New(s.store, dir,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithMaxWallets(3),
	)
}

func (s *RegistrySuite) request(hash domain.IdentityHash, wallets ...common.Address) RegisterIdentityRequest {
	return RegisterIdentityRequest{
		Hash:      hash,
		ExpiresAt: now.Add(365 * 24 * time.Hour),
		Wallets:   wallets,
		Country:   countryUS,
		Data:      "kyc-ref-1",
	}
}

func (s *RegistrySuite) TestRegisterIdentity() {
	s.Run("registrar registers an identity", func() {
		s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashOne, walletA, walletB)))

		identity, err := s.registry.IdentityOf(s.ctx, walletB)
		s.Require().NoError(err)
		s.Equal(hashOne, identity.Hash)
		s.Equal(countryUS, identity.Country)
		s.Equal(now, identity.CreatedAt)

		events, err := s.audit.ListBySubject(s.ctx, hashOne.Hex())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventIdentityRegistered), events[0].Action)
		s.Equal(clerk.Hex(), events[0].ActorID)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.IdentityChanges.WithLabelValues("register")))
	})

	s.Run("duplicate hash is a conflict", func() {
		err := s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashOne, walletC))
		s.ErrorIs(err, ErrIdentityExists)
	})

	s.Run("bound wallet cannot join a second identity", func() {
		err := s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashTwo, walletC, walletA))
		s.ErrorIs(err, ErrWalletBound)

		_, err = s.registry.IdentityOf(s.ctx, walletC)
		s.ErrorIs(err, ErrIdentityNotFound, "failed registration must not bind any wallet")
	})

	s.Run("wallet becomes bindable after its identity is deleted", func() {
		s.Require().NoError(s.registry.DeleteIdentity(s.ctx, admin, hashOne))
		s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashTwo, walletA)))
	})
}

func (s *RegistrySuite) TestRegisterIdentity_Validation() {
	tests := []struct {
		name string
		req  RegisterIdentityRequest
		want error
	}{
		{"zero hash", s.request(domain.IdentityHash{}, walletA), ErrZeroHash},
		{"no wallets", s.request(hashOne), ErrNoWallets},
		{"zero wallet", s.request(hashOne, common.Address{}), ErrZeroWallet},
		{"duplicate wallet", s.request(hashOne, walletA, walletA), ErrDuplicateWallet},
		{"too many wallets", s.request(hashOne, walletA, walletB, walletC, walletD), ErrTooManyWallets},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.registry.RegisterIdentity(s.ctx, clerk, tt.req)
			s.ErrorIs(err, tt.want)
			s.Equal(dErrors.KindValidation, dErrors.KindOf(err))
		})
	}

	s.Run("expiry must be in the future", func() {
		req := s.request(hashOne, walletA)
		req.ExpiresAt = now
		s.ErrorIs(s.registry.RegisterIdentity(s.ctx, clerk, req), ErrExpiryNotInFuture)
	})

	s.Run("caller without registrar or admin is rejected", func() {
		err := s.registry.RegisterIdentity(s.ctx, stranger, s.request(hashOne, walletA))
		s.ErrorIs(err, access.ErrUnauthorized)
		s.Equal(dErrors.KindAuthorization, dErrors.KindOf(err))
	})
}

func (s *RegistrySuite) TestRegisterIdentities() {
	s.Run("overlap inside the batch rejects everything", func() {
		err := s.registry.RegisterIdentities(s.ctx, admin, []RegisterIdentityRequest{
			s.request(hashOne, walletA),
			s.request(hashTwo, walletB, walletA),
		})
		s.ErrorIs(err, ErrWalletBound)
		_, err = s.registry.GetIdentity(s.ctx, hashOne)
		s.ErrorIs(err, ErrIdentityNotFound)
	})

	s.Run("conflict with stored identity rejects everything", func() {
		s.Require().NoError(s.registry.RegisterIdentity(s.ctx, admin, s.request(hashOne, walletA)))
		err := s.registry.RegisterIdentities(s.ctx, admin, []RegisterIdentityRequest{
			s.request(hashTwo, walletB),
			s.request(domain.IdentityHash(common.HexToHash("0x03")), walletA),
		})
		s.ErrorIs(err, ErrWalletBound)
		_, err = s.registry.GetIdentity(s.ctx, hashTwo)
		s.ErrorIs(err, ErrIdentityNotFound)
	})

	s.Run("valid batch registers all", func() {
		err := s.registry.RegisterIdentities(s.ctx, admin, []RegisterIdentityRequest{
			s.request(hashTwo, walletB),
			s.request(domain.IdentityHash(common.HexToHash("0x03")), walletC),
		})
		s.Require().NoError(err)
		identity, err := s.registry.IdentityOf(s.ctx, walletC)
		s.Require().NoError(err)
		s.Equal(domain.IdentityHash(common.HexToHash("0x03")), identity.Hash)
	})

	s.Run("empty batch", func() {
		s.ErrorIs(s.registry.RegisterIdentities(s.ctx, admin, nil), ErrEmptyBatch)
	})
}

func (s *RegistrySuite) TestDeleteIdentity() {
	s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashOne, walletA, walletB)))
	s.Require().NoError(s.registry.DeleteIdentity(s.ctx, clerk, hashOne))

	for _, w := range []common.Address{walletA, walletB} {
		_, err := s.registry.IdentityOf(s.ctx, w)
		s.ErrorIs(err, ErrIdentityNotFound)
	}
	s.ErrorIs(s.registry.DeleteIdentity(s.ctx, clerk, hashOne), ErrIdentityNotFound)
}

func (s *RegistrySuite) TestWallets() {
	s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashOne, walletA)))
	s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashTwo, walletD)))

	s.Run("add wallets", func() {
		s.Require().NoError(s.registry.AddWallets(s.ctx, clerk, hashOne, []common.Address{walletB, walletC}))
		identity, err := s.registry.IdentityOf(s.ctx, walletC)
		s.Require().NoError(err)
		s.Equal([]common.Address{walletA, walletB, walletC}, identity.Wallets)
	})

	s.Run("add beyond the limit", func() {
		s.Require().NoError(s.registry.RemoveWallets(s.ctx, clerk, hashOne, []common.Address{walletC}))
		err := s.registry.AddWallets(s.ctx, clerk, hashOne, []common.Address{walletC, common.HexToAddress("0x1005")})
		s.ErrorIs(err, ErrWalletLimitReached)
	})

	s.Run("add a wallet bound elsewhere", func() {
		s.ErrorIs(s.registry.AddWallets(s.ctx, clerk, hashOne, []common.Address{walletD}), ErrWalletBound)
	})

	s.Run("add a wallet the identity already has", func() {
		s.ErrorIs(s.registry.AddWallets(s.ctx, clerk, hashOne, []common.Address{walletA}), ErrWalletBound)
	})

	s.Run("remove a wallet the identity does not own", func() {
		s.ErrorIs(s.registry.RemoveWallets(s.ctx, clerk, hashOne, []common.Address{walletD}), ErrWalletNotOwned)
	})

	s.Run("removing every wallet is rejected", func() {
		err := s.registry.RemoveWallets(s.ctx, clerk, hashOne, []common.Address{walletA, walletB})
		s.ErrorIs(err, ErrLastWallet)
		identity, err := s.registry.GetIdentity(s.ctx, hashOne)
		s.Require().NoError(err)
		s.Len(identity.Wallets, 2)
	})

	s.Run("removed wallet is unbound", func() {
		s.Require().NoError(s.registry.RemoveWallets(s.ctx, clerk, hashOne, []common.Address{walletB}))
		_, err := s.registry.IdentityOf(s.ctx, walletB)
		s.ErrorIs(err, ErrIdentityNotFound)
		s.Require().NoError(s.registry.AddWallets(s.ctx, clerk, hashTwo, []common.Address{walletB}))
	})

	s.Run("unknown identity", func() {
		err := s.registry.AddWallets(s.ctx, clerk, domain.IdentityHash(common.HexToHash("0x99")), []common.Address{walletC})
		s.ErrorIs(err, ErrIdentityNotFound)
	})
}

func (s *RegistrySuite) TestUpdates() {
	s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, s.request(hashOne, walletA)))
	later := requestcontext.WithTime(context.Background(), now.Add(time.Hour))

	s.Require().NoError(s.registry.UpdateCountry(later, clerk, hashOne, 276))
	s.Require().NoError(s.registry.UpdateData(later, clerk, hashOne, "kyc-ref-2"))
	s.Require().NoError(s.registry.UpdateExpiryDate(later, clerk, hashOne, now.Add(48*time.Hour)))

	identity, err := s.registry.GetIdentity(s.ctx, hashOne)
	s.Require().NoError(err)
	s.Equal(domain.Country(276), identity.Country)
	s.Equal("kyc-ref-2", identity.Data)
	s.Equal(now.Add(48*time.Hour), identity.ExpiresAt)
	s.Equal(now.Add(time.Hour), identity.UpdatedAt)
	s.Equal(now, identity.CreatedAt)

	s.ErrorIs(s.registry.UpdateExpiryDate(later, clerk, hashOne, now), ErrExpiryNotInFuture)
	s.ErrorIs(s.registry.UpdateCountry(s.ctx, stranger, hashOne, 1), access.ErrUnauthorized)
}

func (s *RegistrySuite) TestVerifyAddress() {
	req := s.request(hashOne, walletA)
	req.ExpiresAt = now.Add(time.Hour)
	s.Require().NoError(s.registry.RegisterIdentity(s.ctx, clerk, req))

	s.Run("unregistered wallet has no country", func() {
		v, err := s.registry.VerifyAddress(s.ctx, walletB)
		s.Require().NoError(err)
		s.False(v.Eligible)
		s.Equal(domain.Country(0), v.Country)
		s.Equal(models.ReasonNotRegistered, v.Reason)
	})

	s.Run("live identity is eligible with its country", func() {
		v, err := s.registry.VerifyAddress(s.ctx, walletA)
		s.Require().NoError(err)
		s.True(v.Eligible)
		s.Equal(countryUS, v.Country)
		s.Equal(hashOne, v.IdentityHash)
	})

	s.Run("expired identity keeps its country", func() {
		expired := requestcontext.WithTime(context.Background(), now.Add(time.Hour))
		v, err := s.registry.VerifyAddress(expired, walletA)
		s.Require().NoError(err)
		s.False(v.Eligible)
		s.Equal(countryUS, v.Country)
		s.Equal(models.ReasonExpired, v.Reason)
	})
}

type failingStore struct{ *store.InMemoryStore }

func (failingStore) FindByWallet(context.Context, common.Address) (*models.Identity, error) {
	return nil, errors.New("redis: connection refused")
}

func (s *RegistrySuite) TestVerifyAddress_StoreFailure() {
	registry := New(failingStore{store.NewInMemory()}, access.New(accessstore.NewInMemory()))
	_, err := registry.VerifyAddress(s.ctx, walletA)
	s.Require().Error(err)
	s.Equal(dErrors.KindInternal, dErrors.KindOf(err))
}

type contendedStore struct{ *store.InMemoryStore }

func (contendedStore) Update(context.Context, domain.IdentityHash, func(*models.Identity) error) error {
	return fmt.Errorf("identity write kept colliding: %w", sentinel.ErrContention)
}

func (s *RegistrySuite) TestContentionIsNotReportedAsBoundWallet() {
	registry := New(contendedStore{store.NewInMemory()}, s.dir)
	err := registry.AddWallets(s.ctx, admin, hashOne, []common.Address{walletC})
	s.ErrorIs(err, ErrStoreBusy)
	s.NotErrorIs(err, ErrWalletBound)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}
