package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	accessstore "custody/internal/access/store"
	"custody/internal/eligibility"
	eligibilitymodels "custody/internal/eligibility/models"
	registry "custody/internal/eligibility/service"
	eligibilitystore "custody/internal/eligibility/store"
	"custody/internal/issuance"
	"custody/internal/issuance/metrics"
	"custody/internal/issuance/models"
	"custody/internal/issuance/store"
	"custody/internal/token"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/audit/publisher"
	auditmemory "custody/pkg/platform/audit/store/memory"
	"custody/pkg/platform/sequence"
	"custody/pkg/requestcontext"
)

var (
	admin        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	manager      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000001001")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000001002")
	carol        = common.HexToAddress("0x0000000000000000000000000000000000001003")
	escrow       = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	issued       = common.HexToAddress("0x0000000000000000000000000000000000006001")
	foreign      = common.HexToAddress("0x0000000000000000000000000000000000006002")
	registryAddr = common.HexToAddress("0x0000000000000000000000000000000000007001")

	usa    = domain.Country(840)
	france = domain.Country(250)

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type WorkflowSuite struct {
	suite.Suite
	ctx      context.Context
	token    *token.Ledger
	foreign  *token.Ledger
	native   *token.Ledger
	frozen   *store.InMemoryFrozenSet
	store    *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	workflow *Workflow
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)

	dir := access.New(accessstore.NewInMemory())
	_, err := dir.Bootstrap(s.ctx, admin)
	s.Require().NoError(err)
	s.Require().NoError(dir.Grant(s.ctx, admin, accessmodels.RoleFundManager, manager))

	identities := registry.New(eligibilitystore.NewInMemory(), dir)
	for i, req := range []registry.RegisterIdentityRequest{
		{Wallets: []common.Address{alice}, Country: usa},
		{Wallets: []common.Address{bob}, Country: france},
	} {
		req.Hash = domain.IdentityHash(common.BigToHash(big.NewInt(int64(i + 1))))
		req.ExpiresAt = now.Add(365 * 24 * time.Hour)
		s.Require().NoError(identities.RegisterIdentity(s.ctx, admin, req))
	}
	policy := eligibility.NewPolicy(eligibilitystore.NewInMemoryCountries())
	gate := eligibility.NewGate(policy, identities)
	catalog := eligibility.NewCatalog()
	catalog.Register(registryAddr, identities)

	s.metrics = metrics.New(prometheus.NewRegistry())
	s.frozen = store.NewInMemoryFrozen()
	s.token = token.NewLedger(issued, token.WithHook(issuance.NewHook(escrow, s.frozen, gate, s.metrics)))
	s.foreign = token.NewLedger(foreign)
	s.native = token.NewLedger(common.Address{})
	s.Require().NoError(s.foreign.Mint(s.ctx, escrow, big.NewInt(50)))
	s.Require().NoError(s.native.Mint(s.ctx, escrow, big.NewInt(7)))
	assets := token.NewDirectory()
	assets.Register(foreign, s.foreign)

	s.store = store.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.workflow = New(Deps{
		Store:      s.store,
		Frozen:     s.frozen,
		Token:      s.token,
		Escrow:     escrow,
		Gate:       gate,
		Policy:     policy,
		Registries: catalog,
		Authz:      dir,
		Assets:     assets,
		Native:     s.native,
		IDs:        sequence.New("issuance-test"),
	},
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithRegistry(registryAddr),
	)
}

func (s *WorkflowSuite) mint(to common.Address, amount int64) {
	id, err := s.workflow.MintRequest(s.ctx, alice, to, big.NewInt(amount))
	s.Require().NoError(err)
	s.Require().NoError(s.workflow.ApproveRequest(s.ctx, manager, id))
}

func (s *WorkflowSuite) requireBalance(account common.Address, want int64) {
	got, err := s.workflow.BalanceOf(s.ctx, account)
	s.Require().NoError(err)
	s.Equal(big.NewInt(want).String(), got.String())
}

func (s *WorkflowSuite) requireTemporary(account common.Address, want int64) {
	got, err := s.workflow.TemporaryBalance(s.ctx, account)
	s.Require().NoError(err)
	s.Equal(big.NewInt(want).String(), got.String())
}

func (s *WorkflowSuite) TestMintApproveScenario() {
	id, err := s.workflow.MintRequest(s.ctx, bob, alice, big.NewInt(500))
	s.Require().NoError(err)
	s.requireBalance(alice, 0)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PendingRequests.WithLabelValues("mint")))

	s.Require().NoError(s.workflow.ApproveRequest(s.ctx, manager, id))
	s.requireBalance(alice, 500)
	s.Equal("500", s.workflow.TotalSupply(s.ctx).String())
	s.Equal(0.0, testutil.ToFloat64(s.metrics.PendingRequests.WithLabelValues("mint")))

	req, err := s.workflow.GetRequest(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, req.Status)
	s.Equal(bob, req.Requester)
	s.Equal(manager, req.FinalizedBy)
	s.Equal(now, req.FinalizedAt)

	s.Run("second approval fails", func() {
		s.ErrorIs(s.workflow.ApproveRequest(s.ctx, manager, id), ErrRequestNotPending)
		s.ErrorIs(s.workflow.RejectRequest(s.ctx, manager, id), ErrRequestNotPending)
		s.requireBalance(alice, 500)
	})

	events, err := s.audit.ListBySubject(s.ctx, id.Hex())
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventMintRequested), events[0].Action)
	s.Equal(string(audit.EventRequestApproved), events[1].Action)
	s.Equal(issued.Hex(), events[1].Asset)
}

func (s *WorkflowSuite) TestMintValidation() {
	_, err := s.workflow.MintRequest(s.ctx, alice, alice, big.NewInt(0))
	s.ErrorIs(err, ErrInvalidAmount)
	_, err = s.workflow.MintRequest(s.ctx, alice, common.Address{}, big.NewInt(1))
	s.ErrorIs(err, ErrZeroAddress)
	_, err = s.workflow.MintRequest(s.ctx, alice, escrow, big.NewInt(1))
	s.ErrorIs(err, ErrEscrowProtected)

	id, err := s.workflow.MintRequest(s.ctx, alice, alice, big.NewInt(1))
	s.Require().NoError(err)

	s.Run("only fund managers finalize", func() {
		err := s.workflow.ApproveRequest(s.ctx, admin, id)
		s.ErrorIs(err, access.ErrUnauthorized)
		s.Equal(dErrors.KindAuthorization, dErrors.KindOf(err))
		s.ErrorIs(s.workflow.RejectRequest(s.ctx, alice, id), access.ErrUnauthorized)
	})

	s.Run("unknown request", func() {
		missing := domain.RequestID(common.HexToHash("0xdead"))
		s.ErrorIs(s.workflow.ApproveRequest(s.ctx, manager, missing), ErrRequestNotFound)
		_, err := s.workflow.GetRequest(s.ctx, missing)
		s.ErrorIs(err, ErrRequestNotFound)
	})
}

func (s *WorkflowSuite) TestMintToIneligibleAccount() {
	id, err := s.workflow.MintRequest(s.ctx, alice, carol, big.NewInt(10))
	s.Require().NoError(err)

	err = s.workflow.ApproveRequest(s.ctx, manager, id)
	s.ErrorIs(err, issuance.ErrReceiverNotEligible)
	s.requireBalance(carol, 0)

	req, err := s.workflow.GetRequest(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, req.Status, "failed approval leaves the request pending")

	s.Require().NoError(s.workflow.RejectRequest(s.ctx, manager, id))
	s.Equal("0", s.workflow.TotalSupply(s.ctx).String())
}

func (s *WorkflowSuite) TestBurnRejectScenario() {
	s.mint(alice, 500)

	id, err := s.workflow.BurnRequest(s.ctx, alice, big.NewInt(200))
	s.Require().NoError(err)
	s.requireBalance(alice, 300)
	s.requireBalance(escrow, 200)
	s.requireTemporary(alice, 200)

	s.Require().NoError(s.workflow.RejectRequest(s.ctx, manager, id))
	s.requireBalance(alice, 500)
	s.requireBalance(escrow, 0)
	s.requireTemporary(alice, 0)
	s.Equal("500", s.workflow.TotalSupply(s.ctx).String())

	req, err := s.workflow.GetRequest(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, req.Status)
	s.Equal(models.RequestBurn, req.Type)
}

func (s *WorkflowSuite) TestBurnApprove() {
	s.mint(alice, 500)
	first, err := s.workflow.BurnRequest(s.ctx, alice, big.NewInt(100))
	s.Require().NoError(err)
	second, err := s.workflow.BurnRequest(s.ctx, alice, big.NewInt(50))
	s.Require().NoError(err)
	s.NotEqual(first, second)
	s.requireTemporary(alice, 150)

	s.Require().NoError(s.workflow.ApproveRequest(s.ctx, manager, first))
	s.requireTemporary(alice, 50)
	s.requireBalance(escrow, 50)
	s.requireBalance(alice, 350)
	s.Equal("400", s.workflow.TotalSupply(s.ctx).String())

	pending, err := s.workflow.ListRequests(s.ctx, models.RequestFilter{Type: models.RequestBurn, Status: models.StatusPending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second, pending[0].ID)
}

func (s *WorkflowSuite) TestBurnValidation() {
	s.mint(alice, 100)

	_, err := s.workflow.BurnRequest(s.ctx, alice, big.NewInt(101))
	s.ErrorIs(err, ErrInsufficientBalance)
	s.Equal(dErrors.KindStateConflict, dErrors.KindOf(err))
	s.requireTemporary(alice, 0)
	s.requireBalance(alice, 100)

	_, err = s.workflow.BurnRequest(s.ctx, alice, big.NewInt(0))
	s.ErrorIs(err, ErrInvalidAmount)

	list, err := s.workflow.ListRequests(s.ctx, models.RequestFilter{Type: models.RequestBurn})
	s.Require().NoError(err)
	s.Empty(list)

	s.Run("ineligible holders cannot escrow", func() {
		s.Require().NoError(s.workflow.AddCountry(s.ctx, admin, usa))
		_, err := s.workflow.BurnRequest(s.ctx, alice, big.NewInt(1))
		s.ErrorIs(err, issuance.ErrSenderNotEligible)
		s.requireTemporary(alice, 0)
	})
}

func (s *WorkflowSuite) TestFreeze() {
	s.mint(alice, 100)

	s.Require().NoError(s.workflow.FreezeAccount(s.ctx, admin, alice))
	frozen, err := s.workflow.IsFrozen(s.ctx, alice)
	s.Require().NoError(err)
	s.True(frozen)

	s.ErrorIs(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1)), issuance.ErrSenderFrozen)
	_, err = s.workflow.BurnRequest(s.ctx, alice, big.NewInt(1))
	s.ErrorIs(err, issuance.ErrSenderFrozen)
	s.requireTemporary(alice, 0)

	s.Run("frozen accounts still receive", func() {
		s.mint(alice, 5)
		s.requireBalance(alice, 105)
	})

	s.Run("state conflicts", func() {
		s.ErrorIs(s.workflow.FreezeAccount(s.ctx, admin, alice), ErrAlreadyFrozen)
		s.Require().NoError(s.workflow.UnfreezeAccount(s.ctx, admin, alice))
		s.ErrorIs(s.workflow.UnfreezeAccount(s.ctx, admin, alice), ErrNotFrozen)
	})

	s.Run("guards", func() {
		s.ErrorIs(s.workflow.FreezeAccount(s.ctx, manager, bob), access.ErrUnauthorized)
		s.ErrorIs(s.workflow.FreezeAccount(s.ctx, admin, escrow), ErrEscrowProtected)
		s.ErrorIs(s.workflow.FreezeAccount(s.ctx, admin, common.Address{}), ErrZeroAddress)
	})

	s.Require().NoError(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(5)))
	s.requireBalance(bob, 5)
}

func (s *WorkflowSuite) TestCountryList() {
	s.mint(alice, 100)

	s.Require().NoError(s.workflow.AddCountry(s.ctx, admin, usa))
	listed, err := s.workflow.IsCountryListed(s.ctx, usa)
	s.Require().NoError(err)
	s.True(listed)
	s.ErrorIs(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1)), issuance.ErrSenderNotEligible)
	s.ErrorIs(s.workflow.AddCountry(s.ctx, admin, usa), ErrCountryListed)

	s.Run("batch is all or nothing", func() {
		err := s.workflow.AddCountries(s.ctx, admin, []domain.Country{france, usa})
		s.ErrorIs(err, ErrCountryListed)
		listed, err := s.workflow.IsCountryListed(s.ctx, france)
		s.Require().NoError(err)
		s.False(listed)

		s.ErrorIs(s.workflow.RemoveCountries(s.ctx, admin, []domain.Country{usa, france}), ErrCountryNotListed)
		s.ErrorIs(s.workflow.AddCountries(s.ctx, admin, []domain.Country{france, france}), ErrDuplicateCountry)
		s.ErrorIs(s.workflow.AddCountries(s.ctx, admin, nil), ErrEmptyCountries)
	})

	s.Require().NoError(s.workflow.RemoveCountry(s.ctx, admin, usa))
	s.Require().NoError(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1)))

	s.Run("whitelist admits only listed countries", func() {
		s.Require().NoError(s.workflow.SetListMode(s.ctx, admin, eligibilitymodels.ListModeWhitelist))
		s.Require().NoError(s.workflow.AddCountries(s.ctx, admin, []domain.Country{usa}))
		s.ErrorIs(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1)), issuance.ErrReceiverNotEligible)

		s.Require().NoError(s.workflow.AddCountries(s.ctx, admin, []domain.Country{france}))
		s.Require().NoError(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1)))

		mode, err := s.workflow.ListMode(s.ctx)
		s.Require().NoError(err)
		s.Equal(eligibilitymodels.ListModeWhitelist, mode)

		countries, err := s.workflow.Countries(s.ctx)
		s.Require().NoError(err)
		s.ElementsMatch([]domain.Country{usa, france}, countries)
	})

	s.ErrorIs(s.workflow.SetListMode(s.ctx, admin, "greylist"), ErrInvalidListMode)
	s.ErrorIs(s.workflow.AddCountry(s.ctx, manager, usa), access.ErrUnauthorized)
}

func (s *WorkflowSuite) TestIdentityRegistryRotation() {
	s.Equal(registryAddr, s.workflow.IdentityRegistry())

	id, err := s.workflow.MintRequest(s.ctx, alice, carol, big.NewInt(3))
	s.Require().NoError(err)
	s.ErrorIs(s.workflow.ApproveRequest(s.ctx, manager, id), issuance.ErrReceiverNotEligible)

	s.Require().NoError(s.workflow.SetIdentityRegistry(s.ctx, admin, common.Address{}))
	s.Equal(common.Address{}, s.workflow.IdentityRegistry())
	s.Require().NoError(s.workflow.ApproveRequest(s.ctx, manager, id), "no registry admits everyone")
	s.requireBalance(carol, 3)

	s.ErrorIs(s.workflow.SetIdentityRegistry(s.ctx, admin, carol), ErrUnknownRegistry)
	s.ErrorIs(s.workflow.SetIdentityRegistry(s.ctx, manager, registryAddr), access.ErrUnauthorized)

	s.Require().NoError(s.workflow.SetIdentityRegistry(s.ctx, admin, registryAddr))
	s.ErrorIs(s.workflow.Transfer(s.ctx, carol, alice, big.NewInt(1)), issuance.ErrSenderNotEligible)
}

func (s *WorkflowSuite) TestTokenSurface() {
	s.mint(alice, 100)

	s.Require().NoError(s.workflow.Approve(s.ctx, alice, bob, big.NewInt(30)))
	allowance, err := s.workflow.Allowance(s.ctx, alice, bob)
	s.Require().NoError(err)
	s.Equal("30", allowance.String())

	s.Require().NoError(s.workflow.TransferFrom(s.ctx, bob, alice, bob, big.NewInt(20)))
	s.requireBalance(bob, 20)
	s.ErrorIs(s.workflow.TransferFrom(s.ctx, bob, alice, bob, big.NewInt(11)), ErrInsufficientAllowance)

	s.ErrorIs(s.workflow.Transfer(s.ctx, alice, bob, big.NewInt(1000)), ErrInsufficientBalance)
	s.ErrorIs(s.workflow.Transfer(s.ctx, alice, escrow, big.NewInt(1)), ErrEscrowProtected)
	s.ErrorIs(s.workflow.Transfer(s.ctx, alice, carol, big.NewInt(1)), issuance.ErrReceiverNotEligible)
	s.requireBalance(alice, 80)
}

func (s *WorkflowSuite) TestForcedTransfer() {
	s.mint(alice, 100)

	s.Require().NoError(s.workflow.ForcedTransfer(s.ctx, admin, alice, bob, big.NewInt(40)))
	s.requireBalance(alice, 60)
	s.requireBalance(bob, 40)

	s.ErrorIs(s.workflow.ForcedTransfer(s.ctx, manager, alice, bob, big.NewInt(1)), access.ErrUnauthorized)
	s.ErrorIs(s.workflow.ForcedTransfer(s.ctx, admin, alice, carol, big.NewInt(1)), issuance.ErrReceiverNotEligible)

	s.Run("the hook still applies", func() {
		s.Require().NoError(s.workflow.FreezeAccount(s.ctx, admin, alice))
		s.ErrorIs(s.workflow.ForcedTransfer(s.ctx, admin, alice, bob, big.NewInt(1)), issuance.ErrSenderFrozen)
	})

	events, err := s.audit.ListBySubject(s.ctx, alice.Hex())
	s.Require().NoError(err)
	var forced int
	for _, e := range events {
		if e.Action == string(audit.EventForcedTransfer) {
			forced++
		}
	}
	s.Equal(1, forced)
}

func (s *WorkflowSuite) TestRecovery() {
	s.Require().NoError(s.workflow.RecoverTokens(s.ctx, admin, foreign, admin, big.NewInt(50)))
	got, err := s.foreign.BalanceOf(s.ctx, admin)
	s.Require().NoError(err)
	s.Equal("50", got.String())

	s.ErrorIs(s.workflow.RecoverTokens(s.ctx, admin, foreign, admin, big.NewInt(1)), ErrTransferFailed)
	s.ErrorIs(s.workflow.RecoverTokens(s.ctx, admin, issued, admin, big.NewInt(1)), ErrRecoverIssuedToken)
	s.ErrorIs(s.workflow.RecoverTokens(s.ctx, admin, carol, admin, big.NewInt(1)), ErrUnknownAsset)
	s.ErrorIs(s.workflow.RecoverTokens(s.ctx, manager, foreign, admin, big.NewInt(1)), access.ErrUnauthorized)

	s.Require().NoError(s.workflow.RecoverNative(s.ctx, admin, bob, big.NewInt(7)))
	native, err := s.native.BalanceOf(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal("7", native.String())
	s.ErrorIs(s.workflow.RecoverNative(s.ctx, admin, bob, big.NewInt(0)), ErrInvalidAmount)
}

func (s *WorkflowSuite) TestRoleHygiene() {
	s.ErrorIs(s.workflow.RenounceRole(s.ctx, manager, accessmodels.RoleFundManager), access.ErrRenounceDisabled)
	s.ErrorIs(s.workflow.RevokeRole(s.ctx, admin, accessmodels.RoleAdmin, admin), access.ErrSelfAdminRevoke)

	s.Require().NoError(s.workflow.GrantRole(s.ctx, admin, accessmodels.RoleFundManager, bob))
	id, err := s.workflow.MintRequest(s.ctx, alice, alice, big.NewInt(1))
	s.Require().NoError(err)
	s.Require().NoError(s.workflow.ApproveRequest(s.ctx, bob, id))

	s.Require().NoError(s.workflow.RevokeRole(s.ctx, admin, accessmodels.RoleFundManager, bob))
	id, err = s.workflow.MintRequest(s.ctx, alice, alice, big.NewInt(1))
	s.Require().NoError(err)
	s.ErrorIs(s.workflow.ApproveRequest(s.ctx, bob, id), access.ErrUnauthorized)
}
