// Package service implements the custody ledger: stakes into custody and the
// two-phase unstake protocol that releases them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	"custody/internal/custody/metrics"
	"custody/internal/custody/models"
	"custody/internal/custody/ports"
	"custody/internal/token"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/sequence"
	"custody/pkg/requestcontext"
)

const tracerName = "custody/internal/custody/service"

// Authorizer is the slice of the access directory the ledger uses.
type Authorizer interface {
	HasRole(ctx context.Context, role accessmodels.Role, principal common.Address) (bool, error)
	Require(ctx context.Context, principal common.Address, req access.Requirement) error
	Grant(ctx context.Context, actor common.Address, role accessmodels.Role, principal common.Address) error
	Revoke(ctx context.Context, actor common.Address, role accessmodels.Role, principal common.Address) error
}

// AssetResolver maps an asset address to its token primitive.
type AssetResolver interface {
	Resolve(asset common.Address) (token.Transferer, bool)
}

type StakeRequest struct {
	Asset  common.Address
	Lender common.Address
	Amount *big.Int
}

type UnstakeRequest struct {
	Asset          common.Address
	Lender         common.Address
	Borrower       common.Address
	BorrowerAmount *big.Int
	LenderAmount   *big.Int
}

// Ledger holds staked funds in the custody account. Every state change runs in
// one store transaction; payouts are made after the state is staged and a
// failed payout discards the staged state.
type Ledger struct {
	store          ports.Store
	authz          Authorizer
	assets         AssetResolver
	custodyAccount common.Address
	ids            *sequence.Generator

	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(l *Ledger) {
		l.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = t
	}
}

func New(store ports.Store, authz Authorizer, assets AssetResolver, custodyAccount common.Address, ids *sequence.Generator, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		authz:          authz,
		assets:         assets,
		custodyAccount: custodyAccount,
		ids:            ids,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) CustodyAccount() common.Address { return l.custodyAccount }

// Stake pulls amount from the caller into custody and credits the available
// bucket of key(lender, caller, asset). The caller must have approved the
// custody account as spender.
func (l *Ledger) Stake(ctx context.Context, caller common.Address, req StakeRequest) (err error) {
	ctx, span := l.start(ctx, "stake",
		attribute.String("asset", req.Asset.Hex()),
		attribute.String("lender", req.Lender.Hex()),
		attribute.String("borrower", caller.Hex()),
	)
	defer func() { l.finish(span, "stake", err) }()

	if caller == (common.Address{}) || req.Lender == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsPositive(req.Amount) || !domain.IsUint256(req.Amount) {
		return ErrInvalidAmount
	}

	var (
		balance models.Balance
		pulled  token.Transferer
	)
	err = l.store.RunInTx(ctx, func(tx ports.Tx) error {
		registered, err := tx.IsTokenRegistered(ctx, req.Asset)
		if err != nil {
			return err
		}
		tok, known := l.assets.Resolve(req.Asset)
		if !registered || !known {
			return ErrAssetNotRegistered
		}
		isLender, err := l.authz.HasRole(ctx, accessmodels.RoleLender, req.Lender)
		if err != nil {
			return err
		}
		if !isLender {
			return ErrUnknownLender
		}

		b, err := tx.Balance(ctx, req.Lender, caller, req.Asset)
		if err != nil {
			return err
		}
		b.Available.Add(b.Available, req.Amount)
		if !domain.IsUint256(b.Total()) {
			return ErrBalanceOverflow
		}
		if err := tx.PutBalance(ctx, b); err != nil {
			return err
		}
		if err := tok.TransferFrom(ctx, l.custodyAccount, caller, l.custodyAccount, req.Amount); err != nil {
			l.metrics.IncTransferFailure("stake")
			return ErrTransferFailed.Because(err)
		}
		pulled = tok
		balance = b
		return nil
	})
	if err != nil {
		if pulled != nil {
			// The pull succeeded but the credit did not commit.
			l.compensate(ctx, "stake", pulled, []token.Payout{{To: l.custodyAccount, Amount: req.Amount}}, caller)
		}
		return translate(err, "failed to stake")
	}

	l.metrics.AddStaked(req.Asset.Hex(), req.Amount)
	audit.LogAudit(ctx, l.logger, l.auditPublisher, audit.EventStaked,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, balance.Key().Hex(),
		audit.AttrAsset, req.Asset.Hex(),
		audit.AttrAmount, req.Amount.String(),
		"lender", req.Lender.Hex(),
		"borrower", caller.Hex(),
	)
	return nil
}

// Unstake freezes BorrowerAmount+LenderAmount of the available balance and
// opens a pending request. The asset need not still be registered.
func (l *Ledger) Unstake(ctx context.Context, caller common.Address, req UnstakeRequest) (id domain.RequestID, err error) {
	ctx, span := l.start(ctx, "unstake",
		attribute.String("asset", req.Asset.Hex()),
		attribute.String("lender", req.Lender.Hex()),
		attribute.String("borrower", req.Borrower.Hex()),
	)
	defer func() { l.finish(span, "unstake", err) }()

	// An omitted leg pays nothing.
	req.BorrowerAmount = domain.Copy(req.BorrowerAmount)
	req.LenderAmount = domain.Copy(req.LenderAmount)
	if !domain.IsUint256(req.BorrowerAmount) || !domain.IsUint256(req.LenderAmount) {
		return id, ErrInvalidAmount
	}
	sum := domain.Sum(req.BorrowerAmount, req.LenderAmount)
	if sum.Sign() == 0 {
		return id, ErrInvalidAmount
	}
	party := access.AnyOf(access.Party("lender", req.Lender), access.Party("borrower", req.Borrower))
	if err := l.authz.Require(ctx, caller, party); err != nil {
		return id, err
	}

	now := requestcontext.Now(ctx)
	var request *models.Unstake
	err = l.store.RunInTx(ctx, func(tx ports.Tx) error {
		b, err := tx.Balance(ctx, req.Lender, req.Borrower, req.Asset)
		if err != nil {
			return err
		}
		if b.Available.Cmp(sum) < 0 {
			return ErrInsufficientAvailableBalance
		}
		b.Available.Sub(b.Available, sum)
		b.Frozen.Add(b.Frozen, sum)
		if err := tx.PutBalance(ctx, b); err != nil {
			return err
		}

		request = &models.Unstake{
			ID:             domain.RequestID(l.ids.Next(now)),
			Initiator:      caller,
			Lender:         req.Lender,
			Borrower:       req.Borrower,
			Asset:          req.Asset,
			InitiatedAt:    now,
			BorrowerAmount: domain.Copy(req.BorrowerAmount),
			LenderAmount:   domain.Copy(req.LenderAmount),
			Status:         models.StatusPending,
		}
		return tx.PutUnstake(ctx, request)
	})
	if err != nil {
		return domain.RequestID{}, translate(err, "failed to unstake")
	}

	l.metrics.IncPending()
	span.SetAttributes(attribute.String("request_id", request.ID.Hex()))
	audit.LogAudit(ctx, l.logger, l.auditPublisher, audit.EventUnstakeRequested,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, request.ID.Hex(),
		audit.AttrAsset, req.Asset.Hex(),
		audit.AttrAmount, sum.String(),
		audit.AttrStatus, string(models.StatusPending),
		"balance_key", request.Key().Hex(),
		"borrower_amount", request.BorrowerAmount.String(),
		"lender_amount", request.LenderAmount.String(),
	)
	return request.ID, nil
}

// ApproveUnstake releases the frozen amount to the counterparties. The
// initiator can never approve its own request.
func (l *Ledger) ApproveUnstake(ctx context.Context, caller common.Address, id domain.RequestID) (err error) {
	ctx, span := l.start(ctx, "approve_unstake", attribute.String("request_id", id.Hex()))
	defer func() { l.finish(span, "approve_unstake", err) }()

	var (
		request *models.Unstake
		paid    bool
	)
	err = l.store.RunInTx(ctx, func(tx ports.Tx) error {
		paid = false
		u, err := tx.Unstake(ctx, id)
		if err != nil {
			return err
		}
		approver := access.Except(counterpartyOrAdmin(u), "initiator", u.Initiator)
		if err := l.authz.Require(ctx, caller, approver); err != nil {
			return err
		}
		b, err := l.finalize(ctx, tx, u, caller, models.StatusApproved)
		if err != nil {
			return err
		}
		b.Frozen.Sub(b.Frozen, u.Sum())
		if err := tx.PutBalance(ctx, b); err != nil {
			return err
		}
		if err := tx.PutUnstake(ctx, u); err != nil {
			return err
		}
		if err := l.payout(ctx, u); err != nil {
			l.metrics.IncTransferFailure("approve_unstake")
			return err
		}
		paid = true
		request = u
		return nil
	})
	if err != nil {
		if paid {
			// Tokens left custody but the request is still pending.
			if tok, ok := l.assets.Resolve(request.Asset); ok {
				l.compensate(ctx, "approve_unstake", tok, payoutsOf(request), l.custodyAccount)
			}
		}
		return translate(err, "failed to approve unstake")
	}

	l.metrics.DecPending()
	audit.LogAudit(ctx, l.logger, l.auditPublisher, audit.EventUnstakeApproved,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, request.ID.Hex(),
		audit.AttrAsset, request.Asset.Hex(),
		audit.AttrAmount, request.Sum().String(),
		audit.AttrStatus, string(models.StatusApproved),
		"borrower_amount", request.BorrowerAmount.String(),
		"lender_amount", request.LenderAmount.String(),
	)
	return nil
}

// RejectUnstake returns the frozen amount to the available bucket. The
// initiator may withdraw its own request this way.
func (l *Ledger) RejectUnstake(ctx context.Context, caller common.Address, id domain.RequestID) (err error) {
	ctx, span := l.start(ctx, "reject_unstake", attribute.String("request_id", id.Hex()))
	defer func() { l.finish(span, "reject_unstake", err) }()

	var request *models.Unstake
	err = l.store.RunInTx(ctx, func(tx ports.Tx) error {
		u, err := tx.Unstake(ctx, id)
		if err != nil {
			return err
		}
		if err := l.authz.Require(ctx, caller, counterpartyOrAdmin(u)); err != nil {
			return err
		}
		b, err := l.finalize(ctx, tx, u, caller, models.StatusRejected)
		if err != nil {
			return err
		}
		sum := u.Sum()
		b.Frozen.Sub(b.Frozen, sum)
		b.Available.Add(b.Available, sum)
		if err := tx.PutBalance(ctx, b); err != nil {
			return err
		}
		request = u
		return tx.PutUnstake(ctx, u)
	})
	if err != nil {
		return translate(err, "failed to reject unstake")
	}

	l.metrics.DecPending()
	audit.LogAudit(ctx, l.logger, l.auditPublisher, audit.EventUnstakeRejected,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, request.ID.Hex(),
		audit.AttrAsset, request.Asset.Hex(),
		audit.AttrAmount, request.Sum().String(),
		audit.AttrStatus, string(models.StatusRejected),
	)
	return nil
}

// finalize checks that u can leave pending and marks it with status. It
// returns the balance the request's funds are frozen in.
func (l *Ledger) finalize(ctx context.Context, tx ports.Tx, u *models.Unstake, caller common.Address, status models.UnstakeStatus) (models.Balance, error) {
	if !u.IsPending() {
		return models.Balance{}, ErrRequestNotPending
	}
	b, err := tx.Balance(ctx, u.Lender, u.Borrower, u.Asset)
	if err != nil {
		return models.Balance{}, err
	}
	if b.Frozen.Cmp(u.Sum()) < 0 {
		return models.Balance{}, ErrInsufficientFrozenBalance
	}
	u.Status = status
	u.Approver = caller
	u.ApprovedAt = requestcontext.Now(ctx)
	return b, nil
}

func (l *Ledger) payout(ctx context.Context, u *models.Unstake) error {
	tok, ok := l.assets.Resolve(u.Asset)
	if !ok {
		return ErrTransferFailed.Because(errors.New("no token primitive for asset " + u.Asset.Hex()))
	}
	if err := tok.TransferBatch(ctx, l.custodyAccount, payoutsOf(u)); err != nil {
		return ErrTransferFailed.Because(err)
	}
	return nil
}

func payoutsOf(u *models.Unstake) []token.Payout {
	var payouts []token.Payout
	if u.BorrowerAmount.Sign() > 0 {
		payouts = append(payouts, token.Payout{To: u.Borrower, Amount: u.BorrowerAmount})
	}
	if u.LenderAmount.Sign() > 0 {
		payouts = append(payouts, token.Payout{To: u.Lender, Amount: u.LenderAmount})
	}
	return payouts
}

// compensate undoes token movements made inside a store transaction that
// then failed to commit. The token primitive has no transaction of its own,
// so each leg is moved back from its recipient to home. A leg that cannot be
// moved back is logged and counted; it needs operator reconciliation.
func (l *Ledger) compensate(ctx context.Context, op string, tok token.Transferer, moved []token.Payout, home common.Address) {
	for _, p := range moved {
		if err := tok.Transfer(ctx, p.To, home, p.Amount); err != nil {
			l.metrics.IncTransferFailure(op + "_compensation")
			l.logger.ErrorContext(ctx, "compensating transfer failed",
				"operation", op,
				"from", p.To.Hex(),
				"to", home.Hex(),
				"amount", p.Amount.String(),
				"error", err,
			)
		}
	}
}

func counterpartyOrAdmin(u *models.Unstake) access.Requirement {
	return access.AnyOf(
		access.Party("lender", u.Lender),
		access.Party("borrower", u.Borrower),
		access.Role(accessmodels.RoleAdmin),
	)
}

func (l *Ledger) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "custody."+op, trace.WithAttributes(attrs...))
}

func (l *Ledger) finish(span trace.Span, op string, err error) {
	l.metrics.Observe(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.Message(err))
	}
	span.End()
}

// translate maps store facts onto ledger errors. Domain errors pass through.
func translate(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrRequestNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return ErrStoreConflict.Because(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
