// Package service implements the issuance workflow: maker-checker mint and
// burn requests over a hooked token, plus the operator controls around it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	"custody/internal/eligibility"
	"custody/internal/issuance/metrics"
	"custody/internal/issuance/models"
	"custody/internal/issuance/ports"
	"custody/internal/token"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/sequence"
	"custody/pkg/requestcontext"
)

const tracerName = "custody/internal/issuance/service"

// IssuedToken is the hooked token the workflow mints and burns.
// *token.Ledger satisfies it.
type IssuedToken interface {
	token.Transferer
	Address() common.Address
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, from common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context) *big.Int
}

// AssetResolver finds foreign tokens for recovery.
type AssetResolver interface {
	Resolve(asset common.Address) (token.Transferer, bool)
}

// Authorizer is the slice of the access directory the workflow uses.
type Authorizer interface {
	Require(ctx context.Context, principal common.Address, req access.Requirement) error
	Grant(ctx context.Context, actor common.Address, role accessmodels.Role, principal common.Address) error
	Revoke(ctx context.Context, actor common.Address, role accessmodels.Role, principal common.Address) error
	Renounce(ctx context.Context, caller common.Address, role accessmodels.Role) error
}

// Deps are the collaborators a Workflow needs. Native may be nil, which
// disables RecoverNative.
type Deps struct {
	Store      ports.Store
	Frozen     ports.FrozenSet
	Token      IssuedToken
	Escrow     common.Address
	Gate       *eligibility.Gate
	Policy     *eligibility.Policy
	Registries *eligibility.Catalog
	Authz      Authorizer
	Assets     AssetResolver
	Native     token.Transferer
	IDs        *sequence.Generator
}

type Workflow struct {
	deps Deps

	registryMu sync.RWMutex
	registry   common.Address

	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(w *Workflow) {
		w.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) {
		w.tracer = t
	}
}

// WithRegistry records the address of the identity registry the gate was
// built with.
func WithRegistry(addr common.Address) Option {
	return func(w *Workflow) {
		w.registry = addr
	}
}

func New(deps Deps, opts ...Option) *Workflow {
	w := &Workflow{
		deps:   deps,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var fundManager = access.Role(accessmodels.RoleFundManager)

// MintRequest opens a pending mint of amount to to. Anyone may ask.
func (w *Workflow) MintRequest(ctx context.Context, caller, to common.Address, amount *big.Int) (id domain.RequestID, err error) {
	ctx, span := w.start(ctx, "mint_request", attribute.String("to", to.Hex()))
	defer func() { w.finish(span, "mint_request", err) }()

	if to == (common.Address{}) {
		return id, ErrZeroAddress
	}
	if to == w.deps.Escrow {
		return id, ErrEscrowProtected
	}
	if !domain.IsPositive(amount) || !domain.IsUint256(amount) {
		return id, ErrInvalidAmount
	}

	req := w.newRequest(ctx, models.RequestMint, caller, to, amount)
	err = w.deps.Store.RunInTx(ctx, func(tx ports.Tx) error {
		return tx.PutRequest(ctx, req)
	})
	if err != nil {
		return id, translate(err, "failed to create mint request")
	}

	w.metrics.IncPending(string(models.RequestMint))
	w.auditRequest(ctx, audit.EventMintRequested, caller, req)
	return req.ID, nil
}

// BurnRequest moves amount of the caller's tokens into escrow and opens a
// pending burn. The move passes the transfer hook.
func (w *Workflow) BurnRequest(ctx context.Context, caller common.Address, amount *big.Int) (id domain.RequestID, err error) {
	ctx, span := w.start(ctx, "burn_request", attribute.String("requester", caller.Hex()))
	defer func() { w.finish(span, "burn_request", err) }()

	if caller == (common.Address{}) {
		return id, ErrZeroAddress
	}
	if caller == w.deps.Escrow {
		return id, ErrEscrowProtected
	}
	if !domain.IsPositive(amount) || !domain.IsUint256(amount) {
		return id, ErrInvalidAmount
	}

	req := w.newRequest(ctx, models.RequestBurn, caller, caller, amount)
	err = w.deps.Store.RunInTx(ctx, func(tx ports.Tx) error {
		held, err := tx.TemporaryBalance(ctx, caller)
		if err != nil {
			return err
		}
		if err := tx.SetTemporaryBalance(ctx, caller, held.Add(held, amount)); err != nil {
			return err
		}
		if err := tx.PutRequest(ctx, req); err != nil {
			return err
		}
		return tokenError(w.deps.Token.Transfer(ctx, caller, w.deps.Escrow, amount))
	})
	if err != nil {
		return id, translate(err, "failed to create burn request")
	}

	w.metrics.IncPending(string(models.RequestBurn))
	w.auditRequest(ctx, audit.EventBurnRequested, caller, req)
	return req.ID, nil
}

// ApproveRequest executes a pending request. Mints issue to the account;
// burns destroy the escrowed amount.
func (w *Workflow) ApproveRequest(ctx context.Context, caller common.Address, id domain.RequestID) (err error) {
	ctx, span := w.start(ctx, "approve_request", attribute.String("request_id", id.Hex()))
	defer func() { w.finish(span, "approve_request", err) }()

	if err := w.deps.Authz.Require(ctx, caller, fundManager); err != nil {
		return err
	}
	req, err := w.finalize(ctx, caller, id, models.StatusApproved, func(tx ports.Tx, r *models.TokenRequest) error {
		if r.Type == models.RequestMint {
			return tokenError(w.deps.Token.Mint(ctx, r.Account, r.Amount))
		}
		if err := w.release(ctx, tx, r); err != nil {
			return err
		}
		return tokenError(w.deps.Token.Burn(ctx, w.deps.Escrow, r.Amount))
	})
	if err != nil {
		return err
	}
	w.auditRequest(ctx, audit.EventRequestApproved, caller, req)
	return nil
}

// RejectRequest closes a pending request without executing it. Rejected
// burns return the escrowed tokens to the requester.
func (w *Workflow) RejectRequest(ctx context.Context, caller common.Address, id domain.RequestID) (err error) {
	ctx, span := w.start(ctx, "reject_request", attribute.String("request_id", id.Hex()))
	defer func() { w.finish(span, "reject_request", err) }()

	if err := w.deps.Authz.Require(ctx, caller, fundManager); err != nil {
		return err
	}
	req, err := w.finalize(ctx, caller, id, models.StatusRejected, func(tx ports.Tx, r *models.TokenRequest) error {
		if r.Type == models.RequestMint {
			return nil
		}
		if err := w.release(ctx, tx, r); err != nil {
			return err
		}
		return tokenError(w.deps.Token.Transfer(ctx, w.deps.Escrow, r.Requester, r.Amount))
	})
	if err != nil {
		return err
	}
	w.auditRequest(ctx, audit.EventRequestRejected, caller, req)
	return nil
}

// finalize loads a pending request, marks it, stages it and then runs effect
// inside the same transaction.
func (w *Workflow) finalize(ctx context.Context, caller common.Address, id domain.RequestID, status models.RequestStatus, effect func(ports.Tx, *models.TokenRequest) error) (*models.TokenRequest, error) {
	var req *models.TokenRequest
	err := w.deps.Store.RunInTx(ctx, func(tx ports.Tx) error {
		r, err := tx.Request(ctx, id)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return ErrRequestNotPending
		}
		r.Status = status
		r.FinalizedBy = caller
		r.FinalizedAt = requestcontext.Now(ctx)
		if err := tx.PutRequest(ctx, r); err != nil {
			return err
		}
		if err := effect(tx, r); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to finalize token request")
	}
	w.metrics.DecPending(string(req.Type))
	return req, nil
}

// release takes a burn's amount back out of the requester's temporary
// balance.
func (w *Workflow) release(ctx context.Context, tx ports.Tx, r *models.TokenRequest) error {
	held, err := tx.TemporaryBalance(ctx, r.Requester)
	if err != nil {
		return err
	}
	if held.Cmp(r.Amount) < 0 {
		return ErrEscrowMismatch
	}
	return tx.SetTemporaryBalance(ctx, r.Requester, held.Sub(held, r.Amount))
}

func (w *Workflow) newRequest(ctx context.Context, kind models.RequestType, requester, account common.Address, amount *big.Int) *models.TokenRequest {
	now := requestcontext.Now(ctx)
	return &models.TokenRequest{
		ID:          domain.RequestID(w.deps.IDs.Next(now)),
		Type:        kind,
		Requester:   requester,
		Account:     account,
		Amount:      domain.Copy(amount),
		Status:      models.StatusPending,
		RequestedAt: now,
	}
}

func (w *Workflow) GetRequest(ctx context.Context, id domain.RequestID) (*models.TokenRequest, error) {
	r, err := w.deps.Store.Request(ctx, id)
	if err != nil {
		return nil, translate(err, "failed to read token request")
	}
	return r, nil
}

func (w *Workflow) ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.TokenRequest, error) {
	list, err := w.deps.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, translate(err, "failed to list token requests")
	}
	return list, nil
}

// TemporaryBalance is the amount account has escrowed in pending burns.
func (w *Workflow) TemporaryBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	v, err := w.deps.Store.TemporaryBalance(ctx, account)
	if err != nil {
		return nil, translate(err, "failed to read temporary balance")
	}
	return v, nil
}

func (w *Workflow) auditRequest(ctx context.Context, event audit.AuditEvent, caller common.Address, r *models.TokenRequest) {
	audit.LogAudit(ctx, w.logger, w.auditPublisher, event,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, r.ID.Hex(),
		audit.AttrAsset, w.deps.Token.Address().Hex(),
		audit.AttrAmount, r.Amount.String(),
		audit.AttrStatus, string(r.Status),
		"type", string(r.Type),
		"account", r.Account.Hex(),
	)
}

func (w *Workflow) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, "issuance."+op, trace.WithAttributes(attrs...))
}

func (w *Workflow) finish(span trace.Span, op string, err error) {
	w.metrics.Observe(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.Message(err))
	}
	span.End()
}

// tokenError maps token ledger failures onto workflow errors. Hook
// rejections are domain errors already and pass through.
func tokenError(err error) error {
	var de *dErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, token.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case errors.Is(err, token.ErrInsufficientAllowance):
		return ErrInsufficientAllowance
	case errors.Is(err, token.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, token.ErrZeroAddress):
		return ErrZeroAddress
	case errors.Is(err, token.ErrSupplyOverflow):
		return ErrSupplyOverflow
	default:
		return ErrTransferFailed.Because(err)
	}
}

func translate(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrRequestNotFound
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrContention):
		return ErrStoreConflict.Because(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
