package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"custody/pkg/domain"
	"custody/pkg/platform/audit"
)

// Transfer moves the caller's own tokens. The hook applies.
func (w *Workflow) Transfer(ctx context.Context, caller, to common.Address, amount *big.Int) (err error) {
	ctx, span := w.start(ctx, "transfer", attribute.String("from", caller.Hex()), attribute.String("to", to.Hex()))
	defer func() { w.finish(span, "transfer", err) }()

	if err := w.checkMove(caller, to, amount); err != nil {
		return err
	}
	if err := tokenError(w.deps.Token.Transfer(ctx, caller, to, amount)); err != nil {
		return err
	}
	w.auditTransfer(ctx, audit.EventTransferPerformed, caller, caller, to, amount)
	return nil
}

// TransferFrom spends the caller's allowance over from's tokens.
func (w *Workflow) TransferFrom(ctx context.Context, caller, from, to common.Address, amount *big.Int) (err error) {
	ctx, span := w.start(ctx, "transfer_from", attribute.String("from", from.Hex()), attribute.String("to", to.Hex()))
	defer func() { w.finish(span, "transfer_from", err) }()

	if err := w.checkMove(from, to, amount); err != nil {
		return err
	}
	if err := tokenError(w.deps.Token.TransferFrom(ctx, caller, from, to, amount)); err != nil {
		return err
	}
	w.auditTransfer(ctx, audit.EventTransferPerformed, caller, from, to, amount)
	return nil
}

func (w *Workflow) Approve(ctx context.Context, caller, spender common.Address, amount *big.Int) error {
	if caller == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	return tokenError(w.deps.Token.Approve(ctx, caller, spender, amount))
}

func (w *Workflow) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	b, err := w.deps.Token.BalanceOf(ctx, account)
	if err != nil {
		return nil, tokenError(err)
	}
	return b, nil
}

func (w *Workflow) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	a, err := w.deps.Token.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, tokenError(err)
	}
	return a, nil
}

func (w *Workflow) TotalSupply(ctx context.Context) *big.Int {
	return w.deps.Token.TotalSupply(ctx)
}

func (w *Workflow) TokenAddress() common.Address { return w.deps.Token.Address() }

// checkMove rejects moves the ledger would accept but the workflow must not:
// the escrow account only changes through burn requests.
func (w *Workflow) checkMove(from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if from == w.deps.Escrow || to == w.deps.Escrow {
		return ErrEscrowProtected
	}
	if !domain.IsPositive(amount) || !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	return nil
}

func (w *Workflow) auditTransfer(ctx context.Context, event audit.AuditEvent, caller, from, to common.Address, amount *big.Int) {
	audit.LogAudit(ctx, w.logger, w.auditPublisher, event,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, from.Hex(),
		audit.AttrAsset, w.deps.Token.Address().Hex(),
		audit.AttrAmount, amount.String(),
		"from", from.Hex(),
		"to", to.Hex(),
	)
}
