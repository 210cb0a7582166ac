// Package issuance holds the transfer hook that gates every movement of the
// issued token on the frozen set and on eligibility.
package issuance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/eligibility/models"
	"custody/internal/issuance/metrics"
	dErrors "custody/pkg/domain-errors"
)

var (
	ErrSenderFrozen        = dErrors.New(dErrors.CodeForbidden, "sender account is frozen")
	ErrSenderNotEligible   = dErrors.New(dErrors.CodeForbidden, "sender is not eligible to hold the token")
	ErrReceiverNotEligible = dErrors.New(dErrors.CodeForbidden, "receiver is not eligible to hold the token")
)

// FrozenReader reports whether an account is barred from sending.
type FrozenReader interface {
	IsFrozen(ctx context.Context, account common.Address) (bool, error)
}

// Checker gives the eligibility verdict for a wallet. eligibility.Gate
// satisfies it.
type Checker interface {
	Check(ctx context.Context, wallet common.Address) (models.Verification, error)
}

// Hook implements token.Hook for the issued token. The zero address stands
// for the mint source and the burn sink; the escrow account is exempt from
// eligibility but not from the frozen check.
type Hook struct {
	escrow  common.Address
	frozen  FrozenReader
	checker Checker
	metrics *metrics.Metrics
}

func NewHook(escrow common.Address, frozen FrozenReader, checker Checker, m *metrics.Metrics) *Hook {
	return &Hook{escrow: escrow, frozen: frozen, checker: checker, metrics: m}
}

func (h *Hook) BeforeTransfer(ctx context.Context, from, to common.Address, _ *big.Int) error {
	if from != (common.Address{}) {
		frozen, err := h.frozen.IsFrozen(ctx, from)
		if err != nil {
			return fmt.Errorf("reading frozen set: %w", err)
		}
		if frozen {
			h.metrics.IncHookRejection("sender_frozen")
			return ErrSenderFrozen
		}
		if from != h.escrow {
			if err := h.eligible(ctx, from, ErrSenderNotEligible); err != nil {
				return err
			}
		}
	}
	if to != (common.Address{}) && to != h.escrow {
		return h.eligible(ctx, to, ErrReceiverNotEligible)
	}
	return nil
}

func (h *Hook) eligible(ctx context.Context, wallet common.Address, rejection *dErrors.Error) error {
	v, err := h.checker.Check(ctx, wallet)
	if err != nil {
		return fmt.Errorf("checking eligibility of %s: %w", wallet.Hex(), err)
	}
	if !v.Eligible {
		h.metrics.IncHookRejection(v.Reason)
		return rejection.Because(fmt.Errorf("%s: %s", wallet.Hex(), v.Reason))
	}
	return nil
}
