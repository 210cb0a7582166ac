// Package token defines the fungible-token transfer primitive consumed by the
// custody ledger and the issuance workflow, plus an in-memory ERC-20 style
// implementation with a pre-transfer hook.
package token

//go:generate mockgen -source=token.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrZeroAddress           = errors.New("zero address")
	ErrSupplyOverflow        = errors.New("total supply overflow")
)

// Payout is one leg of a batch transfer.
type Payout struct {
	To     common.Address
	Amount *big.Int
}

// Transferer is the token primitive. Every failure is returned as an error,
// never swallowed. TransferBatch applies all legs or none.
type Transferer interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error
	TransferBatch(ctx context.Context, from common.Address, payouts []Payout) error
}

// Hook runs before every balance movement. Mints pass the zero address as
// from and burns pass it as to. A non-nil error aborts the movement.
type Hook interface {
	BeforeTransfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, from, to common.Address, amount *big.Int) error

func (f HookFunc) BeforeTransfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return f(ctx, from, to, amount)
}
