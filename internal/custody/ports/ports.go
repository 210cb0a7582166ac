// Package ports declares the persistence boundary of the custody ledger.
package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/custody/models"
	"custody/pkg/domain"
)

// Reader exposes custody state. Balance returns a zero balance for unknown
// keys; Unstake returns sentinel.ErrNotFound for unknown ids.
type Reader interface {
	Balance(ctx context.Context, lender, borrower, asset common.Address) (models.Balance, error)
	Unstake(ctx context.Context, id domain.RequestID) (*models.Unstake, error)
	IsTokenRegistered(ctx context.Context, asset common.Address) (bool, error)
}

// Tx is the read-write view inside RunInTx. Reads through a Tx see the
// transaction's own writes and lock the rows they touch.
type Tx interface {
	Reader
	PutBalance(ctx context.Context, balance models.Balance) error
	PutUnstake(ctx context.Context, unstake *models.Unstake) error
	SetTokenRegistered(ctx context.Context, asset common.Address, registered bool) error
}

// Store persists balances, unstake requests, and the token registry.
// RunInTx commits fn's writes when it returns nil and discards them otherwise.
type Store interface {
	Reader
	ListUnstakes(ctx context.Context, filter models.UnstakeFilter) ([]*models.Unstake, error)
	Tokens(ctx context.Context) ([]common.Address, error)
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
