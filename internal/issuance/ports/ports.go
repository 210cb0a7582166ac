// Package ports declares the persistence boundary of the issuance workflow.
package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/issuance/models"
	"custody/pkg/domain"
)

// Reader exposes issuance state. Request returns sentinel.ErrNotFound for
// unknown ids; TemporaryBalance reads zero for unknown accounts.
type Reader interface {
	Request(ctx context.Context, id domain.RequestID) (*models.TokenRequest, error)
	TemporaryBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Tx is the read-write view inside RunInTx.
type Tx interface {
	Reader
	PutRequest(ctx context.Context, req *models.TokenRequest) error
	SetTemporaryBalance(ctx context.Context, account common.Address, amount *big.Int) error
}

// Store persists token requests and burn escrow counters.
type Store interface {
	Reader
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.TokenRequest, error)
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// FrozenSet holds accounts barred from sending. Freeze fails with
// sentinel.ErrAlreadyExists and Unfreeze with sentinel.ErrNotFound when the
// account is already in the requested state.
type FrozenSet interface {
	IsFrozen(ctx context.Context, account common.Address) (bool, error)
	Freeze(ctx context.Context, account common.Address) error
	Unfreeze(ctx context.Context, account common.Address) error
	List(ctx context.Context) ([]common.Address, error)
}
