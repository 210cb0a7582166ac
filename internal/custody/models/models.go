package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"custody/pkg/domain"
)

// Key identifies the balance of one (lender, borrower, asset) triple.
type Key common.Hash

func (k Key) Hex() string    { return common.Hash(k).Hex() }
func (k Key) String() string { return k.Hex() }

// KeyFor hashes the packed triple with keccak256.
func KeyFor(lender, borrower, asset common.Address) Key {
	h := sha3.NewLegacyKeccak256()
	h.Write(lender.Bytes())
	h.Write(borrower.Bytes())
	h.Write(asset.Bytes())
	var k Key
	h.Sum(k[:0])
	return k
}

// Balance is the custodial position for one key. Available+Frozen is
// conserved while funds move between the two buckets.
type Balance struct {
	Lender    common.Address
	Borrower  common.Address
	Asset     common.Address
	Available *big.Int
	Frozen    *big.Int
}

// NewBalance returns a zero balance for the triple.
func NewBalance(lender, borrower, asset common.Address) Balance {
	return Balance{
		Lender:    lender,
		Borrower:  borrower,
		Asset:     asset,
		Available: new(big.Int),
		Frozen:    new(big.Int),
	}
}

func (b Balance) Key() Key { return KeyFor(b.Lender, b.Borrower, b.Asset) }

func (b Balance) Total() *big.Int {
	return domain.Sum(b.Available, b.Frozen)
}

// Clone returns a balance whose amounts can be mutated independently.
func (b Balance) Clone() Balance {
	b.Available = domain.Copy(b.Available)
	b.Frozen = domain.Copy(b.Frozen)
	return b
}

type UnstakeStatus string

const (
	StatusPending  UnstakeStatus = "pending"
	StatusApproved UnstakeStatus = "approved"
	StatusRejected UnstakeStatus = "rejected"
)

func (s UnstakeStatus) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Unstake is a request to release frozen funds. It leaves pending exactly
// once and is immutable afterwards. Approver and ApprovedAt record whoever
// finalized it, whether by approval or rejection.
type Unstake struct {
	ID             domain.RequestID
	Initiator      common.Address
	Approver       common.Address
	Lender         common.Address
	Borrower       common.Address
	Asset          common.Address
	InitiatedAt    time.Time
	ApprovedAt     time.Time
	BorrowerAmount *big.Int
	LenderAmount   *big.Int
	Status         UnstakeStatus
}

func (u *Unstake) Key() Key { return KeyFor(u.Lender, u.Borrower, u.Asset) }

// Sum is the amount frozen for the request.
func (u *Unstake) Sum() *big.Int {
	return domain.Sum(u.BorrowerAmount, u.LenderAmount)
}

func (u *Unstake) IsPending() bool { return u.Status == StatusPending }

func (u *Unstake) Clone() *Unstake {
	if u == nil {
		return nil
	}
	c := *u
	c.BorrowerAmount = domain.Copy(u.BorrowerAmount)
	c.LenderAmount = domain.Copy(u.LenderAmount)
	return &c
}

// UnstakeFilter narrows ListUnstakes. Zero fields match everything.
type UnstakeFilter struct {
	Lender   common.Address
	Borrower common.Address
	Asset    common.Address
	Status   UnstakeStatus
}

func (f UnstakeFilter) Matches(u *Unstake) bool {
	if f.Lender != (common.Address{}) && u.Lender != f.Lender {
		return false
	}
	if f.Borrower != (common.Address{}) && u.Borrower != f.Borrower {
		return false
	}
	if f.Asset != (common.Address{}) && u.Asset != f.Asset {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	return true
}
