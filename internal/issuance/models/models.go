package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/pkg/domain"
)

type RequestType string

const (
	RequestMint RequestType = "mint"
	RequestBurn RequestType = "burn"
)

func (t RequestType) IsValid() bool { return t == RequestMint || t == RequestBurn }

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// TokenRequest is a mint or burn awaiting a fund manager. For mints Account
// receives the tokens; for burns it is the requester whose tokens sit in
// escrow.
type TokenRequest struct {
	ID          domain.RequestID
	Type        RequestType
	Requester   common.Address
	Account     common.Address
	Amount      *big.Int
	Status      RequestStatus
	RequestedAt time.Time
	FinalizedAt time.Time
	FinalizedBy common.Address
}

func (r *TokenRequest) IsPending() bool { return r.Status == StatusPending }

func (r *TokenRequest) Clone() *TokenRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Amount = domain.Copy(r.Amount)
	return &c
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	Type      RequestType
	Status    RequestStatus
	Requester common.Address
}

func (f RequestFilter) Matches(r *TokenRequest) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Requester != (common.Address{}) && r.Requester != f.Requester {
		return false
	}
	return true
}
