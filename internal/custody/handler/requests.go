package handler

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/custody/models"
	"custody/internal/custody/service"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

type StakeRequest struct {
	Asset  string `json:"asset"`
	Lender string `json:"lender"`
	Amount string `json:"amount"`

	parsed service.StakeRequest
}

func (r *StakeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	asset, err := domain.ParseAddress(strings.TrimSpace(r.Asset))
	if err != nil {
		return err
	}
	lender, err := domain.ParseAddress(strings.TrimSpace(r.Lender))
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.parsed = service.StakeRequest{Asset: asset, Lender: lender, Amount: amount}
	return nil
}

// UnstakeRequest splits the released amount between the counterparties.
// An omitted leg is zero.
type UnstakeRequest struct {
	Asset          string `json:"asset"`
	Lender         string `json:"lender"`
	Borrower       string `json:"borrower"`
	BorrowerAmount string `json:"borrower_amount"`
	LenderAmount   string `json:"lender_amount"`

	parsed service.UnstakeRequest
}

func (r *UnstakeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	asset, err := domain.ParseAddress(strings.TrimSpace(r.Asset))
	if err != nil {
		return err
	}
	lender, err := domain.ParseAddress(strings.TrimSpace(r.Lender))
	if err != nil {
		return err
	}
	borrower, err := domain.ParseAddress(strings.TrimSpace(r.Borrower))
	if err != nil {
		return err
	}
	toBorrower, err := optionalAmount(r.BorrowerAmount)
	if err != nil {
		return err
	}
	toLender, err := optionalAmount(r.LenderAmount)
	if err != nil {
		return err
	}
	r.parsed = service.UnstakeRequest{
		Asset:          asset,
		Lender:         lender,
		Borrower:       borrower,
		BorrowerAmount: toBorrower,
		LenderAmount:   toLender,
	}
	return nil
}

// AddressRequest names one asset or principal.
type AddressRequest struct {
	Address string `json:"address"`

	address common.Address
}

func (r *AddressRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	addr, err := domain.ParseAddress(strings.TrimSpace(r.Address))
	if err != nil {
		return err
	}
	r.address = addr
	return nil
}

func optionalAmount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return domain.Zero(), nil
	}
	return domain.ParseAmount(s)
}

type UnstakeResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Initiator      string     `json:"initiator"`
	Approver       string     `json:"approver,omitempty"`
	Lender         string     `json:"lender"`
	Borrower       string     `json:"borrower"`
	Asset          string     `json:"asset"`
	BorrowerAmount string     `json:"borrower_amount"`
	LenderAmount   string     `json:"lender_amount"`
	InitiatedAt    time.Time  `json:"initiated_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

func toUnstakeResponse(u *models.Unstake) UnstakeResponse {
	resp := UnstakeResponse{
		ID:             u.ID.Hex(),
		Status:         string(u.Status),
		Initiator:      u.Initiator.Hex(),
		Lender:         u.Lender.Hex(),
		Borrower:       u.Borrower.Hex(),
		Asset:          u.Asset.Hex(),
		BorrowerAmount: domain.Copy(u.BorrowerAmount).String(),
		LenderAmount:   domain.Copy(u.LenderAmount).String(),
		InitiatedAt:    u.InitiatedAt,
	}
	if !u.IsPending() {
		resp.Approver = u.Approver.Hex()
		at := u.ApprovedAt
		resp.ApprovedAt = &at
	}
	return resp
}

type BalanceResponse struct {
	Key       string `json:"key"`
	Lender    string `json:"lender"`
	Borrower  string `json:"borrower"`
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

func toBalanceResponse(b models.Balance) BalanceResponse {
	return BalanceResponse{
		Key:       b.Key().Hex(),
		Lender:    b.Lender.Hex(),
		Borrower:  b.Borrower.Hex(),
		Asset:     b.Asset.Hex(),
		Available: domain.Copy(b.Available).String(),
		Frozen:    domain.Copy(b.Frozen).String(),
	}
}
