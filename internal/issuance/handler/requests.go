package handler

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/issuance/models"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

type MintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`

	to     common.Address
	amount *big.Int
}

func (r *MintRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	to, err := domain.ParseAddress(strings.TrimSpace(r.To))
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.to, r.amount = to, amount
	return nil
}

type AmountRequest struct {
	Amount string `json:"amount"`

	amount *big.Int
}

func (r *AmountRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.amount = amount
	return nil
}

// MoveRequest describes a token movement. From is only read by the
// transfer-from and forced-transfer routes.
type MoveRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`

	from   common.Address
	to     common.Address
	amount *big.Int
}

func (r *MoveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.From) != "" {
		from, err := domain.ParseAddress(strings.TrimSpace(r.From))
		if err != nil {
			return err
		}
		r.from = from
	}
	to, err := domain.ParseAddress(strings.TrimSpace(r.To))
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.to, r.amount = to, amount
	return nil
}

type AllowanceRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`

	spender common.Address
	amount  *big.Int
}

func (r *AllowanceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	spender, err := domain.ParseAddress(strings.TrimSpace(r.Spender))
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.spender, r.amount = spender, amount
	return nil
}

type RecoverRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`

	asset  common.Address
	to     common.Address
	amount *big.Int
}

func (r *RecoverRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	asset, err := domain.ParseAddress(strings.TrimSpace(r.Asset))
	if err != nil {
		return err
	}
	to, err := domain.ParseAddress(strings.TrimSpace(r.To))
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return err
	}
	r.asset, r.to, r.amount = asset, to, amount
	return nil
}

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

// RegistryRequest points the hook at a registry. An empty or zero address
// detaches it.
type RegistryRequest struct {
	Address string `json:"address"`

	address common.Address
}

func (r *RegistryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	s := strings.TrimSpace(r.Address)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid address")
	}
	r.address = common.HexToAddress(s)
	return nil
}

type CountriesRequest struct {
	Countries []uint16 `json:"countries"`

	countries []domain.Country
}

func (r *CountriesRequest) Validate() error {
	if r == nil || len(r.Countries) == 0 {
		return dErrors.New(dErrors.CodeValidation, "countries must not be empty")
	}
	r.countries = make([]domain.Country, len(r.Countries))
	for i, c := range r.Countries {
		r.countries[i] = domain.Country(c)
	}
	return nil
}

type ListModeRequest struct {
	Mode string `json:"mode"`
}

func (r *ListModeRequest) Validate() error {
	if r == nil || strings.TrimSpace(r.Mode) == "" {
		return dErrors.New(dErrors.CodeValidation, "mode is required")
	}
	return nil
}

type TokenRequestResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Requester   string     `json:"requester"`
	Account     string     `json:"account"`
	Amount      string     `json:"amount"`
	RequestedAt time.Time  `json:"requested_at"`
	FinalizedBy string     `json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func toTokenRequestResponse(r *models.TokenRequest) TokenRequestResponse {
	resp := TokenRequestResponse{
		ID:          r.ID.Hex(),
		Type:        string(r.Type),
		Status:      string(r.Status),
		Requester:   r.Requester.Hex(),
		Account:     r.Account.Hex(),
		Amount:      domain.Copy(r.Amount).String(),
		RequestedAt: r.RequestedAt,
	}
	if !r.IsPending() {
		resp.FinalizedBy = r.FinalizedBy.Hex()
		at := r.FinalizedAt
		resp.FinalizedAt = &at
	}
	return resp
}

type AccountResponse struct {
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Temporary string `json:"temporary_balance"`
	Frozen    bool   `json:"frozen"`
}
