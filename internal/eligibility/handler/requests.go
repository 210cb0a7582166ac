package handler

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/eligibility/models"
	"custody/internal/eligibility/service"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

type RegisterIdentityRequest struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Wallets   []string  `json:"wallets"`
	Country   uint16    `json:"country"`
	Data      string    `json:"data"`

	parsed service.RegisterIdentityRequest
}

func (r *RegisterIdentityRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	hash, err := domain.ParseIdentityHash(strings.TrimSpace(r.Hash))
	if err != nil {
		return err
	}
	if r.ExpiresAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "expires_at is required")
	}
	wallets, err := parseWallets(r.Wallets)
	if err != nil {
		return err
	}
	r.parsed = service.RegisterIdentityRequest{
		Hash:      hash,
		ExpiresAt: r.ExpiresAt,
		Wallets:   wallets,
		Country:   domain.Country(r.Country),
		Data:      r.Data,
	}
	return nil
}

type RegisterBatchRequest struct {
	Identities []RegisterIdentityRequest `json:"identities"`
}

func (r *RegisterBatchRequest) Validate() error {
	if r == nil || len(r.Identities) == 0 {
		return dErrors.New(dErrors.CodeValidation, "identities must not be empty")
	}
	for i := range r.Identities {
		if err := r.Identities[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RegisterBatchRequest) requests() []service.RegisterIdentityRequest {
	out := make([]service.RegisterIdentityRequest, len(r.Identities))
	for i := range r.Identities {
		out[i] = r.Identities[i].parsed
	}
	return out
}

type WalletsRequest struct {
	Wallets []string `json:"wallets"`

	wallets []common.Address
}

func (r *WalletsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	wallets, err := parseWallets(r.Wallets)
	if err != nil {
		return err
	}
	r.wallets = wallets
	return nil
}

// UpdateIdentityRequest patches any subset of the mutable fields.
type UpdateIdentityRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
	Country   *uint16    `json:"country"`
	Data      *string    `json:"data"`
}

func (r *UpdateIdentityRequest) Validate() error {
	if r == nil || (r.ExpiresAt == nil && r.Country == nil && r.Data == nil) {
		return dErrors.New(dErrors.CodeValidation, "at least one of expires_at, country, data is required")
	}
	return nil
}

type VerifyBatchRequest struct {
	Wallets []string `json:"wallets"`

	wallets []common.Address
}

func (r *VerifyBatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	wallets, err := parseWallets(r.Wallets)
	if err != nil {
		return err
	}
	r.wallets = wallets
	return nil
}

func parseWallets(raw []string) ([]common.Address, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "wallets must not be empty")
	}
	out := make([]common.Address, len(raw))
	for i, s := range raw {
		addr, err := domain.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

type IdentityResponse struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Wallets   []string  `json:"wallets"`
	Country   uint16    `json:"country"`
	Data      string    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toIdentityResponse(i *models.Identity) IdentityResponse {
	wallets := make([]string, len(i.Wallets))
	for n, w := range i.Wallets {
		wallets[n] = w.Hex()
	}
	return IdentityResponse{
		Hash:      i.Hash.Hex(),
		ExpiresAt: i.ExpiresAt,
		Wallets:   wallets,
		Country:   uint16(i.Country),
		Data:      i.Data,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}
