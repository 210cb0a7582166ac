package models

import (
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"custody/pkg/domain"
)

// Identity is a verified participant. Each wallet maps to at most one identity.
type Identity struct {
	Hash      domain.IdentityHash `json:"hash"`
	ExpiresAt time.Time           `json:"expires_at"`
	Wallets   []common.Address    `json:"wallets"`
	Country   domain.Country      `json:"country"`
	Data      string              `json:"data,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// IsExpired reports whether the identity is no longer live at now.
func (i *Identity) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

func (i *Identity) HasWallet(wallet common.Address) bool {
	return slices.Contains(i.Wallets, wallet)
}

// Clone returns a deep copy so stores never hand out shared slices.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Wallets = slices.Clone(i.Wallets)
	return &c
}

// Verification reasons.
const (
	ReasonNotRegistered     = "not_registered"
	ReasonExpired           = "expired"
	ReasonCountryNotAllowed = "country_not_allowed"
	ReasonNoRegistry        = "no_registry"
)

// Verification is the outcome of an eligibility lookup. Country is zero for
// unbound wallets and the identity's true country otherwise, even when expired.
type Verification struct {
	Wallet       common.Address      `json:"wallet"`
	Eligible     bool                `json:"eligible"`
	Country      domain.Country      `json:"country"`
	IdentityHash domain.IdentityHash `json:"identity_hash,omitzero"`
	Reason       string              `json:"reason,omitempty"`
}

// ListMode decides how the country list is read.
type ListMode string

const (
	// ListModeWhitelist admits only listed countries.
	ListModeWhitelist ListMode = "whitelist"
	// ListModeBlacklist admits every country except listed ones.
	ListModeBlacklist ListMode = "blacklist"
)

// DefaultListMode applies until an admin switches modes.
const DefaultListMode = ListModeBlacklist

func (m ListMode) IsValid() bool {
	return m == ListModeWhitelist || m == ListModeBlacklist
}

func (m ListMode) String() string { return string(m) }
