// Package eligibility combines identity verification with the country policy
// into the single yes/no answer the transfer hook needs.
package eligibility

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
)

// CountryStore holds the country list and its mode. Add and Remove are
// all-or-nothing: Add fails with sentinel.ErrAlreadyExists when any country is
// already listed, Remove with sentinel.ErrNotFound when any is missing.
type CountryStore interface {
	Mode(ctx context.Context) (models.ListMode, error)
	SetMode(ctx context.Context, mode models.ListMode) error
	Contains(ctx context.Context, country domain.Country) (bool, error)
	Add(ctx context.Context, countries ...domain.Country) error
	Remove(ctx context.Context, countries ...domain.Country) error
	List(ctx context.Context) ([]domain.Country, error)
}

// Policy evaluates countries against the configured list.
type Policy struct {
	store CountryStore
}

func NewPolicy(store CountryStore) *Policy {
	return &Policy{store: store}
}

func (p *Policy) Store() CountryStore { return p.store }

// Allows reports whether country passes the list in its current mode.
func (p *Policy) Allows(ctx context.Context, country domain.Country) (bool, error) {
	mode, err := p.store.Mode(ctx)
	if err != nil {
		return false, fmt.Errorf("reading list mode: %w", err)
	}
	listed, err := p.store.Contains(ctx, country)
	if err != nil {
		return false, fmt.Errorf("reading country list: %w", err)
	}
	if mode == models.ListModeWhitelist {
		return listed, nil
	}
	return !listed, nil
}

// Verifier resolves a wallet to its identity-level verification.
type Verifier interface {
	VerifyAddress(ctx context.Context, wallet common.Address) (models.Verification, error)
}

// checkConcurrency caps parallel verifier lookups in CheckBatch.
const checkConcurrency = 8

// Gate applies the country policy on top of an optional Verifier. Without a
// verifier every address is eligible.
type Gate struct {
	mu       sync.RWMutex
	verifier Verifier
	policy   *Policy
}

func NewGate(policy *Policy, verifier Verifier) *Gate {
	return &Gate{policy: policy, verifier: verifier}
}

// SetVerifier swaps the identity source. nil switches to permissive mode.
func (g *Gate) SetVerifier(v Verifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifier = v
}

func (g *Gate) HasVerifier() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.verifier != nil
}

// Check returns the combined verdict for wallet.
func (g *Gate) Check(ctx context.Context, wallet common.Address) (models.Verification, error) {
	g.mu.RLock()
	verifier := g.verifier
	g.mu.RUnlock()

	if verifier == nil {
		return models.Verification{Wallet: wallet, Eligible: true, Reason: models.ReasonNoRegistry}, nil
	}
	v, err := verifier.VerifyAddress(ctx, wallet)
	if err != nil {
		return models.Verification{}, err
	}
	if !v.Eligible {
		return v, nil
	}
	allowed, err := g.policy.Allows(ctx, v.Country)
	if err != nil {
		return models.Verification{}, err
	}
	if !allowed {
		v.Eligible = false
		v.Reason = models.ReasonCountryNotAllowed
	}
	return v, nil
}

// CheckBatch checks wallets concurrently. Results keep input order; the first
// failure cancels the remaining lookups.
func (g *Gate) CheckBatch(ctx context.Context, wallets []common.Address) ([]models.Verification, error) {
	out := make([]models.Verification, len(wallets))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(checkConcurrency)
	for i, w := range wallets {
		eg.Go(func() error {
			v, err := g.Check(ctx, w)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Catalog names the identity registries an operator can point the gate at.
type Catalog struct {
	mu         sync.RWMutex
	registries map[common.Address]Verifier
}

func NewCatalog() *Catalog {
	return &Catalog{registries: make(map[common.Address]Verifier)}
}

func (c *Catalog) Register(addr common.Address, v Verifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registries[addr] = v
}

func (c *Catalog) Lookup(addr common.Address) (Verifier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.registries[addr]
	return v, ok
}

func (c *Catalog) Addresses() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]common.Address, 0, len(c.registries))
	for addr := range c.registries {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
