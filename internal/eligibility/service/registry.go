// Package service implements the identity registry: wallet bindings, identity
// lifecycle, and address verification.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	"custody/internal/eligibility/metrics"
	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/sets"
	"custody/pkg/requestcontext"
)

const DefaultMaxWallets = 10

// Store persists identities and the wallet index. Create and CreateBatch fail
// with sentinel.ErrAlreadyExists for a known hash and sentinel.ErrConflict for
// a bound wallet. sentinel.ErrContention reports a write that lost too many
// optimistic races. Update commits fn's changes atomically and rebinds wallets.
type Store interface {
	Create(ctx context.Context, identity *models.Identity) error
	CreateBatch(ctx context.Context, identities []*models.Identity) error
	FindByHash(ctx context.Context, hash domain.IdentityHash) (*models.Identity, error)
	FindByWallet(ctx context.Context, wallet common.Address) (*models.Identity, error)
	Delete(ctx context.Context, hash domain.IdentityHash) error
	Update(ctx context.Context, hash domain.IdentityHash, fn func(*models.Identity) error) error
}

// Authorizer is the capability check the registry runs before mutating.
type Authorizer interface {
	Require(ctx context.Context, principal common.Address, req access.Requirement) error
}

// RegisterIdentityRequest describes one identity to register.
type RegisterIdentityRequest struct {
	Hash      domain.IdentityHash
	ExpiresAt time.Time
	Wallets   []common.Address
	Country   domain.Country
	Data      string
}

type Registry struct {
	store          Store
	authz          Authorizer
	maxWallets     int
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(r *Registry) {
		r.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithMaxWallets sets the per-identity wallet limit. Non-positive values keep the default.
func WithMaxWallets(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxWallets = n
		}
	}
}

func New(store Store, authz Authorizer, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		authz:      authz,
		maxWallets: DefaultMaxWallets,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) MaxWallets() int { return r.maxWallets }

var registrar = access.AnyOf(access.Role(accessmodels.RoleAdmin), access.Role(accessmodels.RoleRegistrar))

func (r *Registry) RegisterIdentity(ctx context.Context, caller common.Address, req RegisterIdentityRequest) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	identity, err := r.prepare(ctx, req)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, identity); err != nil {
		return translate(err, "failed to register identity")
	}
	r.registered(ctx, caller, identity)
	return nil
}

// RegisterIdentities registers every identity or none. Overlapping hashes or
// wallets inside the batch are rejected like overlaps with stored identities.
func (r *Registry) RegisterIdentities(ctx context.Context, caller common.Address, reqs []RegisterIdentityRequest) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	if len(reqs) == 0 {
		return ErrEmptyBatch
	}
	identities := make([]*models.Identity, len(reqs))
	for i, req := range reqs {
		identity, err := r.prepare(ctx, req)
		if err != nil {
			return err
		}
		identities[i] = identity
	}
	if err := r.store.CreateBatch(ctx, identities); err != nil {
		return translate(err, "failed to register identities")
	}
	for _, identity := range identities {
		r.registered(ctx, caller, identity)
	}
	return nil
}

func (r *Registry) DeleteIdentity(ctx context.Context, caller common.Address, hash domain.IdentityHash) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	if hash.IsZero() {
		return ErrZeroHash
	}
	if err := r.store.Delete(ctx, hash); err != nil {
		return translate(err, "failed to delete identity")
	}
	r.metrics.IncIdentityChange("delete")
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventIdentityDeleted,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, hash.Hex(),
	)
	return nil
}

func (r *Registry) AddWallets(ctx context.Context, caller common.Address, hash domain.IdentityHash, wallets []common.Address) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	if err := r.checkWallets(hash, wallets); err != nil {
		return err
	}
	err := r.store.Update(ctx, hash, func(identity *models.Identity) error {
		for _, w := range wallets {
			if identity.HasWallet(w) {
				return ErrWalletBound
			}
		}
		if len(identity.Wallets)+len(wallets) > r.maxWallets {
			return ErrWalletLimitReached
		}
		identity.Wallets = append(identity.Wallets, wallets...)
		identity.UpdatedAt = requestcontext.Now(ctx)
		return nil
	})
	if err != nil {
		return translate(err, "failed to add wallets")
	}
	r.metrics.IncIdentityChange("add_wallets")
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventWalletsAdded,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, hash.Hex(),
		"wallets", strconv.Itoa(len(wallets)),
	)
	return nil
}

// RemoveWallets unbinds wallets from the identity. Removing every wallet is
// rejected; DeleteIdentity is the only way to drop the last binding.
func (r *Registry) RemoveWallets(ctx context.Context, caller common.Address, hash domain.IdentityHash, wallets []common.Address) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	if hash.IsZero() {
		return ErrZeroHash
	}
	if len(wallets) == 0 {
		return ErrNoWallets
	}
	if _, dup := sets.FirstDuplicate(wallets); dup {
		return ErrDuplicateWallet
	}
	err := r.store.Update(ctx, hash, func(identity *models.Identity) error {
		for _, w := range wallets {
			if !identity.HasWallet(w) {
				return ErrWalletNotOwned
			}
		}
		if len(wallets) >= len(identity.Wallets) {
			return ErrLastWallet
		}
		kept := identity.Wallets[:0]
		for _, w := range identity.Wallets {
			if !sets.Contains(wallets, w) {
				kept = append(kept, w)
			}
		}
		identity.Wallets = kept
		identity.UpdatedAt = requestcontext.Now(ctx)
		return nil
	})
	if err != nil {
		return translate(err, "failed to remove wallets")
	}
	r.metrics.IncIdentityChange("remove_wallets")
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventWalletsRemoved,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, hash.Hex(),
		"wallets", strconv.Itoa(len(wallets)),
	)
	return nil
}

func (r *Registry) UpdateExpiryDate(ctx context.Context, caller common.Address, hash domain.IdentityHash, expiresAt time.Time) error {
	if !expiresAt.After(requestcontext.Now(ctx)) {
		return ErrExpiryNotInFuture
	}
	return r.update(ctx, caller, hash, "expiry", expiresAt.UTC().Format(time.RFC3339), func(identity *models.Identity) {
		identity.ExpiresAt = expiresAt
	})
}

func (r *Registry) UpdateCountry(ctx context.Context, caller common.Address, hash domain.IdentityHash, country domain.Country) error {
	return r.update(ctx, caller, hash, "country", strconv.Itoa(int(country)), func(identity *models.Identity) {
		identity.Country = country
	})
}

func (r *Registry) UpdateData(ctx context.Context, caller common.Address, hash domain.IdentityHash, data string) error {
	return r.update(ctx, caller, hash, "data", "", func(identity *models.Identity) {
		identity.Data = data
	})
}

func (r *Registry) update(ctx context.Context, caller common.Address, hash domain.IdentityHash, field, value string, apply func(*models.Identity)) error {
	if err := r.authz.Require(ctx, caller, registrar); err != nil {
		return err
	}
	if hash.IsZero() {
		return ErrZeroHash
	}
	err := r.store.Update(ctx, hash, func(identity *models.Identity) error {
		apply(identity)
		identity.UpdatedAt = requestcontext.Now(ctx)
		return nil
	})
	if err != nil {
		return translate(err, "failed to update identity")
	}
	r.metrics.IncIdentityChange("update_" + field)
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventIdentityUpdated,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, hash.Hex(),
		"field", field,
		"value", value,
	)
	return nil
}

func (r *Registry) GetIdentity(ctx context.Context, hash domain.IdentityHash) (*models.Identity, error) {
	identity, err := r.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, translate(err, "failed to load identity")
	}
	return identity, nil
}

func (r *Registry) IdentityOf(ctx context.Context, wallet common.Address) (*models.Identity, error) {
	identity, err := r.store.FindByWallet(ctx, wallet)
	if err != nil {
		return nil, translate(err, "failed to load identity")
	}
	return identity, nil
}

// VerifyAddress reports identity-level eligibility for wallet. Unbound wallets
// carry no country; expired identities still report theirs.
func (r *Registry) VerifyAddress(ctx context.Context, wallet common.Address) (models.Verification, error) {
	start := time.Now()
	identity, err := r.store.FindByWallet(ctx, wallet)
	if errors.Is(err, sentinel.ErrNotFound) {
		r.metrics.ObserveVerification(false, models.ReasonNotRegistered, start)
		return models.Verification{Wallet: wallet, Reason: models.ReasonNotRegistered}, nil
	}
	if err != nil {
		return models.Verification{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify address")
	}

	v := models.Verification{
		Wallet:       wallet,
		Eligible:     true,
		Country:      identity.Country,
		IdentityHash: identity.Hash,
	}
	if identity.IsExpired(requestcontext.Now(ctx)) {
		v.Eligible = false
		v.Reason = models.ReasonExpired
	}
	r.metrics.ObserveVerification(v.Eligible, v.Reason, start)
	return v, nil
}

func (r *Registry) prepare(ctx context.Context, req RegisterIdentityRequest) (*models.Identity, error) {
	if err := r.checkWallets(req.Hash, req.Wallets); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !req.ExpiresAt.After(now) {
		return nil, ErrExpiryNotInFuture
	}
	return &models.Identity{
		Hash:      req.Hash,
		ExpiresAt: req.ExpiresAt,
		Wallets:   append([]common.Address(nil), req.Wallets...),
		Country:   req.Country,
		Data:      req.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Registry) checkWallets(hash domain.IdentityHash, wallets []common.Address) error {
	if hash.IsZero() {
		return ErrZeroHash
	}
	if len(wallets) == 0 {
		return ErrNoWallets
	}
	if len(wallets) > r.maxWallets {
		return ErrTooManyWallets
	}
	for _, w := range wallets {
		if w == (common.Address{}) {
			return ErrZeroWallet
		}
	}
	if _, dup := sets.FirstDuplicate(wallets); dup {
		return ErrDuplicateWallet
	}
	return nil
}

func (r *Registry) registered(ctx context.Context, caller common.Address, identity *models.Identity) {
	r.metrics.IncIdentityChange("register")
	audit.LogAudit(ctx, r.logger, r.auditPublisher, audit.EventIdentityRegistered,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, identity.Hash.Hex(),
		"wallets", strconv.Itoa(len(identity.Wallets)),
		"country", strconv.Itoa(int(identity.Country)),
	)
}

// translate maps store facts onto registry errors. Domain errors raised inside
// Update callbacks pass through unchanged.
func translate(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return ErrIdentityExists
	case errors.Is(err, sentinel.ErrContention):
		return ErrStoreBusy.Because(err)
	case errors.Is(err, sentinel.ErrConflict):
		return ErrWalletBound
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
