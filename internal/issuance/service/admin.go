package service

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	eligibilitymodels "custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/sets"
)

var adminRole = access.Role(accessmodels.RoleAdmin)

// FreezeAccount bars account from sending. The escrow account cannot be
// frozen.
func (w *Workflow) FreezeAccount(ctx context.Context, caller, account common.Address) error {
	return w.setFrozen(ctx, caller, account, true)
}

func (w *Workflow) UnfreezeAccount(ctx context.Context, caller, account common.Address) error {
	return w.setFrozen(ctx, caller, account, false)
}

func (w *Workflow) setFrozen(ctx context.Context, caller, account common.Address, freeze bool) (err error) {
	op, event := "unfreeze_account", audit.EventAccountUnfrozen
	if freeze {
		op, event = "freeze_account", audit.EventAccountFrozen
	}
	ctx, span := w.start(ctx, op, attribute.String("account", account.Hex()))
	defer func() { w.finish(span, op, err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	if account == w.deps.Escrow {
		return ErrEscrowProtected
	}

	if freeze {
		err = w.deps.Frozen.Freeze(ctx, account)
	} else {
		err = w.deps.Frozen.Unfreeze(ctx, account)
	}
	switch {
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return ErrAlreadyFrozen
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrNotFrozen
	case err != nil:
		return translate(err, "failed to change frozen set")
	}

	w.metrics.IncFreezeChange(op)
	audit.LogAudit(ctx, w.logger, w.auditPublisher, event,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, account.Hex(),
	)
	return nil
}

func (w *Workflow) IsFrozen(ctx context.Context, account common.Address) (bool, error) {
	frozen, err := w.deps.Frozen.IsFrozen(ctx, account)
	if err != nil {
		return false, translate(err, "failed to read frozen set")
	}
	return frozen, nil
}

func (w *Workflow) FrozenAccounts(ctx context.Context) ([]common.Address, error) {
	list, err := w.deps.Frozen.List(ctx)
	if err != nil {
		return nil, translate(err, "failed to list frozen accounts")
	}
	return list, nil
}

func (w *Workflow) AddCountry(ctx context.Context, caller common.Address, country domain.Country) error {
	return w.AddCountries(ctx, caller, []domain.Country{country})
}

func (w *Workflow) RemoveCountry(ctx context.Context, caller common.Address, country domain.Country) error {
	return w.RemoveCountries(ctx, caller, []domain.Country{country})
}

// AddCountries lists every country or none of them.
func (w *Workflow) AddCountries(ctx context.Context, caller common.Address, countries []domain.Country) error {
	return w.changeCountries(ctx, caller, countries, true)
}

// RemoveCountries unlists every country or none of them.
func (w *Workflow) RemoveCountries(ctx context.Context, caller common.Address, countries []domain.Country) error {
	return w.changeCountries(ctx, caller, countries, false)
}

func (w *Workflow) changeCountries(ctx context.Context, caller common.Address, countries []domain.Country, add bool) (err error) {
	op, event := "remove_countries", audit.EventCountryUnlisted
	if add {
		op, event = "add_countries", audit.EventCountryListed
	}
	ctx, span := w.start(ctx, op, attribute.Int("countries", len(countries)))
	defer func() { w.finish(span, op, err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if len(countries) == 0 {
		return ErrEmptyCountries
	}
	if _, dup := sets.FirstDuplicate(countries); dup {
		return ErrDuplicateCountry
	}

	store := w.deps.Policy.Store()
	if add {
		err = store.Add(ctx, countries...)
	} else {
		err = store.Remove(ctx, countries...)
	}
	switch {
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return ErrCountryListed
	case errors.Is(err, sentinel.ErrNotFound):
		return ErrCountryNotListed
	case err != nil:
		return translate(err, "failed to change country list")
	}

	codes := make([]string, len(countries))
	for i, c := range countries {
		codes[i] = strconv.Itoa(int(c))
	}
	audit.LogAudit(ctx, w.logger, w.auditPublisher, event,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, "countries",
		"countries", strings.Join(codes, ","),
	)
	return nil
}

func (w *Workflow) IsCountryListed(ctx context.Context, country domain.Country) (bool, error) {
	listed, err := w.deps.Policy.Store().Contains(ctx, country)
	if err != nil {
		return false, translate(err, "failed to read country list")
	}
	return listed, nil
}

func (w *Workflow) Countries(ctx context.Context) ([]domain.Country, error) {
	list, err := w.deps.Policy.Store().List(ctx)
	if err != nil {
		return nil, translate(err, "failed to list countries")
	}
	return list, nil
}

func (w *Workflow) SetListMode(ctx context.Context, caller common.Address, mode eligibilitymodels.ListMode) (err error) {
	ctx, span := w.start(ctx, "set_list_mode", attribute.String("mode", string(mode)))
	defer func() { w.finish(span, "set_list_mode", err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if !mode.IsValid() {
		return ErrInvalidListMode
	}
	if err := w.deps.Policy.Store().SetMode(ctx, mode); err != nil {
		return translate(err, "failed to set list mode")
	}
	audit.LogAudit(ctx, w.logger, w.auditPublisher, audit.EventListModeChanged,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, "list_mode",
		audit.AttrStatus, string(mode),
	)
	return nil
}

func (w *Workflow) ListMode(ctx context.Context) (eligibilitymodels.ListMode, error) {
	mode, err := w.deps.Policy.Store().Mode(ctx)
	if err != nil {
		return "", translate(err, "failed to read list mode")
	}
	return mode, nil
}

// SetIdentityRegistry points the transfer hook at the registry published
// under addr. The zero address removes the registry, making every address
// eligible.
func (w *Workflow) SetIdentityRegistry(ctx context.Context, caller, addr common.Address) (err error) {
	ctx, span := w.start(ctx, "set_identity_registry", attribute.String("registry", addr.Hex()))
	defer func() { w.finish(span, "set_identity_registry", err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		w.deps.Gate.SetVerifier(nil)
	} else {
		verifier, ok := w.deps.Registries.Lookup(addr)
		if !ok {
			return ErrUnknownRegistry
		}
		w.deps.Gate.SetVerifier(verifier)
	}

	w.registryMu.Lock()
	previous := w.registry
	w.registry = addr
	w.registryMu.Unlock()

	audit.LogAudit(ctx, w.logger, w.auditPublisher, audit.EventRegistryChanged,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, addr.Hex(),
		"previous", previous.Hex(),
	)
	return nil
}

func (w *Workflow) IdentityRegistry() common.Address {
	w.registryMu.RLock()
	defer w.registryMu.RUnlock()
	return w.registry
}

// ForcedTransfer moves tokens without the holder's consent. It skips the
// allowance but still runs the hook, so frozen or ineligible parties block it.
func (w *Workflow) ForcedTransfer(ctx context.Context, caller, from, to common.Address, amount *big.Int) (err error) {
	ctx, span := w.start(ctx, "forced_transfer", attribute.String("from", from.Hex()), attribute.String("to", to.Hex()))
	defer func() { w.finish(span, "forced_transfer", err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if err := w.checkMove(from, to, amount); err != nil {
		return err
	}
	if err := tokenError(w.deps.Token.Transfer(ctx, from, to, amount)); err != nil {
		return err
	}
	w.auditTransfer(ctx, audit.EventForcedTransfer, caller, from, to, amount)
	return nil
}

// RecoverTokens sends foreign tokens that landed on the escrow account to to.
func (w *Workflow) RecoverTokens(ctx context.Context, caller, asset, to common.Address, amount *big.Int) (err error) {
	ctx, span := w.start(ctx, "recover_tokens", attribute.String("asset", asset.Hex()))
	defer func() { w.finish(span, "recover_tokens", err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if asset == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if asset == w.deps.Token.Address() {
		return ErrRecoverIssuedToken
	}
	if !domain.IsPositive(amount) || !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	foreign, ok := w.deps.Assets.Resolve(asset)
	if !ok {
		return ErrUnknownAsset
	}
	if err := foreign.Transfer(ctx, w.deps.Escrow, to, amount); err != nil {
		return ErrTransferFailed.Because(err)
	}

	audit.LogAudit(ctx, w.logger, w.auditPublisher, audit.EventTokensRecovered,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, to.Hex(),
		audit.AttrAsset, asset.Hex(),
		audit.AttrAmount, amount.String(),
	)
	return nil
}

// RecoverNative sends native currency held by the escrow account to to.
func (w *Workflow) RecoverNative(ctx context.Context, caller, to common.Address, amount *big.Int) (err error) {
	ctx, span := w.start(ctx, "recover_native")
	defer func() { w.finish(span, "recover_native", err) }()

	if err := w.deps.Authz.Require(ctx, caller, adminRole); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !domain.IsPositive(amount) || !domain.IsUint256(amount) {
		return ErrInvalidAmount
	}
	if w.deps.Native == nil {
		return ErrNativeUnavailable
	}
	if err := w.deps.Native.Transfer(ctx, w.deps.Escrow, to, amount); err != nil {
		return ErrTransferFailed.Because(err)
	}

	audit.LogAudit(ctx, w.logger, w.auditPublisher, audit.EventNativeRecovered,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, to.Hex(),
		audit.AttrAmount, amount.String(),
	)
	return nil
}

func (w *Workflow) GrantRole(ctx context.Context, caller common.Address, role accessmodels.Role, principal common.Address) error {
	return w.deps.Authz.Grant(ctx, caller, role, principal)
}

// RevokeRole removes role from principal. Admins cannot revoke their own
// admin role.
func (w *Workflow) RevokeRole(ctx context.Context, caller common.Address, role accessmodels.Role, principal common.Address) error {
	return w.deps.Authz.Revoke(ctx, caller, role, principal)
}

// RenounceRole always fails; role removal goes through RevokeRole.
func (w *Workflow) RenounceRole(ctx context.Context, caller common.Address, role accessmodels.Role) error {
	return w.deps.Authz.Renounce(ctx, caller, role)
}
