package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	"custody/internal/custody/models"
	"custody/internal/custody/ports"
	"custody/pkg/domain"
	"custody/pkg/platform/audit"
)

// RegisterToken admits asset for staking. The asset must be resolvable to a
// token primitive.
func (l *Ledger) RegisterToken(ctx context.Context, caller, asset common.Address) error {
	return l.setToken(ctx, caller, asset, true)
}

// UnregisterToken stops new stakes of asset. Funds already in custody can
// still be unstaked.
func (l *Ledger) UnregisterToken(ctx context.Context, caller, asset common.Address) error {
	return l.setToken(ctx, caller, asset, false)
}

func (l *Ledger) setToken(ctx context.Context, caller, asset common.Address, register bool) (err error) {
	op, event := "unregister_token", audit.EventTokenUnregistered
	if register {
		op, event = "register_token", audit.EventTokenRegistered
	}
	ctx, span := l.start(ctx, op, attribute.String("asset", asset.Hex()))
	defer func() { l.finish(span, op, err) }()

	if err := l.authz.Require(ctx, caller, access.Role(accessmodels.RoleAdmin)); err != nil {
		return err
	}
	if asset == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := l.assets.Resolve(asset); register && !ok {
		return ErrUnknownAsset
	}

	err = l.store.RunInTx(ctx, func(tx ports.Tx) error {
		registered, err := tx.IsTokenRegistered(ctx, asset)
		if err != nil {
			return err
		}
		switch {
		case register && registered:
			return ErrTokenAlreadyRegistered
		case !register && !registered:
			return ErrTokenNotRegistered
		}
		return tx.SetTokenRegistered(ctx, asset, register)
	})
	if err != nil {
		return translate(err, "failed to change token registration")
	}

	audit.LogAudit(ctx, l.logger, l.auditPublisher, event,
		audit.AttrActor, caller.Hex(),
		audit.AttrSubject, asset.Hex(),
		audit.AttrAsset, asset.Hex(),
	)
	return nil
}

func (l *Ledger) AddLender(ctx context.Context, caller, lender common.Address) error {
	return l.authz.Grant(ctx, caller, accessmodels.RoleLender, lender)
}

func (l *Ledger) DeleteLender(ctx context.Context, caller, lender common.Address) error {
	return l.authz.Revoke(ctx, caller, accessmodels.RoleLender, lender)
}

func (l *Ledger) AddAdmin(ctx context.Context, caller, admin common.Address) error {
	return l.authz.Grant(ctx, caller, accessmodels.RoleAdmin, admin)
}

// DeleteAdmin revokes admin from another principal. Revoking one's own admin
// membership is rejected by the directory.
func (l *Ledger) DeleteAdmin(ctx context.Context, caller, admin common.Address) error {
	return l.authz.Revoke(ctx, caller, accessmodels.RoleAdmin, admin)
}

// GetBalance returns the balance for key(lender, borrower, asset). Unknown
// keys read as zero.
func (l *Ledger) GetBalance(ctx context.Context, asset, lender, borrower common.Address) (models.Balance, error) {
	b, err := l.store.Balance(ctx, lender, borrower, asset)
	if err != nil {
		return models.Balance{}, translate(err, "failed to read balance")
	}
	return b, nil
}

func (l *Ledger) GetUnstake(ctx context.Context, id domain.RequestID) (*models.Unstake, error) {
	u, err := l.store.Unstake(ctx, id)
	if err != nil {
		return nil, translate(err, "failed to read unstake request")
	}
	return u, nil
}

func (l *Ledger) ListUnstakes(ctx context.Context, filter models.UnstakeFilter) ([]*models.Unstake, error) {
	list, err := l.store.ListUnstakes(ctx, filter)
	if err != nil {
		return nil, translate(err, "failed to list unstake requests")
	}
	return list, nil
}

func (l *Ledger) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	return l.authz.HasRole(ctx, accessmodels.RoleAdmin, addr)
}

func (l *Ledger) IsLender(ctx context.Context, addr common.Address) (bool, error) {
	return l.authz.HasRole(ctx, accessmodels.RoleLender, addr)
}

func (l *Ledger) IsTokenRegistered(ctx context.Context, asset common.Address) (bool, error) {
	ok, err := l.store.IsTokenRegistered(ctx, asset)
	if err != nil {
		return false, translate(err, "failed to read token registration")
	}
	return ok, nil
}

func (l *Ledger) Tokens(ctx context.Context) ([]common.Address, error) {
	tokens, err := l.store.Tokens(ctx)
	if err != nil {
		return nil, translate(err, "failed to list tokens")
	}
	return tokens, nil
}
