// Package service implements the authorization directory: role memberships
// and the single capability check every component calls before acting.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/access/metrics"
	"custody/internal/access/models"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/requestcontext"
)

// Store persists role memberships.
type Store interface {
	Has(ctx context.Context, role models.Role, principal common.Address) (bool, error)
	RolesOf(ctx context.Context, principal common.Address) ([]models.Role, error)
	Members(ctx context.Context, role models.Role) ([]models.Membership, error)
	Count(ctx context.Context, role models.Role) (int, error)
	Add(ctx context.Context, m models.Membership) error
	Remove(ctx context.Context, role models.Role, principal common.Address) error
}

var (
	ErrUnknownRole        = dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	ErrZeroPrincipal      = dErrors.New(dErrors.CodeInvalidInput, "principal must not be the zero address")
	ErrRoleAlreadyGranted = dErrors.New(dErrors.CodeConflict, "principal already holds the role")
	ErrRoleNotHeld        = dErrors.New(dErrors.CodeConflict, "principal does not hold the role")
	ErrSelfAdminRevoke    = dErrors.New(dErrors.CodeForbidden, "an admin cannot revoke its own admin role")
	ErrRenounceDisabled   = dErrors.New(dErrors.CodeForbidden, "renouncing roles is disabled; ask an admin to revoke")
)

type Directory struct {
	store          Store
	logger         *slog.Logger
	auditPublisher audit.Emitter
	metrics        *metrics.Metrics
}

type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(d *Directory) {
		d.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) {
		d.metrics = m
	}
}

func New(store Store, opts ...Option) *Directory {
	d := &Directory{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) HasRole(ctx context.Context, role models.Role, principal common.Address) (bool, error) {
	if !role.IsValid() {
		return false, ErrUnknownRole
	}
	ok, err := d.store.Has(ctx, role, principal)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check role membership")
	}
	return ok, nil
}

// Members lists the principals holding role in grant order.
func (d *Directory) Members(ctx context.Context, role models.Role) ([]common.Address, error) {
	if !role.IsValid() {
		return nil, ErrUnknownRole
	}
	memberships, err := d.store.Members(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list role members")
	}
	out := make([]common.Address, len(memberships))
	for i, m := range memberships {
		out[i] = m.Principal
	}
	return out, nil
}

// Authorize evaluates req for principal. A store failure is returned as an
// error; an unmet requirement is a denied verdict.
func (d *Directory) Authorize(ctx context.Context, principal common.Address, req Requirement) (Verdict, error) {
	roles := map[models.Role]bool{}
	if req.needsRoles() && principal != (common.Address{}) {
		held, err := d.store.RolesOf(ctx, principal)
		if err != nil {
			return Verdict{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load roles")
		}
		for _, r := range held {
			roles[r] = true
		}
	}

	allowed, reason := req.evaluate(principal, roles)
	if principal == (common.Address{}) {
		allowed, reason = false, "no principal"
	}
	if !allowed {
		d.metrics.IncDenial()
	}
	return Verdict{
		Allowed:     allowed,
		Principal:   principal,
		Requirement: req.String(),
		Reason:      reason,
	}, nil
}

// Require is Authorize folded into a single error.
func (d *Directory) Require(ctx context.Context, principal common.Address, req Requirement) error {
	verdict, err := d.Authorize(ctx, principal, req)
	if err != nil {
		return err
	}
	return verdict.Err()
}

// Grant adds principal to role. The actor must hold admin.
func (d *Directory) Grant(ctx context.Context, actor common.Address, role models.Role, principal common.Address) error {
	if err := d.validate(role, principal); err != nil {
		return err
	}
	if err := d.Require(ctx, actor, Role(models.RoleAdmin)); err != nil {
		return err
	}

	err := d.store.Add(ctx, models.Membership{
		Role:      role,
		Principal: principal,
		GrantedBy: actor,
		GrantedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return ErrRoleAlreadyGranted
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant role")
	}

	d.metrics.IncRoleChange(string(role), "grant")
	audit.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventRoleGranted,
		audit.AttrActor, actor.Hex(),
		audit.AttrSubject, principal.Hex(),
		"role", string(role),
	)
	return nil
}

// Revoke removes principal from role. The actor must hold admin and may not
// remove its own admin membership.
func (d *Directory) Revoke(ctx context.Context, actor common.Address, role models.Role, principal common.Address) error {
	if err := d.validate(role, principal); err != nil {
		return err
	}
	if err := d.Require(ctx, actor, Role(models.RoleAdmin)); err != nil {
		return err
	}
	if role == models.RoleAdmin && actor == principal {
		return ErrSelfAdminRevoke
	}

	if err := d.store.Remove(ctx, role, principal); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrRoleNotHeld
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke role")
	}

	d.metrics.IncRoleChange(string(role), "revoke")
	audit.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventRoleRevoked,
		audit.AttrActor, actor.Hex(),
		audit.AttrSubject, principal.Hex(),
		"role", string(role),
	)
	return nil
}

// Renounce always fails: role removal goes through an admin-initiated Revoke.
func (d *Directory) Renounce(_ context.Context, _ common.Address, role models.Role) error {
	if !role.IsValid() {
		return ErrUnknownRole
	}
	return ErrRenounceDisabled
}

// Bootstrap grants admin to the given principal when the directory has no
// admin yet. It reports whether a grant happened.
func (d *Directory) Bootstrap(ctx context.Context, admin common.Address) (bool, error) {
	if admin == (common.Address{}) {
		return false, ErrZeroPrincipal
	}
	n, err := d.store.Count(ctx, models.RoleAdmin)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count admins")
	}
	if n > 0 {
		return false, nil
	}
	err = d.store.Add(ctx, models.Membership{
		Role:      models.RoleAdmin,
		Principal: admin,
		GrantedAt: requestcontext.Now(ctx),
	})
	if err != nil && !errors.Is(err, sentinel.ErrAlreadyExists) {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed admin")
	}

	d.logger.InfoContext(ctx, "seeded default admin", "admin", admin.Hex())
	audit.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventRoleGranted,
		audit.AttrActor, "bootstrap",
		audit.AttrSubject, admin.Hex(),
		"role", string(models.RoleAdmin),
	)
	return true, nil
}

func (d *Directory) validate(role models.Role, principal common.Address) error {
	if !role.IsValid() {
		return ErrUnknownRole
	}
	if principal == (common.Address{}) {
		return ErrZeroPrincipal
	}
	return nil
}
