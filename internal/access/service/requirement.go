package service

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/access/models"
	dErrors "custody/pkg/domain-errors"
)

type requirementKind int

const (
	kindRole requirementKind = iota + 1
	kindParty
	kindAnyOf
	kindExcept
)

// Requirement describes who may perform an operation. Build one with Role,
// Party, AnyOf and Except and evaluate it with Directory.Authorize.
type Requirement struct {
	kind    requirementKind
	role    models.Role
	label   string
	party   common.Address
	options []Requirement
}

// Role is met when the principal holds r.
func Role(r models.Role) Requirement {
	return Requirement{kind: kindRole, role: r}
}

// Party is met when the principal is addr. label names the relationship
// ("lender", "borrower") in verdicts.
func Party(label string, addr common.Address) Requirement {
	return Requirement{kind: kindParty, label: label, party: addr}
}

// AnyOf is met when at least one option is met.
func AnyOf(options ...Requirement) Requirement {
	return Requirement{kind: kindAnyOf, options: options}
}

// Except is met when req is met and the principal is not addr.
func Except(req Requirement, label string, addr common.Address) Requirement {
	return Requirement{kind: kindExcept, label: label, party: addr, options: []Requirement{req}}
}

func (r Requirement) String() string {
	switch r.kind {
	case kindRole:
		return "role:" + string(r.role)
	case kindParty:
		return "party:" + r.label
	case kindAnyOf:
		parts := make([]string, len(r.options))
		for i, o := range r.options {
			parts[i] = o.String()
		}
		return "any of [" + strings.Join(parts, ", ") + "]"
	case kindExcept:
		return r.options[0].String() + " except party:" + r.label
	}
	return "nothing"
}

// Verdict is the outcome of an authorization check.
type Verdict struct {
	Allowed     bool
	Principal   common.Address
	Requirement string
	Reason      string
}

// ErrUnauthorized is the base of every failed verdict.
var ErrUnauthorized = dErrors.New(dErrors.CodeForbidden, "caller is not authorized")

// Err returns nil for an allowed verdict and a forbidden error naming the
// unmet requirement otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return ErrUnauthorized.Because(fmt.Errorf("%s does not satisfy %s: %s", v.Principal.Hex(), v.Requirement, v.Reason))
}

// evaluate reports whether principal meets r. roles holds the roles the
// principal was loaded with.
func (r Requirement) evaluate(principal common.Address, roles map[models.Role]bool) (bool, string) {
	switch r.kind {
	case kindRole:
		if roles[r.role] {
			return true, ""
		}
		return false, "missing role " + string(r.role)
	case kindParty:
		if principal == r.party {
			return true, ""
		}
		return false, "not the " + r.label
	case kindAnyOf:
		for _, o := range r.options {
			if ok, _ := o.evaluate(principal, roles); ok {
				return true, ""
			}
		}
		return false, "none of the alternatives apply"
	case kindExcept:
		if principal == r.party {
			return false, "principal is the " + r.label
		}
		return r.options[0].evaluate(principal, roles)
	}
	return false, "empty requirement"
}

// needsRoles reports whether evaluating r can consult role memberships.
func (r Requirement) needsRoles() bool {
	if r.kind == kindRole {
		return true
	}
	for _, o := range r.options {
		if o.needsRoles() {
			return true
		}
	}
	return false
}
