package handler

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/access/models"
	"custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// RoleChangeRequest is the body for POST /roles/grant and /roles/revoke.
type RoleChangeRequest struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`

	role      models.Role
	principal common.Address
}

func (r *RoleChangeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	role, err := parseRole(r.Role)
	if err != nil {
		return err
	}
	principal, err := domain.ParseAddress(strings.TrimSpace(r.Principal))
	if err != nil {
		return err
	}
	r.role, r.principal = role, principal
	return nil
}

// RenounceRequest is the body for POST /roles/renounce.
type RenounceRequest struct {
	Role string `json:"role"`

	role models.Role
}

func (r *RenounceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	role, err := parseRole(r.Role)
	if err != nil {
		return err
	}
	r.role = role
	return nil
}

func parseRole(s string) (models.Role, error) {
	role := models.Role(strings.ToLower(strings.TrimSpace(s)))
	if role == "" {
		return "", dErrors.New(dErrors.CodeValidation, "role is required")
	}
	if !role.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return role, nil
}

type MembershipResponse struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
	HasRole   bool   `json:"has_role"`
}

type MembersResponse struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}
