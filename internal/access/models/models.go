package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a membership set in the directory.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleFundManager Role = "fund_manager"
	RoleLender      Role = "lender"
	RoleRegistrar   Role = "registrar"
)

var knownRoles = []Role{RoleAdmin, RoleFundManager, RoleLender, RoleRegistrar}

// Roles returns every role the directory manages.
func Roles() []Role {
	return append([]Role(nil), knownRoles...)
}

func (r Role) IsValid() bool {
	for _, known := range knownRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// Membership records that Principal holds Role.
type Membership struct {
	Role      Role
	Principal common.Address
	GrantedBy common.Address
	GrantedAt time.Time
}
