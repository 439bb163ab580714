package auth

import (
	"fmt"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// Role is the closed set of account roles. Users, token claims and route
// policies all use this type.
type Role string

const (
	RoleManagement Role = "management"
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleManagement, RoleDoctor, RoleNurse}

// ParseRole converts s to a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleManagement, RoleDoctor, RoleNurse:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// permits reports whether r is a member of allowed. An empty allowed set
// permits every valid role.
func permits(allowed []Role, r Role) bool {
	if !r.Valid() {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == r {
			return true
		}
	}
	return false
}
