package auth

import (
	"fmt"
	"strings"
)

// Role is the identity class of an actor. An actor holds exactly one role for
// the lifetime of a session.
type Role string

const (
	RoleCitizen    Role = "citizen"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Roles lists every defined role from least to most privileged.
func Roles() []Role {
	return []Role{RoleCitizen, RoleModerator, RoleAdmin, RoleSuperadmin}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleModerator, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole converts untrusted input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}
