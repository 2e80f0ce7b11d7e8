package auth

import (
	"fmt"
	"sort"
)

// Grant is the matrix entry for a role: either Explicit or AllPermissions.
// The interface is sealed; no other package can add variants.
type Grant interface {
	isGrant()
}

// Explicit grants exactly the listed permissions.
type Explicit struct {
	perms map[Permission]struct{}
}

// AllPermissions grants every permission, including ones defined later.
type AllPermissions struct{}

func (Explicit) isGrant()       {}
func (AllPermissions) isGrant() {}

// NewExplicit builds an Explicit grant. Duplicates and empty keys are dropped.
func NewExplicit(perms ...Permission) Explicit {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return Explicit{perms: set}
}

// Contains reports whether p is part of the grant.
func (e Explicit) Contains(p Permission) bool {
	_, ok := e.perms[p]
	return ok
}

// Permissions returns the granted permissions in lexical order.
func (e Explicit) Permissions() []Permission {
	out := make([]Permission, 0, len(e.perms))
	for p := range e.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Matrix maps every Role to exactly one Grant. It is immutable once built.
type Matrix struct {
	grants map[Role]Grant
}

// NewMatrix validates grants and returns an immutable matrix.
func NewMatrix(grants map[Role]Grant) (*Matrix, error) {
	copied := make(map[Role]Grant, len(grants))
	for role, g := range grants {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidMatrix, ErrUnknownRole, role)
		}
		switch v := g.(type) {
		case Explicit:
			copied[role] = NewExplicit(v.Permissions()...)
		case AllPermissions:
			copied[role] = v
		default:
			return nil, fmt.Errorf("%w: role %s has no grant", ErrInvalidMatrix, role)
		}
	}
	for _, role := range Roles() {
		if _, ok := copied[role]; !ok {
			return nil, fmt.Errorf("%w: role %s is missing", ErrInvalidMatrix, role)
		}
	}
	if _, ok := copied[RoleSuperadmin].(AllPermissions); !ok {
		return nil, fmt.Errorf("%w: %s must hold all permissions", ErrInvalidMatrix, RoleSuperadmin)
	}
	return &Matrix{grants: copied}, nil
}

// MustMatrix is NewMatrix that panics on error. Used for static definitions.
func MustMatrix(grants map[Role]Grant) *Matrix {
	m, err := NewMatrix(grants)
	if err != nil {
		panic(err)
	}
	return m
}

// Grant returns the entry for role.
func (m *Matrix) Grant(role Role) (Grant, bool) {
	g, ok := m.grants[role]
	return g, ok
}

// DefaultMatrix is the platform's built-in role mapping.
func DefaultMatrix() *Matrix {
	citizen := []Permission{
		PermViewFeed,
		PermViewReports,
		PermSubmitReport,
		PermVote,
		PermComment,
		PermFileRTI,
	}
	moderator := append(append([]Permission{}, citizen...),
		PermViewAdminPanel,
		PermModerate,
		PermVerifyEvidence,
	)
	admin := append(append([]Permission{}, moderator...),
		PermViewAuditLog,
		PermViewCrisisControl,
		PermManageUsers,
		PermManageCrisis,
	)
	return MustMatrix(map[Role]Grant{
		RoleCitizen:    NewExplicit(citizen...),
		RoleModerator:  NewExplicit(moderator...),
		RoleAdmin:      NewExplicit(admin...),
		RoleSuperadmin: AllPermissions{},
	})
}
