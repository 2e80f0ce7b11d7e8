// Package gate puts a permission check in front of renderable content and
// callable actions. It only decides and dispatches: it does not log, notify,
// or hold state.
package gate

import (
	"context"

	"civicguard.org/internal/auth"
)

// Authorizer answers allow/deny for a (role, permission) pair.
type Authorizer interface {
	Check(role auth.Role, perm auth.Permission) auth.Decision
}

// BlockedReason is the reason carried by every BlockedError.
const BlockedReason = "insufficient permission"

// BlockedError reports that GuardAction refused to run an action.
type BlockedError struct {
	Role       auth.Role
	Permission auth.Permission
	Reason     string
}

func (e *BlockedError) Error() string {
	return "blocked: " + e.Reason + " (" + string(e.Role) + " lacks " + string(e.Permission) + ")"
}

// Is makes a BlockedError match auth.ErrPermissionDenied.
func (e *BlockedError) Is(target error) bool {
	return target == auth.ErrPermissionDenied
}

// Allowed reports whether role holds perm. Use it to suppress inputs.
func Allowed(g Authorizer, role auth.Role, perm auth.Permission) bool {
	return g.Check(role, perm) == auth.Allow
}

// GuardRender returns content when role holds perm. Otherwise it returns the
// first fallback, or the zero value of T when none is given.
func GuardRender[T any](g Authorizer, role auth.Role, perm auth.Permission, content T, fallback ...T) T {
	if Allowed(g, role, perm) {
		return content
	}
	var zero T
	if len(fallback) > 0 {
		return fallback[0]
	}
	return zero
}

// GuardAction invokes action only when role holds perm. A denied call returns
// a *BlockedError and action is never reached.
func GuardAction[T any](ctx context.Context, g Authorizer, role auth.Role, perm auth.Permission, action func(context.Context) (T, error)) (T, error) {
	if !Allowed(g, role, perm) {
		var zero T
		return zero, &BlockedError{Role: role, Permission: perm, Reason: BlockedReason}
	}
	return action(ctx)
}
