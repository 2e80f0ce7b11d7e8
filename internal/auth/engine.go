package auth

import "fmt"

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Engine answers allow/deny for (Role, Permission) pairs against a fixed
// Matrix. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	matrix *Matrix
}

// NewEngine returns an engine over m. A nil matrix selects DefaultMatrix.
func NewEngine(m *Matrix) *Engine {
	if m == nil {
		m = DefaultMatrix()
	}
	return &Engine{matrix: m}
}

// Check decides whether role may exercise perm. An undefined role is a caller
// bug and panics; it is never silently denied.
func (e *Engine) Check(role Role, perm Permission) Decision {
	g, ok := e.matrix.Grant(role)
	if !ok {
		panic(fmt.Sprintf("auth: check with undefined role %q", role))
	}
	switch v := g.(type) {
	case AllPermissions:
		return Allow
	case Explicit:
		return Decision(v.Contains(perm))
	default:
		panic(fmt.Sprintf("auth: unhandled grant %T", g))
	}
}

// Require is Check expressed as an error for call sites that propagate failures.
func (e *Engine) Require(role Role, perm Permission) error {
	if e.Check(role, perm) == Deny {
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, role, perm)
	}
	return nil
}

// Permissions lists what role holds. For AllPermissions the built-in catalog is returned.
func (e *Engine) Permissions(role Role) []Permission {
	g, ok := e.matrix.Grant(role)
	if !ok {
		panic(fmt.Sprintf("auth: permissions for undefined role %q", role))
	}
	switch v := g.(type) {
	case AllPermissions:
		out := make([]Permission, 0, len(BuiltinPermissions))
		for _, p := range BuiltinPermissions {
			out = append(out, p.Key)
		}
		return out
	case Explicit:
		return v.Permissions()
	default:
		panic(fmt.Sprintf("auth: unhandled grant %T", g))
	}
}
