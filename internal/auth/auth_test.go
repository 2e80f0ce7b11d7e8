package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestEngineCheckMatchesMatrix(t *testing.T) {
	m := DefaultMatrix()
	e := NewEngine(m)
	for _, role := range Roles() {
		g, ok := m.Grant(role)
		if !ok {
			t.Fatalf("role %s missing from matrix", role)
		}
		for _, p := range BuiltinPermissions {
			var want Decision
			switch v := g.(type) {
			case AllPermissions:
				want = Allow
			case Explicit:
				want = Decision(v.Contains(p.Key))
			}
			if got := e.Check(role, p.Key); got != want {
				t.Fatalf("Check(%s, %s)=%s, want %s", role, p.Key, got, want)
			}
			if again := e.Check(role, p.Key); again != want {
				t.Fatalf("Check(%s, %s) not idempotent", role, p.Key)
			}
		}
	}
}

func TestSuperadminAllowsEverything(t *testing.T) {
	e := NewEngine(nil)
	for _, p := range BuiltinPermissions {
		if e.Check(RoleSuperadmin, p.Key) != Allow {
			t.Fatalf("superadmin denied %s", p.Key)
		}
	}
	if e.Check(RoleSuperadmin, Permission("action:not_yet_invented")) != Allow {
		t.Fatal("superadmin should allow permissions outside the catalog")
	}
}

func TestCitizenCannotManageCrisis(t *testing.T) {
	e := NewEngine(nil)
	if e.Check(RoleCitizen, PermManageCrisis) != Deny {
		t.Fatal("citizen must not manage crisis")
	}
	err := e.Require(RoleCitizen, PermManageCrisis)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := e.Require(RoleAdmin, PermManageCrisis); err != nil {
		t.Fatalf("admin should manage crisis: %v", err)
	}
}

func TestCheckUnknownRolePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for undefined role")
		}
	}()
	NewEngine(nil).Check(Role("auditor"), PermViewFeed)
}

func TestNewMatrixValidation(t *testing.T) {
	full := func() map[Role]Grant {
		return map[Role]Grant{
			RoleCitizen:    NewExplicit(PermViewFeed),
			RoleModerator:  NewExplicit(PermModerate),
			RoleAdmin:      NewExplicit(PermManageCrisis),
			RoleSuperadmin: AllPermissions{},
		}
	}
	if _, err := NewMatrix(full()); err != nil {
		t.Fatalf("valid matrix rejected: %v", err)
	}

	missing := full()
	delete(missing, RoleModerator)
	if _, err := NewMatrix(missing); !errors.Is(err, ErrInvalidMatrix) {
		t.Fatalf("expected ErrInvalidMatrix for missing role, got %v", err)
	}

	narrowed := full()
	narrowed[RoleSuperadmin] = NewExplicit(PermViewFeed)
	if _, err := NewMatrix(narrowed); !errors.Is(err, ErrInvalidMatrix) {
		t.Fatalf("expected ErrInvalidMatrix for explicit superadmin, got %v", err)
	}

	extra := full()
	extra[Role("auditor")] = NewExplicit(PermViewAuditLog)
	if _, err := NewMatrix(extra); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}

	nilGrant := full()
	nilGrant[RoleAdmin] = nil
	if _, err := NewMatrix(nilGrant); !errors.Is(err, ErrInvalidMatrix) {
		t.Fatalf("expected ErrInvalidMatrix for nil grant, got %v", err)
	}
}

func TestMatrixIsImmutable(t *testing.T) {
	grants := map[Role]Grant{
		RoleCitizen:    NewExplicit(PermViewFeed),
		RoleModerator:  NewExplicit(),
		RoleAdmin:      NewExplicit(),
		RoleSuperadmin: AllPermissions{},
	}
	m, err := NewMatrix(grants)
	if err != nil {
		t.Fatal(err)
	}
	grants[RoleCitizen] = AllPermissions{}
	if NewEngine(m).Check(RoleCitizen, PermManageCrisis) != Deny {
		t.Fatal("matrix changed after construction")
	}
}

func TestLoadMatrix(t *testing.T) {
	doc := `
roles:
  citizen: [view:feed, action:vote]
  moderator: [view:feed, action:moderate]
  admin:
    - action:manage_crisis
  superadmin: "*"
`
	m, err := LoadMatrix(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadMatrix: %v", err)
	}
	e := NewEngine(m)
	if e.Check(RoleCitizen, PermVote) != Allow || e.Check(RoleCitizen, PermModerate) != Deny {
		t.Fatal("citizen grant not loaded")
	}
	if e.Check(RoleAdmin, PermManageCrisis) != Allow {
		t.Fatal("admin grant not loaded")
	}
	if e.Check(RoleSuperadmin, PermUnlockIdentity) != Allow {
		t.Fatal("wildcard not loaded")
	}
}

func TestLoadMatrixRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"scalar":          "roles:\n  citizen: everything\n  moderator: []\n  admin: []\n  superadmin: \"*\"\n",
		"mixed wildcard":  "roles:\n  citizen: [\"*\", view:feed]\n  moderator: []\n  admin: []\n  superadmin: \"*\"\n",
		"unknown role":    "roles:\n  auditor: []\n  citizen: []\n  moderator: []\n  admin: []\n  superadmin: \"*\"\n",
		"missing role":    "roles:\n  citizen: []\n  superadmin: \"*\"\n",
		"narrow superadm": "roles:\n  citizen: []\n  moderator: []\n  admin: []\n  superadmin: [view:feed]\n",
		"unknown field":   "roles:\n  citizen: []\nextra: true\n",
	}
	for name, doc := range cases {
		if _, err := LoadMatrix(strings.NewReader(doc)); !errors.Is(err, ErrInvalidMatrix) {
			t.Fatalf("%s: expected ErrInvalidMatrix, got %v", name, err)
		}
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  Admin ")
	if err != nil || role != RoleAdmin {
		t.Fatalf("unexpected ParseRole result: %v %v", role, err)
	}
	if _, err := ParseRole("root"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestTokensIssueAndAuthenticate(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, exp, err := tokens.Issue(Actor{ID: "user-42", Role: RoleAdmin}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}
	actor, err := tokens.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if actor.ID != "user-42" || actor.Role != RoleAdmin {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	now = now.Add(time.Hour)
	if _, err := tokens.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestTokensRejectForeignSecretAndIssuer(t *testing.T) {
	issuerA, _ := NewTokens("secret-a")
	issuerB, _ := NewTokens("secret-b")
	otherIssuer, _ := NewTokens("secret-a", WithIssuer("someone-else"))

	token, _, err := issuerA.Issue(Actor{ID: "u1", Role: RoleCitizen}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuerB.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign secret to fail, got %v", err)
	}
	if _, err := otherIssuer.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign issuer to fail, got %v", err)
	}
	if _, err := issuerA.Authenticate("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty token to fail, got %v", err)
	}
	if _, _, err := issuerA.Issue(Actor{ID: "u1", Role: Role("root")}, time.Minute); err == nil {
		t.Fatal("expected unknown role to be refused")
	}
	if _, err := NewTokens(""); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func mustHash(t *testing.T, code string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func TestCodeBookValidate(t *testing.T) {
	book, err := NewCodeBook([]CodeEntry{
		{Identity: "admin-1", Slot: "a", Hash: mustHash(t, "alpha")},
		{Identity: "admin-2", Slot: "B", Hash: mustHash(t, "bravo")},
		{Identity: "duty-officer", Hash: mustHash(t, "charlie")},
	})
	if err != nil {
		t.Fatalf("NewCodeBook: %v", err)
	}
	ctx := context.Background()

	if id, err := book.ValidateToken(ctx, "A", "alpha"); err != nil || id != "admin-1" {
		t.Fatalf("slot A code: %q %v", id, err)
	}
	if _, err := book.ValidateToken(ctx, "B", "alpha"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("slot-bound code accepted in wrong slot: %v", err)
	}
	if id, err := book.ValidateToken(ctx, "B", "charlie"); err != nil || id != "duty-officer" {
		t.Fatalf("unbound code: %q %v", id, err)
	}
	if _, err := book.ValidateToken(ctx, "A", "wrong"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestLoadCodeBook(t *testing.T) {
	doc := "codes:\n  - identity: admin-1\n    hash: \"" + mustHash(t, "alpha") + "\"\n"
	book, err := LoadCodeBook(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadCodeBook: %v", err)
	}
	if id, err := book.ValidateToken(context.Background(), "B", "alpha"); err != nil || id != "admin-1" {
		t.Fatalf("unexpected validation: %q %v", id, err)
	}
	if _, err := LoadCodeBook(strings.NewReader("codes: []\n")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty book error, got %v", err)
	}
	if _, err := NewCodeBook([]CodeEntry{{Identity: "x", Hash: "plaintext"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected non-bcrypt hash to be refused, got %v", err)
	}
}

type countingValidator struct{ calls int }

func (c *countingValidator) ValidateToken(context.Context, string, string) (string, error) {
	c.calls++
	return "someone", nil
}

func TestThrottledValidator(t *testing.T) {
	inner := &countingValidator{}
	v := NewThrottledValidator(inner, time.Hour, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := v.ValidateToken(ctx, "A", "x"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := v.ValidateToken(ctx, "A", "x"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("throttled attempt reached the validator: %d calls", inner.calls)
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatal("expected no actor")
	}
	actor, err := NewActor(" user-7 ", RoleModerator)
	if err != nil {
		t.Fatal(err)
	}
	ctx = ContextWithActor(ctx, actor)
	got, ok := ActorFromContext(ctx)
	if !ok || got.ID != "user-7" || got.Role != RoleModerator {
		t.Fatalf("unexpected actor: %+v ok=%v", got, ok)
	}
	if _, err := NewActor("", RoleAdmin); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
