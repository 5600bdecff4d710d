package auth

import (
	"testing"
	"time"
)

func TestMatchScopeWildcard(t *testing.T) {
	cases := []struct {
		granted, requested Scope
		want                bool
	}{
		{"match.read", "match.read", true},
		{"match.*", "match.read", true},
		{"match.*", "match.write", true},
		{"match.read", "match.write", false},
		{"*", "anything.goes", true},
		{"container.read", "match.read", false},
	}
	for _, tc := range cases {
		if got := MatchScope(tc.granted, tc.requested); got != tc.want {
			t.Errorf("MatchScope(%q, %q) = %v, want %v", tc.granted, tc.requested, got, tc.want)
		}
	}
}

func TestRoleInclusionCycleRejected(t *testing.T) {
	c := NewCore([]byte("secret"))
	if err := c.RegisterRole(&Role{Name: "a", Includes: []RoleName{"b"}}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := c.RegisterRole(&Role{Name: "b", Includes: []RoleName{"a"}}); err == nil {
		t.Fatal("expected cycle a->b->a to be rejected")
	}
}

func TestEffectiveScopesTransitive(t *testing.T) {
	c := NewCore([]byte("secret"))
	c.RegisterRole(&Role{Name: "viewer", Scopes: []Scope{"match.read"}})
	c.RegisterRole(&Role{Name: "operator", Scopes: []Scope{"match.write"}, Includes: []RoleName{"viewer"}})

	u, err := c.CreateUser("alice", "hunter2", []RoleName{"operator"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if !c.HasScope(u.ID, "match.read") {
		t.Fatal("expected operator to inherit match.read via viewer")
	}
	if !c.HasScope(u.ID, "match.write") {
		t.Fatal("expected operator to have match.write directly")
	}
	if c.HasScope(u.ID, "admin.delete") {
		t.Fatal("did not expect unrelated scope to be granted")
	}
}

func TestAuthenticate(t *testing.T) {
	c := NewCore([]byte("secret"))
	c.CreateUser("alice", "hunter2", nil)

	if _, err := c.Authenticate("alice", "hunter2"); err != nil {
		t.Fatalf("expected successful auth, got %v", err)
	}
	if _, err := c.Authenticate("alice", "wrong"); err == nil {
		t.Fatal("expected auth failure on wrong password")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	c := NewCore([]byte("secret"))
	u, _ := c.CreateUser("alice", "hunter2", nil)

	tok, err := c.IssueToken(u.ID, TokenSession, "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := c.VerifyToken(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != u.ID || claims.Kind != TokenSession {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejectsTamperedSignature(t *testing.T) {
	c := NewCore([]byte("secret"))
	u, _ := c.CreateUser("alice", "hunter2", nil)
	tok, _ := c.IssueToken(u.ID, TokenSession, "", time.Hour)

	tampered := tok[:len(tok)-1] + "x"
	if _, err := c.VerifyToken(tampered); err == nil {
		t.Fatal("expected tampered token to fail verification")
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	c := NewCore([]byte("secret"))
	u, _ := c.CreateUser("alice", "hunter2", nil)
	tok, _ := c.IssueToken(u.ID, TokenSession, "", -time.Minute)

	if _, err := c.VerifyToken(tok); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestMatchTokenRequiresMatchID(t *testing.T) {
	c := NewCore([]byte("secret"))
	u, _ := c.CreateUser("alice", "hunter2", nil)
	if _, err := c.IssueToken(u.ID, TokenMatch, "", time.Hour); err == nil {
		t.Fatal("expected match token without match id to be rejected")
	}
}
