package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/auth"
)

func newCoreWithUser(t *testing.T) (*auth.Core, *auth.User) {
	t.Helper()
	c := auth.NewCore([]byte("secret"))
	c.RegisterRole(&auth.Role{Name: "operator", Scopes: []auth.Scope{"match.read"}})
	u, err := c.CreateUser("alice", "hunter2", []auth.RoleName{"operator"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return c, u
}

func TestAuthorizeMissingToken(t *testing.T) {
	core, _ := newCoreWithUser(t)
	f := New(core)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	if _, err := f.Authorize(r, "match.read", ""); !apierrors.Is(err, apierrors.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthorizeInsufficientScope(t *testing.T) {
	core, u := newCoreWithUser(t)
	f := New(core)
	tok, _ := core.IssueToken(u.ID, auth.TokenSession, "", time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	if _, err := f.Authorize(r, "admin.delete", ""); !apierrors.Is(err, apierrors.KindPermissionDeny) {
		t.Fatalf("expected permission_denied, got %v", err)
	}
}

func TestAuthorizeMatchTokenBinding(t *testing.T) {
	core, u := newCoreWithUser(t)
	f := New(core)
	tok, _ := core.IssueToken(u.ID, auth.TokenMatch, "match-1", time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	if _, err := f.Authorize(r, "", "match-2"); !apierrors.Is(err, apierrors.KindPermissionDeny) {
		t.Fatalf("expected permission_denied for mismatched match, got %v", err)
	}
	if _, err := f.Authorize(r, "", "match-1"); err != nil {
		t.Fatalf("expected bound match token to pass, got %v", err)
	}
}

func TestAuthorizeMatchTokenOwnScopeSubset(t *testing.T) {
	core := auth.NewCore([]byte("secret"))
	f := New(core)
	tok, err := core.IssueMatchToken("player-1", "match-1", []auth.Scope{"match.write"}, time.Hour)
	if err != nil {
		t.Fatalf("issue match token: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	if _, err := f.Authorize(r, "match.write", "match-1"); err != nil {
		t.Fatalf("expected granted scope to authorize, got %v", err)
	}
	if _, err := f.Authorize(r, "match.read", "match-1"); !apierrors.Is(err, apierrors.KindPermissionDeny) {
		t.Fatalf("expected permission_denied for scope the match token wasn't issued, got %v", err)
	}
}

func TestHasScopeMatchTokenUsesOwnScopes(t *testing.T) {
	core := auth.NewCore([]byte("secret"))
	f := New(core)
	tok, err := core.IssueMatchToken("player-1", "match-1", []auth.Scope{"match.read"}, time.Hour)
	if err != nil {
		t.Fatalf("issue match token: %v", err)
	}
	claims, err := core.VerifyToken(tok)
	if err != nil {
		t.Fatalf("verify match token: %v", err)
	}
	if f.HasScope(claims, "match.write") {
		t.Fatal("expected match token without match.write to fail HasScope")
	}
	if !f.HasScope(claims, "match.read") {
		t.Fatal("expected match token with match.read to pass HasScope")
	}
}

func TestAuthorizeQueryTokenAccepted(t *testing.T) {
	core, u := newCoreWithUser(t)
	f := New(core)
	tok, _ := core.IssueToken(u.ID, auth.TokenSession, "", time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/x?token="+tok, nil)
	if _, err := f.Authorize(r, "match.read", ""); err != nil {
		t.Fatalf("expected query-string token to authorize, got %v", err)
	}
}
