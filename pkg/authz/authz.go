// Package authz implements the request authorization filter: bearer
// token extraction, scope checks, and match-token binding
// verification, wrapped around HTTP handlers the way the teacher
// corpus wraps tool calls with a permission check before execution.
package authz

import (
	"net/http"
	"strings"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/auth"
)

// Filter authorizes incoming requests against an auth.Core.
type Filter struct {
	core *auth.Core
}

// New creates a request authorization filter.
func New(core *auth.Core) *Filter {
	return &Filter{core: core}
}

func hasAnyScope(granted []auth.Scope, requested auth.Scope) bool {
	for _, g := range granted {
		if auth.MatchScope(g, requested) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix), true
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return "", false
}

// Authorize extracts the bearer token from r, verifies it, checks it
// grants requiredScope, and — when matchID is non-empty — enforces
// that a match-scoped token is bound to that exact match. It returns
// the verified claims on success.
func (f *Filter) Authorize(r *http.Request, requiredScope auth.Scope, matchID string) (*auth.Claims, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, apierrors.New(apierrors.KindUnauthorized, "missing bearer token", nil)
	}

	claims, err := f.core.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	if claims.Kind == auth.TokenMatch {
		if matchID == "" || claims.MatchID != matchID {
			return nil, apierrors.New(apierrors.KindPermissionDeny, "match token not bound to requested match", map[string]any{
				"token_match_id":  claims.MatchID,
				"requested_match": matchID,
			})
		}
		if requiredScope != "" && !hasAnyScope(claims.Scopes, requiredScope) {
			return nil, apierrors.New(apierrors.KindPermissionDeny, "insufficient scope", map[string]any{
				"required_scope": string(requiredScope),
			})
		}
		return claims, nil
	}

	if claims.Kind == auth.TokenAPI {
		f.core.RecordAPITokenUsage(claims.TokenID, r.RemoteAddr)
		if requiredScope != "" && !f.core.HasAPITokenScope(claims.TokenID, requiredScope) {
			return nil, apierrors.New(apierrors.KindPermissionDeny, "insufficient scope", map[string]any{
				"required_scope": string(requiredScope),
			})
		}
		return claims, nil
	}

	if requiredScope != "" && !f.core.HasScope(claims.Subject, requiredScope) {
		return nil, apierrors.New(apierrors.KindPermissionDeny, "insufficient scope", map[string]any{
			"required_scope": string(requiredScope),
		})
	}

	return claims, nil
}

// HasScope reports whether claims' subject currently holds scope,
// independent of the scope the token was originally authorized
// against — used when a single connection needs a secondary,
// lower-priority check (e.g. whether a viewer may also submit
// commands).
func (f *Filter) HasScope(claims *auth.Claims, scope auth.Scope) bool {
	switch claims.Kind {
	case auth.TokenMatch:
		return hasAnyScope(claims.Scopes, scope)
	case auth.TokenAPI:
		return f.core.HasAPITokenScope(claims.TokenID, scope)
	default:
		return f.core.HasScope(claims.Subject, scope)
	}
}

// Middleware wraps an http.Handler with an authorization check for
// requiredScope. matchIDFromRequest extracts the match id (if any)
// from the request path for match-token binding checks; pass nil when
// the route isn't match-scoped.
func (f *Filter) Middleware(requiredScope auth.Scope, matchIDFromRequest func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID := ""
		if matchIDFromRequest != nil {
			matchID = matchIDFromRequest(r)
		}
		claims, err := f.Authorize(r, requiredScope, matchID)
		if err != nil {
			writeError(w, err)
			return
		}
		r = r.WithContext(withClaims(r.Context(), claims))
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}
