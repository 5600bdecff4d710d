package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
)

// TokenKind distinguishes the three bearer token scopes the platform
// issues.
type TokenKind string

const (
	// TokenSession authenticates an interactive user across requests.
	TokenSession TokenKind = "session"
	// TokenAPI authenticates a long-lived service/automation caller.
	TokenAPI TokenKind = "api"
	// TokenMatch is scoped to a single match and is rejected by the
	// authorization filter for requests against any other match.
	TokenMatch TokenKind = "match"
)

// Claims is the signed payload of a bearer token.
type Claims struct {
	Subject UserID    `json:"sub"`
	Kind    TokenKind `json:"kind"`
	MatchID string    `json:"match_id,omitempty"`
	// TokenID identifies the issuing ApiToken record for Kind ==
	// TokenAPI, so it can be looked up for revocation and per-token
	// scope checks; unused for session and match tokens.
	TokenID string `json:"jti,omitempty"`
	// Scopes carries the token's own granted scopes for Kind ==
	// TokenMatch, the same "own subset, not the subject's roles"
	// design as ApiToken — a joining player has no User account to
	// derive roles from, so the match token must state its scopes
	// directly. Unused for session and API tokens.
	Scopes    []Scope   `json:"scopes,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Signer issues and verifies HMAC-SHA256 signed bearer tokens. Tokens
// are "<base64url(json claims)>.<base64url(hmac)>" — no external JWT
// dependency, since none appears anywhere in the retrieval pack; this
// is the platform's own compact signed-token format.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer using key for HMAC-SHA256.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Issue signs claims and returns the bearer token string.
func (s *Signer) Issue(claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindInternal, "marshal claims", err, nil)
	}
	encodedBody := base64.RawURLEncoding.EncodeToString(body)
	mac := s.sign(encodedBody)
	return fmt.Sprintf("%s.%s", encodedBody, mac), nil
}

// Verify checks a token's signature and expiry and returns its
// claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	var encodedBody, mac string
	sep := -1
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, apierrors.New(apierrors.KindUnauthorized, "malformed token", nil)
	}
	encodedBody = token[:sep]
	mac = token[sep+1:]

	expected := s.sign(encodedBody)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) != 1 {
		return nil, apierrors.New(apierrors.KindUnauthorized, "invalid token signature", nil)
	}

	body, err := base64.RawURLEncoding.DecodeString(encodedBody)
	if err != nil {
		return nil, apierrors.New(apierrors.KindUnauthorized, "malformed token body", nil)
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, apierrors.New(apierrors.KindUnauthorized, "malformed token claims", nil)
	}
	if !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt) {
		return nil, apierrors.New(apierrors.KindUnauthorized, "token expired", nil)
	}
	return &claims, nil
}

func (s *Signer) sign(encodedBody string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encodedBody))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// IssueToken issues a token of the given kind for userID, optionally
// bound to matchID (required for TokenMatch), expiring after ttl.
func (c *Core) IssueToken(userID UserID, kind TokenKind, matchID string, ttl time.Duration) (string, error) {
	if kind == TokenMatch && matchID == "" {
		return "", apierrors.New(apierrors.KindInvalidArg, "match token requires a match id", nil)
	}
	now := time.Now()
	return c.signer.Issue(Claims{
		Subject:   userID,
		Kind:      kind,
		MatchID:   matchID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
}

// DefaultMatchTokenScopes is the scope set a joining player's session
// carries unless overridden: "match.write" covers command submission,
// "match.read" covers snapshot reads and the error channel that rides
// alongside them.
var DefaultMatchTokenScopes = []Scope{"match.write", "match.read"}

// IssueMatchToken issues a token bound to matchID for playerID, a
// participant who need not have a registered User account. scopes
// defaults to DefaultMatchTokenScopes when nil.
func (c *Core) IssueMatchToken(playerID, matchID string, scopes []Scope, ttl time.Duration) (string, error) {
	if matchID == "" {
		return "", apierrors.New(apierrors.KindInvalidArg, "match token requires a match id", nil)
	}
	if scopes == nil {
		scopes = DefaultMatchTokenScopes
	}
	now := time.Now()
	return c.signer.Issue(Claims{
		Subject:   UserID(playerID),
		Kind:      TokenMatch,
		MatchID:   matchID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
}

// VerifyToken validates a bearer token string and returns its claims.
// For an API token it additionally rejects the claims if the
// originating ApiToken has since been revoked or expired.
func (c *Core) VerifyToken(token string) (*Claims, error) {
	claims, err := c.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind == TokenAPI {
		if !c.IsAPITokenActive(claims.TokenID) {
			return nil, apierrors.New(apierrors.KindUnauthorized, "api token revoked or expired", nil)
		}
	}
	return claims, nil
}

// RefreshToken re-verifies token, re-checks the issuing user is still
// enabled, and issues a fresh token of the same kind and binding with
// a new expiry — so a role change since the original issuance is
// picked up on the caller's next scope check.
func (c *Core) RefreshToken(token string, ttl time.Duration) (string, error) {
	claims, err := c.VerifyToken(token)
	if err != nil {
		return "", err
	}
	u, ok := c.User(claims.Subject)
	if !ok {
		return "", apierrors.New(apierrors.KindUnauthorized, "user not found", nil)
	}
	if u.Disabled {
		return "", apierrors.New(apierrors.KindUnauthorized, "account disabled", nil)
	}
	return c.IssueToken(claims.Subject, claims.Kind, claims.MatchID, ttl)
}
