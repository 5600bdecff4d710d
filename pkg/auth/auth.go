// Package auth implements the authentication/authorization core: user
// accounts with bcrypt-hashed passwords, roles with transitive
// inclusion, dotted-scope wildcard matching, and HMAC-signed bearer
// tokens scoped to a session, an API caller, or a single match.
package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/simhost/platform/pkg/apierrors"
)

// UserID identifies a user account.
type UserID string

// RoleName identifies a role.
type RoleName string

// Scope is a dot-separated permission string, e.g. "match.read",
// "container.*", "admin.*". A trailing "*" segment matches any
// remainder of the requested scope.
type Scope string

// Role groups a set of directly granted scopes plus other roles it
// includes transitively.
type Role struct {
	Name     RoleName
	Scopes   []Scope
	Includes []RoleName
}

// User is an account that can authenticate and hold roles.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Roles        []RoleName
	Disabled     bool
	CreatedAt    time.Time
}

// Core holds every registered role and user and issues/verifies
// tokens.
type Core struct {
	mu        sync.RWMutex
	roles     map[RoleName]*Role
	users     map[UserID]*User
	byName    map[string]UserID
	apiTokens map[string]*ApiToken
	signer    *Signer
}

// NewCore creates an auth core signing tokens with hmacKey.
func NewCore(hmacKey []byte) *Core {
	return &Core{
		roles:     make(map[RoleName]*Role),
		users:     make(map[UserID]*User),
		byName:    make(map[string]UserID),
		apiTokens: make(map[string]*ApiToken),
		signer:    NewSigner(hmacKey),
	}
}

// RegisterRole adds or replaces a role, rejecting any inclusion cycle.
func (c *Core) RegisterRole(r *Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[RoleName]*Role, len(c.roles)+1)
	for k, v := range c.roles {
		snapshot[k] = v
	}
	snapshot[r.Name] = r

	if cyc := detectCycle(snapshot, r.Name); cyc {
		return apierrors.New(apierrors.KindInvalidArg, fmt.Sprintf("role %s introduces an inclusion cycle", r.Name), nil)
	}

	c.roles[r.Name] = r
	return nil
}

func detectCycle(roles map[RoleName]*Role, start RoleName) bool {
	visiting := make(map[RoleName]bool)
	visited := make(map[RoleName]bool)

	var dfs func(name RoleName) bool
	dfs = func(name RoleName) bool {
		if visiting[name] {
			return true
		}
		if visited[name] {
			return false
		}
		visiting[name] = true
		role, ok := roles[name]
		if ok {
			for _, inc := range role.Includes {
				if dfs(inc) {
					return true
				}
			}
		}
		visiting[name] = false
		visited[name] = true
		return false
	}
	return dfs(start)
}

// CreateUser hashes password with bcrypt and registers the account.
func (c *Core) CreateUser(username, password string, roles []RoleName) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "hash password", err, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[username]; exists {
		return nil, apierrors.New(apierrors.KindAlreadyExists, fmt.Sprintf("user %s already exists", username), nil)
	}

	u := &User{
		ID:           UserID(uuid.NewString()),
		Username:     username,
		PasswordHash: string(hash),
		Roles:        roles,
		CreatedAt:    time.Now(),
	}
	c.users[u.ID] = u
	c.byName[username] = u.ID
	return u, nil
}

// Authenticate verifies a username/password pair and returns the
// matching user.
func (c *Core) Authenticate(username, password string) (*User, error) {
	c.mu.RLock()
	id, ok := c.byName[username]
	var u *User
	if ok {
		u = c.users[id]
	}
	c.mu.RUnlock()

	if !ok || u == nil {
		return nil, apierrors.New(apierrors.KindUnauthorized, "invalid credentials", nil)
	}
	if u.Disabled {
		return nil, apierrors.New(apierrors.KindUnauthorized, "account disabled", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apierrors.New(apierrors.KindUnauthorized, "invalid credentials", nil)
	}
	return u, nil
}

// EffectiveScopes resolves the transitive closure of scopes granted
// to a user through its roles.
func (c *Core) EffectiveScopes(userID UserID) []Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[userID]
	if !ok {
		return nil
	}

	seenRoles := make(map[RoleName]bool)
	seenScopes := make(map[Scope]bool)
	var out []Scope

	var walk func(name RoleName)
	walk = func(name RoleName) {
		if seenRoles[name] {
			return
		}
		seenRoles[name] = true
		role, ok := c.roles[name]
		if !ok {
			return
		}
		for _, s := range role.Scopes {
			if !seenScopes[s] {
				seenScopes[s] = true
				out = append(out, s)
			}
		}
		for _, inc := range role.Includes {
			walk(inc)
		}
	}
	for _, r := range u.Roles {
		walk(r)
	}
	return out
}

// HasScope reports whether any of a user's effective scopes matches
// requested, per the dotted-wildcard matching rule.
func (c *Core) HasScope(userID UserID, requested Scope) bool {
	for _, granted := range c.EffectiveScopes(userID) {
		if MatchScope(granted, requested) {
			return true
		}
	}
	return false
}

// MatchScope reports whether a granted scope permits a requested one.
// Segments are split on ".". A "*" segment in granted matches any
// remaining requested segments from that point on.
func MatchScope(granted, requested Scope) bool {
	if granted == requested {
		return true
	}
	gParts := strings.Split(string(granted), ".")
	rParts := strings.Split(string(requested), ".")
	for i, gp := range gParts {
		if gp == "*" {
			return true
		}
		if i >= len(rParts) || gp != rParts[i] {
			return false
		}
	}
	return len(gParts) == len(rParts)
}

// User looks up a user by id.
func (c *Core) User(id UserID) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// ApiToken is a long-lived, independently revocable bearer token
// issued for automation callers, narrowed to its own scope set rather
// than the issuing user's full effective scopes.
type ApiToken struct {
	ID         string
	UserID     UserID
	Scopes     []Scope
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no expiry
	Revoked    bool
	LastUsedAt time.Time
	LastUsedIP string
}

// IssueAPIToken records a new ApiToken for userID and returns it
// alongside the signed bearer string. ttl <= 0 means the token never
// expires.
func (c *Core) IssueAPIToken(userID UserID, scopes []Scope, ttl time.Duration) (*ApiToken, string, error) {
	c.mu.Lock()
	if _, ok := c.users[userID]; !ok {
		c.mu.Unlock()
		return nil, "", apierrors.New(apierrors.KindNotFound, fmt.Sprintf("user %s not found", userID), nil)
	}
	tok := &ApiToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: time.Now(),
	}
	if ttl > 0 {
		tok.ExpiresAt = tok.CreatedAt.Add(ttl)
	}
	c.apiTokens[tok.ID] = tok
	c.mu.Unlock()

	raw, err := c.signer.Issue(Claims{
		Subject:   userID,
		Kind:      TokenAPI,
		TokenID:   tok.ID,
		IssuedAt:  tok.CreatedAt,
		ExpiresAt: tok.ExpiresAt,
	})
	if err != nil {
		return nil, "", err
	}
	return tok, raw, nil
}

// RevokeAPIToken marks an issued API token as no longer usable.
func (c *Core) RevokeAPIToken(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.apiTokens[id]
	if !ok {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("api token %s not found", id), nil)
	}
	tok.Revoked = true
	return nil
}

// IsAPITokenActive reports whether id names a non-revoked,
// non-expired API token.
func (c *Core) IsAPITokenActive(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.apiTokens[id]
	if !ok || tok.Revoked {
		return false
	}
	return tok.ExpiresAt.IsZero() || time.Now().Before(tok.ExpiresAt)
}

// RecordAPITokenUsage updates an API token's last-used fields without
// otherwise changing its identity or scopes.
func (c *Core) RecordAPITokenUsage(id, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.apiTokens[id]; ok {
		tok.LastUsedAt = time.Now()
		tok.LastUsedIP = ip
	}
}

// HasAPITokenScope reports whether the API token named by id was
// granted a scope matching requested, per the same dotted-wildcard
// rule as role scopes.
func (c *Core) HasAPITokenScope(id string, requested Scope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.apiTokens[id]
	if !ok {
		return false
	}
	for _, granted := range tok.Scopes {
		if MatchScope(granted, requested) {
			return true
		}
	}
	return false
}
