package api

import (
	"net/http"
	"time"

	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/auth"
	"github.com/simhost/platform/pkg/authz"
)

func (s *Server) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.Handle("POST /api/auth/tokens", s.protect(scopeAuthAdmin, noMatchID, s.handleIssueAPIToken))
	mux.Handle("DELETE /api/auth/tokens/{id}", s.protect(scopeAuthAdmin, noMatchID, s.handleRevokeAPIToken))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.authCore.Authenticate(req.Username, req.Password)
	s.auditFor(req.Username).LogAuth(r.Context(), audit.EventAuth, "login", auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := s.authCore.IssueToken(user.ID, auth.TokenSession, "", s.sessionTokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: string(user.ID)})
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	fresh, err := s.authCore.RefreshToken(req.Token, s.sessionTokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: fresh})
}

type issueAPITokenRequest struct {
	UserID     string       `json:"user_id"`
	Scopes     []auth.Scope `json:"scopes"`
	TTLSeconds int64        `json:"ttl_seconds"`
}

type issueAPITokenResponse struct {
	TokenID string `json:"token_id"`
	Token   string `json:"token"`
}

func (s *Server) handleIssueAPIToken(w http.ResponseWriter, r *http.Request) {
	var req issueAPITokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	tok, raw, err := s.authCore.IssueAPIToken(auth.UserID(req.UserID), req.Scopes, ttl)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogAuth(r.Context(), audit.EventAPITokenIssue, "issue_api_token", auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueAPITokenResponse{TokenID: tok.ID, Token: raw})
}

func (s *Server) handleRevokeAPIToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.authCore.RevokeAPIToken(id)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogAuth(r.Context(), audit.EventAPITokenRevoke, "revoke_api_token", auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
