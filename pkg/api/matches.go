package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/auth"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/match"
)

func (s *Server) registerMatchRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/containers/{cid}/matches", s.protect(scopeContainerWrite, noMatchID, s.handleCreateMatch))
	mux.Handle("GET /api/containers/{cid}/matches/{mid}", s.protect(scopeMatchRead, matchIDFromPath, s.handleGetMatch))
	mux.Handle("DELETE /api/containers/{cid}/matches/{mid}", s.protect(scopeContainerWrite, matchIDFromPath, s.handleDeleteMatch))
	mux.Handle("POST /api/containers/{cid}/matches/{mid}/join", s.protect(scopeMatchJoin, noMatchID, s.handleJoinMatch))
}

type createMatchRequest struct {
	ID                   string   `json:"id"`
	Modules              []string `json:"modules"`
	CommandQueueCapacity int      `json:"command_queue_capacity"`
	SnapshotHistorySize  int      `json:"snapshot_history_size"`
}

type matchView struct {
	ID          string   `json:"id"`
	ContainerID string   `json:"container_id"`
	Modules     []string `json:"modules"`
	Tick        uint64   `json:"tick"`
}

func toMatchView(m *match.Match) matchView {
	return matchView{ID: m.ID, ContainerID: m.ContainerID, Modules: m.Modules, Tick: m.Tick}
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	c, err := s.containers.Get(cid)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	modules := req.Modules
	if len(modules) == 0 {
		modules = c.Modules().ListInstalled()
	}

	m := match.New(req.ID, cid, modules, match.Config{
		CommandQueueCapacity: req.CommandQueueCapacity,
		SnapshotHistorySize:  req.SnapshotHistorySize,
	})
	err = c.AddMatch(m)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogMatchLifecycle(r.Context(), audit.EventMatchCreate, cid, req.ID, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MatchesActive.Add(1)
	}
	writeJSON(w, http.StatusCreated, toMatchView(m))
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := c.Match(r.PathValue("mid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(m))
}

func (s *Server) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	cid, mid := r.PathValue("cid"), r.PathValue("mid")
	c, err := s.containers.Get(cid)
	if err != nil {
		writeError(w, err)
		return
	}
	_, err = c.Match(mid)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogMatchLifecycle(r.Context(), audit.EventMatchDelete, cid, mid, auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	c.RemoveMatch(mid)
	if s.metrics != nil {
		s.metrics.MatchesActive.Add(-1)
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinMatchRequest struct {
	DisplayName string       `json:"display_name"`
	Scopes      []auth.Scope `json:"scopes"`
	TTLSeconds  int64        `json:"ttl_seconds"`
}

type joinMatchResponse struct {
	PlayerID  string `json:"player_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// handleJoinMatch admits a new player to a running match and issues it
// a match-bound bearer token scoped to that match only, the same
// narrowed-own-scope design auth.Core.IssueMatchToken uses for every
// joining player regardless of whether it has a registered account.
func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	cid, mid := r.PathValue("cid"), r.PathValue("mid")
	c, err := s.containers.Get(cid)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := c.Match(mid); err != nil {
		writeError(w, err)
		return
	}

	var req joinMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = int64(24 * time.Hour.Seconds())
	}

	player := s.sessions.Join(mid, req.DisplayName)
	sess, err := s.sessions.OpenSession(player.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := s.authCore.IssueMatchToken(player.ID, mid, req.Scopes, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinMatchResponse{PlayerID: player.ID, SessionID: sess.ID, Token: token})
}
