package api

import (
	"net/http"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/container"
	"github.com/simhost/platform/pkg/match"
	"github.com/simhost/platform/pkg/queue"
)

func (s *Server) registerCommandRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/containers/{cid}/matches/{mid}/commands", s.protect(scopeMatchRead, matchIDFromPath, s.handleListCommands))
	mux.Handle("POST /api/containers/{cid}/matches/{mid}/commands", s.protect(scopeMatchWrite, matchIDFromPath, s.handleSubmitCommand))
}

func (s *Server) matchOrError(w http.ResponseWriter, r *http.Request) (*container.Container, *match.Match, bool) {
	c, err := s.containers.Get(r.PathValue("cid"))
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	m, err := c.Match(r.PathValue("mid"))
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	return c, m, true
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Commands.Peek())
}

type submitCommandRequest struct {
	Module string             `json:"module"`
	Name   string             `json:"name"`
	Args   map[string]float32 `json:"args"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	var req submitCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claims, _ := authz.ClaimsFromContext(r.Context())

	cmd := queue.Command{
		MatchID:  m.ID,
		PlayerID: string(claims.Subject),
		Module:   req.Module,
		Name:     req.Name,
		Args:     req.Args,
	}
	err := m.Commands.Enqueue(cmd)
	if s.metrics != nil {
		if err != nil && apierrors.Is(err, apierrors.KindQueueFull) {
			s.metrics.CommandsDropped.Inc()
		} else if err == nil {
			s.metrics.CommandsEnqueued.Inc()
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
