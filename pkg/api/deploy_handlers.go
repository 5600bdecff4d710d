package api

import (
	"net/http"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/audit"
	"github.com/simhost/platform/pkg/authz"
	"github.com/simhost/platform/pkg/deploy"
)

func (s *Server) registerDeployRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/deploys", s.protect(scopeDeployWrite, noMatchID, s.handleCreateDeploy))
	mux.Handle("GET /api/deploys/{mid}", s.protect(scopeDeployRead, noMatchID, s.handleGetDeploy))
	mux.Handle("GET /api/deploys/{mid}/history", s.protect(scopeDeployRead, noMatchID, s.handleDeployHistory))
	mux.Handle("DELETE /api/deploys/{mid}", s.protect(scopeDeployWrite, noMatchID, s.handleUndeploy))
}

type createDeployRequest struct {
	MatchID    string            `json:"match_id"`
	Modules    []string          `json:"modules"`
	NodeLabels map[string]string `json:"node_labels"`
}

func (s *Server) handleCreateDeploy(w http.ResponseWriter, r *http.Request) {
	var req createDeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claims, _ := authz.ClaimsFromContext(r.Context())
	spec := deploy.Spec{MatchID: req.MatchID, Modules: req.Modules, NodeLabels: req.NodeLabels, Requester: string(claims.Subject)}

	start := time.Now()
	dep, err := s.deployer.Deploy(r.Context(), spec)
	s.auditFor(string(claims.Subject)).LogDeployEvent(r.Context(), audit.EventDeployCreate, req.MatchID, string(dep.NodeID), auditResult(err))
	if s.metrics != nil {
		s.metrics.DeploysTotal.Inc()
		s.metrics.DeployLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.DeployFailures.Inc()
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleGetDeploy(w http.ResponseWriter, r *http.Request) {
	dep, ok := s.deployer.Active(r.PathValue("mid"))
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "no deployment tracked for that match", nil))
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleDeployHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deployer.History(r.PathValue("mid")))
}

func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	mid := r.PathValue("mid")
	err := s.deployer.Undeploy(r.Context(), mid)
	claims, _ := authz.ClaimsFromContext(r.Context())
	s.auditFor(string(claims.Subject)).LogDeployEvent(r.Context(), audit.EventDeployDelete, mid, "", auditResult(err))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
